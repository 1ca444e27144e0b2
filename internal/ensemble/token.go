package ensemble

import "strings"

// TokenMatch is a type token found in anonymized text. Start and End are
// byte offsets into that text.
type TokenMatch struct {
	Type  EntityType
	Start int
	End   int
}

// FindTokens returns the bracketed type tokens in text from left to right.
// accept decides which bracketed names count as tokens; anything else, such
// as "[x]" checkboxes, is literal text.
func FindTokens(text string, accept func(EntityType) bool) []TokenMatch {
	var out []TokenMatch
	for i := 0; i < len(text); {
		if text[i] != '[' {
			i++
			continue
		}
		j := strings.IndexAny(text[i+1:], "[]")
		if j < 0 {
			break
		}
		j += i + 1
		if text[j] == '[' {
			i = j
			continue
		}
		if name := EntityType(text[i+1 : j]); name != "" && accept(name) {
			out = append(out, TokenMatch{Type: name, Start: i, End: j + 1})
		}
		i = j + 1
	}
	return out
}

// TypeSet is a set of entity types usable as a FindTokens filter.
type TypeSet map[EntityType]struct{}

// NewTypeSet returns the known types plus extra.
func NewTypeSet(extra ...EntityType) TypeSet {
	s := make(TypeSet, len(KnownTypes)+len(extra))
	for _, t := range KnownTypes {
		s[t] = struct{}{}
	}
	for _, t := range extra {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether t is in the set.
func (s TypeSet) Has(t EntityType) bool {
	_, ok := s[t]
	return ok
}
