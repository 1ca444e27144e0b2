// Package reid restores anonymized pages from their replacement records and
// maintains the document-level reid map that accumulates those records.
package reid

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/wolfman30/ensemble-deid/internal/ensemble"
	"github.com/wolfman30/ensemble-deid/internal/redact"
)

var (
	// ErrMismatch is matched by every *MismatchError.
	ErrMismatch = errors.New("reid: tokens do not match the replacement record")
	// ErrInvalidRecord is returned when order indexes are not 0..n-1 or an
	// entry has no entity type.
	ErrInvalidRecord = errors.New("reid: invalid replacement record")
)

// MismatchError reports that the tokens in an anonymized page disagree with
// its replacement record. Position is the byte offset in the anonymized text
// where the first disagreement was found.
type MismatchError struct {
	Page           int
	Expected       int
	Found          int
	ExpectedByType map[ensemble.EntityType]int
	FoundByType    map[ensemble.EntityType]int
	Position       int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("reid: page %d: expected %d tokens (%s), found %d (%s), first difference at offset %d",
		e.Page, e.Expected, formatCounts(e.ExpectedByType), e.Found, formatCounts(e.FoundByType), e.Position)
}

// Is makes errors.Is(err, ErrMismatch) true.
func (e *MismatchError) Is(target error) bool { return target == ErrMismatch }

func formatCounts(counts map[ensemble.EntityType]int) string {
	keys := make([]string, 0, len(counts))
	for t := range counts {
		keys = append(keys, string(t))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[ensemble.EntityType(k)]))
	}
	return strings.Join(parts, ", ")
}

// Scanner finds type tokens in anonymized text. It recognizes the canonical
// entity types and every type in the record it was built from, so "[x]" and
// other bracketed text stays literal.
type Scanner struct {
	types ensemble.TypeSet
}

// NewScanner builds a scanner for one page's record.
func NewScanner(page redact.PageSet) *Scanner {
	return &Scanner{types: ensemble.NewTypeSet(page.Types()...)}
}

// Scan returns the tokens in text from left to right.
func (s *Scanner) Scan(text string) []ensemble.TokenMatch {
	return ensemble.FindTokens(text, s.types.Has)
}

// Ordered returns the record sorted by order index, failing with
// ErrInvalidRecord unless the indexes are exactly 0..n-1.
func Ordered(page redact.PageSet) ([]redact.Entry, error) {
	ordered := make([]redact.Entry, len(page.Replacements))
	filled := make([]bool, len(page.Replacements))
	for _, e := range page.Replacements {
		i := e.OrderIndex
		if i < 0 || i >= len(ordered) || filled[i] {
			return nil, fmt.Errorf("%w: page %d: order_index %d", ErrInvalidRecord, page.PageNumber, i)
		}
		if e.EntityType == "" {
			return nil, fmt.Errorf("%w: page %d: entry %d has no entity_type", ErrInvalidRecord, page.PageNumber, i)
		}
		ordered[i] = e
		filled[i] = true
	}
	return ordered, nil
}

// Reconstruct restores the page text. The i-th token of any type is matched
// to the entry with order index i and must carry that entry's type. Nothing
// is returned unless every token matches.
func Reconstruct(anonymized string, page redact.PageSet) (string, error) {
	ordered, err := Ordered(page)
	if err != nil {
		return "", err
	}
	tokens := NewScanner(page).Scan(anonymized)

	if pos, ok := firstDifference(anonymized, tokens, ordered); !ok {
		return "", newMismatch(page.PageNumber, ordered, tokens, pos)
	}

	var b strings.Builder
	b.Grow(len(anonymized))
	cursor := 0
	for i, tok := range tokens {
		b.WriteString(anonymized[cursor:tok.Start])
		b.WriteString(ordered[i].OriginalText)
		cursor = tok.End
	}
	b.WriteString(anonymized[cursor:])
	return b.String(), nil
}

func firstDifference(text string, tokens []ensemble.TokenMatch, ordered []redact.Entry) (int, bool) {
	for i := 0; i < len(tokens) && i < len(ordered); i++ {
		if tokens[i].Type != ordered[i].EntityType {
			return tokens[i].Start, false
		}
	}
	switch {
	case len(tokens) > len(ordered):
		return tokens[len(ordered)].Start, false
	case len(tokens) < len(ordered):
		return len(text), false
	}
	return 0, true
}

func newMismatch(page int, ordered []redact.Entry, tokens []ensemble.TokenMatch, pos int) *MismatchError {
	e := &MismatchError{
		Page:           page,
		Expected:       len(ordered),
		Found:          len(tokens),
		ExpectedByType: make(map[ensemble.EntityType]int),
		FoundByType:    make(map[ensemble.EntityType]int),
		Position:       pos,
	}
	for _, r := range ordered {
		e.ExpectedByType[r.EntityType]++
	}
	for _, t := range tokens {
		e.FoundByType[t.Type]++
	}
	return e
}
