// Package redact substitutes resolved PHI spans with type tokens and records
// what was replaced so the text can be restored later.
package redact

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/wolfman30/ensemble-deid/internal/ensemble"
)

var (
	// ErrOverlap is returned when spans overlap, fall outside the text, or
	// are not in index order.
	ErrOverlap = errors.New("redact: spans overlap or are out of order")
	// ErrAmbiguousText is returned when text kept between spans already
	// contains a type token, so the output could not be restored losslessly.
	ErrAmbiguousText = errors.New("redact: source text contains a type token")
	// ErrEntityType is returned for a span whose type is empty or could not
	// be found again in the anonymized text.
	ErrEntityType = errors.New("redact: entity type cannot form a token")
)

// Entry is one row of a page's replacement record.
type Entry struct {
	EntityID         string              `json:"entity_id"`
	EntityType       ensemble.EntityType `json:"entity_type"`
	OriginalText     string              `json:"original_text"`
	ReplacementToken string              `json:"replacement_token"`
	OrderIndex       int                 `json:"order_index"`
	Start            int                 `json:"start"`
	End              int                 `json:"end"`
}

// PageInfo identifies the page being redacted.
type PageInfo struct {
	DocID      string
	DocName    string
	PageNumber int
}

// PageSet is the replacement record of one page.
type PageSet struct {
	DocID        string  `json:"doc_id"`
	DocName      string  `json:"doc_name"`
	PageNumber   int     `json:"page_number"`
	Replacements []Entry `json:"replacements"`
}

// Types returns the distinct entity types of the record in first-seen order.
func (p PageSet) Types() []ensemble.EntityType {
	seen := make(map[ensemble.EntityType]struct{}, len(p.Replacements))
	var out []ensemble.EntityType
	for _, e := range p.Replacements {
		if _, ok := seen[e.EntityType]; ok {
			continue
		}
		seen[e.EntityType] = struct{}{}
		out = append(out, e.EntityType)
	}
	return out
}

// Result is the output of Redact.
type Result struct {
	Anonymized string
	Page       PageSet
	Spans      []ensemble.Resolved
}

// EntityID formats the document-unique id of the k-th (1-based) span of a
// type on a page.
func EntityID(page int, t ensemble.EntityType, k int) string {
	return fmt.Sprintf("page_%d_%s_%d", page, t, k)
}

// Redact copies text from left to right, replacing every span with its type
// token. spans must be the start-ordered, non-overlapping output of
// ensemble.Merge. The original text of each entry is read from text itself.
func Redact(text string, page PageInfo, spans []ensemble.Resolved) (*Result, error) {
	src := []rune(text)

	types := make([]ensemble.EntityType, 0, len(spans))
	for _, s := range spans {
		types = append(types, s.EntityType)
	}
	tokens := ensemble.NewTypeSet(types...)

	var b strings.Builder
	b.Grow(len(text))
	entries := make([]Entry, 0, len(spans))
	perType := make(map[ensemble.EntityType]int, len(spans))
	cursor := 0

	literal := func(lo, hi int) error {
		seg := string(src[lo:hi])
		if found := ensemble.FindTokens(seg, tokens.Has); len(found) > 0 {
			at := lo + utf8.RuneCountInString(seg[:found[0].Start])
			return fmt.Errorf("%w: %s at offset %d", ErrAmbiguousText, found[0].Type.Token(), at)
		}
		b.WriteString(seg)
		return nil
	}

	for i, s := range spans {
		switch {
		case s.Index != i:
			return nil, fmt.Errorf("%w: span %d has index %d", ErrOverlap, i, s.Index)
		case s.Start < cursor || s.End <= s.Start || s.End > len(src):
			return nil, fmt.Errorf("%w: span %d at %d-%d after offset %d of %d", ErrOverlap, i, s.Start, s.End, cursor, len(src))
		case !s.EntityType.Tokenizable():
			return nil, fmt.Errorf("%w: span %d has type %q", ErrEntityType, i, s.EntityType)
		}
		if err := literal(cursor, s.Start); err != nil {
			return nil, err
		}
		token := s.EntityType.Token()
		b.WriteString(token)

		perType[s.EntityType]++
		entries = append(entries, Entry{
			EntityID:         EntityID(page.PageNumber, s.EntityType, perType[s.EntityType]),
			EntityType:       s.EntityType,
			OriginalText:     string(src[s.Start:s.End]),
			ReplacementToken: token,
			OrderIndex:       i,
			Start:            s.Start,
			End:              s.End,
		})
		cursor = s.End
	}
	if err := literal(cursor, len(src)); err != nil {
		return nil, err
	}

	return &Result{
		Anonymized: b.String(),
		Page: PageSet{
			DocID:        page.DocID,
			DocName:      page.DocName,
			PageNumber:   page.PageNumber,
			Replacements: entries,
		},
		Spans: spans,
	}, nil
}
