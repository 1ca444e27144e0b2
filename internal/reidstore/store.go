// Package reidstore persists document reid maps. Every backend applies a page
// update atomically and never rewrites the entries of other pages, so pages of
// one document can be re-identified concurrently.
package reidstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/ensemble-deid/internal/redact"
	"github.com/wolfman30/ensemble-deid/internal/reid"
)

var (
	// ErrNotFound is returned by Load when no page of the document is stored.
	ErrNotFound = errors.New("reidstore: document map not found")
	// ErrInvalidDocID is returned for ids that are empty or cannot be used
	// as a single path or key segment.
	ErrInvalidDocID = errors.New("reidstore: invalid doc id")
	// ErrInvalidPage is returned for page numbers below 1.
	ErrInvalidPage = errors.New("reidstore: invalid page number")
)

// Store persists document reid maps.
type Store interface {
	// Load returns every stored page of the document.
	Load(ctx context.Context, docID string) (*reid.DocumentMap, error)
	// PutPage stores one page, replacing an earlier record of the same page.
	PutPage(ctx context.Context, page redact.PageSet) error
}

// ValidateDocID rejects ids that could escape a directory or key prefix.
func ValidateDocID(docID string) error {
	switch {
	case strings.TrimSpace(docID) == "":
		return fmt.Errorf("%w: empty", ErrInvalidDocID)
	case docID == "." || docID == "..":
		return fmt.Errorf("%w: %q", ErrInvalidDocID, docID)
	case strings.ContainsAny(docID, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidDocID, docID)
	}
	return nil
}

func validatePage(page redact.PageSet) error {
	if err := ValidateDocID(page.DocID); err != nil {
		return err
	}
	if page.PageNumber < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPage, page.PageNumber)
	}
	if _, err := reid.Ordered(page); err != nil {
		return err
	}
	return nil
}

func marshalPage(page redact.PageSet) ([]byte, error) {
	data, err := json.Marshal(reid.Page{Replacements: nonNil(page.Replacements)})
	if err != nil {
		return nil, fmt.Errorf("reidstore: marshal page %d: %w", page.PageNumber, err)
	}
	return data, nil
}

func unmarshalPage(data []byte) (reid.Page, error) {
	var p reid.Page
	if err := json.Unmarshal(data, &p); err != nil {
		return reid.Page{}, fmt.Errorf("reidstore: decode page: %w", err)
	}
	p.Replacements = nonNil(p.Replacements)
	return p, nil
}

func nonNil(entries []redact.Entry) []redact.Entry {
	if entries == nil {
		return []redact.Entry{}
	}
	return entries
}
