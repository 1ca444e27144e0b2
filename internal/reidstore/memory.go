package reidstore

import (
	"context"
	"sync"

	"github.com/wolfman30/ensemble-deid/internal/redact"
	"github.com/wolfman30/ensemble-deid/internal/reid"
)

// MemoryStore keeps maps in process memory. It backs dry runs and tests.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]*reid.DocumentMap
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*reid.DocumentMap)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, docID string) (*reid.DocumentMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.docs[docID]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

// PutPage implements Store.
func (s *MemoryStore) PutPage(_ context.Context, page redact.PageSet) error {
	if err := validatePage(page); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.docs[page.DocID]
	if !ok {
		m = reid.NewDocumentMap(page.DocID, page.DocName)
		s.docs[page.DocID] = m
	}
	return m.PutPage(page)
}
