package reidstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/wolfman30/ensemble-deid/internal/redact"
	"github.com/wolfman30/ensemble-deid/internal/reid"
	"github.com/wolfman30/ensemble-deid/pkg/logging"
)

const (
	mapFileMode    = 0o600
	lockRetryDelay = 25 * time.Millisecond
)

// MapFileName returns the default file name of a document's reid map.
func MapFileName(docID string) string {
	return "reid_map_" + docID + ".json"
}

// FileStore keeps one JSON file per document. Page updates hold an
// in-process mutex and an flock on "<file>.lock", then rewrite the file
// through a temporary file and rename.
type FileStore struct {
	dir    string
	path   string
	logger *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithMapPath stores every document in the given file instead of
// <dir>/reid_map_<doc_id>.json. A file holding another document is replaced.
func WithMapPath(path string) FileOption {
	return func(s *FileStore) {
		s.path = path
	}
}

// WithFileLogger sets the logger used for recoverable problems.
func WithFileLogger(logger *logging.Logger) FileOption {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string, opts ...FileOption) *FileStore {
	s := &FileStore{
		dir:    dir,
		logger: logging.Default(),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PathFor returns the file that holds the document's map.
func (s *FileStore) PathFor(docID string) string {
	if s.path != "" {
		return s.path
	}
	return filepath.Join(s.dir, MapFileName(docID))
}

func (s *FileStore) pathLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, docID string) (*reid.DocumentMap, error) {
	if err := ValidateDocID(docID); err != nil {
		return nil, err
	}
	path := s.PathFor(docID)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reidstore: read %s: %w", path, err)
	}
	m, err := reid.ParseDocumentMap(data)
	if err != nil {
		return nil, err
	}
	if m.DocID != docID {
		return nil, ErrNotFound
	}
	return m, nil
}

// PutPage implements Store.
func (s *FileStore) PutPage(ctx context.Context, page redact.PageSet) error {
	if err := validatePage(page); err != nil {
		return err
	}
	path := s.PathFor(page.DocID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("reidstore: create %s: %w", filepath.Dir(path), err)
	}

	local := s.pathLock(path)
	local.Lock()
	defer local.Unlock()

	fl := flock.New(path + ".lock")
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("reidstore: lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("reidstore: lock %s: not acquired", path)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("failed to unlock reid map", "path", path, "error", err)
		}
	}()

	m := s.readForUpdate(path, page)
	if err := m.PutPage(page); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("reidstore: marshal map: %w", err)
	}
	return WriteFileAtomic(path, data, mapFileMode)
}

// readForUpdate returns the current map, or a fresh one when the file is
// missing, unreadable or belongs to another document.
func (s *FileStore) readForUpdate(path string, page redact.PageSet) *reid.DocumentMap {
	fresh := reid.NewDocumentMap(page.DocID, page.DocName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fresh
	}
	if err != nil {
		s.logger.Warn("replacing unreadable reid map", "path", path, "error", err)
		return fresh
	}
	m, err := reid.ParseDocumentMap(data)
	if err != nil {
		s.logger.Warn("replacing corrupt reid map", "path", path, "error", err)
		return fresh
	}
	if m.DocID != page.DocID {
		s.logger.Warn("replacing reid map of another document", "path", path, "doc_id", page.DocID, "found_doc_id", m.DocID)
		return fresh
	}
	return m
}
