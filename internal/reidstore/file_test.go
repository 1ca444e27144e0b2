package reidstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/ensemble-deid/internal/reid"
	"github.com/wolfman30/ensemble-deid/pkg/logging"
)

func TestFileStore(t *testing.T) {
	storeContract(t, NewFileStore(t.TempDir()))
}

func TestFileStoreWritesOwnerOnlyFile(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	require.NoError(t, s.PutPage(context.Background(), samplePage("doc", 1, "Ravi")))

	path := filepath.Join(dir, "reid_map_doc.json")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	pages, ok := raw["pages"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, pages, "1")

	leftovers, err := filepath.Glob(filepath.Join(dir, ".reid_map_doc.json.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFileStoreConcurrentPages(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	ctx := context.Background()

	const pages = 24
	var wg sync.WaitGroup
	errs := make(chan error, pages)
	for n := 1; n <= pages; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- s.PutPage(ctx, samplePage("doc", n, fmt.Sprintf("Name%d", n)))
		}(n)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	m, err := s.Load(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, m.Pages, pages)
	for n := 1; n <= pages; n++ {
		assert.Equal(t, fmt.Sprintf("Name%d", n), m.Pages[n].Replacements[0].OriginalText)
	}
}

func TestFileStoreSeparateInstancesShareFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	var wg sync.WaitGroup
	for n := 1; n <= 8; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, NewFileStore(dir).PutPage(ctx, samplePage("doc", n, "X")))
		}(n)
	}
	wg.Wait()

	m, err := NewFileStore(dir).Load(ctx, "doc")
	require.NoError(t, err)
	assert.Len(t, m.Pages, 8)
}

func TestFileStoreReplacesCorruptMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reid_map_doc.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	var buf bytes.Buffer
	s := NewFileStore(dir, WithFileLogger(logging.NewWithWriter("warn", &buf)))
	require.NoError(t, s.PutPage(context.Background(), samplePage("doc", 4, "Ravi")))

	m, err := s.Load(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, []int{4}, m.PageNumbers())
	assert.Contains(t, buf.String(), "replacing corrupt reid map")
}

func TestFileStoreMapPathOfAnotherDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "map.json")
	var buf bytes.Buffer
	s := NewFileStore("", WithMapPath(path), WithFileLogger(logging.NewWithWriter("warn", &buf)))
	ctx := context.Background()

	require.NoError(t, s.PutPage(ctx, samplePage("first", 1, "Ravi")))
	require.NoError(t, s.PutPage(ctx, samplePage("second", 2, "Sita")))

	_, err := s.Load(ctx, "first")
	assert.ErrorIs(t, err, ErrNotFound)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	m, err := reid.ParseDocumentMap(data)
	require.NoError(t, err)
	assert.Equal(t, "second", m.DocID)
	assert.Equal(t, []int{2}, m.PageNumbers())
	assert.Contains(t, buf.String(), "replacing reid map of another document")
}

func TestFileStoreLoadCorruptFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reid_map_doc.json"), []byte("[]"), 0o600))
	_, err := NewFileStore(dir).Load(context.Background(), "doc")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.txt")
	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
