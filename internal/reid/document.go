package reid

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/wolfman30/ensemble-deid/internal/redact"
)

// Page is the stored replacement record of one page.
type Page struct {
	Replacements []redact.Entry `json:"replacements"`
}

// DocumentMap holds the replacement records of every page of a document that
// has been re-identified so far. It is the only artifact needed to restore
// the document and contains PHI. Pages marshal with decimal string keys.
type DocumentMap struct {
	DocName string       `json:"doc_name"`
	DocID   string       `json:"doc_id"`
	Pages   map[int]Page `json:"pages"`
}

// NewDocumentMap returns an empty map for a document.
func NewDocumentMap(docID, docName string) *DocumentMap {
	return &DocumentMap{DocID: docID, DocName: docName, Pages: make(map[int]Page)}
}

// PutPage stores the record of one page, replacing any earlier record for
// the same page number. Other pages are untouched.
func (m *DocumentMap) PutPage(p redact.PageSet) error {
	if p.DocID != "" && p.DocID != m.DocID {
		return fmt.Errorf("reid: page %d belongs to %q, map is %q", p.PageNumber, p.DocID, m.DocID)
	}
	if m.Pages == nil {
		m.Pages = make(map[int]Page)
	}
	if m.DocName == "" {
		m.DocName = p.DocName
	}
	m.Pages[p.PageNumber] = Page{Replacements: cloneEntries(p.Replacements)}
	return nil
}

// PageSet returns the record of page n with the document fields filled in.
func (m *DocumentMap) PageSet(n int) (redact.PageSet, bool) {
	p, ok := m.Pages[n]
	if !ok {
		return redact.PageSet{}, false
	}
	return redact.PageSet{
		DocID:        m.DocID,
		DocName:      m.DocName,
		PageNumber:   n,
		Replacements: cloneEntries(p.Replacements),
	}, true
}

// PageNumbers returns the stored page numbers in ascending order.
func (m *DocumentMap) PageNumbers() []int {
	out := make([]int, 0, len(m.Pages))
	for n := range m.Pages {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Clone returns a deep copy.
func (m *DocumentMap) Clone() *DocumentMap {
	out := NewDocumentMap(m.DocID, m.DocName)
	for n, p := range m.Pages {
		out.Pages[n] = Page{Replacements: cloneEntries(p.Replacements)}
	}
	return out
}

// MergeMaps returns a new map holding the pages of both inputs. A page in
// both is taken from b. Neither input is modified.
func MergeMaps(a, b *DocumentMap) (*DocumentMap, error) {
	if a.DocID != b.DocID {
		return nil, fmt.Errorf("reid: cannot merge maps of %q and %q", a.DocID, b.DocID)
	}
	out := a.Clone()
	if out.DocName == "" {
		out.DocName = b.DocName
	}
	for n, p := range b.Pages {
		out.Pages[n] = Page{Replacements: cloneEntries(p.Replacements)}
	}
	return out, nil
}

// ParseDocumentMap decodes a stored map.
func ParseDocumentMap(data []byte) (*DocumentMap, error) {
	var m DocumentMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("reid: parse document map: %w", err)
	}
	if m.Pages == nil {
		m.Pages = make(map[int]Page)
	}
	return &m, nil
}

// PageFromMetadata extracts the replacement record of a page from the forward
// metadata document.
func PageFromMetadata(meta *redact.Metadata, page int) redact.PageSet {
	return redact.PageSet{
		DocID:        meta.ResolvedDocID(),
		DocName:      meta.ResolvedDocName(),
		PageNumber:   page,
		Replacements: meta.PageEntries(page),
	}
}

// MapFromMetadata builds a document map from the forward metadata, with one
// page per entry of its pages object. Metadata without pages yields its
// page_number (or page 1) from the flat entity list.
func MapFromMetadata(meta *redact.Metadata) *DocumentMap {
	m := NewDocumentMap(meta.ResolvedDocID(), meta.ResolvedDocName())
	for _, n := range metadataPages(meta) {
		p := PageFromMetadata(meta, n)
		m.Pages[n] = Page{Replacements: cloneEntries(p.Replacements)}
	}
	return m
}

func metadataPages(meta *redact.Metadata) []int {
	var pages []int
	for key := range meta.Pages {
		if n, err := strconv.Atoi(key); err == nil && n > 0 {
			pages = append(pages, n)
		}
	}
	if len(pages) == 0 {
		n := meta.PageNumber
		if n < 1 {
			n = 1
		}
		return []int{n}
	}
	sort.Ints(pages)
	return pages
}

func cloneEntries(in []redact.Entry) []redact.Entry {
	out := make([]redact.Entry, len(in))
	copy(out, in)
	return out
}
