package redact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/ensemble-deid/internal/ensemble"
)

// EntityRecord is one detected entity in the forward metadata, with offsets
// into the source page.
type EntityRecord struct {
	EntityID   string              `json:"entity_id,omitempty"`
	EntityType ensemble.EntityType `json:"entity_type"`
	Text       string              `json:"text"`
	Score      float64             `json:"score"`
	Start      int                 `json:"start"`
	End        int                 `json:"end"`
	Source     string              `json:"source,omitempty"`
	Page       int                 `json:"page,omitempty"`
}

// MetadataPage is the per-page view of the metadata. Older documents carry
// only EntitiesByType.
type MetadataPage struct {
	Replacements   []Entry                                `json:"replacements,omitempty"`
	EntitiesByType map[ensemble.EntityType][]EntityRecord `json:"entities_by_type,omitempty"`
}

// Metadata is the forward record written next to the anonymized text.
type Metadata struct {
	InputFile             string                  `json:"input_file,omitempty"`
	DocName               string                  `json:"doc_name"`
	DocID                 string                  `json:"doc_id"`
	PageNumber            int                     `json:"page_number"`
	RunID                 string                  `json:"run_id,omitempty"`
	Timestamp             string                  `json:"timestamp"`
	Models                []string                `json:"models"`
	TotalEntitiesRedacted int                     `json:"total_entities_redacted"`
	Entities              []EntityRecord          `json:"entities"`
	Pages                 map[string]MetadataPage `json:"pages"`
}

// RunInfo describes the de-identification run that produced the metadata.
type RunInfo struct {
	InputFile string
	Models    []string
	RunID     string
	Now       time.Time
}

// BuildMetadata assembles the metadata for the redacted pages of one
// document. An empty RunID gets a fresh uuid and a zero Now the current time.
func BuildMetadata(run RunInfo, pages ...*Result) (*Metadata, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("redact: metadata needs at least one page")
	}
	first := pages[0].Page
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.Now.IsZero() {
		run.Now = time.Now()
	}
	models := run.Models
	if models == nil {
		models = []string{}
	}

	m := &Metadata{
		InputFile:  run.InputFile,
		DocName:    first.DocName,
		DocID:      first.DocID,
		PageNumber: first.PageNumber,
		RunID:      run.RunID,
		Timestamp:  run.Now.UTC().Format(time.RFC3339Nano),
		Models:     models,
		Entities:   []EntityRecord{},
		Pages:      make(map[string]MetadataPage, len(pages)),
	}
	for _, res := range pages {
		if res.Page.DocID != first.DocID {
			return nil, fmt.Errorf("redact: page %d belongs to %q, not %q", res.Page.PageNumber, res.Page.DocID, first.DocID)
		}
		key := strconv.Itoa(res.Page.PageNumber)
		if _, dup := m.Pages[key]; dup {
			return nil, fmt.Errorf("redact: page %d redacted twice", res.Page.PageNumber)
		}
		for i, e := range res.Page.Replacements {
			rec := EntityRecord{
				EntityID:   e.EntityID,
				EntityType: e.EntityType,
				Text:       e.OriginalText,
				Start:      e.Start,
				End:        e.End,
				Page:       res.Page.PageNumber,
			}
			if i < len(res.Spans) {
				rec.Score = res.Spans[i].Score
				rec.Source = res.Spans[i].Source
			}
			m.Entities = append(m.Entities, rec)
		}
		m.Pages[key] = MetadataPage{Replacements: res.Page.Replacements}
		m.TotalEntitiesRedacted += len(res.Page.Replacements)
	}
	return m, nil
}

// ResolvedDocID returns the document id, falling back to the stem of the
// document name or input file and finally to "document".
func (m *Metadata) ResolvedDocID() string {
	if m.DocID != "" {
		return m.DocID
	}
	for _, name := range []string{m.DocName, m.InputFile} {
		base := filepath.Base(name)
		if stem := strings.TrimSuffix(base, filepath.Ext(base)); stem != "" && stem != "." {
			return stem
		}
	}
	return "document"
}

// ResolvedDocName returns the document name, falling back to the base name
// of the input file.
func (m *Metadata) ResolvedDocName() string {
	if m.DocName != "" || m.InputFile == "" {
		return m.DocName
	}
	return filepath.Base(m.InputFile)
}

// PageEntries returns the replacement record for a page. Pages written
// without replacements fall back to entities_by_type, then to the flat entity
// list; those fallbacks are ordered by start and indexed in that order.
func (m *Metadata) PageEntries(page int) []Entry {
	if p, ok := m.Pages[strconv.Itoa(page)]; ok {
		if len(p.Replacements) > 0 {
			return p.Replacements
		}
		if len(p.EntitiesByType) > 0 {
			var recs []EntityRecord
			for _, rs := range p.EntitiesByType {
				recs = append(recs, rs...)
			}
			return entriesFromRecords(page, recs)
		}
	}
	var recs []EntityRecord
	for _, r := range m.Entities {
		if r.Page == 0 || r.Page == page {
			recs = append(recs, r)
		}
	}
	return entriesFromRecords(page, recs)
}

func entriesFromRecords(page int, recs []EntityRecord) []Entry {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Start != recs[j].Start {
			return recs[i].Start < recs[j].Start
		}
		return recs[i].End < recs[j].End
	})
	out := make([]Entry, 0, len(recs))
	perType := make(map[ensemble.EntityType]int)
	for i, r := range recs {
		perType[r.EntityType]++
		id := r.EntityID
		if id == "" {
			id = EntityID(page, r.EntityType, perType[r.EntityType])
		}
		out = append(out, Entry{
			EntityID:         id,
			EntityType:       r.EntityType,
			OriginalText:     r.Text,
			ReplacementToken: r.EntityType.Token(),
			OrderIndex:       i,
			Start:            r.Start,
			End:              r.End,
		})
	}
	return out
}

// LoadMetadata reads a metadata document from disk.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("redact: read metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("redact: parse metadata %s: %w", path, err)
	}
	return &m, nil
}
