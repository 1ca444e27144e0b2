package reidstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/ensemble-deid/internal/redact"
	"github.com/wolfman30/ensemble-deid/internal/reid"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore keeps one row per (doc_id, page_number) in reid_map_pages.
type PostgresStore struct {
	db rowQuerier
}

// NewPostgresStore wraps a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("reidstore: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithExec(db rowQuerier) *PostgresStore {
	if db == nil {
		panic("reidstore: exec required")
	}
	return &PostgresStore{db: db}
}

// PutPage implements Store.
func (s *PostgresStore) PutPage(ctx context.Context, page redact.PageSet) error {
	if err := validatePage(page); err != nil {
		return err
	}
	data, err := marshalPage(page)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO reid_map_pages (doc_id, page_number, doc_name, replacements, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (doc_id, page_number) DO UPDATE SET
			doc_name = COALESCE(NULLIF(EXCLUDED.doc_name, ''), reid_map_pages.doc_name),
			replacements = EXCLUDED.replacements,
			updated_at = now()
	`
	if _, err := s.db.Exec(ctx, query, page.DocID, page.PageNumber, page.DocName, data); err != nil {
		return fmt.Errorf("reidstore: upsert page %d of %s: %w", page.PageNumber, page.DocID, err)
	}
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, docID string) (*reid.DocumentMap, error) {
	if err := ValidateDocID(docID); err != nil {
		return nil, err
	}
	query := `SELECT page_number, doc_name, replacements FROM reid_map_pages WHERE doc_id = $1 ORDER BY page_number`
	rows, err := s.db.Query(ctx, query, docID)
	if err != nil {
		return nil, fmt.Errorf("reidstore: query pages of %s: %w", docID, err)
	}
	defer rows.Close()

	m := reid.NewDocumentMap(docID, "")
	for rows.Next() {
		var (
			n    int
			name string
			raw  []byte
		)
		if err := rows.Scan(&n, &name, &raw); err != nil {
			return nil, fmt.Errorf("reidstore: scan page of %s: %w", docID, err)
		}
		p, err := unmarshalPage(raw)
		if err != nil {
			return nil, err
		}
		if m.DocName == "" {
			m.DocName = name
		}
		m.Pages[n] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reidstore: read pages of %s: %w", docID, err)
	}
	if len(m.Pages) == 0 {
		return nil, ErrNotFound
	}
	return m, nil
}
