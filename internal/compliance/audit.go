// Package compliance records the HIPAA audit trail of redaction and
// re-identification. Audit rows carry ids, counts and entity types only;
// original text is never written.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the type of compliance event.
type AuditEventType string

const (
	// EventPHIRedacted is logged when a page has been de-identified.
	EventPHIRedacted AuditEventType = "compliance.phi_redacted"
	// EventPHIReidentified is logged when original text has been restored into a page.
	EventPHIReidentified AuditEventType = "compliance.phi_reidentified"
	// EventReidMismatch is logged when a page could not be restored because
	// its tokens disagree with the replacement record.
	EventReidMismatch AuditEventType = "compliance.reid_mismatch"
)

// AuditEvent represents an immutable compliance audit record.
type AuditEvent struct {
	ID          string          `json:"id"`
	EventType   AuditEventType  `json:"event_type"`
	DocID       string          `json:"doc_id"`
	PageNumber  int             `json:"page_number"`
	RunID       string          `json:"run_id,omitempty"`
	EntityCount int             `json:"entity_count"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details.
type AuditDetails struct {
	// Entity counts keyed by type
	EntityTypes map[string]int `json:"entity_types,omitempty"`

	// For reidentified pages
	Store string `json:"store,omitempty"`

	// For mismatches
	Expected int `json:"expected,omitempty"`
	Found    int `json:"found,omitempty"`
	Position int `json:"position,omitempty"`
}

// AuditService handles compliance audit logging.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records a compliance audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(event.Details) == 0 {
		event.Details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO compliance_audit_events (
			id, event_type, doc_id, page_number, run_id,
			entity_count, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.DocID,
		event.PageNumber,
		nullString(event.RunID),
		event.EntityCount,
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}

	return nil
}

// LogPHIRedacted logs a de-identified page with its entity counts by type.
func (s *AuditService) LogPHIRedacted(ctx context.Context, docID string, page int, runID string, byType map[string]int) error {
	details := AuditDetails{EntityTypes: byType}
	detailsJSON, _ := json.Marshal(details)

	return s.LogEvent(ctx, AuditEvent{
		EventType:   EventPHIRedacted,
		DocID:       docID,
		PageNumber:  page,
		RunID:       runID,
		EntityCount: total(byType),
		Details:     detailsJSON,
	})
}

// LogPHIReidentified logs a restored page and the store its map was written to.
func (s *AuditService) LogPHIReidentified(ctx context.Context, docID string, page int, store string, byType map[string]int) error {
	details := AuditDetails{EntityTypes: byType, Store: store}
	detailsJSON, _ := json.Marshal(details)

	return s.LogEvent(ctx, AuditEvent{
		EventType:   EventPHIReidentified,
		DocID:       docID,
		PageNumber:  page,
		EntityCount: total(byType),
		Details:     detailsJSON,
	})
}

// LogReidMismatch logs a page whose tokens disagree with its record.
func (s *AuditService) LogReidMismatch(ctx context.Context, docID string, page, expected, found, position int) error {
	details := AuditDetails{Expected: expected, Found: found, Position: position}
	detailsJSON, _ := json.Marshal(details)

	return s.LogEvent(ctx, AuditEvent{
		EventType:   EventReidMismatch,
		DocID:       docID,
		PageNumber:  page,
		EntityCount: expected,
		Details:     detailsJSON,
	})
}

// QueryEvents retrieves audit events with filters.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, doc_id, page_number, run_id,
			   entity_count, details, created_at
		FROM compliance_audit_events
		WHERE doc_id = $1
	`
	args := []interface{}{filter.DocID}
	argIdx := 2

	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if filter.PageNumber > 0 {
		query += fmt.Sprintf(" AND page_number = $%d", argIdx)
		args = append(args, filter.PageNumber)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var runID sql.NullString
		var details []byte
		err := rows.Scan(
			&e.ID, &e.EventType, &e.DocID, &e.PageNumber, &runID,
			&e.EntityCount, &details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.RunID = runID.String
		e.Details = details
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: failed to read audit events: %w", err)
	}

	return events, nil
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	DocID      string
	EventType  AuditEventType
	PageNumber int
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
}

// CountsByType flattens per-type counts into sorted "TYPE=n" pairs for logs.
func CountsByType(byType map[string]int) []string {
	out := make([]string, 0, len(byType))
	for t, n := range byType {
		out = append(out, fmt.Sprintf("%s=%d", t, n))
	}
	sort.Strings(out)
	return out
}

func total(byType map[string]int) int {
	n := 0
	for _, c := range byType {
		n += c
	}
	return n
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
