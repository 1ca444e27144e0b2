package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/ensemble-deid/internal/observability/metrics"
	"github.com/wolfman30/ensemble-deid/internal/redact"
	"github.com/wolfman30/ensemble-deid/internal/reid"
	"github.com/wolfman30/ensemble-deid/internal/reidstore"
)

// PageJob is one anonymized page with its replacement record.
type PageJob struct {
	Anonymized string
	Page       redact.PageSet
}

// ReidOutcome is the result of re-identifying one page of a document.
type ReidOutcome struct {
	PageNumber int
	Text       string
	Err        error
}

// Reidentifier restores anonymized pages and records each restored page in
// the document's reid map.
type Reidentifier struct {
	settings
	store reidstore.Store
}

// NewReidentifier builds a Reidentifier writing to store.
func NewReidentifier(store reidstore.Store, opts ...Option) *Reidentifier {
	if store == nil {
		panic("pipeline: reid store required")
	}
	s := newSettings(opts)
	s.logger = s.logger.Component("reidentify")
	return &Reidentifier{settings: s, store: store}
}

// ReidentifyPage restores one page. The page record is stored only after
// reconstruction succeeded, so a mismatching page never reaches the map.
func (r *Reidentifier) ReidentifyPage(ctx context.Context, job PageJob) (string, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.reidentify.page")
	defer span.End()
	page := job.Page
	span.SetAttributes(
		attribute.String("doc_id", page.DocID),
		attribute.Int("page", page.PageNumber),
		attribute.Int("entities", len(page.Replacements)),
	)
	started := time.Now()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, err := reid.Reconstruct(job.Anonymized, page)
	if err != nil {
		span.RecordError(err)
		r.recordFailure(ctx, page, err, time.Since(started))
		return "", fmt.Errorf("pipeline: reconstruct page %d: %w", page.PageNumber, err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	err = r.store.PutPage(storeCtx, page)
	cancel()
	r.metrics.ObserveStoreWrite(r.storeName, err)
	if err != nil {
		span.RecordError(err)
		r.metrics.ObservePage(metrics.StageReidentify, metrics.StatusError, time.Since(started).Seconds())
		r.logger.Error("failed to store reid map page", "doc_id", page.DocID, "page", page.PageNumber, "store", r.storeName, "error", err)
		return "", fmt.Errorf("pipeline: store page %d: %w", page.PageNumber, err)
	}

	byType := countsByType(page.Replacements)
	r.metrics.ObservePage(metrics.StageReidentify, metrics.StatusOK, time.Since(started).Seconds())
	if r.audit != nil {
		if err := r.audit.LogPHIReidentified(ctx, page.DocID, page.PageNumber, r.storeName, byType); err != nil {
			r.logger.Error("failed to record reidentification audit event", "doc_id", page.DocID, "page", page.PageNumber, "error", err)
		}
	}
	r.logger.Info("page re-identified",
		"doc_id", page.DocID,
		"page", page.PageNumber,
		"entities", len(page.Replacements),
		"store", r.storeName,
	)
	return text, nil
}

func (r *Reidentifier) recordFailure(ctx context.Context, page redact.PageSet, err error, elapsed time.Duration) {
	var mismatch *reid.MismatchError
	if !errors.As(err, &mismatch) {
		r.metrics.ObservePage(metrics.StageReidentify, metrics.StatusError, elapsed.Seconds())
		r.logger.Error("invalid replacement record", "doc_id", page.DocID, "page", page.PageNumber, "error", err)
		return
	}
	r.metrics.ObservePage(metrics.StageReidentify, metrics.StatusMismatch, elapsed.Seconds())
	r.logger.Warn("token mismatch, page not restored",
		"doc_id", page.DocID,
		"page", page.PageNumber,
		"expected", mismatch.Expected,
		"found", mismatch.Found,
		"position", mismatch.Position,
	)
	if r.audit != nil {
		if aerr := r.audit.LogReidMismatch(ctx, page.DocID, page.PageNumber, mismatch.Expected, mismatch.Found, mismatch.Position); aerr != nil {
			r.logger.Error("failed to record mismatch audit event", "doc_id", page.DocID, "page", page.PageNumber, "error", aerr)
		}
	}
}

// ReidentifyDocument restores pages concurrently and returns one outcome per
// job in job order. A failing page never aborts its siblings.
func (r *Reidentifier) ReidentifyDocument(ctx context.Context, jobs []PageJob) []ReidOutcome {
	out := make([]ReidOutcome, len(jobs))
	forEach(ctx, len(jobs), r.workers, func(ctx context.Context, i int) {
		text, err := r.ReidentifyPage(ctx, jobs[i])
		out[i] = ReidOutcome{PageNumber: jobs[i].Page.PageNumber, Text: text, Err: err}
	})
	return out
}
