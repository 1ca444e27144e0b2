package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/ensemble-deid/internal/compliance"
	"github.com/wolfman30/ensemble-deid/internal/detect"
	"github.com/wolfman30/ensemble-deid/internal/ensemble"
	"github.com/wolfman30/ensemble-deid/internal/observability/metrics"
	"github.com/wolfman30/ensemble-deid/internal/redact"
)

// PageRequest is one page of source text with the candidates produced for it
// by the external NER detectors.
type PageRequest struct {
	Page       redact.PageInfo
	Text       string
	Candidates []ensemble.Candidate
}

// PageOutcome is the result of de-identifying one page of a document.
type PageOutcome struct {
	Page   redact.PageInfo
	Result *redact.Result
	Err    error
}

// Deidentifier turns source pages into anonymized text and replacement
// records: detect, filter, extend dates, merge, redact.
type Deidentifier struct {
	settings
}

// NewDeidentifier builds a Deidentifier.
func NewDeidentifier(opts ...Option) *Deidentifier {
	s := newSettings(opts)
	s.logger = s.logger.Component("deidentify")
	return &Deidentifier{settings: s}
}

// DeidentifyPage redacts one page. Rejected candidates are logged and
// counted; only a redaction failure is an error.
func (d *Deidentifier) DeidentifyPage(ctx context.Context, req PageRequest) (*redact.Result, error) {
	ctx, span := d.tracer.Start(ctx, "pipeline.deidentify.page")
	defer span.End()
	span.SetAttributes(
		attribute.String("doc_id", req.Page.DocID),
		attribute.Int("page", req.Page.PageNumber),
	)
	started := time.Now()

	res, err := d.deidentify(ctx, req)
	if err != nil {
		span.RecordError(err)
		d.metrics.ObservePage(metrics.StageDeidentify, metrics.StatusError, time.Since(started).Seconds())
		d.logger.Error("page de-identification failed", "doc_id", req.Page.DocID, "page", req.Page.PageNumber, "error", err)
		return nil, err
	}

	byType := countsByType(res.Page.Replacements)
	span.SetAttributes(attribute.Int("entities", len(res.Page.Replacements)))
	d.metrics.ObserveSpans(byType)
	d.metrics.ObservePage(metrics.StageDeidentify, metrics.StatusOK, time.Since(started).Seconds())
	if d.audit != nil {
		if err := d.audit.LogPHIRedacted(ctx, req.Page.DocID, req.Page.PageNumber, d.runID, byType); err != nil {
			d.logger.Error("failed to record redaction audit event", "doc_id", req.Page.DocID, "page", req.Page.PageNumber, "error", err)
		}
	}
	d.logger.Info("page de-identified",
		"doc_id", req.Page.DocID,
		"page", req.Page.PageNumber,
		"entities", len(res.Page.Replacements),
		"by_type", compliance.CountsByType(byType),
	)
	return res, nil
}

func (d *Deidentifier) deidentify(ctx context.Context, req PageRequest) (*redact.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ner := make([]ensemble.Candidate, len(req.Candidates))
	for i, c := range req.Candidates {
		c.EntityType = ensemble.NormalizeLabel(string(c.EntityType))
		ner[i] = c
	}

	candidates := detect.Run(req.Text, ner, d.detectors...)
	kept, rejected := d.policy.Filter(req.Text, candidates)
	d.logRejections(req.Page, rejected)

	kept = ensemble.ExtendDateTimes(req.Text, kept)
	spans := ensemble.Merge(kept, d.mergeOpts...)

	res, err := redact.Redact(req.Text, req.Page, spans)
	if err != nil {
		return nil, fmt.Errorf("pipeline: redact page %d: %w", req.Page.PageNumber, err)
	}
	return res, nil
}

// logRejections never logs candidate text.
func (d *Deidentifier) logRejections(page redact.PageInfo, rejected []ensemble.Rejection) {
	for _, r := range rejected {
		d.metrics.ObserveRejection(string(r.Reason))
		attrs := []any{
			"doc_id", page.DocID,
			"page", page.PageNumber,
			"entity_type", r.Candidate.EntityType,
			"source", r.Candidate.Source,
			"start", r.Candidate.Start,
			"end", r.Candidate.End,
			"reason", r.Reason,
		}
		if r.Reason == ensemble.ReasonSchema {
			d.logger.Warn("dropping malformed candidate", append(attrs, "detail", r.Detail)...)
			continue
		}
		d.logger.Debug("candidate rejected", attrs...)
	}
}

// DeidentifyDocument redacts pages concurrently. Outcomes are returned in
// request order; a failed page does not affect the others.
func (d *Deidentifier) DeidentifyDocument(ctx context.Context, pages []PageRequest) []PageOutcome {
	out := make([]PageOutcome, len(pages))
	forEach(ctx, len(pages), d.workers, func(ctx context.Context, i int) {
		res, err := d.DeidentifyPage(ctx, pages[i])
		out[i] = PageOutcome{Page: pages[i].Page, Result: res, Err: err}
	})
	return out
}

// Results returns the redacted pages of outcomes, or the first page error.
func Results(outcomes []PageOutcome) ([]*redact.Result, error) {
	results := make([]*redact.Result, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			return nil, fmt.Errorf("pipeline: page %d: %w", o.Page.PageNumber, o.Err)
		}
		results = append(results, o.Result)
	}
	return results, nil
}

func countsByType(entries []redact.Entry) map[string]int {
	out := make(map[string]int)
	for _, e := range entries {
		out[string(e.EntityType)]++
	}
	return out
}
