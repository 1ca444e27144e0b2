// Package pipeline runs the per-page transforms of both directions and fans
// pages of a document out over a bounded worker pool.
package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/ensemble-deid/internal/detect"
	"github.com/wolfman30/ensemble-deid/internal/ensemble"
	"github.com/wolfman30/ensemble-deid/internal/observability/metrics"
	"github.com/wolfman30/ensemble-deid/pkg/logging"
)

// AuditRecorder receives the compliance events of both directions.
// *compliance.AuditService implements it.
type AuditRecorder interface {
	LogPHIRedacted(ctx context.Context, docID string, page int, runID string, byType map[string]int) error
	LogPHIReidentified(ctx context.Context, docID string, page int, store string, byType map[string]int) error
	LogReidMismatch(ctx context.Context, docID string, page, expected, found, position int) error
}

const (
	defaultWorkerCount  = 4
	defaultStoreTimeout = 10 * time.Second
	defaultStoreName    = "store"
)

type settings struct {
	detectors    []detect.Detector
	policy       *ensemble.Policy
	mergeOpts    []ensemble.MergeOption
	metrics      *metrics.DeidMetrics
	audit        AuditRecorder
	logger       *logging.Logger
	tracer       trace.Tracer
	workers      int
	runID        string
	storeName    string
	storeTimeout time.Duration
}

func newSettings(opts []Option) settings {
	s := settings{
		detectors:    detect.Defaults(),
		policy:       ensemble.DefaultPolicy(),
		logger:       logging.Default(),
		tracer:       otel.Tracer("ensemble-deid.internal.pipeline"),
		workers:      defaultWorkerCount,
		storeName:    defaultStoreName,
		storeTimeout: defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option customizes a Deidentifier or Reidentifier.
type Option func(*settings)

// WithDetectors replaces the default pattern detectors. Calling it with no
// detectors disables pattern detection.
func WithDetectors(detectors ...detect.Detector) Option {
	return func(s *settings) {
		s.detectors = detectors
	}
}

// WithPolicy sets the filter policy.
func WithPolicy(policy *ensemble.Policy) Option {
	return func(s *settings) {
		if policy != nil {
			s.policy = policy
		}
	}
}

// WithMergeOptions passes options through to ensemble.Merge.
func WithMergeOptions(opts ...ensemble.MergeOption) Option {
	return func(s *settings) {
		s.mergeOpts = append(s.mergeOpts, opts...)
	}
}

// WithMetrics wires Prometheus collectors.
func WithMetrics(m *metrics.DeidMetrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithAudit wires the compliance audit trail.
func WithAudit(audit AuditRecorder) Option {
	return func(s *settings) {
		s.audit = audit
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *settings) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithWorkerCount bounds how many pages are processed at once.
func WithWorkerCount(count int) Option {
	return func(s *settings) {
		if count > 0 {
			s.workers = count
		}
	}
}

// WithRunID tags audit events of a de-identification run.
func WithRunID(runID string) Option {
	return func(s *settings) {
		s.runID = runID
	}
}

// WithStoreName labels the reid map backend in audit events and metrics.
func WithStoreName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.storeName = name
		}
	}
}

// WithStoreTimeout bounds each reid map page write.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}
