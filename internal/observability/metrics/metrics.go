package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	StageDeidentify = "deidentify"
	StageReidentify = "reidentify"

	StatusOK       = "ok"
	StatusError    = "error"
	StatusMismatch = "mismatch"
)

// DeidMetrics exposes counters/histograms for the de-identification and
// re-identification pipelines.
type DeidMetrics struct {
	spansTotal       *prometheus.CounterVec
	rejectionsTotal  *prometheus.CounterVec
	pagesTotal       *prometheus.CounterVec
	pageDuration     *prometheus.HistogramVec
	storeWritesTotal *prometheus.CounterVec
}

func NewDeidMetrics(reg prometheus.Registerer) *DeidMetrics {
	m := &DeidMetrics{
		spansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deid",
			Subsystem: "pipeline",
			Name:      "spans_redacted_total",
			Help:      "Total spans replaced by a type token",
		}, []string{"entity_type"}),
		rejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deid",
			Subsystem: "pipeline",
			Name:      "candidates_rejected_total",
			Help:      "Total detector candidates dropped by the filter policy",
		}, []string{"reason"}),
		pagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deid",
			Subsystem: "pipeline",
			Name:      "pages_total",
			Help:      "Total pages processed",
		}, []string{"stage", "status"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deid",
			Subsystem: "pipeline",
			Name:      "page_duration_seconds",
			Help:      "Time spent transforming one page",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		storeWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deid",
			Subsystem: "reidstore",
			Name:      "page_writes_total",
			Help:      "Total reid map page writes",
		}, []string{"backend", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.spansTotal, m.rejectionsTotal, m.pagesTotal, m.pageDuration, m.storeWritesTotal)
	return m
}

func (m *DeidMetrics) ObserveSpans(byType map[string]int) {
	if m == nil {
		return
	}
	for t, n := range byType {
		m.spansTotal.WithLabelValues(t).Add(float64(n))
	}
}

func (m *DeidMetrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

func (m *DeidMetrics) ObservePage(stage, status string, seconds float64) {
	if m == nil {
		return
	}
	m.pagesTotal.WithLabelValues(stage, status).Inc()
	m.pageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *DeidMetrics) ObserveStoreWrite(backend string, err error) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.storeWritesTotal.WithLabelValues(backend, status).Inc()
}

// WriteTextfile dumps the gathered families in the node_exporter textfile
// format. Batch commands call it once before exiting.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if path == "" {
		return nil
	}
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("metrics: write textfile %s: %w", path, err)
	}
	return nil
}
