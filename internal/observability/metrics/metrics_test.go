package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	next:
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return nil
}

func TestDeidMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDeidMetrics(reg)
	m.ObserveSpans(map[string]int{"PERSON": 2, "AGE": 1})
	m.ObserveSpans(map[string]int{"PERSON": 1})
	m.ObserveRejection("denylist")
	m.ObservePage(StageDeidentify, StatusOK, 0.02)
	m.ObservePage(StageReidentify, StatusMismatch, 0.01)
	m.ObserveStoreWrite("file", nil)
	m.ObserveStoreWrite("file", errors.New("disk full"))

	if got := findMetric(t, reg, "deid_pipeline_spans_redacted_total", map[string]string{"entity_type": "PERSON"}).GetCounter().GetValue(); got != 3 {
		t.Fatalf("expected 3 PERSON spans, got %v", got)
	}
	if got := findMetric(t, reg, "deid_pipeline_candidates_rejected_total", map[string]string{"reason": "denylist"}).GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}
	if got := findMetric(t, reg, "deid_pipeline_pages_total", map[string]string{"stage": StageReidentify, "status": StatusMismatch}).GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 mismatch page, got %v", got)
	}
	if got := findMetric(t, reg, "deid_pipeline_page_duration_seconds", map[string]string{"stage": StageDeidentify}).GetHistogram().GetSampleCount(); got != 1 {
		t.Fatalf("expected 1 duration sample, got %v", got)
	}
	if got := findMetric(t, reg, "deid_reidstore_page_writes_total", map[string]string{"backend": "file", "status": StatusError}).GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 failed write, got %v", got)
	}
}

func TestDeidMetricsDefaultRegistry(t *testing.T) {
	m := NewDeidMetrics(nil)
	m.ObservePage(StageDeidentify, StatusOK, 0.5)
	prometheus.DefaultRegisterer.Unregister(m.spansTotal)
	prometheus.DefaultRegisterer.Unregister(m.rejectionsTotal)
	prometheus.DefaultRegisterer.Unregister(m.pagesTotal)
	prometheus.DefaultRegisterer.Unregister(m.pageDuration)
	prometheus.DefaultRegisterer.Unregister(m.storeWritesTotal)
}

func TestDeidMetricsNilSafe(t *testing.T) {
	var m *DeidMetrics
	m.ObserveSpans(map[string]int{"PERSON": 1})
	m.ObserveRejection("low_score")
	m.ObservePage(StageReidentify, StatusOK, 0.1)
	m.ObserveStoreWrite("redis", nil)
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDeidMetrics(reg)
	m.ObserveRejection("schema")

	path := filepath.Join(t.TempDir(), "deid.prom")
	if err := WriteTextfile(path, reg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `deid_pipeline_candidates_rejected_total{reason="schema"} 1`) {
		t.Fatalf("unexpected textfile contents:\n%s", data)
	}
	if err := WriteTextfile("", reg); err != nil {
		t.Fatalf("empty path should be a no-op: %v", err)
	}
}
