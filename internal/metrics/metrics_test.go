package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/rcliao/ryos-memory/internal/metrics"
	"github.com/rcliao/ryos-memory/internal/model"
	"github.com/rcliao/ryos-memory/internal/pipeline"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	gt.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if matches(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			found++
		}
	}
	return found == len(labels)
}

func TestPrometheusObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := metrics.NewPrometheusObserver("test", reg)
	gt.NoError(t, err)

	o.DayProcessed("alice", "2024-01-01", model.BatchResult{Extracted: 3, Created: 2, Updated: 1})
	o.DayProcessed("alice", "2024-01-02", model.BatchResult{Extracted: 1, Updated: 1})
	o.DaySkipped("alice", "2024-01-03", pipeline.SkipBudget)
	o.DaySkipped("alice", "2024-01-04", pipeline.SkipError)
	o.LockContended("bob")
	o.RunFinished("alice", 2*time.Second, nil)
	o.RunFinished("alice", time.Second, errors.New("boom"))

	gt.Equal(t, counterValue(t, reg, "test_pipeline_days_total", map[string]string{"result": "processed"}), 2.0)
	gt.Equal(t, counterValue(t, reg, "test_pipeline_days_total", map[string]string{"result": "skipped_budget"}), 1.0)
	gt.Equal(t, counterValue(t, reg, "test_pipeline_days_total", map[string]string{"result": "skipped_error"}), 1.0)
	gt.Equal(t, counterValue(t, reg, "test_pipeline_memories_total", map[string]string{"operation": "created"}), 2.0)
	gt.Equal(t, counterValue(t, reg, "test_pipeline_memories_total", map[string]string{"operation": "updated"}), 2.0)
	gt.Equal(t, counterValue(t, reg, "test_pipeline_candidates_extracted_total", nil), 4.0)
	gt.Equal(t, counterValue(t, reg, "test_pipeline_lock_contention_total", nil), 1.0)

	families, err := reg.Gather()
	gt.NoError(t, err)
	var samples uint64
	for _, f := range families {
		if f.GetName() == "test_pipeline_run_duration_seconds" {
			for _, m := range f.GetMetric() {
				samples += m.GetHistogram().GetSampleCount()
			}
		}
	}
	gt.Equal(t, samples, uint64(2))
}

func TestPrometheusObserverReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := metrics.NewPrometheusObserver("test", reg)
	gt.NoError(t, err)
	second, err := metrics.NewPrometheusObserver("test", reg)
	gt.NoError(t, err)

	first.LockContended("a")
	second.LockContended("b")
	gt.Equal(t, counterValue(t, reg, "test_pipeline_lock_contention_total", nil), 2.0)
}

func TestNilObserverIsSafe(t *testing.T) {
	var o *metrics.PrometheusObserver
	o.LockContended("a")
	o.DayProcessed("a", "d", model.BatchResult{})
	o.DaySkipped("a", "d", pipeline.SkipBudget)
	o.RunFinished("a", time.Second, nil)
}
