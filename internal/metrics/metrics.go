// Package metrics exports pipeline telemetry to Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rcliao/ryos-memory/internal/model"
	"github.com/rcliao/ryos-memory/internal/pipeline"
)

const defaultNamespace = "ryos_memory"

// PrometheusObserver implements pipeline.Observer with Prometheus collectors.
// User IDs are never used as label values.
type PrometheusObserver struct {
	runDuration    *prometheus.HistogramVec
	days           *prometheus.CounterVec
	memories       *prometheus.CounterVec
	extracted      prometheus.Counter
	lockContention prometheus.Counter
}

var _ pipeline.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver registers the pipeline metrics on reg. Collectors
// that are already registered are reused.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var err error
	o := &PrometheusObserver{}
	if o.runDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipeline_run_duration_seconds",
		Help:      "Duration of daily-notes pipeline runs that held the lock.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90},
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if o.days, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_days_total",
		Help:      "Days handled by the pipeline, by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if o.memories, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_memories_total",
		Help:      "Memories written by the pipeline, by operation.",
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if o.extracted, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_candidates_extracted_total",
		Help:      "Memory candidates returned by the extraction stage.",
	})); err != nil {
		return nil, err
	}
	if o.lockContention, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_lock_contention_total",
		Help:      "Runs skipped because another run held the user's processing lock.",
	})); err != nil {
		return nil, err
	}
	return o, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, goerr.Wrap(err, "failed to register pipeline metric")
	}
	return c, nil
}

// LockContended counts a skipped run.
func (o *PrometheusObserver) LockContended(string) {
	if o == nil {
		return
	}
	o.lockContention.Inc()
}

// DayProcessed counts a finished day and its writes.
func (o *PrometheusObserver) DayProcessed(_ string, _ string, r model.BatchResult) {
	if o == nil {
		return
	}
	o.days.WithLabelValues("processed").Inc()
	o.extracted.Add(float64(r.Extracted))
	o.memories.WithLabelValues("created").Add(float64(r.Created))
	o.memories.WithLabelValues("updated").Add(float64(r.Updated))
}

// DaySkipped counts a deferred day.
func (o *PrometheusObserver) DaySkipped(_ string, _ string, reason pipeline.SkipReason) {
	if o == nil {
		return
	}
	o.days.WithLabelValues("skipped_" + string(reason)).Inc()
}

// RunFinished observes the run duration.
func (o *PrometheusObserver) RunFinished(_ string, elapsed time.Duration, err error) {
	if o == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	o.runDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
