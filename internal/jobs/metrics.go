// Package jobmetrics instruments the asynq task handlers of the worker.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the per-task collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	processed   *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors on registerer, or once on the default
// registerer when it is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer != nil {
		return newMetrics(registerer)
	}
	defaultOnce.Do(func() { defaultMetrics = newMetrics(prometheus.DefaultRegisterer) })
	return defaultMetrics
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	f := promauto.With(registerer)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odyssey", Subsystem: "jobs", Name: "runs_total",
			Help: "Task executions by task type and status.",
		}, []string{"job", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "odyssey", Subsystem: "jobs", Name: "duration_seconds",
			Help:    "Task execution time by task type.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"job"}),
		processed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odyssey", Subsystem: "jobs", Name: "processed_items_total",
			Help: "Rows a task wrote or removed: permissions synced, sessions swept.",
		}, []string{"job"}),
		lastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "odyssey", Subsystem: "jobs", Name: "last_success_timestamp_seconds",
			Help: "Unix time of the last successful run by task type.",
		}, []string{"job"}),
	}
}

// Tracker times one task run.
type Tracker struct {
	m     *Metrics
	job   string
	start time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{m: m, job: job, start: time.Now()}
}

// End records the run outcome and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.m == nil {
		return err
	}
	t.m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	if err != nil {
		t.m.runs.WithLabelValues(t.job, "failure").Inc()
		return err
	}
	t.m.runs.WithLabelValues(t.job, "success").Inc()
	t.m.lastSuccess.WithLabelValues(t.job).SetToCurrentTime()
	return nil
}

// AddProcessed counts rows handled by a run of job. Non-positive counts are ignored.
func (m *Metrics) AddProcessed(job string, n int64) {
	if m != nil && n > 0 {
		m.processed.WithLabelValues(job).Add(float64(n))
	}
}
