// Package jobmetrics instruments asynq task handlers.
package jobmetrics

import (
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
	statusSkipped = "skipped"
)

// Metrics holds the collectors shared by every task handler.
type Metrics struct {
	runs      *prometheus.CounterVec
	failures  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	processed *prometheus.CounterVec
}

// NewMetrics registers the job collectors on registerer. A nil registerer keeps them on
// a private registry, which is what tests without a scrape endpoint want.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_jobs_total",
			Help: "Task executions by task type and outcome (success, failure, skipped).",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_jobs_failures_total",
			Help: "Task executions that returned a retryable error.",
		}, []string{"job"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_job_retries_total",
			Help: "Errors reported by the worker for tasks that will be retried or archived.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lumen_job_duration_seconds",
			Help:    "Task execution time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_job_items_total",
			Help: "Items handled by tasks, such as purged sessions or cancelled meetings.",
		}, []string{"job"}),
	}
	registerer.MustRegister(m.runs, m.failures, m.retries, m.duration, m.processed)
	return m
}

// Tracker times one task execution.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing job. A nil Metrics yields a tracker that records nothing.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the outcome of the run and returns err unchanged. Errors wrapping
// asynq.SkipRetry count as skipped rather than failed.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := statusSuccess
	switch {
	case err == nil:
	case errors.Is(err, asynq.SkipRetry):
		status = statusSkipped
	default:
		status = statusFailure
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddProcessed adds the number of items a run handled.
func (m *Metrics) AddProcessed(job string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.processed.WithLabelValues(job).Add(float64(n))
}

// ObserveRetry counts one error surfaced by the worker's error handler.
func (m *Metrics) ObserveRetry(job string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(job).Inc()
}
