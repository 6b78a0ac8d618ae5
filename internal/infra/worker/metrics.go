package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"notifyhub/internal/pkg/config"
)

// Job names used as the "job" label.
const (
	JobRetry    = "retry"
	JobSchedule = "schedule"
)

// WorkerMetrics holds the Prometheus metrics of the periodic jobs plus the
// configuration-loading metrics.
//
// Metrics:
//   - worker_cron_job_runs_total{job,status}
//   - worker_cron_job_duration_seconds{job}
//   - worker_cron_job_items_total{job}: outcomes retried / jobs fired
//   - worker_cron_job_last_success_timestamp{job}
type WorkerMetrics struct {
	*config.ConfigMetrics

	CronJobRunsTotal            *prometheus.CounterVec
	CronJobDurationSeconds      *prometheus.HistogramVec
	CronJobItemsTotal           *prometheus.CounterVec
	CronJobLastSuccessTimestamp *prometheus.GaugeVec
}

// NewWorkerMetrics creates the metrics and registers them with the default registry.
// Call it once per process.
func NewWorkerMetrics() *WorkerMetrics {
	return newWorkerMetrics(promauto.With(prometheus.DefaultRegisterer), config.NewConfigMetrics("worker"))
}

// NewWorkerMetricsWithRegistry registers the metrics on reg. Tests use it with a fresh registry.
func NewWorkerMetricsWithRegistry(reg prometheus.Registerer) *WorkerMetrics {
	return newWorkerMetrics(promauto.With(reg), config.NewConfigMetricsWithRegistry(reg, "worker"))
}

func newWorkerMetrics(f promauto.Factory, cm *config.ConfigMetrics) *WorkerMetrics {
	return &WorkerMetrics{
		ConfigMetrics: cm,

		CronJobRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_cron_job_runs_total",
			Help: "Total number of cron job runs by job and status (success/failure)",
		}, []string{"job", "status"}),

		CronJobDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "worker_cron_job_duration_seconds",
			Help:    "Duration of cron job execution in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 240},
		}, []string{"job"}),

		CronJobItemsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_cron_job_items_total",
			Help: "Total number of items handled by cron jobs (outcomes retried, jobs fired)",
		}, []string{"job"}),

		CronJobLastSuccessTimestamp: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worker_cron_job_last_success_timestamp",
			Help: "Unix timestamp of the last successful cron job run",
		}, []string{"job"}),
	}
}

// RecordJobRun counts a run of job with status "success" or "failure".
func (m *WorkerMetrics) RecordJobRun(job, status string) {
	m.CronJobRunsTotal.WithLabelValues(job, status).Inc()
}

// RecordJobDuration observes the duration of one run.
func (m *WorkerMetrics) RecordJobDuration(job string, seconds float64) {
	m.CronJobDurationSeconds.WithLabelValues(job).Observe(seconds)
}

// RecordItems adds count handled items to job.
func (m *WorkerMetrics) RecordItems(job string, count int) {
	m.CronJobItemsTotal.WithLabelValues(job).Add(float64(count))
}

// RecordLastSuccess stamps the current time for job.
func (m *WorkerMetrics) RecordLastSuccess(job string) {
	m.CronJobLastSuccessTimestamp.WithLabelValues(job).SetToCurrentTime()
}
