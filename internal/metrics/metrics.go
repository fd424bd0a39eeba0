// Package metrics exposes Prometheus metrics for the report job pipeline.
package metrics

import (
	"net/http"

	"github.com/cuongbtq/order-reports/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rejection reasons for submit
const (
	ReasonConflict        = "conflict"
	ReasonOrderNotFound   = "order_not_found"
	ReasonDispatchFailure = "dispatch_failure"
)

// Collector records report job lifecycle metrics. A nil *Collector is a
// valid no-op recorder.
type Collector struct {
	jobsSubmitted *prometheus.CounterVec
	jobsRejected  *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobsFailed    *prometheus.CounterVec
	jobsReaped    prometheus.Counter
	jobsRequeued  prometheus.Counter
	downloads     *prometheus.CounterVec

	renderDuration *prometheus.HistogramVec
	jobsInFlight   prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewCollector creates the collector and registers it with reg. Passing a
// *prometheus.Registry lets tests use an isolated registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_jobs_submitted_total",
			Help: "Total number of report jobs accepted",
		}, []string{"format"}),
		jobsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_jobs_rejected_total",
			Help: "Total number of report job submissions rejected",
		}, []string{"reason"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_jobs_completed_total",
			Help: "Total number of report jobs completed successfully",
		}, []string{"format"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_jobs_failed_total",
			Help: "Total number of report jobs failed",
		}, []string{"format"}),
		jobsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "report_jobs_reaped_total",
			Help: "Total number of stale processing jobs failed by the reaper",
		}),
		jobsRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "report_jobs_redispatched_total",
			Help: "Total number of stale pending jobs dispatched again by the reaper",
		}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_downloads_total",
			Help: "Total number of report artifacts delivered",
		}, []string{"format"}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "report_render_duration_seconds",
			Help:    "Report rendering latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"format"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "report_jobs_in_flight",
			Help: "Current number of report jobs being executed by this process",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		c.jobsSubmitted,
		c.jobsRejected,
		c.jobsCompleted,
		c.jobsFailed,
		c.jobsReaped,
		c.jobsRequeued,
		c.downloads,
		c.renderDuration,
		c.jobsInFlight,
	)

	return c
}

// RecordSubmitted records an accepted job
func (c *Collector) RecordSubmitted(format domain.Format) {
	if c == nil {
		return
	}
	c.jobsSubmitted.WithLabelValues(string(format)).Inc()
}

// RecordRejected records a rejected submission
func (c *Collector) RecordRejected(reason string) {
	if c == nil {
		return
	}
	c.jobsRejected.WithLabelValues(reason).Inc()
}

// RecordCompleted records a completed job and its render latency
func (c *Collector) RecordCompleted(format domain.Format, renderSeconds float64) {
	if c == nil {
		return
	}
	c.jobsCompleted.WithLabelValues(string(format)).Inc()
	c.renderDuration.WithLabelValues(string(format)).Observe(renderSeconds)
}

// RecordFailed records a failed job
func (c *Collector) RecordFailed(format domain.Format) {
	if c == nil {
		return
	}
	c.jobsFailed.WithLabelValues(string(format)).Inc()
}

// RecordReaped records jobs failed by the staleness reaper
func (c *Collector) RecordReaped(n int) {
	if c == nil {
		return
	}
	c.jobsReaped.Add(float64(n))
}

// RecordRedispatched records pending jobs dispatched again by the reaper
func (c *Collector) RecordRedispatched(n int) {
	if c == nil {
		return
	}
	c.jobsRequeued.Add(float64(n))
}

// RecordDownload records a delivered artifact
func (c *Collector) RecordDownload(format domain.Format) {
	if c == nil {
		return
	}
	c.downloads.WithLabelValues(string(format)).Inc()
}

// JobStarted increments the in-flight gauge
func (c *Collector) JobStarted() {
	if c == nil {
		return
	}
	c.jobsInFlight.Inc()
}

// JobFinished decrements the in-flight gauge
func (c *Collector) JobFinished() {
	if c == nil {
		return
	}
	c.jobsInFlight.Dec()
}

// Handler returns the /metrics HTTP handler for the collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
