// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the narrow interface used by the webhook, notification, and
// worker paths. Nop satisfies it for tests and tools.
type Recorder interface {
	RecordWebhookEvent(eventType, outcome string)
	RecordNotification(channel, outcome string)
	RecordTokenPruned()
	RecordJob(jobType, outcome string, duration time.Duration)
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	webhookEvents *prometheus.CounterVec
	notifications *prometheus.CounterVec
	tokensPruned  prometheus.Counter
	jobs          *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_webhook_events_total",
			Help: "Gateway webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_notifications_total",
			Help: "Notification deliveries by channel and outcome.",
		}, []string{"channel", "outcome"}),
		tokensPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_device_tokens_pruned_total",
			Help: "Device tokens removed after the push provider rejected them.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_jobs_total",
			Help: "Queued jobs by type and outcome.",
		}, []string{"job_type", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payments_job_duration_seconds",
			Help:    "Queued job run time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payments_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.webhookEvents,
		c.notifications,
		c.tokensPruned,
		c.jobs,
		c.jobDuration,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

func (c *Collector) RecordWebhookEvent(eventType, outcome string) {
	c.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (c *Collector) RecordNotification(channel, outcome string) {
	c.notifications.WithLabelValues(channel, outcome).Inc()
}

func (c *Collector) RecordTokenPruned() {
	c.tokensPruned.Inc()
}

func (c *Collector) RecordJob(jobType, outcome string, duration time.Duration) {
	c.jobs.WithLabelValues(jobType, outcome).Inc()
	c.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordWebhookEvent(string, string) {}
func (Nop) RecordNotification(string, string) {}
func (Nop) RecordTokenPruned() {}
func (Nop) RecordJob(string, string, time.Duration) {}
func (Nop) RecordHTTPRequest(string, string, int, time.Duration) {}
