// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	queueDepth                 *prometheus.GaugeVec
	queueFailedTotal           *prometheus.CounterVec
	webhookDeliveriesTotal     *prometheus.CounterVec
	pagesSweptTotal            prometheus.Counter
	browserRestartsTotal       prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfce_jobs_total",
				Help: "Total number of processed jobs, labeled by outcome status.",
			},
			[]string{"status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nfce_job_duration_seconds",
				Help:    "Histogram of end-to-end job processing durations, labeled by outcome.",
				Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "nfce_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nfce_queue_depth",
				Help: "Messages waiting for delivery (ready plus delayed), labeled by queue.",
			},
			[]string{"queue"},
		)

		queueFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfce_queue_failed_total",
				Help: "Messages that exhausted their retry or stall budget, labeled by queue.",
			},
			[]string{"queue"},
		)

		webhookDeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfce_webhook_deliveries_total",
				Help: "Webhook delivery attempts, labeled by result.",
			},
			[]string{"result"},
		)

		pagesSweptTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nfce_pages_swept_total",
				Help: "Abandoned browser pages closed by the cleanup sweep.",
			},
		)

		browserRestartsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nfce_browser_restarts_total",
				Help: "Times the shared browser was torn down after a crash.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob records one finished job and its duration.
func ObserveJob(status string, duration time.Duration) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		jobDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// SetQueueDepth records the current backlog of a queue.
func SetQueueDepth(queue string, depth int64) {
	if queueDepth != nil {
		queueDepth.WithLabelValues(queue).Set(float64(depth))
	}
}

// ObserveQueueFailure counts a permanently failed message.
func ObserveQueueFailure(queue string) {
	if queueFailedTotal != nil {
		queueFailedTotal.WithLabelValues(queue).Inc()
	}
}

// ObserveWebhookDelivery counts a webhook attempt outcome.
func ObserveWebhookDelivery(result string) {
	if webhookDeliveriesTotal != nil {
		webhookDeliveriesTotal.WithLabelValues(result).Inc()
	}
}

// ObserveSweptPages counts pages closed by the cleanup sweep.
func ObserveSweptPages(n int) {
	if pagesSweptTotal != nil && n > 0 {
		pagesSweptTotal.Add(float64(n))
	}
}

// ObserveBrowserRestart counts one browser teardown after a crash.
func ObserveBrowserRestart() {
	if browserRestartsTotal != nil {
		browserRestartsTotal.Inc()
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
