// Package metrics exposes Prometheus collectors for the sentinel service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	detectionsTotal           *prometheus.CounterVec
	eventsDispatchedTotal     prometheus.Counter
	deliveryAttemptsTotal     *prometheus.CounterVec
	deliveryDurationSeconds   *prometheus.HistogramVec
	errorsTotal               *prometheus.CounterVec
	retriesScheduledTotal     prometheus.Counter
	retriesExhaustedTotal     prometheus.Counter
	deferredBatchesDropped    prometheus.Counter
	deferredQueueDepth        prometheus.Gauge
	mirrorPublishTotal        *prometheus.CounterVec
	rateLimitDelaySeconds     *prometheus.HistogramVec
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDurationSecond *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		detectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_detections_total",
				Help: "Inbound requests classified, labeled by class.",
			},
			[]string{"class"},
		)

		eventsDispatchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sentinel_events_dispatched_total",
				Help: "Classification events queued for post-response delivery.",
			},
		)

		deliveryAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_delivery_attempts_total",
				Help: "Outbound delivery attempts, labeled by attempt kind and result.",
			},
			[]string{"kind", "result"},
		)

		deliveryDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_delivery_duration_seconds",
				Help:    "Histogram of outbound delivery latencies, labeled by backend host and attempt kind.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"host", "kind"},
		)

		errorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_errors_total",
				Help: "Recorded pipeline errors, labeled by category.",
			},
			[]string{"category"},
		)

		retriesScheduledTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sentinel_retries_scheduled_total",
				Help: "Re-delivery jobs registered with the scheduler.",
			},
		)

		retriesExhaustedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sentinel_retries_exhausted_total",
				Help: "Events dropped after the maximum number of re-delivery attempts.",
			},
		)

		deferredBatchesDropped = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sentinel_deferred_batches_dropped_total",
				Help: "Post-response task batches dropped because the executor queue was full.",
			},
		)

		deferredQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_deferred_queue_depth",
				Help: "Post-response task batches waiting for a worker.",
			},
		)

		mirrorPublishTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_mirror_publish_total",
				Help: "Detection events mirrored to the analytics topic, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_rate_limit_delay_seconds",
				Help:    "Histogram of outbound rate limit wait durations, labeled by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latencies keyed by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	Init()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ObserveHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecond.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveDetection counts one classified request.
func ObserveDetection(class string) {
	detectionsTotal.WithLabelValues(class).Inc()
}

// ObserveDispatch counts one queued event.
func ObserveDispatch() {
	eventsDispatchedTotal.Inc()
}

// ObserveDelivery records the outcome and latency of one outbound attempt.
func ObserveDelivery(backend string, retry, ok bool, duration time.Duration) {
	kind := "first"
	if retry {
		kind = "retry"
	}
	result := "failure"
	if ok {
		result = "success"
	}
	deliveryAttemptsTotal.WithLabelValues(kind, result).Inc()
	deliveryDurationSeconds.WithLabelValues(SanitizeHost(backend), kind).Observe(duration.Seconds())
}

// ObserveError increments the error counter for category.
func ObserveError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}

// ObserveRetryScheduled counts one registered re-delivery job.
func ObserveRetryScheduled() {
	retriesScheduledTotal.Inc()
}

// ObserveRetryExhausted counts one event dropped after its final attempt.
func ObserveRetryExhausted() {
	retriesExhaustedTotal.Inc()
}

// ObserveDroppedBatch counts one post-response batch rejected by a full queue.
func ObserveDroppedBatch() {
	deferredBatchesDropped.Inc()
}

// SetQueueDepth reports the executor backlog.
func SetQueueDepth(n int) {
	deferredQueueDepth.Set(float64(n))
}

// ObserveMirrorPublish records one analytics mirror publish.
func ObserveMirrorPublish(ok bool) {
	if ok {
		mirrorPublishTotal.WithLabelValues("success").Inc()
		return
	}
	mirrorPublishTotal.WithLabelValues("failure").Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}
