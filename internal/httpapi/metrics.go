package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "modelproxy"

// Stream outcomes recorded by observeStream.
const (
	streamDone     = "done"
	streamFailed   = "error"
	streamCanceled = "canceled"
	streamRejected = "rejected"
)

var (
	routeLabels = []string{"route", "method", "status"}

	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route pattern, method and status.",
	}, routeLabels)

	requestSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency. Streaming chat requests last until the stream ends.",
		Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 15, 30, 60, 120},
	}, routeLabels)

	inflightRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "HTTP requests currently being served.",
	})

	rejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "backpressure_total",
		Help:      "429 responses by reason (rate_limit, generation_queue, deployment_cap).",
	}, []string{"reason"})

	chatStreamsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "chat",
		Name:      "streams_total",
		Help:      "Streaming chat completions by outcome.",
	}, []string{"outcome"})

	chatStreamChunks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "chat",
		Name:      "stream_chunks_total",
		Help:      "SSE chunks written to streaming chat clients.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestSeconds, inflightRequests, rejectionsTotal, chatStreamsTotal, chatStreamChunks)
}

// statusRecorder captures the status code. Flush is forwarded so SSE
// responses still stream through the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// MetricsMiddleware instruments requests for Prometheus. The route label is
// read after routing so per-user URLs collapse to their chi pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inflightRequests.Inc()
		defer inflightRequests.Dec()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)

		labels := []string{routeLabel(r), r.Method, strconv.Itoa(sr.status)}
		requestsTotal.WithLabelValues(labels...).Inc()
		requestSeconds.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

// routeLabel prefers the matched chi pattern; unmatched requests share one
// label to keep cardinality bounded.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// IncrementBackpressure counts a 429 under reason.
func IncrementBackpressure(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	rejectionsTotal.WithLabelValues(reason).Inc()
}

// observeStream records how a streaming chat completion ended and how many
// chunks reached the client.
func observeStream(outcome string, chunks int) {
	chatStreamsTotal.WithLabelValues(outcome).Inc()
	if chunks > 0 {
		chatStreamChunks.Add(float64(chunks))
	}
}
