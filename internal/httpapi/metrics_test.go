package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetricsMiddleware_EmitsRequestCounters verifies that wrapping a handler
// with MetricsMiddleware results in request metrics being exposed via the
// Prometheus /metrics handler.
func TestMetricsMiddleware_EmitsRequestCounters(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	MetricsMiddleware(next).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	mrr := httptest.NewRecorder()
	mreq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	promhttp.Handler().ServeHTTP(mrr, mreq)
	if mrr.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", mrr.Code)
	}
	body := mrr.Body.Bytes()
	if !bytes.Contains(body, []byte("modelproxy_http_requests_total")) {
		t.Fatalf("expected to find modelproxy_http_requests_total in metrics; got: %q", string(body[:min(len(body), 200)]))
	}
}

// Per-user URLs must collapse to the route pattern.
func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/user/{user_id}/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, u := range []string{"alice", "bob"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/user/"+u+"/v1/models", nil))
	}
	got := testutil.ToFloat64(requestsTotal.WithLabelValues("/user/{user_id}/v1/models", http.MethodGet, "418"))
	if got != 2 {
		t.Fatalf("expected 2 requests under the route pattern, got %v", got)
	}
}

func TestIncrementBackpressure(t *testing.T) {
	before := testutil.ToFloat64(rejectionsTotal.WithLabelValues("unspecified"))
	IncrementBackpressure("")
	if got := testutil.ToFloat64(rejectionsTotal.WithLabelValues("unspecified")); got != before+1 {
		t.Fatalf("unspecified counter = %v, want %v", got, before+1)
	}
}

func TestRouteLabel_Unmatched(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	// chi only runs middleware once the mux has a route.
	r.Get("/known", func(w http.ResponseWriter, r *http.Request) {})
	before := testutil.ToFloat64(requestsTotal.WithLabelValues("unmatched", http.MethodGet, "404"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/123", nil))
	if got := testutil.ToFloat64(requestsTotal.WithLabelValues("unmatched", http.MethodGet, "404")); got != before+1 {
		t.Fatalf("unmatched counter = %v, want %v", got, before+1)
	}
}

func TestObserveStream(t *testing.T) {
	beforeDone := testutil.ToFloat64(chatStreamsTotal.WithLabelValues(streamDone))
	beforeChunks := testutil.ToFloat64(chatStreamChunks)
	observeStream(streamDone, 4)
	observeStream(streamRejected, 0)
	if got := testutil.ToFloat64(chatStreamsTotal.WithLabelValues(streamDone)); got != beforeDone+1 {
		t.Fatalf("done streams = %v, want %v", got, beforeDone+1)
	}
	if got := testutil.ToFloat64(chatStreamChunks); got != beforeChunks+4 {
		t.Fatalf("chunks = %v, want %v", got, beforeChunks+4)
	}
}
