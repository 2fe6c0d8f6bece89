package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"modelproxy/internal/manager"
	"modelproxy/internal/ratelimit"
	"modelproxy/internal/runtime"
	"modelproxy/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Err(err).Msg("encode response")
	}
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	if runtime.IsDependencyUnavailable(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// backpressureReason labels a 429 for the backpressure counter.
func backpressureReason(err error) string {
	switch {
	case ratelimit.IsLimited(err):
		return "rate_limit"
	case manager.IsTooBusy(err):
		return "generation_queue"
	case manager.IsTooManyDeployments(err):
		return "deployment_cap"
	}
	return ""
}

// writeError maps err to a status and JSON payload. 429s are counted and
// carry Retry-After when known.
func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure(backpressureReason(err))
		var ra interface{ RetryAfter() time.Duration }
		if errors.As(err, &ra) && ra.RetryAfter() > 0 {
			secs := int(ra.RetryAfter().Round(time.Second) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(max(1, secs)))
		}
	}
	writeJSONError(w, status, err.Error())
	return status
}
