package manager

import (
	"errors"
	"net/http"
	"time"
)

// notFoundError: no deployment record for the user (404).
type notFoundError struct{ userID string }

func (e notFoundError) Error() string   { return "deployment not found for user " + e.userID }
func (e notFoundError) StatusCode() int { return http.StatusNotFound }

// ErrNotFound constructs a notFoundError.
func ErrNotFound(userID string) error { return notFoundError{userID: userID} }

// IsNotFound reports whether err indicates a missing deployment.
func IsNotFound(err error) bool {
	var e notFoundError
	return errors.As(err, &e)
}

// notReadyError: the deployment exists but cannot serve (503).
type notReadyError struct {
	userID string
	status Status
}

func (e notReadyError) Error() string {
	return "deployment for user " + e.userID + " is not ready (status: " + string(e.status) + ")"
}
func (e notReadyError) StatusCode() int { return http.StatusServiceUnavailable }

// IsNotReady reports whether err indicates a deployment that is not ready.
func IsNotReady(err error) bool {
	var e notReadyError
	return errors.As(err, &e)
}

// NotReadyStatus returns the status carried by a not-ready error.
func NotReadyStatus(err error) (Status, bool) {
	var e notReadyError
	if errors.As(err, &e) {
		return e.status, true
	}
	return "", false
}

// unauthorizedError: missing or wrong API key (401).
type unauthorizedError struct{ missing bool }

func (e unauthorizedError) Error() string {
	if e.missing {
		return "missing API key"
	}
	return "invalid API key"
}
func (e unauthorizedError) StatusCode() int { return http.StatusUnauthorized }

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool {
	var e unauthorizedError
	return errors.As(err, &e)
}

// validationError: malformed request (400).
type validationError struct{ msg string }

func (e validationError) Error() string   { return e.msg }
func (e validationError) StatusCode() int { return http.StatusBadRequest }

// ErrValidation constructs a validationError.
func ErrValidation(msg string) error { return validationError{msg: msg} }

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var e validationError
	return errors.As(err, &e)
}

// runtimeFailureError wraps a generation failure (500).
type runtimeFailureError struct{ err error }

func (e runtimeFailureError) Error() string   { return "generation failed: " + e.err.Error() }
func (e runtimeFailureError) Unwrap() error   { return e.err }
func (e runtimeFailureError) StatusCode() int { return http.StatusInternalServerError }

// IsRuntimeFailure reports whether err is a generation failure.
func IsRuntimeFailure(err error) bool {
	var e runtimeFailureError
	return errors.As(err, &e)
}

// loadTimeoutError is recorded when a load exceeds its deadline.
type loadTimeoutError struct{ after time.Duration }

func (e loadTimeoutError) Error() string { return "model load timed out after " + e.after.String() }

// IsLoadTimeout reports whether err is a load timeout.
func IsLoadTimeout(err error) bool {
	var e loadTimeoutError
	return errors.As(err, &e)
}

// tooBusyError signals generation admission timeout for 429 mapping.
type tooBusyError struct{ userID string }

func (e tooBusyError) Error() string   { return "too busy: " + e.userID }
func (e tooBusyError) StatusCode() int { return http.StatusTooManyRequests }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

// tooManyDeploymentsError: the configured deployment cap is reached (429).
type tooManyDeploymentsError struct{ limit int }

func (e tooManyDeploymentsError) Error() string {
	return "deployment limit reached"
}
func (e tooManyDeploymentsError) StatusCode() int { return http.StatusTooManyRequests }

// IsTooManyDeployments reports whether err is a cap rejection.
func IsTooManyDeployments(err error) bool {
	var e tooManyDeploymentsError
	return errors.As(err, &e)
}
