package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code is a machine-readable error code carried in the error envelope.
type Code string

// Error codes.
const (
	CodeRouteNotFound      Code = "ROUTE_NOT_FOUND"
	CodeServiceUnknown     Code = "SERVICE_UNKNOWN"
	CodeCircuitOpen        Code = "CIRCUIT_OPEN"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeBackendError       Code = "BACKEND_ERROR"
	CodeMissingQuery       Code = "MISSING_QUERY"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// Sentinel errors for proxy outcomes.
var (
	// ErrCircuitOpen indicates the breaker short-circuited the call.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrServiceUnknown indicates the target service is not registered.
	ErrServiceUnknown = errors.New("service is not registered")

	// ErrServiceUnavailable indicates the backend could not be reached in time.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrBackendError indicates the backend answered with a 5xx and no body.
	ErrBackendError = errors.New("backend error")

	// ErrClientCanceled indicates the inbound client went away mid-call.
	ErrClientCanceled = errors.New("client canceled request")
)

// GatewayError is an error that maps onto the uniform error envelope.
type GatewayError struct {
	Status  int
	Code    Code
	Message string
	// Source names the implicated service. Empty means the gateway itself.
	Source  string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is matches another GatewayError by code.
func (e *GatewayError) Is(target error) bool {
	var t *GatewayError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// NewRouteNotFoundError reports a path that matched no route.
func NewRouteNotFoundError(path string, prefixes []string) *GatewayError {
	return &GatewayError{
		Status:  http.StatusNotFound,
		Code:    CodeRouteNotFound,
		Message: fmt.Sprintf("no route matches %s", path),
		Details: map[string]any{"availableRoutes": prefixes},
	}
}

// NewCircuitOpenError reports a short-circuited call.
func NewCircuitOpenError(service string) *GatewayError {
	return &GatewayError{
		Status:  http.StatusServiceUnavailable,
		Code:    CodeCircuitOpen,
		Message: fmt.Sprintf("%s is temporarily unavailable (circuit open)", service),
		Source:  service,
		Cause:   ErrCircuitOpen,
	}
}

// NewServiceUnknownError reports a route whose service is not registered.
func NewServiceUnknownError(service string, known []string, cause error) *GatewayError {
	if known == nil {
		known = []string{}
	}
	return &GatewayError{
		Status:  http.StatusServiceUnavailable,
		Code:    CodeServiceUnknown,
		Message: fmt.Sprintf("%s is not registered", service),
		Source:  service,
		Details: map[string]any{"availableServices": known},
		Cause:   errors.Join(ErrServiceUnknown, cause),
	}
}

// NewServiceUnavailableError reports a connection failure or timeout.
func NewServiceUnavailableError(service, reason string, cause error) *GatewayError {
	return &GatewayError{
		Status:  http.StatusServiceUnavailable,
		Code:    CodeServiceUnavailable,
		Message: fmt.Sprintf("%s is unavailable", service),
		Source:  service,
		Details: map[string]any{"reason": reason},
		Cause:   errors.Join(ErrServiceUnavailable, cause),
	}
}

// NewBackendError reports a 5xx response that carried no payload.
func NewBackendError(service string, status int) *GatewayError {
	return &GatewayError{
		Status:  http.StatusInternalServerError,
		Code:    CodeBackendError,
		Message: fmt.Sprintf("%s failed with status %d", service, status),
		Source:  service,
		Details: map[string]any{"backendStatus": status},
		Cause:   ErrBackendError,
	}
}

// NewMissingQueryError reports a search without a query term.
func NewMissingQueryError() *GatewayError {
	return &GatewayError{
		Status:  http.StatusBadRequest,
		Code:    CodeMissingQuery,
		Message: "query parameter q is required",
	}
}

// NewUnauthorizedError reports a missing or invalid caller identity.
func NewUnauthorizedError(message string) *GatewayError {
	return &GatewayError{
		Status:  http.StatusUnauthorized,
		Code:    CodeUnauthorized,
		Message: message,
	}
}

// NewRateLimitedError reports a rejected request.
func NewRateLimitedError() *GatewayError {
	return &GatewayError{
		Status:  http.StatusTooManyRequests,
		Code:    CodeRateLimited,
		Message: "too many requests",
	}
}

// NewInternalError reports an unexpected gateway failure.
func NewInternalError(cause error) *GatewayError {
	return &GatewayError{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternal,
		Message: "internal gateway error",
		Cause:   cause,
	}
}

// ErrorBody is the error member of the envelope.
type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Envelope is the uniform error response body.
type Envelope struct {
	Success   bool           `json:"success"`
	Error     ErrorBody      `json:"error"`
	Source    string         `json:"source"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Envelope renders e. gateway fills Source when e names no service.
func (e *GatewayError) Envelope(gateway string, now time.Time) Envelope {
	source := e.Source
	if source == "" {
		source = gateway
	}
	return Envelope{
		Error:     ErrorBody{Code: e.Code, Message: e.Message},
		Source:    source,
		Details:   e.Details,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// WriteError writes e as a JSON envelope.
func WriteError(w http.ResponseWriter, e *GatewayError, gateway string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e.Envelope(gateway, time.Now()))
}

// AsGatewayError converts err into a GatewayError, wrapping unknown errors
// as internal errors.
func AsGatewayError(err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return NewInternalError(err)
}
