// Package vorionerr implements an RFC 7807 Problem Details error
// taxonomy: a fixed set of typed error Kinds, each bound to an HTTP
// status and a title, so every boundary in the system returns a
// consistent, machine-parseable error shape.
package vorionerr

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Kind enumerates the error taxonomy. Only Configuration and Encryption
// faults are expected to surface as Go panics/exceptions further up the
// stack; every other Kind is a typed result, not a panic.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindRateLimit         Kind = "rate_limit"
	KindConfiguration     Kind = "configuration"
	KindEncryption        Kind = "encryption"
	KindEscalation        Kind = "escalation"
	KindDatabase          Kind = "database"
	KindExternalService   Kind = "external_service"
	KindTimeout           Kind = "timeout"
	KindCircuitBreakerOpen Kind = "circuit_breaker_open"
)

type kindMeta struct {
	status int
	title  string
}

var kindTable = map[Kind]kindMeta{
	KindValidation:         {http.StatusBadRequest, "Validation Failed"},
	KindUnauthorized:       {http.StatusUnauthorized, "Unauthorized"},
	KindForbidden:          {http.StatusForbidden, "Forbidden"},
	KindNotFound:           {http.StatusNotFound, "Not Found"},
	KindConflict:           {http.StatusConflict, "Conflict"},
	KindRateLimit:          {http.StatusTooManyRequests, "Too Many Requests"},
	KindConfiguration:      {http.StatusInternalServerError, "Configuration Error"},
	KindEncryption:         {http.StatusInternalServerError, "Encryption Error"},
	KindEscalation:         {http.StatusForbidden, "Escalation Required"},
	KindDatabase:           {http.StatusInternalServerError, "Database Error"},
	KindExternalService:    {http.StatusBadGateway, "External Service Error"},
	KindTimeout:            {http.StatusGatewayTimeout, "Timeout"},
	KindCircuitBreakerOpen: {http.StatusServiceUnavailable, "Circuit Breaker Open"},
}

// Status returns the HTTP status code bound to a Kind.
func (k Kind) Status() int { return kindTable[k].status }

// Title returns the human-readable title bound to a Kind.
func (k Kind) Title() string { return kindTable[k].title }

// Error is a typed, RFC 7807-shaped error carrying a Kind plus detail.
type Error struct {
	Kind       Kind
	Detail     string
	RetryAfter int // seconds; only meaningful for KindRateLimit/KindCircuitBreakerOpen
	Cause      error
}

func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Title(), e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Title(), e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// Every HTTP boundary response in the system uses this format.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// WriteError writes an RFC 7807 Problem Detail JSON response for a typed
// Error. Configuration and Encryption details are never put on the wire
// in production; only their title reaches the client.
func WriteError(w http.ResponseWriter, r *http.Request, err *Error) {
	detail := err.Detail
	if err.Kind == KindConfiguration || err.Kind == KindEncryption || err.Kind == KindDatabase {
		slog.Error("internal fault", "kind", err.Kind, "detail", err.Detail, "cause", err.Cause)
		detail = "An internal error occurred. Please try again later."
	}

	problem := &ProblemDetail{
		Type:   fmt.Sprintf("https://vorion.dev/errors/%s", err.Kind),
		Title:  err.Kind.Title(),
		Status: err.Kind.Status(),
		Detail: detail,
	}
	if r != nil {
		problem.Instance = r.URL.Path
		problem.TraceID = w.Header().Get("X-Request-ID")
	}

	if err.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", err.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

func WriteValidation(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, New(KindValidation, detail))
}

func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, r, New(KindUnauthorized, detail))
}

func WriteForbidden(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteError(w, r, New(KindForbidden, detail))
}

func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, New(KindNotFound, detail))
}

func WriteConflict(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, New(KindConflict, detail))
}

func WriteRateLimit(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	e := New(KindRateLimit, "Rate limit exceeded. Retry after the specified interval.")
	e.RetryAfter = retryAfterSecs
	WriteError(w, r, e)
}

func WriteCircuitBreakerOpen(w http.ResponseWriter, r *http.Request, service string, retryAfterSecs int) {
	e := New(KindCircuitBreakerOpen, fmt.Sprintf("%s is currently unavailable", service))
	e.RetryAfter = retryAfterSecs
	WriteError(w, r, e)
}

func WriteInternal(w http.ResponseWriter, r *http.Request, cause error) {
	WriteError(w, r, Wrap(KindConfiguration, "unexpected internal error", cause))
}
