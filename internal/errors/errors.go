package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// AppError is a request-scoped error carrying the HTTP status it should be
// surfaced with. Anything that is not an *AppError is collapsed to a generic
// 500 so internal detail never leaks to clients.
type AppError struct {
	Status  int            `json:"-"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%d: %s (caused by: %v)", e.Status, e.Message, e.Cause)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails attaches structured detail (e.g. per-field validation issues).
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// WithCause records the underlying error for server-side logging.
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

func New(status int, message string) *AppError {
	return &AppError{Status: status, Message: message}
}

// Validation is a 400 for malformed or missing input.
func Validation(message string) *AppError {
	return New(http.StatusBadRequest, message)
}

// Auth is a 401 covering missing, invalid and expired credentials, plus the
// enumeration-safe "not found" cases.
func Auth(message string) *AppError {
	return New(http.StatusUnauthorized, message)
}

// NotFound is a 404 for domain resources (issues).
func NotFound(message string) *AppError {
	return New(http.StatusNotFound, message)
}

// RateLimited is a 429.
func RateLimited() *AppError {
	return New(http.StatusTooManyRequests, "Too many requests")
}

// Internal is the generic 500.
func Internal() *AppError {
	return New(http.StatusInternalServerError, "Internal server error")
}

// Envelope is the JSON shape of every API response.
type Envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteSuccess writes a {success:true, data} envelope.
func WriteSuccess(w http.ResponseWriter, requestID string, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{Success: true, Data: data})
}

// WriteError writes a {success:false, message, details?} envelope. Unknown
// errors become a generic 500.
func WriteError(w http.ResponseWriter, requestID string, err error) {
	appErr, ok := err.(*AppError)
	if !ok {
		appErr = Internal().WithCause(err)
	}

	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(appErr.Status)
	json.NewEncoder(w).Encode(Envelope{
		Success: false,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}

// IsClientError reports whether the error maps to a 4xx status.
func IsClientError(err error) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Status >= 400 && appErr.Status < 500
}
