// Package errors defines the HTTP error surface of the UVDM license
// server. Domain errors map onto a small set of structured API errors so
// callers always receive the most specific reason for a rejection.
package errors

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError is a structured API error response.
type APIError struct {
	StatusCode int    `json:"-"`
	ErrorCode  string `json:"code,omitempty"`
	Message    string `json:"error"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Render implements render.Renderer for chi/render.
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError.
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// Error codes used across the license and payment endpoints.
const (
	CodeMalformed        = "MALFORMED_REQUEST"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeForbidden        = "FORBIDDEN"
	CodeExpired          = "LICENSE_EXPIRED"
	CodeInactive         = "LICENSE_INACTIVE"
	CodeMachineMismatch  = "MACHINE_MISMATCH"
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInternal         = "INTERNAL_ERROR"
)

// Predefined errors for common rejections.
var (
	ErrLicenseNotFound = New(http.StatusNotFound, CodeNotFound, "Invalid license key")
	ErrLicenseExpired  = New(http.StatusForbidden, CodeExpired, "License expired")
	ErrLicenseInactive = New(http.StatusForbidden, CodeInactive, "License is not active")
	ErrMachineMismatch = New(http.StatusForbidden, CodeMachineMismatch, "License is bound to a different machine")
	ErrMachineConflict = New(http.StatusForbidden, CodeConflict, "License already activated on another machine")
	ErrUnauthorized    = New(http.StatusUnauthorized, CodeUnauthorized, "Unauthorized. Admin authentication required.")

	ErrProviderNotFound = New(http.StatusNotFound, CodeNotFound, "Unknown provider")
	ErrProviderDisabled = New(http.StatusForbidden, CodeForbidden, "Provider is not enabled")
	// Deliberately generic so a caller cannot learn which check failed.
	ErrInvalidSignature = New(http.StatusBadRequest, CodeInvalidSignature, "Webhook signature verification failed")
)

// Malformed creates a 400 error for a missing or invalid request field.
func Malformed(message string) *APIError {
	return New(http.StatusBadRequest, CodeMalformed, message)
}

// NotFound creates a 404 error for the named resource.
func NotFound(resource string) *APIError {
	return New(http.StatusNotFound, CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// Internal creates a 500 error. The underlying cause is logged, never
// returned to the caller.
func Internal() *APIError {
	return New(http.StatusInternalServerError, CodeInternal, "Internal server error")
}
