// Package apierr is the wire-level error taxonomy shared by both services,
// generalizing the teacher's src/errors package from a handful of banking
// error constructors to the six categories in the error handling design.
package apierr

import (
	"fmt"
	"net/http"
)

// Category is one of the wire-level error categories.
type Category string

const (
	Validation         Category = "VALIDATION"
	BusinessRejection  Category = "BUSINESS_REJECTION"
	NotFound           Category = "NOT_FOUND"
	Forbidden          Category = "FORBIDDEN"
	UpstreamUnavailable Category = "UPSTREAM_UNAVAILABLE"
	Internal           Category = "INTERNAL"
)

var statusByCategory = map[Category]int{
	Validation:          http.StatusBadRequest,
	BusinessRejection:   http.StatusBadRequest,
	NotFound:            http.StatusNotFound,
	Forbidden:           http.StatusForbidden,
	UpstreamUnavailable: http.StatusServiceUnavailable,
	Internal:            http.StatusInternalServerError,
}

// APIError is the structured error returned to HTTP clients and propagated
// between the orchestrator, the balance engine and the resilient client.
type APIError struct {
	Category   Category `json:"error"`
	Message    string   `json:"message"`
	Status     int      `json:"-"`
	RetryAfter int      `json:"-"` // seconds, only meaningful for UpstreamUnavailable
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func new(cat Category, message string) *APIError {
	return &APIError{Category: cat, Message: message, Status: statusByCategory[cat]}
}

func NewValidation(message string) *APIError { return new(Validation, message) }

// businessRejectionConflicts lists BUSINESS_REJECTION reasons that resolve
// to 409 rather than the category's default 400 — state-machine conflicts
// the caller can't retry their way out of by fixing the request body.
var businessRejectionConflicts = map[string]bool{
	ReasonAlreadyReversed: true,
}

func NewBusinessRejection(message string) *APIError {
	status := statusByCategory[BusinessRejection]
	if businessRejectionConflicts[message] {
		status = http.StatusConflict
	}
	return &APIError{Category: BusinessRejection, Message: message, Status: status}
}

func NewNotFound(resource string) *APIError {
	return new(NotFound, fmt.Sprintf("%s not found", resource))
}
func NewForbidden(message string) *APIError { return new(Forbidden, message) }
func NewInternal(message string) *APIError  { return new(Internal, message) }

// NewUpstreamUnavailable marks the account service as unreachable; the HTTP
// facade attaches a Retry-After: 30 header per the error handling design.
func NewUpstreamUnavailable(message string) *APIError {
	e := new(UpstreamUnavailable, message)
	e.RetryAfter = 30
	return e
}

// Business rejection reasons used verbatim as error messages so the
// orchestrator's state machine and the HTTP layer agree on vocabulary.
const (
	ReasonInsufficientFunds      = "insufficient funds"
	ReasonLimitExceeded          = "transaction limit exceeded"
	ReasonAlreadyReversed        = "ALREADY_REVERSED"
	ReasonCannotReverseReversal  = "CANNOT_REVERSE_REVERSAL"
	ReasonReversalWindowExpired  = "REVERSAL_WINDOW_EXPIRED"
	ReasonInvalidState           = "INVALID_STATE"
	ReasonManualActionRequired   = "MANUAL_ACTION_REQUIRED"
)

// ErrorResponse is the user-visible JSON shape from the error handling
// design: {timestamp, status, error, message, path, validationErrors?, transactionId?}.
type ErrorResponse struct {
	Timestamp        string            `json:"timestamp"`
	Status           int               `json:"status"`
	Error            Category          `json:"error"`
	Message          string            `json:"message"`
	Path             string            `json:"path"`
	ValidationErrors map[string]string `json:"validationErrors,omitempty"`
	TransactionID    string            `json:"transactionId,omitempty"`
}

// As unwraps err into an *APIError, falling back to a sanitized INTERNAL
// error so unexpected panics/errors never leak implementation detail.
func As(err error) *APIError {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	return NewInternal("an unexpected error occurred")
}
