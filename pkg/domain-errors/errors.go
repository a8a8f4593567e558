// Package domainerrors carries typed, code-tagged errors from services to transports.
//
// Services return *Error values (optionally wrapping an infrastructure cause);
// the HTTP layer maps Code to a status and a machine-readable reason string.
// The wrapped cause is never rendered to clients.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable reason string.
type Code string

const (
	CodeBadRequest        Code = "bad_request"
	CodeValidation        Code = "validation_error"
	CodeInvalidInput      Code = "invalid_input"
	CodeUnauthorized      Code = "unauthorized"
	CodeForbidden         Code = "forbidden"
	CodeNotFound          Code = "not_found"
	CodeConflict          Code = "conflict"
	CodeRateLimited       Code = "rate_limited"
	CodeTimeout           Code = "timeout"
	CodeInternal          Code = "internal_error"
	CodeMisconfigured     Code = "configuration_error"
	CodeInvalidModelOut   Code = "invalid_model_output"
	CodeUpstream          Code = "upstream_unavailable"
	CodeEmptyAuditSet     Code = "empty_audit_set"
	CodePartialPersist    Code = "partial_persistence"
	CodeSignalDelivery    Code = "signal_delivery_failed"
	CodeInvariantViolated Code = "invariant_violation"
)

// Error is a domain error with a code, a client-safe message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a domain error without a cause.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and client-safe message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// As returns the outermost domain error in err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether the outermost domain error in err's chain carries code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// Is is an alias of HasCode kept for call sites that read better as a predicate.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the code of err, or CodeInternal for non-domain errors.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}

// HTTPStatus maps a code to its HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeEmptyAuditSet:
		return http.StatusUnprocessableEntity
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a failure is transient from the point of view of an
// automated redelivery: the reasoning service misbehaved or was unreachable.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidModelOut, CodeUpstream, CodeTimeout:
		return true
	default:
		return false
	}
}
