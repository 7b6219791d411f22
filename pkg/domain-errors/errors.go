// Package domainerrors defines the coded error type returned by every
// ledger operation. Stores return sentinel errors; services translate
// them into coded errors here so callers always receive a structured
// rejection naming the violated invariant.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the invariant or condition a rejection is about.
type Code string

const (
	// Ledger operation rejections.
	CodeUnauthorized          Code = "unauthorized"
	CodeNotFound              Code = "not_found"
	CodeDuplicateBatch        Code = "duplicate_batch"
	CodeInvalidMetadata       Code = "invalid_metadata"
	CodeOwnerMismatch         Code = "owner_mismatch"
	CodeTransferBlocked       Code = "transfer_blocked"
	CodeInvalidTransition     Code = "invalid_transition"
	CodeNonMonotonicTimestamp Code = "non_monotonic_timestamp"
	CodeTerminalState         Code = "terminal_state"

	// Ambient codes shared by transport and validation layers.
	CodeInvalidInput Code = "invalid_input"
	CodeBadRequest   Code = "bad_request"
	CodeConflict     Code = "conflict"
	CodeInternal     Code = "internal"
)

// Error is a coded domain error. Construct via New or Wrap.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. The cause
// remains reachable through errors.Is/As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// uncoded errors so transport never leaks raw failures.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to the HTTP status used by the JSON error
// envelope. Every code maps explicitly; unknown codes are a 500.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeDuplicateBatch, CodeConflict:
		return http.StatusConflict
	case CodeInvalidMetadata, CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeOwnerMismatch, CodeTransferBlocked, CodeInvalidTransition, CodeTerminalState:
		return http.StatusConflict
	case CodeNonMonotonicTimestamp:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
