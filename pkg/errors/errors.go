// Package errors provides structured error types for PipeVision.
//
// Errors carry a machine-readable [Code] so that the CLI, the HTTP adapter and
// the external job scheduler can tell a retryable condition (stale metadata)
// from a terminal one (an export requested before the drawing is resolved).
//
// # Error Codes
//
//   - MALFORMED_ENTITY: a single entity has invalid geometry; it is skipped
//   - NON_FINITE_TRANSFORM: projecting an entity produced NaN or Inf; it is skipped
//   - EXPORT_PRECONDITION_FAILED: the model still has drawing-level gaps
//   - STALE_METADATA: the metadata record advanced while a resolution ran
//   - UNSUPPORTED_GEOMETRY_FOR_FORMAT: the format cannot carry the entity kind
//
// Entity-level codes normally travel as a [Warning] rather than an error,
// because entity problems never abort a run.
//
// # Usage
//
//	err := errors.New(errors.ErrCodeStaleMetadata, "project %s advanced to version %d", id, v)
//	if errors.Is(err, errors.ErrCodeStaleMetadata) {
//	    // refetch and retry
//	}
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeInvalidFormat Code = "INVALID_FORMAT"
	ErrCodeInvalidCRS    Code = "INVALID_CRS"
	ErrCodeInvalidState  Code = "INVALID_STATE"
	ErrCodeInvalidPath   Code = "INVALID_PATH"

	// Geometry errors (entity scoped, reported as warnings)
	ErrCodeMalformedEntity     Code = "MALFORMED_ENTITY"
	ErrCodeNonFiniteTransform  Code = "NON_FINITE_TRANSFORM"
	ErrCodeUnsupportedGeometry Code = "UNSUPPORTED_GEOMETRY_FOR_FORMAT"
	ErrCodeFieldTruncated      Code = "FIELD_TRUNCATED"

	// Stage errors
	ErrCodeExportPrecondition Code = "EXPORT_PRECONDITION_FAILED"
	ErrCodeStaleMetadata      Code = "STALE_METADATA"

	// Resource errors
	ErrCodeNotFound Code = "NOT_FOUND"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Warning is a non-fatal problem attached to a run result or an artifact.
// Handle is empty for drawing-level warnings.
type Warning struct {
	Code    Code   `json:"code" bson:"code"`
	Handle  string `json:"handle,omitempty" bson:"handle,omitempty"`
	Message string `json:"message" bson:"message"`
}

// Warn builds a Warning for the entity identified by handle.
func Warn(code Code, handle, format string, args ...any) Warning {
	return Warning{Code: code, Handle: handle, Message: fmt.Sprintf(format, args...)}
}

// String renders the warning for logs and CLI output.
func (w Warning) String() string {
	if w.Handle == "" {
		return fmt.Sprintf("%s: %s", w.Code, w.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", w.Code, w.Handle, w.Message)
}
