// Package apperror defines the typed error kinds shared by every
// service operation. Transport layers map kinds to status codes; the
// services themselves only ever return one of these.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure at the service boundary.
type Kind string

const (
	KindValidation       Kind = "VALIDATION"
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindNotFound         Kind = "NOT_FOUND"
	KindConflict         Kind = "CONFLICT"
	KindInvalidState     Kind = "INVALID_STATE"
	KindInternal         Kind = "INTERNAL"
)

// Error carries a kind, a human message and, for validation failures,
// a field → messages map.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string][]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation builds a VALIDATION error with an optional field map.
func Validation(message string, fields map[string][]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// FieldValidation is shorthand for a single-field validation failure.
func FieldValidation(field, message string) *Error {
	return Validation(message, map[string][]string{field: {message}})
}

// PermissionDenied builds a PERMISSION_DENIED error.
func PermissionDenied(message string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: message}
}

// NotFound builds a NOT_FOUND error for the named resource.
func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found"}
}

// Conflict builds a CONFLICT error.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// InvalidState builds an INVALID_STATE error.
func InvalidState(message string) *Error {
	return &Error{Kind: KindInvalidState, Message: message}
}

// Internal wraps an unexpected error without leaking its details to
// callers; the original stays reachable via Unwrap for logging.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// KindOf extracts the kind from any error, defaulting to INTERNAL.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FieldsOf returns the validation field map, if any.
func FieldsOf(err error) map[string][]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
