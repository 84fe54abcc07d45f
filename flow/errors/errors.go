// Package errors defines the typed error kinds shared across the engine,
// the container orchestrator, and the AI flow builder.
package errors

import "fmt"

// Kind classifies an error for callers deciding how to react (retry, surface
// to a user, abort a run).
type Kind string

const (
	// KindValidation indicates a request or flow definition failed validation.
	KindValidation Kind = "validation"
	// KindNotFound indicates a referenced entity does not exist.
	KindNotFound Kind = "not_found"
	// KindPermissionDenied indicates the caller is not allowed to perform the operation.
	KindPermissionDenied Kind = "permission_denied"
	// KindRateLimited indicates a rate limit rejected the request.
	KindRateLimited Kind = "rate_limited"
	// KindHandler indicates a node handler returned a failure during execution.
	KindHandler Kind = "handler"
	// KindTransient indicates a retryable infrastructure failure.
	KindTransient Kind = "transient"
	// KindFatal indicates a non-retryable internal failure.
	KindFatal Kind = "fatal"
)

// Error is the common error shape returned by every component.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s/%s): %v", e.Message, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s/%s)", e.Message, e.Kind, e.Code)
}

// Unwrap returns the wrapped error, if any.
func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an Error around an existing error.
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Validation builds a KindValidation error.
func Validation(code, message string) *Error { return New(KindValidation, code, message) }

// NotFound builds a KindNotFound error.
func NotFound(code, message string) *Error { return New(KindNotFound, code, message) }

// PermissionDenied builds a KindPermissionDenied error.
func PermissionDenied(code, message string) *Error { return New(KindPermissionDenied, code, message) }

// RateLimited builds a KindRateLimited error.
func RateLimited(code, message string) *Error { return New(KindRateLimited, code, message) }

// Handler builds a KindHandler error wrapping the handler's own failure.
func Handler(code, message string, err error) *Error { return Wrap(KindHandler, code, message, err) }

// Transient builds a KindTransient error wrapping an infrastructure failure.
func Transient(code, message string, err error) *Error { return Wrap(KindTransient, code, message, err) }

// Fatal builds a KindFatal error wrapping an unrecoverable failure.
func Fatal(code, message string, err error) *Error { return Wrap(KindFatal, code, message, err) }

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as(err, &e) {
		return e.Kind == kind
	}
	return false
}

// as mirrors errors.As without importing the stdlib package name twice in
// this file's identifier space (kept local to avoid a naming collision with
// this package's own name "errors").
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
