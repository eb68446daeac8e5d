// Package apperr defines the error kinds surfaced by the engine and its HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a short machine-readable error category.
type Kind string

const (
	// External capability errors. Transient; callers may retry with backoff.
	KindEmbeddingUnavailable  Kind = "embedding_unavailable"
	KindGenerationUnavailable Kind = "generation_unavailable"
	KindTimeout               Kind = "timeout"

	// Data errors. Fatal to the single call.
	KindDimensionMismatch Kind = "dimension_mismatch"
	KindDuplicateID       Kind = "duplicate_id"
	KindNodeConflict      Kind = "node_conflict"

	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// Error is an error tagged with a Kind. Cause is kept for logs and never sent to clients.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, apperr.New(apperr.KindTimeout, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message of err. Untagged errors get a generic message.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// IsTransient reports whether the caller may retry err after a backoff.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindEmbeddingUnavailable, KindGenerationUnavailable, KindTimeout:
		return true
	}
	return false
}

// HTTPStatus maps a kind to the HTTP status used by the API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindDimensionMismatch:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicateID, KindNodeConflict:
		return http.StatusConflict
	case KindEmbeddingUnavailable, KindGenerationUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
