// Package errors defines the error taxonomy used across the platform.
//
// Every failure surfaced to a caller is classified into one of four kinds:
// validation (caller input, recoverable by resubmission), backend (hosted
// data service), chain (blockchain RPC, retried on the next poll tick) and
// auth (authentication or gating). Handlers map kinds to HTTP status codes;
// nothing is treated as process-fatal.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for consistent handling.
type Kind string

const (
	KindValidation Kind = "validation"
	KindBackend    Kind = "backend"
	KindChain      Kind = "chain"
	KindAuth       Kind = "auth"
	KindNotFound   Kind = "not_found"
)

// Error carries a kind, a user-visible message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an underlying error, keeping it for errors.Is/As.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func Backend(message string, cause error) *Error {
	return Wrap(KindBackend, message, cause)
}

func Chain(message string, cause error) *Error {
	return Wrap(KindChain, message, cause)
}

func Auth(message string) *Error {
	return New(KindAuth, message)
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of err, or KindBackend for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindBackend
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error kind to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindChain:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the message suitable for a client response, hiding
// internal causes for backend failures.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
