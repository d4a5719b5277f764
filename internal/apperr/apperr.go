// Package apperr defines the closed error taxonomy used across the system
// and its mapping onto HTTP status codes. Components wrap underlying causes
// with a typed code so that retry policies and the HTTP layer can classify
// failures without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies one error class.
type Code string

const (
	CodeParse              Code = "PARSE_ERROR"
	CodeDBConnection       Code = "DB_CONNECTION_ERROR"
	CodeDBQuery            Code = "DB_QUERY_ERROR"
	CodeDBTimeout          Code = "DB_QUERY_TIMEOUT"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeInvalidRequest     Code = "INVALID_REQUEST"
	CodeProjectNotFound    Code = "PROJECT_NOT_FOUND"
	CodeEntityNotFound     Code = "ENTITY_NOT_FOUND"
	CodeFileSizeExceeded   Code = "FILE_SIZE_EXCEEDED"
	CodeEmbedding          Code = "EMBEDDING_GENERATION_ERROR"
	CodeSandboxBlocked     Code = "SANDBOX_BLOCKED"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// Error is a classified application error. Details carries structured
// context for the HTTP error envelope.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Err }

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithDetails returns e with the details map set.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// CodeOf extracts the error code, defaulting to CodeInternal for
// unclassified errors.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// IsTransient reports whether the error class may succeed on retry.
// Only connection failures and timeouts qualify; query errors, constraint
// violations and validation failures never do.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeDBConnection, CodeDBTimeout:
		return true
	}
	return false
}

// HTTPStatus maps an error code to its HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeParse, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeSandboxBlocked:
		return http.StatusForbidden
	case CodeProjectNotFound, CodeEntityNotFound:
		return http.StatusNotFound
	case CodeFileSizeExceeded:
		return http.StatusRequestEntityTooLarge
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeDBConnection:
		return http.StatusServiceUnavailable
	case CodeDBTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
