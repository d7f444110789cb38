package clinical

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Code classifies a backend failure.
type Code string

const (
	CodeNetwork      Code = "network"
	CodeTimeout      Code = "timeout"
	CodeRateLimited  Code = "rate_limited"
	CodeServer       Code = "server"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeValidation   Code = "validation"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnknown      Code = "unknown"
)

var messages = map[Code]string{
	CodeNetwork:      "We couldn't reach the server. Check your connection and try again.",
	CodeTimeout:      "The request took too long. Please try again.",
	CodeRateLimited:  "Too many requests. Please wait a moment and try again.",
	CodeServer:       "Something went wrong on our end. Please try again shortly.",
	CodeUnauthorized: "Your session has expired. Please log in again.",
	CodeForbidden:    "You don't have access to this information.",
	CodeValidation:   "Some of the information provided is invalid. Please review and try again.",
	CodeNotFound:     "We couldn't find what you were looking for.",
	CodeConflict:     "That time slot is no longer available. Please choose another.",
	CodeUnknown:      "An unexpected error occurred. Please try again.",
}

// Message returns the shopper-facing text for a code.
func Message(c Code) string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[CodeUnknown]
}

// Error is a classified backend failure.
type Error struct {
	Code   Code
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("clinical: %s (status %d): %s", e.Code, e.Status, e.Detail)
	}
	return fmt.Sprintf("clinical: %s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the shopper-facing text.
func (e *Error) Message() string { return Message(e.Code) }

// Retryable reports whether retrying can help: network, timeout, rate-limit
// and server failures are transient; the rest are not.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeNetwork, CodeTimeout, CodeRateLimited, CodeServer:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is a retryable backend error.
func IsRetryable(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Retryable()
}

// CodeForStatus maps an HTTP status to a code.
func CodeForStatus(status int) Code {
	switch {
	case status == http.StatusUnauthorized:
		return CodeUnauthorized
	case status == http.StatusForbidden:
		return CodeForbidden
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusConflict:
		return CodeConflict
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return CodeTimeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return CodeValidation
	case status >= 500:
		return CodeServer
	default:
		return CodeUnknown
	}
}

func transportError(err error) *Error {
	code := CodeNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = CodeTimeout
	}
	return &Error{Code: code, Detail: err.Error(), Err: err}
}
