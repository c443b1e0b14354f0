package catalog

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorClass represents a classification of catalog request failures.
type ErrorClass string

const (
	// ErrorClassRateLimit represents HTTP 429 or a "too many requests" envelope.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassTransport represents network/timeout errors.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassMalformed represents payloads that fail shape validation.
	ErrorClassMalformed ErrorClass = "malformed"

	// ErrorClassServer represents any other failure envelope or non-2xx status.
	ErrorClassServer ErrorClass = "server"
)

// ErrRateLimited matches any rate-limited *Error via errors.Is.
var ErrRateLimited = errors.New("catalog: too many requests")

// rateLimitMarker is matched case-insensitively against failure messages.
const rateLimitMarker = "too many requests"

// Error is a classified catalog failure.
type Error struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("catalog %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports rate-limited errors as ErrRateLimited.
func (e *Error) Is(target error) bool {
	return target == ErrRateLimited && e.Class == ErrorClassRateLimit
}

// IsRateLimited reports whether err signals backend overload.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// ClassOf returns the class of err, or "" if err is not a catalog error.
func ClassOf(err error) ErrorClass {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Class
	}
	return ""
}

// classifyStatus maps an HTTP status and failure message to an error class.
func classifyStatus(status int, message string) ErrorClass {
	if status == http.StatusTooManyRequests ||
		strings.Contains(strings.ToLower(message), rateLimitMarker) {
		return ErrorClassRateLimit
	}
	return ErrorClassServer
}

// classifyTransport maps a failure with no usable HTTP response. Proxies and
// client middleware sometimes surface overload only in the error text.
func classifyTransport(err error) ErrorClass {
	if err != nil && classifyStatus(0, err.Error()) == ErrorClassRateLimit {
		return ErrorClassRateLimit
	}
	return ErrorClassTransport
}
