package m2m

import (
	"errors"
	"fmt"
	"strings"
)

// Failure classes for catalog API calls. Transient failures are worth
// retrying, fatal ones are not, and authentication failures abort the run.
var (
	ErrAuthentication            = errors.New("authentication rejected")
	ErrRateLimited               = errors.New("rate limit exceeded")
	ErrPackagePreparationTimeout = errors.New("package preparation timed out")
)

// APIError is a protocol-level error carried in the response envelope. The
// service reports these with HTTP 200, so classification happens on the code.
type APIError struct {
	Endpoint string
	Code     string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Endpoint, e.Message, e.Code)
}

// Auth reports whether the error concerns the session token or credentials.
func (e *APIError) Auth() bool {
	return strings.HasPrefix(e.Code, "AUTH")
}

// RateLimit reports whether the service throttled the request.
func (e *APIError) RateLimit() bool {
	return strings.HasPrefix(e.Code, "RATE_LIMIT")
}

// Transient reports whether a retry may succeed.
func (e *APIError) Transient() bool {
	return e.RateLimit() || e.Code == "SERVER_ERROR" || e.Code == "UNKNOWN"
}

// TransientError wraps transport-layer failures that a retry may clear:
// 5xx responses, timeouts, dropped connections.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// FatalError wraps failures that will not succeed on retry, such as 4xx
// responses or malformed payloads.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsRetryable is the retry predicate shared by the searcher, the preparation
// poller and the download workers.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Transient()
	}
	return false
}
