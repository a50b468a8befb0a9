package speechkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/harunnryd/speechjob/pkg/errorsx"
	"github.com/harunnryd/speechjob/pkg/redact"
	"github.com/harunnryd/speechjob/pkg/resilience"
)

// ErrNotDone reports that the operation is still running. It is a valid
// intermediate state, not a failure.
var ErrNotDone = errors.New("operation is not yet completed")

const maxBodyInError = 512

// NoOperationIDError is returned when the submit response carries no operation id,
// typically an auth, quota or bad URI rejection.
type NoOperationIDError struct {
	StatusCode int
	Body       []byte
}

func (e *NoOperationIDError) Error() string {
	return fmt.Sprintf("submit response has no operation id (status %d): %s", e.StatusCode, snippet(e.Body))
}

// HTTPStatusError is a non-2xx answer from the operation endpoint.
type HTTPStatusError struct {
	StatusCode int
	Body       []byte
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("operation request failed: status %d: %s", e.StatusCode, snippet(e.Body))
}

// Unwrap exposes a resilience.RateLimitError for 429 answers.
func (e *HTTPStatusError) Unwrap() error {
	if e.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	return resilience.RateLimitError{Provider: "yandex", Message: "rate limit", RetryAfter: e.RetryAfter}
}

// StatusCode returns the HTTP status carried by err, or zero.
func StatusCode(err error) int {
	var he *HTTPStatusError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	var ne *NoOperationIDError
	if errors.As(err, &ne) {
		return ne.StatusCode
	}
	return 0
}

// IsRetryable reports whether a poll failure may succeed on a later attempt:
// transport and decode failures, 408, 429 and 5xx.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return false
	}
	var ne *NoOperationIDError
	if errors.As(err, &ne) {
		return false
	}
	var he *HTTPStatusError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusRequestTimeout ||
			he.StatusCode == http.StatusTooManyRequests ||
			he.StatusCode >= 500
	}
	switch errorsx.Reason(err) {
	case errorsx.ReasonTransport, errorsx.ReasonDecode:
		return true
	}
	return false
}

func snippet(body []byte) string {
	if len(body) == 0 {
		return "<empty body>"
	}
	s := redact.Text(string(body))
	if len(s) <= maxBodyInError {
		return s
	}
	cut := maxBodyInError
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
