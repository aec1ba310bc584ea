package transcribe

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"
)

// AuthError reports invalid credentials (HTTP 401). Never retried; it aborts
// the whole job immediately.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "transcribe: authentication failed: " + e.Message
}

// RateLimitError reports that the service rejected the call for exceeding its
// rate budget (HTTP 429). Retryable.
type RateLimitError struct {
	Message string

	// RetryAfter is the server-suggested wait before the next attempt, zero
	// when the server did not suggest one.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("transcribe: rate limited (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return "transcribe: rate limited: " + e.Message
}

// PayloadTooLargeError reports that the encoded segment exceeds the service's
// request size ceiling (HTTP 413). Not retryable with the same payload.
type PayloadTooLargeError struct {
	Message string
}

func (e *PayloadTooLargeError) Error() string {
	return "transcribe: payload too large: " + e.Message
}

// TransientError reports a network fault or server-side failure that is
// expected to clear on its own. Retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transcribe: transient failure: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// Retryable reports whether err may succeed on a later attempt with the same
// payload. Auth and payload-size failures are terminal; everything in the
// rate-limit/transient classes is worth retrying.
func Retryable(err error) bool {
	var (
		rl *RateLimitError
		tr *TransientError
	)
	return errors.As(err, &rl) || errors.As(err, &tr)
}

// FromStatus maps an HTTP status code from the remote service to the error
// taxonomy. retryAfter may be zero. A 2xx status is a caller bug and maps to
// a TransientError carrying the message.
func FromStatus(status int, message string, retryAfter time.Duration) error {
	switch status {
	case http.StatusUnauthorized:
		return &AuthError{Message: message}
	case http.StatusTooManyRequests:
		if retryAfter == 0 {
			retryAfter = retryAfterFromMessage(message)
		}
		return &RateLimitError{Message: message, RetryAfter: retryAfter}
	case http.StatusRequestEntityTooLarge:
		return &PayloadTooLargeError{Message: message}
	default:
		return &TransientError{Err: fmt.Errorf("server returned HTTP %d: %s", status, message)}
	}
}

// retryAfterPattern matches the wait hint embedded in rate-limit messages
// such as "Rate limit reached … Please try again in 12.4s." or "… in 250ms".
var retryAfterPattern = regexp.MustCompile(`try again in ([0-9]+(?:\.[0-9]+)?)\s*(ms|s)`)

// retryAfterFromMessage extracts a suggested wait duration from a rate-limit
// message body. Returns 0 when no hint is present.
func retryAfterFromMessage(message string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(message)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	unit := time.Second
	if m[2] == "ms" {
		unit = time.Millisecond
	}
	return time.Duration(v * float64(unit))
}
