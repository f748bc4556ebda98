package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrRateLimited marks provider failures caused by rate limiting or
// capacity backpressure. Callers surface these as retry-later results
// rather than generic failures.
var ErrRateLimited = errors.New("ai provider rate limited")

// IsTransient reports whether an error is worth retrying later: rate
// limiting, capacity errors, or a generation deadline expiring.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded)
}

// transientStatus reports whether an HTTP status from a provider indicates
// rate limiting or temporary overload.
func transientStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	case 529: // Anthropic "overloaded"
		return true
	}
	return false
}

// transientBody reports whether a provider error body indicates capacity
// limiting even when the status code does not.
func transientBody(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range []string{"rate limit", "rate_limit", "overloaded", "capacity", "quota"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
