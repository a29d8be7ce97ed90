// Package inference wraps the remote text-generation provider with a
// resilience layer: circuit breaker, sliding-window rate limiting, TTL
// response caching, bounded retry, and a degraded-mode fallback that never
// masquerades as a generated answer.
//
// All shared state (breaker, limiter, cache) lives on explicitly constructed
// Client instances; there are no package globals, so tests build isolated
// clients per case.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

var (
	// ErrCircuitOpen is returned when the provider is deemed unhealthy and
	// calls are rejected without a network attempt.
	ErrCircuitOpen = errors.New("inference circuit open")

	// ErrRateLimited is returned when the local limiter window is full or
	// the provider itself reports rate limiting. Carries a wait hint via
	// RateLimitError.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable is returned when the provider failed after bounded
	// retries or reported a non-retryable error.
	ErrUnavailable = errors.New("inference unavailable")
)

// RateLimitError carries the time until the limiter window frees a slot.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %s", e.Wait.Round(time.Millisecond))
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (*RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// transientError reports whether a provider failure is a transport-level
// problem worth retrying: connection failures, timeouts, and 5xx-class
// server errors. Provider-reported errors (auth, malformed request) and rate
// limits are not transient.
func transientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 500, 502, 503, 504:
			return true
		}
		return false
	}

	return containsAny(err.Error(),
		"connection reset", "connection refused", "timeout", "temporary",
		"unavailable", "500", "502", "503", "504")
}

// providerRateLimited reports whether the provider itself rejected the call
// for quota reasons.
func providerRateLimited(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429
	}

	return containsAny(err.Error(), "rate limit", "quota exceeded", "429")
}

// containsAny checks if s contains any of the substrings, case-insensitive.
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
