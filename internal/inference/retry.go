package inference

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures bounded retry for provider calls.
type RetryConfig struct {
	MaxRetries      int           // Retry attempts after the first call
	InitialInterval time.Duration // First backoff interval
	MaxInterval     time.Duration // Backoff ceiling
}

// DefaultRetryConfig returns the production retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
	}
}

// DefaultRequestTimeout bounds a single provider attempt.
const DefaultRequestTimeout = 30 * time.Second

// completeWithRetry calls the provider with exponential backoff. Each attempt
// runs under its own deadline so a stalled connection fails the attempt
// instead of holding the turn open. Only transient transport failures are
// retried; provider-reported rate limits and request errors fail immediately.
func (c *Client) completeWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	delay := c.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		text, err := c.provider.Complete(attemptCtx, prompt)
		cancel()
		if err == nil {
			c.logger.Debug("provider call succeeded",
				"attempts", attempt+1, "elapsed", time.Since(start))
			return text, nil
		}
		lastErr = err

		// A canceled caller is not a provider failure.
		if ctx.Err() != nil {
			return "", fmt.Errorf("context canceled during provider call: %w", ctx.Err())
		}
		if !transientError(err) || providerRateLimited(err) {
			return "", err
		}
		if attempt == c.retry.MaxRetries {
			break
		}

		c.logger.Debug("retrying provider call",
			"attempt", attempt+1, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, c.retry.MaxInterval)
		}
	}

	return "", fmt.Errorf("provider call failed after %d retries (elapsed %v): %w",
		c.retry.MaxRetries, time.Since(start), lastErr)
}
