package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/knova/knova/internal/log"
	"github.com/knova/knova/internal/vector"
)

// Config configures the resilience-wrapped inference client.
type Config struct {
	Model         string
	MinSimilarity float64
	MaxDocs       int

	Breaker           CircuitBreakerConfig
	RequestsPerMinute int
	Retry             RetryConfig
	CacheSize         int
	CacheTTL          time.Duration

	// RequestTimeout bounds each individual provider attempt, independent of
	// any deadline the caller's context carries. A stalled connection fails
	// the attempt instead of blocking the turn.
	RequestTimeout time.Duration
}

// Client wraps a Provider with a circuit breaker, sliding-window rate
// limiter, response cache, and bounded retry. All methods are safe for
// concurrent use.
type Client struct {
	provider Provider
	breaker  *CircuitBreaker
	limiter  *WindowLimiter
	cache    *ResponseCache
	retry    RetryConfig

	requestTimeout time.Duration

	model         string
	minSimilarity float64
	maxDocs       int
	logger        log.Logger
}

// New creates a Client around provider with the given resilience settings.
func New(provider Provider, cfg Config, logger log.Logger) *Client {
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = 0.5
	}
	if cfg.MaxDocs <= 0 {
		cfg.MaxDocs = 5
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Client{
		provider:       provider,
		breaker:        NewCircuitBreaker(cfg.Breaker),
		limiter:        NewWindowLimiter(cfg.RequestsPerMinute),
		cache:          NewResponseCache(cfg.CacheSize, cfg.CacheTTL),
		retry:          cfg.Retry,
		requestTimeout: cfg.RequestTimeout,
		model:          cfg.Model,
		minSimilarity:  cfg.MinSimilarity,
		maxDocs:        cfg.MaxDocs,
		logger:         logger,
	}
}

// BreakerState reports the circuit state, for health reporting.
func (c *Client) BreakerState() CircuitState {
	return c.breaker.State()
}

// Generate produces text for a fully rendered prompt, passing it through the
// resilience pipeline. The bool result reports whether the response came from
// cache. Errors match the package taxonomy: ErrCircuitOpen, ErrRateLimited
// (possibly a *RateLimitError with a wait hint), or ErrUnavailable. Caller
// context cancellation passes through unchanged.
func (c *Client) Generate(ctx context.Context, prompt string) (string, bool, error) {
	if err := c.breaker.Allow(); err != nil {
		c.logger.Warn("request rejected by circuit breaker",
			"state", c.breaker.State())
		return "", false, err
	}

	if err := c.limiter.Allow(); err != nil {
		// Never reached the provider, so the probe slot must be freed.
		c.breaker.cancelProbe()
		c.logger.Warn("request rejected by rate limiter", "error", err)
		return "", false, err
	}

	key := CacheKey(prompt)
	if text, ok := c.cache.Get(key); ok {
		c.breaker.cancelProbe()
		c.logger.Debug("cache hit", "key", key[:12])
		return text, true, nil
	}

	text, err := c.completeWithRetry(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			// The caller abandoned the request; not a provider failure.
			c.breaker.cancelProbe()
			return "", false, err
		}
		if providerRateLimited(err) {
			// Provider throttling is not a service failure; it must not
			// push the breaker toward open.
			c.breaker.cancelProbe()
			return "", false, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		c.breaker.Failure()
		c.logger.Error("provider call failed",
			"error", err, "failures", c.breaker.Failures())
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.cache.Put(key, text)
	c.breaker.Success()
	return text, false, nil
}

// Answer runs one retrieval-augmented turn: render the prompt, generate, and
// assemble the structured answer with citations and a confidence score.
// Resilience failures never surface as errors; they degrade into a fallback
// answer built from the retrieved chunks (or a fixed apology without them).
func (c *Client) Answer(ctx context.Context, query string, chunks []vector.Result, history []Message) (*Answer, error) {
	start := time.Now()
	prompt := BuildPrompt(query, chunks, history, c.maxDocs)

	text, cached, err := c.Generate(ctx, prompt)
	if err != nil {
		return c.fallback(chunks, err), nil
	}

	return &Answer{
		Text:        text,
		Citations:   extractCitations(chunks, c.minSimilarity),
		Confidence:  confidenceScore(chunks),
		Model:       c.model,
		Latency:     time.Since(start),
		SourceCount: len(chunks),
		Cached:      cached,
	}, nil
}

// fallback maps a pipeline error to a degraded answer.
func (c *Client) fallback(chunks []vector.Result, err error) *Answer {
	switch {
	case errors.Is(err, ErrRateLimited):
		c.logger.Warn("degraded answer: rate limited", "error", err)
		return rateLimitedAnswer(c.model, err)
	case len(chunks) > 0:
		c.logger.Warn("degraded answer: serving document excerpts", "error", err)
		return degradedAnswer(chunks, c.minSimilarity, err)
	default:
		c.logger.Warn("degraded answer: no context available", "error", err)
		return unavailableAnswer(c.model, err)
	}
}
