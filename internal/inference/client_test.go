package inference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/knova/knova/internal/log"
	"github.com/knova/knova/internal/testutil"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func newTestClient(p Provider, cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = fastRetry()
	}
	return New(p, cfg, log.NewNop())
}

func TestClient_Generate_CachesIdenticalPrompts(t *testing.T) {
	t.Parallel()

	provider := testutil.NewMockProvider("generated answer")
	c := newTestClient(provider, Config{})

	text, cached, err := c.Generate(context.Background(), "same prompt")
	if err != nil {
		t.Fatalf("first Generate() error = %v", err)
	}
	if cached || text != "generated answer" {
		t.Fatalf("first Generate() = (%q, cached=%v)", text, cached)
	}

	text, cached, err = c.Generate(context.Background(), "same prompt")
	if err != nil {
		t.Fatalf("second Generate() error = %v", err)
	}
	if !cached || text != "generated answer" {
		t.Fatalf("second Generate() = (%q, cached=%v), want cache hit", text, cached)
	}

	if got := provider.Calls(); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
}

func TestClient_Generate_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	provider := testutil.NewMockProvider("recovered")
	provider.QueueError(errors.New("connection reset by peer"))
	provider.QueueError(errors.New("connection refused"))
	c := newTestClient(provider, Config{})

	text, _, err := c.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Generate() = %v, want recovery", err)
	}
	if text != "recovered" {
		t.Fatalf("Generate() = %q, want recovered", text)
	}
	if got := provider.Calls(); got != 3 {
		t.Fatalf("provider calls = %d, want 3", got)
	}
}

func TestClient_Generate_OpensCircuitAfterThreshold(t *testing.T) {
	t.Parallel()

	provider := testutil.NewMockProvider("")
	c := newTestClient(provider, Config{
		Breaker: CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Minute},
	})

	for i := 0; i < 2; i++ {
		provider.QueueError(errors.New("invalid request"))
		_, _, err := c.Generate(context.Background(), "prompt")
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("Generate() %d = %v, want ErrUnavailable", i+1, err)
		}
	}
	if got := c.BreakerState(); got != CircuitOpen {
		t.Fatalf("breaker state = %v, want open", got)
	}

	// Rejected without touching the provider.
	before := provider.Calls()
	_, _, err := c.Generate(context.Background(), "prompt")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Generate() while open = %v, want ErrCircuitOpen", err)
	}
	if got := provider.Calls(); got != before {
		t.Fatalf("provider calls = %d, want %d (no network attempt)", got, before)
	}
}

func TestClient_Generate_ProviderRateLimitDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	provider := testutil.NewMockProvider("")
	c := newTestClient(provider, Config{
		Breaker: CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Minute},
	})

	for i := 0; i < 5; i++ {
		provider.QueueError(errors.New("quota exceeded for project"))
		_, _, err := c.Generate(context.Background(), "prompt")
		if !errors.Is(err, ErrRateLimited) {
			t.Fatalf("Generate() %d = %v, want ErrRateLimited", i+1, err)
		}
	}
	if got := c.BreakerState(); got != CircuitClosed {
		t.Fatalf("breaker state = %v, want closed after provider throttling", got)
	}
	if got := provider.Calls(); got != 5 {
		t.Fatalf("provider calls = %d, want 5 (no retry on rate limit)", got)
	}
}

func TestClient_Generate_LocalRateLimit(t *testing.T) {
	t.Parallel()

	provider := testutil.NewMockProvider("answer")
	c := newTestClient(provider, Config{RequestsPerMinute: 1})

	if _, _, err := c.Generate(context.Background(), "prompt one"); err != nil {
		t.Fatalf("first Generate() = %v", err)
	}
	_, _, err := c.Generate(context.Background(), "prompt two")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second Generate() = %v, want ErrRateLimited", err)
	}

	var rle *RateLimitError
	if !errors.As(err, &rle) || rle.Wait <= 0 {
		t.Fatalf("want *RateLimitError with positive wait, got %v", err)
	}
	if got := provider.Calls(); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
}

// stalledProvider blocks until the per-attempt deadline cancels its context.
type stalledProvider struct{}

func (stalledProvider) Complete(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestClient_Generate_BoundsStalledProviderCall(t *testing.T) {
	t.Parallel()

	c := newTestClient(stalledProvider{}, Config{RequestTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, _, err := c.Generate(context.Background(), "prompt")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Generate() = %v, want ErrUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Generate() blocked for %v despite the request timeout", elapsed)
	}
}

func TestClient_Generate_CallerCancellationStopsRetry(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := testutil.NewMockProvider("")
	provider.QueueError(errors.New("connection reset by peer"))
	c := newTestClient(provider, Config{})

	_, _, err := c.Generate(ctx, "prompt")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate() = %v, want caller cancellation surfaced", err)
	}
	if got := provider.Calls(); got != 1 {
		t.Fatalf("provider calls = %d, want 1 (no retry after cancel)", got)
	}
}

func TestClient_Generate_CacheHitDoesNotConsumeProbe(t *testing.T) {
	t.Parallel()

	provider := testutil.NewMockProvider("answer")
	c := newTestClient(provider, Config{
		Breaker: CircuitBreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond},
	})

	// Populate the cache, then trip the breaker with a distinct prompt.
	if _, _, err := c.Generate(context.Background(), "cached prompt"); err != nil {
		t.Fatalf("warmup Generate() = %v", err)
	}
	provider.QueueError(errors.New("invalid request"))
	if _, _, err := c.Generate(context.Background(), "failing prompt"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("failing Generate() = %v, want ErrUnavailable", err)
	}

	time.Sleep(20 * time.Millisecond)

	// Cache hit consumes the probe slot but must release it.
	if _, cached, err := c.Generate(context.Background(), "cached prompt"); err != nil || !cached {
		t.Fatalf("cached Generate() = (cached=%v, err=%v)", cached, err)
	}

	// The probe slot is still available for a real provider call.
	if _, _, err := c.Generate(context.Background(), "fresh prompt"); err != nil {
		t.Fatalf("probe Generate() = %v, want success", err)
	}
	if got := c.BreakerState(); got != CircuitClosed {
		t.Fatalf("breaker state after probe success = %v, want closed", got)
	}
}
