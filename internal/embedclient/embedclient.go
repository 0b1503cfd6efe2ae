// Package embedclient defines the Embedder contract (spec.md §1: "an opaque
// external service") and wraps it with the resilience posture spec.md §7
// requires of transient errors: a circuit breaker so a failing embedder
// trips open rather than stalling every Ingest call, and a token-bucket rate
// limiter so Ingest can't overrun the embedder's throughput.
//
// Grounded on the teacher's internal/llm/interfaces.go (EmbeddingGenerator)
// and internal/llm/circuit_breaker.go (gobreaker wrapper).
package embedclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/scrypster/engramind/pkg/engram"
)

// Embedder produces a dense vector embedding for text. No concrete
// Ollama/OpenAI/Anthropic implementation lives in this repository — that
// belongs to the excluded LLM synthesis layer (spec.md §1). A deterministic
// fake lives in fake.go for tests.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BreakerConfig configures the circuit breaker, matching the teacher's
// CircuitBreakerConfig defaults (3 consecutive failures, 30s open timeout,
// 2 half-open successes to close).
type BreakerConfig struct {
	MaxFailures          uint32
	Timeout              time.Duration
	HalfOpenMaxSuccesses uint32
}

// DefaultBreakerConfig returns the teacher's defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 3, Timeout: 30 * time.Second, HalfOpenMaxSuccesses: 2}
}

// Client wraps an Embedder with a circuit breaker and a rate limiter.
// Embed retries are the caller's responsibility (internal/ingest retries
// per spec.md §7's "Ingest retries embedder calls" policy); Client itself
// fails fast once the breaker is open. When the limiter has no tokens, Embed
// waits for one, or returns an error when ctx ends first.
type Client struct {
	embedder Embedder
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
}

// New wraps embedder with a circuit breaker (cfg) and a token-bucket
// limiter allowing ratePerSecond requests/sec with the given burst.
func New(embedder Embedder, cfg BreakerConfig, ratePerSecond float64, burst int) *Client {
	settings := gobreaker.Settings{
		Name:        "embedclient",
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}
	return &Client{
		embedder: embedder,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		limiter:  rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Embed waits for a rate-limiter token, then calls the wrapped embedder
// through the circuit breaker. Returns engram.ErrEmbedderUnavailable
// (wrapping the breaker's open-state error) when the circuit is open.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedclient: rate limiter: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.embedder.Embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", engram.ErrEmbedderUnavailable, err)
		}
		return nil, err
	}
	return result.([]float32), nil
}

// State reports the breaker's current state: "closed", "open", or
// "half-open".
func (c *Client) State() string {
	switch c.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
