package llm

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// Breaker wraps a Generator with a circuit breaker. After consecutive
// provider failures the breaker opens and calls fail fast with
// ProviderUnavailable instead of stacking timeouts inside a running job.
type Breaker struct {
	inner Generator
	cb    *gobreaker.CircuitBreaker
}

var _ Generator = (*Breaker)(nil)

func NewBreaker(inner Generator) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-" + inner.ModelName(),
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation is not a provider failure.
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return !errors.IsRetryable(err)
		},
	})
	return &Breaker{inner: inner, cb: cb}
}

// Generate delegates through the breaker.
func (b *Breaker) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Generate(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", errors.Wrap(errors.KindProviderUnavailable, "provider circuit open", err).
				WithHint("the provider has been failing; it will be re-probed shortly")
		}
		return "", err
	}
	return out.(string), nil
}

func (b *Breaker) ModelName() string { return b.inner.ModelName() }

func (b *Breaker) Available(ctx context.Context) bool {
	if b.cb.State() == gobreaker.StateOpen {
		return false
	}
	return b.inner.Available(ctx)
}

func (b *Breaker) Close() error { return b.inner.Close() }
