package embed

import (
	"context"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// Retrying wraps an Embedder with the shared transient-failure backoff
// (base 200ms, cap 5s, 5 attempts). Non-retryable errors pass straight
// through.
type Retrying struct {
	inner Embedder
	cfg   errors.RetryConfig
}

var _ Embedder = (*Retrying)(nil)

func NewRetrying(inner Embedder) *Retrying {
	return &Retrying{inner: inner, cfg: errors.DefaultRetryConfig()}
}

func (r *Retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	return errors.RetryWithResult(ctx, r.cfg, func() ([]float32, error) {
		return r.inner.Embed(ctx, text)
	})
}

func (r *Retrying) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return errors.RetryWithResult(ctx, r.cfg, func() ([][]float32, error) {
		return r.inner.EmbedBatch(ctx, texts)
	})
}

func (r *Retrying) Dimensions() int   { return r.inner.Dimensions() }
func (r *Retrying) ModelName() string { return r.inner.ModelName() }

func (r *Retrying) Available(ctx context.Context) bool { return r.inner.Available(ctx) }

func (r *Retrying) Close() error { return r.inner.Close() }
