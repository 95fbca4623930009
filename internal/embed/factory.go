package embed

import (
	"context"
	"time"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// New constructs the configured embedding provider wrapped with the LRU
// cache and the transient-failure retry layer. Unknown providers are
// InvalidConfig here, at startup, not at first use.
func New(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	inner, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewRetrying(NewCached(inner, DefaultCacheSize)), nil
}

func newProvider(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		return NewOllama(ctx, OllamaConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
			Timeout:   time.Duration(cfg.TimeoutMS) * time.Millisecond,
		})
	case config.ProviderOpenAI:
		return NewOpenAI(ctx, OpenAIConfig{
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			APIKeyEnv: cfg.APIKeyEnv,
			BatchSize: cfg.BatchSize,
		})
	case config.ProviderStatic:
		return NewStatic(), nil
	default:
		return nil, errors.Newf(errors.KindInvalidConfig, "unknown embedding provider %q", cfg.Provider).
			WithHint("supported providers: ollama, openai, static")
	}
}
