// Package llm provides the text-generation providers behind summarization,
// LLM graph extraction, and rerank scoring. Remote providers sit behind a
// circuit breaker so a dead endpoint fails fast instead of stalling jobs.
package llm

import (
	"context"
	"time"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// Generator produces text from a prompt.
type Generator interface {
	// Generate returns the model's completion for the prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// ModelName returns the model identifier for health reporting.
	ModelName() string

	// Available probes whether the provider is reachable.
	Available(ctx context.Context) bool

	Close() error
}

// GeneratorConfig is the provider-independent shape shared by the
// summarization and rerank config sections.
type GeneratorConfig struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKeyEnv string
	Timeout   time.Duration
}

// FromSummarization adapts the summarization config section.
func FromSummarization(cfg config.SummarizationConfig) GeneratorConfig {
	return GeneratorConfig{
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		APIKeyEnv: cfg.APIKeyEnv,
		Timeout:   time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}
}

// FromRerank adapts the rerank config section.
func FromRerank(cfg config.RerankConfig) GeneratorConfig {
	return GeneratorConfig{
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		APIKeyEnv: cfg.APIKeyEnv,
		Timeout:   time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}
}

// New constructs the configured generation provider wrapped with the circuit
// breaker. Unknown providers are InvalidConfig at startup.
func New(cfg GeneratorConfig) (Generator, error) {
	var inner Generator
	var err error
	switch cfg.Provider {
	case config.ProviderOllama:
		inner, err = NewOllama(cfg)
	case config.ProviderOpenAI:
		inner, err = NewOpenAI(cfg)
	default:
		return nil, errors.Newf(errors.KindInvalidConfig, "unknown generation provider %q", cfg.Provider).
			WithHint("supported providers: ollama, openai")
	}
	if err != nil {
		return nil, err
	}
	return NewBreaker(inner), nil
}
