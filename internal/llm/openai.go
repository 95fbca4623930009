package llm

import (
	"context"
	"os"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// OpenAI generates text through any OpenAI-compatible endpoint via
// langchaingo.
type OpenAI struct {
	llm *openai.LLM
	cfg GeneratorConfig

	mu     sync.RWMutex
	closed bool
}

var _ Generator = (*OpenAI)(nil)

func NewOpenAI(cfg GeneratorConfig) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, errors.New(errors.KindInvalidConfig, "a model is required for the openai generation provider")
	}
	if cfg.APIKeyEnv == "" {
		return nil, errors.New(errors.KindInvalidConfig, "api_key_env is required for the openai generation provider")
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, errors.Newf(errors.KindInvalidConfig, "environment variable %s is empty", cfg.APIKeyEnv).
			WithHint("export the API key in the variable named by api_key_env")
	}

	opts := []openai.Option{
		openai.WithToken(key),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, errors.Wrap(errors.KindProviderUnavailable, "constructing openai client", err)
	}
	return &OpenAI{llm: client, cfg: cfg}, nil
}

// Generate returns the completion for the prompt under the configured
// per-call timeout.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	o.mu.RLock()
	if o.closed {
		o.mu.RUnlock()
		return "", errors.New(errors.KindProviderUnavailable, "generator is closed")
	}
	o.mu.RUnlock()

	callCtx := ctx
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	out, err := llms.GenerateFromSinglePrompt(callCtx, o.llm, prompt)
	if err != nil {
		return "", classify(ctx, err)
	}
	return out, nil
}

func (o *OpenAI) ModelName() string { return o.cfg.Model }

// Available reports readiness; the client is stateless after construction.
func (o *OpenAI) Available(ctx context.Context) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return !o.closed
}

func (o *OpenAI) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}
