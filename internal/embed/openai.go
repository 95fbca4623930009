package embed

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms/openai"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// OpenAIConfig parameterizes the OpenAI-compatible embedding client. The API
// key is read from the environment variable named by APIKeyEnv; keys are
// never inlined in configuration.
type OpenAIConfig struct {
	Model     string
	BaseURL   string
	APIKeyEnv string
	BatchSize int
}

// OpenAI embeds through any OpenAI-compatible endpoint via langchaingo.
type OpenAI struct {
	llm *openai.LLM
	cfg OpenAIConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI builds the client and probes the model once for its dimension.
func NewOpenAI(ctx context.Context, cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, errors.New(errors.KindInvalidConfig, "embedding.model is required for the openai provider")
	}
	if cfg.APIKeyEnv == "" {
		return nil, errors.New(errors.KindInvalidConfig, "embedding.api_key_env is required for the openai provider")
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, errors.Newf(errors.KindInvalidConfig, "environment variable %s is empty", cfg.APIKeyEnv).
			WithHint("export the API key in the variable named by embedding.api_key_env")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}

	opts := []openai.Option{
		openai.WithToken(key),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, errors.Wrap(errors.KindProviderUnavailable, "constructing openai client", err)
	}

	e := &OpenAI{llm: llm, cfg: cfg}
	vecs, err := llm.CreateEmbedding(ctx, []string{"dimension detection"})
	if err != nil {
		return nil, classifyProviderErr(ctx, err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, errors.New(errors.KindProviderUnavailable, "openai returned an empty probe embedding")
	}
	e.dims = len(vecs[0])
	return e, nil
}

// Embed generates the embedding for one text.
func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in provider-sized batches, preserving order.
func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, errors.New(errors.KindProviderUnavailable, "embedder is closed")
	}
	dims := e.dims
	e.mu.RUnlock()

	results := make([][]float32, len(texts))

	type indexed struct {
		idx  int
		text string
	}
	var pending []indexed
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			results[i] = make([]float32, dims)
			continue
		}
		pending = append(pending, indexed{i, t})
	}

	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.cfg.BatchSize, len(pending))
		batch := pending[start:end]

		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		vecs, err := e.llm.CreateEmbedding(ctx, batchTexts)
		if err != nil {
			return nil, classifyProviderErr(ctx, err)
		}
		if len(vecs) != len(batch) {
			return nil, errors.Newf(errors.KindProviderUnavailable,
				"openai returned %d embeddings for %d inputs", len(vecs), len(batch))
		}
		for i, v := range vecs {
			results[batch[i].idx] = v
		}
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAI) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *OpenAI) ModelName() string {
	return e.cfg.Model
}

// Available reports readiness. The client is stateless; construction already
// proved connectivity, so this only reflects Close.
func (e *OpenAI) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *OpenAI) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
