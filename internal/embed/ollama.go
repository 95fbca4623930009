package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// Ollama connection defaults.
const (
	defaultOllamaURL     = "http://localhost:11434"
	ollamaPoolSize       = 8
	ollamaProbeTimeout   = 5 * time.Second
	defaultOllamaTimeout = 30 * time.Second
)

// OllamaConfig parameterizes the Ollama embedding client.
type OllamaConfig struct {
	BaseURL   string
	Model     string
	BatchSize int
	Timeout   time.Duration

	// Dimensions skips the detection probe when set. Zero means detect from
	// a test embedding at construction time.
	Dimensions int
}

// Ollama generates embeddings through Ollama's /api/embed endpoint. The
// client pools connections sized to the embedding fan-out.
type Ollama struct {
	client    *http.Client
	transport *http.Transport
	cfg       OllamaConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*Ollama)(nil)

// NewOllama builds the client and, unless cfg.Dimensions is set, probes the
// model for its dimension so storage can validate it before any ingestion.
func NewOllama(ctx context.Context, cfg OllamaConfig) (*Ollama, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOllamaTimeout
	}
	if cfg.Model == "" {
		return nil, errors.New(errors.KindInvalidConfig, "embedding.model is required for the ollama provider")
	}

	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		MaxConnsPerHost:     ollamaPoolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}
	// Deadlines come from per-request contexts, not a static client timeout.
	e := &Ollama{
		client:    &http.Client{Transport: transport},
		transport: transport,
		cfg:       cfg,
		dims:      cfg.Dimensions,
	}

	if e.dims == 0 {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		dims, err := e.detectDimensions(probeCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, errors.Wrapf(errors.KindProviderUnavailable, err,
				"probing ollama model %s at %s", cfg.Model, cfg.BaseURL).
				WithHint("check that ollama is running and the model is pulled")
		}
		e.dims = dims
	}
	return e, nil
}

// detectDimensions embeds a test string and measures the reply.
func (e *Ollama) detectDimensions(ctx context.Context) (int, error) {
	vecs, err := e.doEmbed(ctx, []string{"dimension detection"})
	if err != nil {
		return 0, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned")
	}
	return len(vecs[0]), nil
}

// Embed generates the embedding for one text. Whitespace-only input maps to
// the zero vector without a provider round-trip.
func (e *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in provider-sized batches, preserving order.
func (e *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, errors.New(errors.KindProviderUnavailable, "embedder is closed")
	}
	dims := e.dims
	e.mu.RUnlock()

	results := make([][]float32, len(texts))

	// Empty inputs embed as zero vectors; only real text goes to the API.
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

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		vecs, err := e.doEmbed(callCtx, batchTexts)
		cancel()
		if err != nil {
			return nil, classifyProviderErr(ctx, err)
		}
		if len(vecs) != len(batch) {
			return nil, errors.Newf(errors.KindProviderUnavailable,
				"ollama returned %d embeddings for %d inputs", len(vecs), len(batch))
		}
		for i, v := range vecs {
			if len(v) != dims {
				return nil, errors.Newf(errors.KindProviderUnavailable,
					"ollama returned a %d-dim embedding, expected %d", len(v), dims)
			}
			results[batch[i].idx] = v
		}
	}
	return results, nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *Ollama) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama embed status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return result.Embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *Ollama) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier.
func (e *Ollama) ModelName() string {
	return e.cfg.Model
}

// Available probes the Ollama version endpoint.
func (e *Ollama) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, e.cfg.BaseURL+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close drains pooled connections.
func (e *Ollama) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}

// classifyProviderErr maps a transport failure onto the provider error
// kinds: the per-call deadline becomes ProviderTimeout unless the caller's
// own context expired.
func classifyProviderErr(callerCtx context.Context, err error) error {
	if callerCtx.Err() != nil {
		return callerCtx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.KindProviderTimeout, "provider call timed out", err)
	}
	return errors.Wrap(errors.KindProviderUnavailable, "provider call failed", err).
		WithHint("check provider connectivity and configuration")
}
