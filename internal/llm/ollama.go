package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

const (
	defaultOllamaURL     = "http://localhost:11434"
	defaultOllamaTimeout = 30 * time.Second
	ollamaProbeTimeout   = 5 * time.Second
)

// Ollama generates text through Ollama's /api/generate endpoint with
// streaming disabled.
type Ollama struct {
	client    *http.Client
	transport *http.Transport
	cfg       GeneratorConfig

	mu     sync.RWMutex
	closed bool
}

var _ Generator = (*Ollama)(nil)

func NewOllama(cfg GeneratorConfig) (*Ollama, error) {
	if cfg.Model == "" {
		return nil, errors.New(errors.KindInvalidConfig, "a model is required for the ollama generation provider")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOllamaTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
	return &Ollama{
		client:    &http.Client{Transport: transport},
		transport: transport,
		cfg:       cfg,
	}, nil
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate returns the completion for the prompt under the configured
// per-call timeout.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	o.mu.RLock()
	if o.closed {
		o.mu.RUnlock()
		return "", errors.New(errors.KindProviderUnavailable, "generator is closed")
	}
	o.mu.RUnlock()

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(ollamaGenerateRequest{Model: o.cfg.Model, Prompt: prompt})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, o.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", classify(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.Newf(errors.KindProviderUnavailable,
			"ollama generate status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(errors.KindProviderUnavailable, "decode generate response", err)
	}
	return result.Response, nil
}

func (o *Ollama) ModelName() string { return o.cfg.Model }

// Available probes the Ollama version endpoint.
func (o *Ollama) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, o.cfg.BaseURL+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (o *Ollama) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.transport.CloseIdleConnections()
	return nil
}

// classify maps a transport failure onto the provider kinds, preferring the
// caller's own context error over the per-call deadline.
func classify(callerCtx context.Context, err error) error {
	if callerCtx.Err() != nil {
		return callerCtx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.KindProviderTimeout, "provider call timed out", err)
	}
	return errors.Wrap(errors.KindProviderUnavailable, "provider call failed", err)
}
