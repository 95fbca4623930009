// Package preflight checks the local environment before an instance can do
// useful work: state directory, disk space, providers, storage backend.
// The doctor command renders these for humans; start consults the required
// ones.
package preflight

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
)

// Status is the outcome of one check.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// Result holds the outcome of a single check.
type Result struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Hint     string `json:"hint,omitempty"`
	Required bool   `json:"required"`
}

// IsCritical reports a required check that failed.
func (r Result) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// probeTimeout bounds each network probe.
const probeTimeout = 3 * time.Second

// Run executes every check for the project and returns the results in
// display order.
func Run(ctx context.Context, cfg *config.Config, projectRoot string) []Result {
	stateDir := config.StateDir(projectRoot)

	results := []Result{
		CheckStateDir(stateDir),
		CheckDiskSpace(stateDir),
		CheckBackend(ctx, cfg),
		CheckProvider(ctx, "embedding", cfg.Embedding.Provider, cfg.Embedding.BaseURL, cfg.Embedding.APIKeyEnv, true),
	}
	if cfg.Summarization.Enabled {
		results = append(results,
			CheckProvider(ctx, "summarization", cfg.Summarization.Provider, cfg.Summarization.BaseURL, cfg.Summarization.APIKeyEnv, false))
	}
	if cfg.Rerank.Enabled {
		results = append(results,
			CheckProvider(ctx, "rerank", cfg.Rerank.Provider, cfg.Rerank.BaseURL, cfg.Rerank.APIKeyEnv, false))
	}
	return results
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []Result) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// CheckStateDir verifies the state directory exists (creating it if absent,
// start would do the same) and accepts writes.
func CheckStateDir(dir string) Result {
	r := Result{Name: "state_dir", Required: true}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.Status = StatusFail
		r.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return r
	}
	probe := filepath.Join(dir, ".preflight-probe")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		r.Status = StatusFail
		r.Message = fmt.Sprintf("%s is not writable: %v", dir, err)
		return r
	}
	_ = os.Remove(probe)

	r.Status = StatusPass
	r.Message = dir
	return r
}

// CheckBackend verifies the storage backend is reachable. Embedded needs
// nothing beyond the state directory; postgres must accept a TCP connection.
func CheckBackend(ctx context.Context, cfg *config.Config) Result {
	r := Result{Name: "storage_backend", Required: true}

	if cfg.Storage.Backend != config.BackendPostgres {
		r.Status = StatusPass
		r.Message = config.BackendEmbedded
		return r
	}

	cc, err := pgx.ParseConfig(cfg.Storage.Postgres.DSN)
	if err != nil {
		r.Status = StatusFail
		r.Message = fmt.Sprintf("invalid dsn: %v", err)
		r.Hint = "check storage.postgres.dsn"
		return r
	}
	addr := net.JoinHostPort(cc.Host, fmt.Sprintf("%d", cc.Port))
	conn, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		r.Status = StatusFail
		r.Message = fmt.Sprintf("postgres at %s is unreachable", addr)
		r.Hint = "is the database running?"
		return r
	}
	_ = conn.Close()

	r.Status = StatusPass
	r.Message = "postgres at " + addr
	return r
}

// CheckProvider verifies a provider is usable without embedding or
// generating anything: Ollama answers its version endpoint, OpenAI has its
// key in the environment, static needs nothing. Optional providers degrade
// at runtime, so their failures are warnings.
func CheckProvider(ctx context.Context, name, provider, baseURL, apiKeyEnv string, required bool) Result {
	r := Result{Name: name + "_provider", Required: required}
	failStatus := StatusFail
	if !required {
		failStatus = StatusWarn
	}

	switch provider {
	case config.ProviderStatic:
		r.Status = StatusPass
		r.Message = "static"
	case config.ProviderOpenAI:
		if apiKeyEnv == "" || os.Getenv(apiKeyEnv) == "" {
			r.Status = failStatus
			r.Message = "api key missing"
			r.Hint = "export the variable named by " + name + ".api_key_env"
			return r
		}
		r.Status = StatusPass
		r.Message = "openai (key present)"
	case config.ProviderOllama:
		if err := probeOllama(ctx, baseURL); err != nil {
			r.Status = failStatus
			r.Message = err.Error()
			r.Hint = "start ollama (`ollama serve`) or point " + name + ".base_url at it"
			return r
		}
		r.Status = StatusPass
		r.Message = "ollama at " + baseURL
	default:
		r.Status = failStatus
		r.Message = fmt.Sprintf("unknown provider %q", provider)
	}
	return r
}

func probeOllama(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("invalid base url %s", baseURL)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama at %s is unreachable", baseURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama at %s answered %d", baseURL, resp.StatusCode)
	}
	return nil
}
