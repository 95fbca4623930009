package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
)

func TestCheckStateDir_CreatesAndPasses(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".agent-brain")

	r := CheckStateDir(dir)
	assert.Equal(t, StatusPass, r.Status)
	assert.DirExists(t, dir)
}

func TestCheckDiskSpace_PassesOnTempDir(t *testing.T) {
	r := CheckDiskSpace(t.TempDir())
	assert.Equal(t, StatusPass, r.Status)
	assert.Contains(t, r.Message, "free")
}

func TestCheckProvider(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ollama.Close()

	ctx := context.Background()

	t.Run("static always passes", func(t *testing.T) {
		r := CheckProvider(ctx, "embedding", config.ProviderStatic, "", "", true)
		assert.Equal(t, StatusPass, r.Status)
	})

	t.Run("reachable ollama passes", func(t *testing.T) {
		r := CheckProvider(ctx, "embedding", config.ProviderOllama, ollama.URL, "", true)
		assert.Equal(t, StatusPass, r.Status)
	})

	t.Run("unreachable ollama fails when required", func(t *testing.T) {
		r := CheckProvider(ctx, "embedding", config.ProviderOllama, "http://127.0.0.1:1", "", true)
		assert.Equal(t, StatusFail, r.Status)
		assert.True(t, r.IsCritical())
		assert.NotEmpty(t, r.Hint)
	})

	t.Run("unreachable ollama warns when optional", func(t *testing.T) {
		r := CheckProvider(ctx, "rerank", config.ProviderOllama, "http://127.0.0.1:1", "", false)
		assert.Equal(t, StatusWarn, r.Status)
		assert.False(t, r.IsCritical())
	})

	t.Run("openai without key fails", func(t *testing.T) {
		r := CheckProvider(ctx, "embedding", config.ProviderOpenAI, "", "PREFLIGHT_TEST_UNSET_KEY", true)
		assert.Equal(t, StatusFail, r.Status)
	})

	t.Run("openai with key passes", func(t *testing.T) {
		t.Setenv("PREFLIGHT_TEST_KEY", "sk-something")
		r := CheckProvider(ctx, "embedding", config.ProviderOpenAI, "", "PREFLIGHT_TEST_KEY", true)
		assert.Equal(t, StatusPass, r.Status)
	})
}

func TestCheckBackend_EmbeddedPasses(t *testing.T) {
	r := CheckBackend(context.Background(), config.New())
	assert.Equal(t, StatusPass, r.Status)
}

func TestCheckBackend_PostgresUnreachableFails(t *testing.T) {
	cfg := config.New()
	cfg.Storage.Backend = config.BackendPostgres
	cfg.Storage.Postgres.DSN = "postgres://user:pw@127.0.0.1:1/agentbrain"

	r := CheckBackend(context.Background(), cfg)
	assert.Equal(t, StatusFail, r.Status)
	assert.Contains(t, r.Message, "unreachable")
}

func TestRun_CoversConfiguredProviders(t *testing.T) {
	cfg := config.New()
	cfg.Embedding.Provider = config.ProviderStatic
	cfg.Rerank.Enabled = true
	cfg.Rerank.BaseURL = "http://127.0.0.1:1"

	results := Run(context.Background(), cfg, t.TempDir())
	require.GreaterOrEqual(t, len(results), 5)

	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	assert.Contains(t, names, "state_dir")
	assert.Contains(t, names, "disk_space")
	assert.Contains(t, names, "storage_backend")
	assert.Contains(t, names, "embedding_provider")
	assert.Contains(t, names, "rerank_provider")

	// The unreachable reranker is optional, so it must not be critical.
	assert.False(t, HasCriticalFailures(results))
}
