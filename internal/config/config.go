// Package config defines the typed project configuration and its resolution
// stack: explicit path, environment, project-local file, walk-up discovery,
// user-global file, built-in defaults.
package config

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// Backend identifiers for storage.backend.
const (
	BackendEmbedded = "embedded"
	BackendPostgres = "postgres"
)

// Provider identifiers shared by embedding and generation providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderStatic = "static"
)

// Distance metrics for the relational backend.
const (
	MetricCosine       = "cosine"
	MetricL2           = "l2"
	MetricInnerProduct = "inner_product"
)

// Config is the root configuration for a project instance.
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Summarization SummarizationConfig `yaml:"summarization"`
	Graph         GraphConfig         `yaml:"graph"`
	Rerank        RerankConfig        `yaml:"rerank"`
	Server        ServerConfig        `yaml:"server"`
	Index         IndexConfig         `yaml:"index"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// StorageConfig selects and parameterizes the storage backend.
type StorageConfig struct {
	Backend  string         `yaml:"backend" validate:"oneof=embedded postgres"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig parameterizes the relational backend.
type PostgresConfig struct {
	DSN      string     `yaml:"dsn"`
	MaxConns int        `yaml:"max_conns" validate:"min=0"`
	Metric   string     `yaml:"metric" validate:"oneof=cosine l2 inner_product"`
	HNSW     HNSWConfig `yaml:"hnsw"`
}

// HNSWConfig holds pgvector HNSW index parameters.
type HNSWConfig struct {
	M              int `yaml:"m" validate:"min=0"`
	EfConstruction int `yaml:"ef_construction" validate:"min=0"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider" validate:"oneof=ollama openai static"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	BatchSize int    `yaml:"batch_size" validate:"min=0"`
	TimeoutMS int    `yaml:"timeout_ms" validate:"min=0"`
}

// SummarizationConfig selects the optional summarization provider. The same
// provider drives LLM graph extraction when that is enabled.
type SummarizationConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Provider  string `yaml:"provider" validate:"omitempty,oneof=ollama openai"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	TimeoutMS int    `yaml:"timeout_ms" validate:"min=0"`
}

// GraphConfig toggles knowledge-graph extraction and traversal.
type GraphConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Store               string `yaml:"store" validate:"omitempty,oneof=sqlite postgres"`
	MaxTripletsPerChunk int    `yaml:"max_triplets_per_chunk" validate:"min=0"`
	TraversalDepth      int    `yaml:"traversal_depth" validate:"min=0,max=10"`
	UseLLMExtraction    bool   `yaml:"use_llm_extraction"`
	UseASTExtraction    bool   `yaml:"use_ast_extraction"`
}

// RerankConfig toggles the two-stage reranker.
type RerankConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Provider  string `yaml:"provider" validate:"omitempty,oneof=ollama openai"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	TimeoutMS int    `yaml:"timeout_ms" validate:"min=0"`
}

// ServerConfig parameterizes the HTTP listener and shutdown drain.
type ServerConfig struct {
	Port           int `yaml:"port" validate:"min=0,max=65535"`
	DrainTimeoutMS int `yaml:"drain_timeout_ms" validate:"min=0"`
}

// IndexConfig parameterizes file discovery and chunking.
type IndexConfig struct {
	Include       []string `yaml:"include"`
	Exclude       []string `yaml:"exclude"`
	ChunkSize     int      `yaml:"chunk_size" validate:"min=0"`
	ChunkOverlap  int      `yaml:"chunk_overlap" validate:"min=0"`
	MaxFileSizeMB int      `yaml:"max_file_size_mb" validate:"min=0"`
	EmbedWorkers  int      `yaml:"embed_workers" validate:"min=0,max=64"`
}

// LoggingConfig parameterizes slog output.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	File  string `yaml:"file"`
}

// New returns the built-in defaults. Every resolution layer decodes on top
// of this, so absent keys keep these values.
func New() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: BackendEmbedded,
			Postgres: PostgresConfig{
				MaxConns: 8,
				Metric:   MetricCosine,
				HNSW:     HNSWConfig{M: 16, EfConstruction: 64},
			},
		},
		Embedding: EmbeddingConfig{
			Provider:  ProviderOllama,
			Model:     "nomic-embed-text",
			BaseURL:   "http://localhost:11434",
			BatchSize: 32,
			TimeoutMS: 30000,
		},
		Summarization: SummarizationConfig{
			Provider:  ProviderOllama,
			Model:     "qwen2.5:3b",
			BaseURL:   "http://localhost:11434",
			TimeoutMS: 30000,
		},
		Graph: GraphConfig{
			Store:               "sqlite",
			MaxTripletsPerChunk: 10,
			TraversalDepth:      2,
			UseLLMExtraction:    true,
			UseASTExtraction:    true,
		},
		Rerank: RerankConfig{
			Provider:  ProviderOllama,
			Model:     "qwen2.5:3b",
			BaseURL:   "http://localhost:11434",
			TimeoutMS: 10000,
		},
		Server: ServerConfig{
			Port:           0,
			DrainTimeoutMS: 30000,
		},
		Index: IndexConfig{
			ChunkSize:     512,
			ChunkOverlap:  64,
			MaxFileSizeMB: 5,
			EmbedWorkers:  8,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate applies field constraints and cross-field rules. All violations
// surface as InvalidConfig with a hint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return errors.Newf(errors.KindInvalidConfig, "invalid value for %s (%s)",
				yamlPath(f.Namespace()), f.Tag()).
				WithHint("run `agent-brain config show` to inspect the resolved configuration")
		}
		return errors.Wrap(errors.KindInvalidConfig, "configuration validation failed", err)
	}

	if c.Storage.Backend == BackendPostgres && c.Storage.Postgres.DSN == "" {
		return errors.New(errors.KindInvalidConfig, "storage.backend postgres requires storage.postgres.dsn").
			WithHint("set storage.postgres.dsn or export AGENT_BRAIN_POSTGRES_DSN")
	}

	if c.Embedding.Provider == ProviderOpenAI && c.Embedding.APIKeyEnv == "" {
		return errors.New(errors.KindInvalidConfig, "embedding.provider openai requires embedding.api_key_env").
			WithHint("name the environment variable that holds the API key; keys are never inlined")
	}

	if c.Index.ChunkOverlap >= c.Index.ChunkSize && c.Index.ChunkSize > 0 {
		return errors.Newf(errors.KindInvalidConfig, "index.chunk_overlap %d must be smaller than index.chunk_size %d",
			c.Index.ChunkOverlap, c.Index.ChunkSize)
	}

	if c.Summarization.Enabled && (c.Summarization.Provider == "" || c.Summarization.Model == "") {
		return errors.New(errors.KindInvalidConfig, "summarization.enabled requires provider and model")
	}
	if c.Summarization.Provider == ProviderOpenAI && c.Summarization.Enabled && c.Summarization.APIKeyEnv == "" {
		return errors.New(errors.KindInvalidConfig, "summarization.provider openai requires summarization.api_key_env")
	}

	if c.Graph.Enabled && c.Graph.UseLLMExtraction &&
		(c.Summarization.Provider == "" || c.Summarization.Model == "") {
		return errors.New(errors.KindInvalidConfig, "graph.use_llm_extraction requires a summarization provider and model").
			WithHint("configure the summarization section or set graph.use_llm_extraction: false")
	}

	if c.Rerank.Enabled && (c.Rerank.Provider == "" || c.Rerank.Model == "") {
		return errors.New(errors.KindInvalidConfig, "rerank.enabled requires provider and model")
	}
	if c.Rerank.Enabled && c.Rerank.Provider == ProviderOpenAI && c.Rerank.APIKeyEnv == "" {
		return errors.New(errors.KindInvalidConfig, "rerank.provider openai requires rerank.api_key_env")
	}

	return nil
}

// yamlPath converts a validator namespace (Config.Storage.Postgres.Metric)
// to the YAML path users see (storage.postgres.metric).
func yamlPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:] // drop the root struct name
	}
	for i, p := range parts {
		parts[i] = toSnake(p)
	}
	return strings.Join(parts, ".")
}

func toSnake(s string) string {
	// Field names here are short; replace known acronyms then lower camel.
	replacements := map[string]string{
		"DSN":            "dsn",
		"HNSW":           "hnsw",
		"M":              "m",
		"EfConstruction": "ef_construction",
		"BaseURL":        "base_url",
		"APIKeyEnv":      "api_key_env",
		"TimeoutMS":      "timeout_ms",
		"DrainTimeoutMS": "drain_timeout_ms",
		"MaxTripletsPerChunk": "max_triplets_per_chunk",
		"UseLLMExtraction":    "use_llm_extraction",
		"UseASTExtraction":    "use_ast_extraction",
		"MaxFileSizeMB":       "max_file_size_mb",
	}
	if r, ok := replacements[s]; ok {
		return r
	}
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// String summarizes the settings that matter in logs.
func (c *Config) String() string {
	return fmt.Sprintf("backend=%s embedding=%s/%s graph=%v rerank=%v",
		c.Storage.Backend, c.Embedding.Provider, c.Embedding.Model,
		c.Graph.Enabled, c.Rerank.Enabled)
}
