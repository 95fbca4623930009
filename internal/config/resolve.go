package config

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// EnvConfigPath names the environment variable that points at a config file.
const EnvConfigPath = "AGENT_BRAIN_CONFIG"

// StateDirName is the per-project state directory.
const StateDirName = ".agent-brain"

// projectConfigRelPath is the project-local config location under the root.
var projectConfigRelPath = filepath.Join(".config", "agent-brain.yaml")

// LoadOptions parameterizes Load.
type LoadOptions struct {
	// ExplicitPath is the --config flag value; highest precedence.
	ExplicitPath string

	// ProjectRoot anchors the project-local candidate. Empty means it is
	// resolved from the working directory.
	ProjectRoot string

	// WorkDir is the directory walk-up discovery starts from. Empty means
	// the process working directory.
	WorkDir string
}

// Load resolves and validates the configuration. Source precedence, first
// match wins (files are not merged with each other, only with defaults):
//
//  1. options.ExplicitPath
//  2. $AGENT_BRAIN_CONFIG
//  3. {project_root}/.config/agent-brain.yaml
//  4. walk-up from the working directory for .config/agent-brain.yaml
//  5. ~/.config/agent-brain/config.yaml
//  6. built-in defaults
//
// Scalar environment overrides (AGENT_BRAIN_*) apply after file loading.
func Load(opts LoadOptions) (*Config, error) {
	cfg := New()

	path, required, err := resolvePath(opts)
	if err != nil {
		return nil, err
	}

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
		slog.Debug("config_loaded", slog.String("path", path))
	} else if required {
		// Unreachable today; resolvePath errors directly for explicit paths.
		return nil, errors.New(errors.KindInvalidConfig, "config file not found")
	} else {
		slog.Debug("config_defaults", slog.String("reason", "no config file found"))
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePath returns the first existing candidate. The bool reports whether
// the path was demanded explicitly (missing explicit paths are errors).
func resolvePath(opts LoadOptions) (string, bool, error) {
	if opts.ExplicitPath != "" {
		if _, err := os.Stat(opts.ExplicitPath); err != nil {
			return "", true, errors.Wrapf(errors.KindInvalidConfig, err,
				"config file %s not readable", opts.ExplicitPath)
		}
		return opts.ExplicitPath, true, nil
	}

	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return "", true, errors.Wrapf(errors.KindInvalidConfig, err,
				"%s points at %s which is not readable", EnvConfigPath, envPath)
		}
		return envPath, true, nil
	}

	if opts.ProjectRoot != "" {
		candidate := filepath.Join(opts.ProjectRoot, projectConfigRelPath)
		if fileExists(candidate) {
			return candidate, false, nil
		}
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	if workDir != "" {
		if candidate := walkUpFor(workDir, projectConfigRelPath); candidate != "" {
			return candidate, false, nil
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".config", "agent-brain", "config.yaml")
		if fileExists(candidate) {
			return candidate, false, nil
		}
	}

	return "", false, nil
}

// loadFile decodes YAML strictly on top of cfg. Unknown keys are rejected.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(errors.KindInvalidConfig, err, "reading config %s", path)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return errors.Wrapf(errors.KindInvalidConfig, err, "parsing config %s", path).
			WithHint("unknown keys are rejected; compare against `agent-brain config init` output")
	}
	return nil
}

// applyEnvOverrides applies AGENT_BRAIN_* scalar overrides. These sit above
// file values so one-off runs can redirect a setting without editing files.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENT_BRAIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("AGENT_BRAIN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AGENT_BRAIN_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("AGENT_BRAIN_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("AGENT_BRAIN_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("AGENT_BRAIN_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("AGENT_BRAIN_OLLAMA_URL"); v != "" {
		cfg.Embedding.BaseURL = v
		cfg.Summarization.BaseURL = v
		cfg.Rerank.BaseURL = v
	}
}

// FindProjectRoot resolves the project root for a starting directory:
// the version-control top-level, else the nearest ancestor containing an
// agent-brain marker, else the starting directory itself.
func FindProjectRoot(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	// .git may be a directory or, in worktrees, a file.
	if root := walkUpForEntry(abs, ".git"); root != "" {
		return root, nil
	}
	if root := walkUpForDir(abs, StateDirName); root != "" {
		return root, nil
	}
	if found := walkUpFor(abs, projectConfigRelPath); found != "" {
		return filepath.Dir(filepath.Dir(found)), nil
	}
	return abs, nil
}

// StateDir returns the state directory for a project root.
func StateDir(projectRoot string) string {
	return filepath.Join(projectRoot, StateDirName)
}

// walkUpFor walks from dir to the filesystem root looking for rel; returns
// the full path of the first match or "".
func walkUpFor(dir, rel string) string {
	for {
		candidate := filepath.Join(dir, rel)
		if fileExists(candidate) {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// walkUpForDir walks from dir upward looking for a directory entry named
// name; returns the containing directory or "".
func walkUpForDir(dir, name string) string {
	for {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// walkUpForEntry is walkUpForDir without the directory requirement.
func walkUpForEntry(dir, name string) string {
	for {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
