package cmd

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// runCLI executes the root command with the given args and resets the
// persistent flag state afterwards so tests stay independent.
func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	t.Cleanup(func() {
		flagConfig, flagRoot, flagLevel = "", "", ""
		flagDebug, flagPlain = false, false
		flagProfileCPU, flagProfileMem, flagProfileTrace = "", "", ""
	})

	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.Execute()
}

func TestConfigInit_WritesLoadableTemplate(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, runCLI(t, "config", "init", "--root", root, "--plain"))

	// The written template must survive the strict loader untouched.
	path := filepath.Join(root, ".config", "agent-brain.yaml")
	cfg, err := config.Load(config.LoadOptions{ExplicitPath: path, ProjectRoot: root})
	require.NoError(t, err)
	assert.Equal(t, config.BackendEmbedded, cfg.Storage.Backend)
}

func TestConfigInit_RefusesOverwriteWithoutForce(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, runCLI(t, "config", "init", "--root", root, "--plain"))

	err := runCLI(t, "config", "init", "--root", root, "--plain")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConflict))

	assert.NoError(t, runCLI(t, "config", "init", "--root", root, "--plain", "--force"))
}
