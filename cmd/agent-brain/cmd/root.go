// Package cmd provides the CLI commands for Agent Brain.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
	"github.com/SpillwaveSolutions/agent-brain/internal/output"
	"github.com/SpillwaveSolutions/agent-brain/internal/profiling"
	"github.com/SpillwaveSolutions/agent-brain/pkg/client"
	"github.com/SpillwaveSolutions/agent-brain/pkg/version"
)

// Persistent flags shared by every command.
var (
	flagConfig string
	flagRoot   string
	flagLevel  string
	flagDebug  bool
	flagPlain  bool

	flagProfileCPU   string
	flagProfileMem   string
	flagProfileTrace string
)

// profile is the profiling session for the current run, if any.
var profile *profiling.Session

// out is the styled writer every command prints through.
var out = output.NewWriter(os.Stdout)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent-brain",
		Short: "Local-first retrieval service for project knowledge",
		Long: `Agent Brain indexes a project's documents and code into a local
vector + keyword + knowledge-graph store and serves retrieval over HTTP.

One instance per project; clients discover it through the runtime file in
the project's state directory.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&flagRoot, "root", "", "project root (default: discovered)")
	cmd.PersistentFlags().StringVar(&flagLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "shorthand for --log-level debug")
	cmd.PersistentFlags().BoolVar(&flagPlain, "plain", false, "plain output, no color or styling")
	cmd.PersistentFlags().StringVar(&flagProfileCPU, "profile-cpu", "", "write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&flagProfileMem, "profile-mem", "", "write a heap profile to this file at exit")
	cmd.PersistentFlags().StringVar(&flagProfileTrace, "profile-trace", "", "write an execution trace to this file")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if flagDebug {
			flagLevel = "debug"
		}
		if flagPlain {
			out = output.NewPlain(os.Stdout)
		}
		profile = profiling.New(flagProfileCPU, flagProfileMem, flagProfileTrace)
		return profile.Start()
	}
	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return profile.Stop()
	}

	cmd.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newIndexCmd(),
		newQueryCmd(),
		newJobsCmd(),
		newResetCmd(),
		newConfigCmd(),
		newDoctorCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the CLI. Errors are printed with their hint before the
// non-zero exit.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		out.Error("%s", errorMessage(err))
		out.Hint(errors.HintOf(err))
	}
	return err
}

// errorMessage strips the [Kind] prefix for CLI display.
func errorMessage(err error) string {
	var be *errors.Error
	if errors.As(err, &be) {
		msg := be.Message
		if be.Cause != nil {
			msg += ": " + be.Cause.Error()
		}
		return msg
	}
	return err.Error()
}

// projectRoot resolves the project root: the --root flag, else discovery
// from the working directory.
func projectRoot() (string, error) {
	if flagRoot != "" {
		return flagRoot, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(errors.KindInternal, "resolving working directory", err)
	}
	return config.FindProjectRoot(wd)
}

// loadConfig resolves configuration for the project root.
func loadConfig(root string) (*config.Config, error) {
	return config.Load(config.LoadOptions{
		ExplicitPath: flagConfig,
		ProjectRoot:  root,
	})
}

// discoverClient finds the live instance for the project.
func discoverClient() (*client.Client, error) {
	root, err := projectRoot()
	if err != nil {
		return nil, err
	}
	return client.Discover(root)
}
