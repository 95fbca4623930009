package cmd

import (
	"github.com/spf13/cobra"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
	"github.com/SpillwaveSolutions/agent-brain/internal/lifecycle"
	"github.com/SpillwaveSolutions/agent-brain/internal/preflight"
)

// newDoctorCmd diagnoses the local setup: project root, configuration,
// state directory, disk space, providers, backend, running instance.
func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local setup and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			out.Success("project root: %s", root)

			cfg, err := loadConfig(root)
			if err != nil {
				out.Error("configuration: %s", errorMessage(err))
				out.Hint(errors.HintOf(err))
				// Later checks need a config; fall back to defaults.
				cfg = config.New()
			} else {
				out.Success("configuration: %s", cfg.String())
			}

			results := preflight.Run(cmd.Context(), cfg, root)
			for _, r := range results {
				switch r.Status {
				case preflight.StatusPass:
					out.Success("%s: %s", r.Name, r.Message)
				case preflight.StatusWarn:
					out.Warning("%s: %s", r.Name, r.Message)
					out.Hint(r.Hint)
				case preflight.StatusFail:
					out.Error("%s: %s", r.Name, r.Message)
					out.Hint(r.Hint)
				}
			}

			if rt, err := lifecycle.Discover(config.StateDir(root), nil); err == nil {
				out.Success("instance running: %s (pid %d)", rt.BaseURL, rt.PID)
			} else {
				out.Println("  no running instance (start one with `agent-brain start`)")
			}

			if err != nil || preflight.HasCriticalFailures(results) {
				return errors.New(errors.KindInternal, "doctor found problems")
			}
			out.Println("")
			out.Success("all checks passed")
			return nil
		},
	}
}
