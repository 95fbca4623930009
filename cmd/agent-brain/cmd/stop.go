package cmd

import (
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
	"github.com/SpillwaveSolutions/agent-brain/internal/lifecycle"
)

// stopWait bounds how long stop waits for the instance to withdraw its
// runtime file after SIGTERM.
const stopWait = 35 * time.Second

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running instance for this project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop()
		},
	}
}

func runStop() error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	stateDir := config.StateDir(root)

	rt, err := lifecycle.Discover(stateDir, nil)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			out.Println("no running instance")
			return nil
		}
		return err
	}

	if err := syscall.Kill(rt.PID, syscall.SIGTERM); err != nil {
		return errors.Wrapf(errors.KindInternal, err, "signalling pid %d", rt.PID)
	}

	// The instance deletes its runtime file on the way out; wait for that
	// rather than polling the process table.
	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if _, err := lifecycle.ReadRuntime(stateDir); errors.IsKind(err, errors.KindNotFound) {
			out.Success("stopped instance %s (pid %d)", rt.InstanceID, rt.PID)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return errors.Newf(errors.KindDeadlineExceeded, "instance %d did not exit within %s", rt.PID, stopWait).
		WithHint("the active job may still be draining; check again shortly")
}
