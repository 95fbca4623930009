package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	var (
		yes   bool
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all indexed data for this project",
		Long: `Reset enqueues a job that wipes every chunk, embedding, and graph
triple for the project. The instance keeps running; re-index afterwards
with agent-brain index.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm("This deletes the entire index for this project. Continue? [y/N] ") {
				out.Println("aborted")
				return nil
			}

			c, err := discoverClient()
			if err != nil {
				return err
			}
			enq, err := c.Reset(cmd.Context())
			if err != nil {
				return err
			}
			if watch {
				return watchJob(cmd.Context(), c, enq.JobID)
			}
			out.Success("enqueued %s", enq.JobID)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow the job until it finishes")
	return cmd
}

// confirm prompts on stdout and reads one line from stdin. Anything but an
// explicit yes declines, including a closed stdin.
func confirm(prompt string) bool {
	fmt.Fprint(os.Stdout, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
