package cmd

import (
	"context"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/SpillwaveSolutions/agent-brain/internal/job"
	"github.com/SpillwaveSolutions/agent-brain/internal/tui"
	"github.com/SpillwaveSolutions/agent-brain/pkg/client"
)

func newIndexCmd() *cobra.Command {
	var (
		recursive    bool
		includeCode  bool
		chunkSize    int
		chunkOverlap int
		force        bool
		add          bool
		watch        bool
	)

	cmd := &cobra.Command{
		Use:   "index [folder]",
		Short: "Enqueue an indexing job for the project or one folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := discoverClient()
			if err != nil {
				return err
			}

			req := client.IndexRequest{
				Recursive:    &recursive,
				IncludeCode:  &includeCode,
				ChunkSize:    chunkSize,
				ChunkOverlap: chunkOverlap,
				Force:        force,
			}
			if len(args) == 1 {
				req.FolderPath = args[0]
			}

			ctx := cmd.Context()
			var enq *client.Enqueued
			if add {
				enq, err = c.Add(ctx, req)
			} else {
				enq, err = c.Index(ctx, req)
			}
			if err != nil {
				return err
			}

			if !watch {
				out.Success("enqueued %s", enq.JobID)
				out.Hint("follow it with `agent-brain jobs watch " + enq.JobID + "`")
				return nil
			}
			return watchJob(ctx, c, enq.JobID)
		},
	}

	cmd.Flags().BoolVar(&recursive, "recursive", true, "descend into subdirectories")
	cmd.Flags().BoolVar(&includeCode, "include-code", true, "index source files alongside documents")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "override chunk size in tokens")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "override chunk overlap in tokens")
	cmd.Flags().BoolVar(&force, "force", false, "re-index files with unchanged content")
	cmd.Flags().BoolVar(&add, "add", false, "add-only job; refuses while another job is running")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow the job until it finishes")
	return cmd
}

// watchJob follows a job to its terminal state, live on a TTY, line by line
// otherwise.
func watchJob(ctx context.Context, c *client.Client, id string) error {
	initial, err := c.Job(ctx, id)
	if err != nil {
		return err
	}

	updates := make(chan job.Job, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(updates)
		_, err := c.WaitJob(ctx, id, func(j job.Job) {
			select {
			case updates <- j:
			default:
			}
		})
		errCh <- err
	}()

	var final job.Job
	if isatty.IsTerminal(os.Stdout.Fd()) && !flagPlain {
		var detached bool
		final, detached, err = tui.Watch(*initial, updates)
		if err != nil {
			return err
		}
		if detached {
			out.Println("detached; the job keeps running")
			return nil
		}
	} else {
		final = tui.WatchPlain(out, *initial, updates)
	}
	if err := <-errCh; err != nil {
		return err
	}

	switch final.Status {
	case job.StatusDone:
		out.Success("%s finished: %d chunks indexed", final.ID, final.ChunksAfter)
	case job.StatusCancelled:
		out.Warning("%s was cancelled", final.ID)
	case job.StatusFailed:
		out.Error("%s failed: %s", final.ID, final.Error)
	}
	return nil
}
