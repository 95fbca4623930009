package cmd

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/SpillwaveSolutions/agent-brain/internal/job"
	"github.com/SpillwaveSolutions/agent-brain/pkg/client"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage indexing jobs",
	}
	cmd.AddCommand(
		newJobsListCmd(),
		newJobsShowCmd(),
		newJobsCancelCmd(),
		newJobsWatchCmd(),
		newJobsCompactCmd(),
		newJobsRebuildGraphCmd(),
	)
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var (
		statuses []string
		kinds    []string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := discoverClient()
			if err != nil {
				return err
			}
			jobs, err := c.Jobs(cmd.Context(), client.JobsOptions{
				Statuses: statuses,
				Kinds:    kinds,
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				out.Println("no jobs")
				return nil
			}
			for _, j := range jobs {
				line := string(j.Status)
				if j.Error != "" {
					line += "  " + j.Error
				}
				out.Printf("%s  %-13s %-9s %s", j.ID, j.Kind, line, j.CreatedAt.Local().Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (pending, running, done, failed, cancelled)")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "filter by kind (index_path, add_path, rebuild_graph, reset)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum jobs to list")
	return cmd
}

func newJobsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job's full record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := discoverClient()
			if err != nil {
				return err
			}
			j, err := c.Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(j)
		},
	}
}

func newJobsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := discoverClient()
			if err != nil {
				return err
			}
			res, err := c.CancelJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if res.Status == job.StatusCancelled {
				out.Success("%s cancelled", res.JobID)
			} else {
				out.Printf("%s is %s; cancellation requested", res.JobID, res.Status)
			}
			return nil
		},
	}
}

func newJobsWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job until it reaches a terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := discoverClient()
			if err != nil {
				return err
			}
			return watchJob(cmd.Context(), c, args[0])
		},
	}
}

func newJobsCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rewrite the job log to one snapshot per job",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := discoverClient()
			if err != nil {
				return err
			}
			records, err := c.CompactJobs(cmd.Context())
			if err != nil {
				return err
			}
			out.Success("compacted to %d record(s)", records)
			return nil
		},
	}
}

func newJobsRebuildGraphCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "rebuild-graph",
		Short: "Enqueue a knowledge-graph rebuild",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := discoverClient()
			if err != nil {
				return err
			}
			// Rebuilds ride the same queue as indexing; the server turns
			// this into a rebuild_graph job.
			jobs, err := c.Jobs(cmd.Context(), client.JobsOptions{
				Statuses: []string{"running"},
				Limit:    1,
			})
			if err != nil {
				return err
			}
			if len(jobs) > 0 {
				out.Warning("job %s is running; the rebuild will queue behind it", jobs[0].ID)
			}

			enq, err := c.RebuildGraph(cmd.Context())
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
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow the job until it finishes")
	return cmd
}
