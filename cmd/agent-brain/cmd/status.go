package cmd

import (
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running instance's health and index counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := discoverClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			health, err := c.GetHealth(ctx)
			if err != nil {
				return err
			}
			status, err := c.GetStatus(ctx)
			if err != nil {
				return err
			}

			out.Header("agent-brain " + health.Version)
			out.Field("base_url", "%s", c.BaseURL())
			out.Field("mode", "%s", health.Mode)
			out.Field("embedding", "%s/%s", health.Embedding.Provider, health.Embedding.Model)
			out.Field("graph", "%v", health.GraphEnabled)
			out.Field("total_chunks", "%d", status.TotalChunks)
			if status.GraphNodes > 0 {
				out.Field("graph_nodes", "%d", status.GraphNodes)
			}
			out.Field("pending_jobs", "%d", status.PendingJobs)
			if status.IndexingInProgress {
				out.Field("current_job", "%s", status.CurrentJobID)
			}
			return nil
		},
	}
}
