package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SpillwaveSolutions/agent-brain/internal/store"
	"github.com/SpillwaveSolutions/agent-brain/pkg/client"
)

func newQueryCmd() *cobra.Command {
	var (
		mode          string
		topK          int
		threshold     float64
		alpha         float64
		depth         int
		includeScores bool
		asJSON        bool
		sourceTypes   []string
		languages     []string
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Query the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := discoverClient()
			if err != nil {
				return err
			}

			req := client.QueryRequest{
				Text: strings.Join(args, " "),
				Mode: mode,
				Filters: store.Filters{
					SourceTypes: sourceTypes,
					Languages:   languages,
				}.Wire(),
				TraversalDepth: depth,
				IncludeScores:  includeScores,
			}
			if cmd.Flags().Changed("top-k") {
				req.TopK = &topK
			}
			if cmd.Flags().Changed("threshold") {
				req.Threshold = &threshold
			}
			if cmd.Flags().Changed("alpha") {
				req.Alpha = &alpha
			}

			resp, err := c.Query(cmd.Context(), req)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printResults(resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "", "vector, keyword, hybrid, graph, or multi (default hybrid)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "number of results")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.7, "minimum normalized score")
	cmd.Flags().Float64Var(&alpha, "alpha", 0.5, "vector weight for hybrid fusion")
	cmd.Flags().IntVar(&depth, "depth", 0, "graph traversal depth (default from config)")
	cmd.Flags().BoolVar(&includeScores, "scores", false, "show per-signal scores")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the raw JSON response")
	cmd.Flags().StringSliceVar(&sourceTypes, "source-type", nil, "filter by source type (document, code)")
	cmd.Flags().StringSliceVar(&languages, "language", nil, "filter by language")
	return cmd
}

func printResults(resp *client.QueryResponse) {
	if len(resp.Results) == 0 {
		out.Println("no results")
		return
	}
	if resp.RerankDegraded {
		out.Warning("reranker unavailable; showing first-stage ordering")
	}

	for i, r := range resp.Results {
		loc := r.Chunk.SourcePath
		if r.Chunk.StartLine > 0 {
			loc = fmt.Sprintf("%s:%d", loc, r.Chunk.StartLine)
		}
		out.Printf("%d. %s  (%.3f)", i+1, loc, r.Score)
		if r.Node != "" {
			out.Printf("   via %s (depth %d)", r.Node, r.Depth)
		}
		if r.VectorScore != nil {
			out.Printf("   vector %.3f · keyword %.3f", *r.VectorScore, *r.KeywordScore)
		}
		out.Println("   " + excerpt(r.Chunk.Text))
		out.Println("")
	}
	out.Printf("%d results (%s, %dms)", len(resp.Results), resp.Mode, resp.DurationMS)
}

// excerpt renders the first meaningful line of a chunk.
func excerpt(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			if len(line) > 120 {
				line = line[:117] + "..."
			}
			return line
		}
	}
	return ""
}
