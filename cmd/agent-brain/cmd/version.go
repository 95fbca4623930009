package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/SpillwaveSolutions/agent-brain/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(version.GetInfo())
			}
			out.Println(version.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit build info as JSON")
	return cmd
}
