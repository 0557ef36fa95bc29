package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fstext/internal/config"
	"github.com/Aman-CERP/fstext/pkg/version"
)

// versionReport is the --json output of `fstext version`.
type versionReport struct {
	version.Info
	Backends []string `json:"backends"`
}

func newVersionCmd() *cobra.Command {
	var asJSON, short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			info := version.Get()

			switch {
			case short:
				_, err := fmt.Fprintln(out, info.Version)
				return err
			case asJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(versionReport{
					Info:     info,
					Backends: []string{config.BackendBleve, config.BackendSQLite},
				})
			default:
				_, err := fmt.Fprintln(out, info.String())
				return err
			}
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print build information as JSON")
	cmd.Flags().BoolVar(&short, "short", false, "print only the version")
	cmd.MarkFlagsMutuallyExclusive("json", "short")

	return cmd
}
