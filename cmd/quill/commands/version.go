package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/quill/internal/script"
)

func newVersionCommand(a *app) *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, a.build.Version)
				return nil
			}
			fmt.Fprintf(out, "quill %s (commit %s, built %s)\n", a.build.Version, a.build.Commit, a.build.Date)
			fmt.Fprintf(out, "hook API %s\n", script.APIVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print only the version")
	return cmd
}
