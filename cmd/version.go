package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X github.com/alimasry/go-docwatch/cmd.Version=...".
var (
	Version = "dev"
	Commit  = "none"
)

// NewVersionCommand returns the command printing the docwatch version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the docwatch version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "docwatch %s (commit %s)\n", Version, Commit)
			return err
		},
	}
}
