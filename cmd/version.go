package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/pterodactyl/sharefs/system"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sharefs %s (%s %s/%s)\n", system.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
