package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/pubsub/internal/meta"
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		info := meta.GetInfo()
		out := cmd.OutOrStdout()

		version := info.Version
		if version == "" {
			version = "dev"
		}

		fmt.Fprintf(out, "pubsub %s\n", version)

		if info.Build != "" {
			fmt.Fprintf(out, "  build:    %s (%s)\n", info.Build, info.Branch)
		}

		if info.BuildTime != "" {
			fmt.Fprintf(out, "  built:    %s\n", info.BuildTime)
		}

		fmt.Fprintf(out, "  go:       %s %s\n", info.GoVersion, info.Platform)
	},
}
