package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bytegrader/bgctl/pkg/version"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bgctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bgctl %s (commit %s, built %s)\n", version.ClientVersion, version.GitCommit, version.BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
