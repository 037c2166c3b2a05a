package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version information",
	Long:  `Display the version and commit hash of the sqlitenorm CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sqlitenorm %s\n", Version)
		fmt.Printf("Commit: %s\n", Commit)
	},
}
