package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/stash"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of stash",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "stash version %s\n", strings.TrimSpace(stash.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
