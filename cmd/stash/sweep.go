package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge expired sessions once",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, _, err := openStash(cmd.Context(), cmd, nil)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Sweep(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Sweep complete.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
