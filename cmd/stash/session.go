package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/stash/pkg/domain"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage stored sessions",
	Long:  `List, inspect, touch and remove sessions in the configured store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all live sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, _, err := openStash(cmd.Context(), cmd, nil)
		if err != nil {
			return err
		}
		defer s.Close()

		ids, err := s.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(out, "No active sessions found.")
			return nil
		}
		fmt.Fprintln(out, "Active Sessions:")
		for _, id := range ids {
			fmt.Fprintln(out, "- "+id)
		}
		return nil
	},
}

var sessionGetCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Print a session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, _, err := openStash(cmd.Context(), cmd, nil)
		if err != nil {
			return err
		}
		defer s.Close()

		rec, err := s.Load(cmd.Context(), domain.ID(args[0]))
		if err != nil {
			return fmt.Errorf("loading session '%s': %w", args[0], err)
		}

		view := map[string]any{"id": rec.ID}
		if at, ok := rec.Expiry.Time(); ok {
			view["expires_at"] = at
		}
		data := make(map[string]any, len(rec.Data))
		for k, raw := range rec.Data {
			var v any
			if err := domain.DecodeValue(raw, &v); err != nil {
				v = []byte(raw)
			}
			data[k] = v
		}
		view["data"] = data

		b, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling session: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	},
}

var sessionTouchCmd = &cobra.Command{
	Use:   "touch <session-id> <ttl>",
	Short: "Reset the expiry of a session",
	Long:  `Sets the session to expire after ttl (e.g. 30m). A ttl of 0 removes the expiry.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid ttl: %w", err)
		}
		expiry := domain.NoExpiry()
		if ttl != 0 {
			expiry = domain.ExpiresIn(time.Now(), ttl)
		}

		s, _, _, err := openStash(cmd.Context(), cmd, nil)
		if err != nil {
			return err
		}
		defer s.Close()

		rec, err := s.Touch(cmd.Context(), domain.ID(args[0]), expiry)
		if err != nil {
			return fmt.Errorf("touching session '%s': %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session '%s' expires %s\n", rec.ID, rec.Expiry)
		return nil
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, _, err := openStash(cmd.Context(), cmd, nil)
		if err != nil {
			return err
		}
		defer s.Close()

		var errs []error
		for _, id := range args {
			if err := s.Delete(cmd.Context(), domain.ID(id)); err != nil {
				errs = append(errs, fmt.Errorf("removing '%s': %w", id, err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed session '%s'\n", id)
		}
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionGetCmd)
	sessionCmd.AddCommand(sessionTouchCmd)
	sessionCmd.AddCommand(sessionRmCmd)
}
