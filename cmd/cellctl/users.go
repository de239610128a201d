// ABOUTME: cellctl user commands
// ABOUTME: Inspects and removes entries in the user directory

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUserCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect the user directory",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all users",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				dir, err := e.Directory(cmd.Context())
				if err != nil {
					return err
				}
				users, err := dir.List(cmd.Context())
				if err != nil {
					return fmt.Errorf("listing users: %w", err)
				}
				printUsers(cmd.OutOrStdout(), users)
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <username>",
			Short: "Show a user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				dir, err := e.Directory(cmd.Context())
				if err != nil {
					return err
				}
				u, err := dir.Get(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("user %q: %w", args[0], err)
				}
				w := cmd.OutOrStdout()
				heading(w, "User "+u.Username)
				field(w, "Cell", u.CellID)
				field(w, "Created", formatTime(u.CreatedAt))
				fmt.Fprintln(w)
				return nil
			},
		},
		&cobra.Command{
			Use:   "cell <username>",
			Short: "Print the cell a user is assigned to",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				dir, err := e.Directory(cmd.Context())
				if err != nil {
					return err
				}
				u, err := dir.Get(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("user %q: %w", args[0], err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), u.CellID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <username>",
			Short: "Remove a user from the directory",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				dir, err := e.Directory(cmd.Context())
				if err != nil {
					return err
				}
				if err := dir.Delete(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("deleting user %q: %w", args[0], err)
				}
				success(cmd.OutOrStdout(), "Deleted user: %s", args[0])
				return nil
			},
		},
	)
	return cmd
}
