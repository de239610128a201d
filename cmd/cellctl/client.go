// ABOUTME: cellctl client commands
// ABOUTME: Exercises the router and a cell gateway over HTTP the way an application would

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/2389/cellular/internal/client"
)

// clientFlags are shared by every client subcommand
type clientFlags struct {
	routerURL  string
	username   string
	credential string
	token      string
	address    string
}

func (f *clientFlags) router(e *env) (*client.Client, error) {
	if f.routerURL != "" {
		return client.New(f.routerURL, 0), nil
	}
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	if cfg.Client.RouterURL == "" {
		return nil, fmt.Errorf("--router or client.router_url is required")
	}
	return client.New(cfg.Client.RouterURL, cfg.Client.Timeout), nil
}

// promptCredential reads the credential without echo when stdin is a terminal
func (f *clientFlags) promptCredential() (string, error) {
	if f.credential != "" {
		return f.credential, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--credential is required when stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Credential: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading credential: %w", err)
	}
	return string(b), nil
}

// session returns a cell session from --token/--address, their environment
// variables, or a fresh login
func (f *clientFlags) session(ctx context.Context, c *client.Client) (*client.Session, error) {
	token, address := f.token, f.address
	if token == "" {
		token = os.Getenv("CELLULAR_TOKEN")
	}
	if address == "" {
		address = os.Getenv("CELLULAR_CELL_ADDRESS")
	}
	if token != "" && address != "" {
		return &client.Session{Token: token, CellAddress: address}, nil
	}

	if f.username == "" {
		return nil, errors.New("--user is required without --token and --address")
	}
	credential, err := f.promptCredential()
	if err != nil {
		return nil, err
	}
	return c.Login(ctx, f.username, credential)
}

func newClientCommand(e *env) *cobra.Command {
	f := &clientFlags{}

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Call the router and cells as a client",
	}
	cmd.PersistentFlags().StringVar(&f.routerURL, "router", "", "router URL (defaults to client.router_url)")
	cmd.PersistentFlags().StringVar(&f.username, "user", "", "username")
	cmd.PersistentFlags().StringVar(&f.credential, "credential", "", "credential (prompted when omitted)")
	cmd.PersistentFlags().StringVar(&f.token, "token", "", "cell token (or CELLULAR_TOKEN)")
	cmd.PersistentFlags().StringVar(&f.address, "address", "", "cell address (or CELLULAR_CELL_ADDRESS)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "register",
			Short: "Register --user; an omitted --credential is generated by the router",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if f.username == "" {
					return errors.New("--user is required")
				}
				c, err := f.router(e)
				if err != nil {
					return err
				}
				reg, err := c.Register(cmd.Context(), f.username, f.credential)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				success(w, "Registered user: %s", reg.Username)
				if reg.Credential != "" {
					field(w, "Credential", reg.Credential)
					fmt.Fprintln(w, "  Store this credential now; it is not shown again.")
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "login",
			Short: "Log in and print the cell token and address",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if f.username == "" {
					return errors.New("--user is required")
				}
				c, err := f.router(e)
				if err != nil {
					return err
				}
				credential, err := f.promptCredential()
				if err != nil {
					return err
				}
				s, err := c.Login(cmd.Context(), f.username, credential)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "export CELLULAR_TOKEN=%s\n", s.Token)
				fmt.Fprintf(w, "export CELLULAR_CELL_ADDRESS=%s\n", s.CellAddress)
				fmt.Fprintf(w, "# cell: %s\n", s.CellID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Ask the router and the cell who the token belongs to",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := f.router(e)
				if err != nil {
					return err
				}
				s, err := f.session(cmd.Context(), c)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				routerID, err := c.Validate(cmd.Context(), s.Token)
				if err != nil {
					return fmt.Errorf("router: %w", err)
				}
				cellID, err := c.Cell(s).Validate(cmd.Context())
				if err != nil {
					return fmt.Errorf("cell: %w", err)
				}
				heading(w, "Token")
				field(w, "User", routerID.Username)
				field(w, "Cell", routerID.CellID)
				field(w, "Cell says", cellID.Username+" @ "+cellID.CellID)
				fmt.Fprintln(w)
				return nil
			},
		},
		&cobra.Command{
			Use:   "put <key> <value>",
			Short: "Store a value in the user's cell",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := f.router(e)
				if err != nil {
					return err
				}
				s, err := f.session(cmd.Context(), c)
				if err != nil {
					return err
				}
				if err := c.Cell(s).Put(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				success(cmd.OutOrStdout(), "Stored %s", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Read a value from the user's cell",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := f.router(e)
				if err != nil {
					return err
				}
				s, err := f.session(cmd.Context(), c)
				if err != nil {
					return err
				}
				v, err := c.Cell(s).Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <key>",
			Short: "Delete a value from the user's cell",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := f.router(e)
				if err != nil {
					return err
				}
				s, err := f.session(cmd.Context(), c)
				if err != nil {
					return err
				}
				if err := c.Cell(s).Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				success(cmd.OutOrStdout(), "Deleted %s", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "cells",
			Short: "List the active cells the router assigns to",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := f.router(e)
				if err != nil {
					return err
				}
				ids, err := c.Cells(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			},
		},
	)
	return cmd
}
