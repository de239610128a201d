// ABOUTME: cellctl token and key commands
// ABOUTME: Issues canary tokens and generates Ed25519 signing key pairs

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/2389/cellular/internal/auth"
)

func newTokenCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue capability tokens",
	}

	var username, cellID string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a token for a user and cell, e.g. for a canary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.Config()
			if err != nil {
				return err
			}
			signer, err := auth.LoadSigner(cmd.Context(), cfg.Auth, e.aws.SecretsManager)
			if err != nil {
				return err
			}
			token, err := signer.Issue(username, cellID)
			if err != nil {
				return fmt.Errorf("issuing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().StringVar(&username, "user", "canary", "username the token names")
	issue.Flags().StringVar(&cellID, "cell", "", "cell the token is valid for")
	_ = issue.MarkFlagRequired("cell")

	cmd.AddCommand(issue)
	return cmd
}

func newKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage token signing keys",
	}

	var dir string
	var force bool
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Write a new Ed25519 key pair as private.pem and public.pem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			privPath := filepath.Join(dir, "private.pem")
			pubPath := filepath.Join(dir, "public.pem")
			if !force {
				for _, p := range []string{privPath, pubPath} {
					if _, err := os.Stat(p); err == nil {
						return fmt.Errorf("%s already exists (use --force to overwrite)", p)
					}
				}
			}

			priv, pub, err := auth.GenerateEdDSAKeyPair()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating key directory: %w", err)
			}
			if err := os.WriteFile(privPath, priv, 0o600); err != nil {
				return fmt.Errorf("writing private key: %w", err)
			}
			if err := os.WriteFile(pubPath, pub, 0o644); err != nil {
				return fmt.Errorf("writing public key: %w", err)
			}

			w := cmd.OutOrStdout()
			success(w, "Generated Ed25519 key pair")
			field(w, "Private", privPath)
			field(w, "Public", pubPath)
			return nil
		},
	}
	generate.Flags().StringVar(&dir, "dir", ".", "directory to write the keys to")
	generate.Flags().BoolVar(&force, "force", false, "overwrite existing key files")

	cmd.AddCommand(generate)
	return cmd
}
