// ABOUTME: Operator CLI for the cellular deployment
// ABOUTME: Manages users and cells, drives fleet updates and talks to the router as a client

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/cellular/internal/config"
)

// version is set at build time.
var version = "dev"

const banner = `
            _ _      _   _
  ___ ___| | | ___| |_| |
 / __/ _ \ | |/ __| __| |
| (_|  __/ | | (__| |_| |
 \___\___|_|_|\___|\__|_|
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:           "cellctl",
		Short:         "Operate cells, users and fleet updates",
		Long:          banner + "\nOperate cells, users and fleet updates.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return e.Close()
		},
	}
	root.PersistentFlags().StringVar(&e.configPath, "config", config.DefaultPath("cellctl"), "config file (YAML or TOML)")

	root.AddCommand(
		newUserCommand(e),
		newCellCommand(e),
		newPipelineCommand(e),
		newTokenCommand(e),
		newKeysCommand(),
		newTemplateCommand(e),
		newClientCommand(e),
	)
	return root
}
