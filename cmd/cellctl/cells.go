// ABOUTME: cellctl cell commands
// ABOUTME: Lists the registry and drives cell create, update and delete through the orchestrator

package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2389/cellular/internal/batch"
	"github.com/2389/cellular/internal/lifecycle"
	"github.com/2389/cellular/internal/store"
)

func newCellCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cell",
		Short: "Manage cells",
	}
	cmd.AddCommand(
		newCellListCommand(e),
		newCellGetCommand(e),
		newCellCreateCommand(e),
		newCellUpdateCommand(e),
		newCellUpdateAllCommand(e),
		newCellDeleteCommand(e),
		newCellAddressCommand(e),
	)
	return cmd
}

func newCellListCommand(e *env) *cobra.Command {
	var stage string
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered cells",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := e.Registry(cmd.Context())
			if err != nil {
				return err
			}
			var cells []*store.Cell
			if activeOnly {
				cells, err = reg.ListActive(cmd.Context(), store.Stage(stage))
			} else {
				cells, err = reg.ListAll(cmd.Context(), store.Stage(stage))
			}
			if err != nil {
				return fmt.Errorf("listing cells: %w", err)
			}
			printCells(cmd.OutOrStdout(), cells)
			return nil
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "only cells of this stage (prod or sandbox)")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active cells")
	return cmd
}

func newCellGetCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "get <cell-id>",
		Short: "Show a cell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := e.Registry(cmd.Context())
			if err != nil {
				return err
			}
			c, err := reg.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("cell %q: %w", args[0], err)
			}
			printCell(cmd.OutOrStdout(), c)
			return nil
		},
	}
}

func newCellCreateCommand(e *env) *cobra.Command {
	var id, stage, image string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a new cell and register it as active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := e.Orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			if id == "" {
				id = lifecycle.NewCellID()
			}
			c, err := orch.Create(cmd.Context(), lifecycle.CreateRequest{
				CellID:   id,
				Stage:    store.Stage(stage),
				ImageRef: image,
			})
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Created cell: %s", c.ID)
			printCell(cmd.OutOrStdout(), c)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "cell id (generated when empty)")
	cmd.Flags().StringVar(&stage, "stage", string(store.StageProd), "stage: prod or sandbox")
	cmd.Flags().StringVar(&image, "image", "", "image reference (defaults to orchestrator.default_image)")
	return cmd
}

// batchName returns name, or a fresh one when the operator gave none
func batchName(name string) string {
	if name != "" {
		return name
	}
	return "update-" + uuid.NewString()
}

// finishBatch prints the report, pushes metrics and fails the command when
// any job failed
func finishBatch(cmd *cobra.Command, e *env, report *batch.Report, err error) error {
	e.PushMetrics(cmd.Context())
	if err != nil {
		if errors.Is(err, batch.ErrBatchInProgress) {
			return fmt.Errorf("%w: wait for it to finish or choose another --batch name", err)
		}
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	return report.Err()
}

func newCellUpdateCommand(e *env) *cobra.Command {
	var image, name string

	cmd := &cobra.Command{
		Use:   "update <cell-id>...",
		Short: "Redeploy the listed cells, one independent job per cell",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := e.Orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			report, err := orch.Update(cmd.Context(), batchName(name), args, image)
			return finishBatch(cmd, e, report, err)
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "image reference (keeps each cell's image when empty)")
	cmd.Flags().StringVar(&name, "batch", "", "batch name; repeating a finished batch replays its report")
	return cmd
}

func newCellUpdateAllCommand(e *env) *cobra.Command {
	var stage, image, name string

	cmd := &cobra.Command{
		Use:   "update-all",
		Short: "Redeploy every active cell of a stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := e.Orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			report, err := orch.UpdateAll(cmd.Context(), batchName(name), store.Stage(stage), image)
			return finishBatch(cmd, e, report, err)
		},
	}
	cmd.Flags().StringVar(&stage, "stage", string(store.StageProd), "stage to update; empty for all stages")
	cmd.Flags().StringVar(&image, "image", "", "image reference (keeps each cell's image when empty)")
	cmd.Flags().StringVar(&name, "batch", "", "batch name; repeating a finished batch replays its report")
	return cmd
}

func newCellDeleteCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <cell-id>",
		Short: "Deregister a cell, then tear down its stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := e.Orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := orch.Delete(cmd.Context(), args[0])
			if removed != nil {
				success(cmd.OutOrStdout(), "Deregistered cell: %s", removed.ID)
			}
			if err != nil {
				return err
			}
			if removed.StackRef != "" {
				success(cmd.OutOrStdout(), "Requested teardown of stack: %s", removed.StackRef)
			}
			return nil
		},
	}
}

func newCellAddressCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "address <cell-id>",
		Short: "Resolve and print a cell's network address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := e.Registry(cmd.Context())
			if err != nil {
				return err
			}
			addr, err := reg.ResolveAddress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr)
			return nil
		},
	}
}
