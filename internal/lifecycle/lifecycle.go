// ABOUTME: Lifecycle orchestrator creating, updating and deleting cells as whole units
// ABOUTME: Fleet updates fan out through the batch engine with per-cell failure isolation

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/2389/cellular/internal/batch"
	"github.com/2389/cellular/internal/provision"
	"github.com/2389/cellular/internal/registry"
	"github.com/2389/cellular/internal/store"
)

// ErrProvisioningFailed wraps every stack failure during Create and Update
var ErrProvisioningFailed = errors.New("provisioning failed")

// CreateRequest describes a new cell
type CreateRequest struct {
	CellID   string
	Stage    store.Stage
	ImageRef string
}

// NewCellID allocates a cell id for callers that do not name one
func NewCellID() string {
	return "cell-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Orchestrator drives cell lifecycle operations
type Orchestrator struct {
	cells        store.CellStore
	registry     *registry.Registry
	prov         provision.Provisioner
	runner       *batch.Runner
	defaultImage string
	logger       *slog.Logger
	now          func() time.Time
}

// Options configures an Orchestrator
type Options struct {
	// DefaultImage is used when a create or update names no image and the cell has none
	DefaultImage string
	Logger       *slog.Logger
}

// New creates an Orchestrator
func New(cells store.CellStore, reg *registry.Registry, prov provision.Provisioner, runner *batch.Runner, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cells:        cells,
		registry:     reg,
		prov:         prov,
		runner:       runner,
		defaultImage: opts.DefaultImage,
		logger:       logger.With("component", "lifecycle"),
		now:          time.Now,
	}
}

// Create registers the cell as provisioning, builds its stack and marks it
// active once the stack is complete. On failure the registry entry is removed
// and teardown of any partial stack is requested.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*store.Cell, error) {
	if req.CellID == "" {
		return nil, fmt.Errorf("cell id is required")
	}
	if !req.Stage.Valid() {
		return nil, fmt.Errorf("invalid stage %q", req.Stage)
	}
	image := req.ImageRef
	if image == "" {
		image = o.defaultImage
	}

	now := o.now().UTC()
	cell := &store.Cell{
		ID:        req.CellID,
		Stage:     req.Stage,
		Status:    store.CellStatusProvisioning,
		ImageRef:  image,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.cells.CreateCell(ctx, cell); err != nil {
		return nil, err
	}

	logger := o.logger.With("cell_id", req.CellID)
	logger.Info("provisioning cell", "stage", req.Stage, "image", image)

	ref, err := o.prov.CreateStack(ctx, provision.StackSpec{CellID: req.CellID, Stage: req.Stage, ImageRef: image})
	if err != nil {
		o.abandonCreate(ctx, logger, req.CellID, ref)
		return nil, fmt.Errorf("%w: cell %s: %w", ErrProvisioningFailed, req.CellID, err)
	}

	active, err := o.cells.TransitionCell(ctx, req.CellID, store.Transition{
		From:     []store.CellStatus{store.CellStatusProvisioning},
		To:       store.CellStatusActive,
		StackRef: ref,
		ImageRef: image,
	})
	if err != nil {
		return nil, fmt.Errorf("activating cell %s: %w", req.CellID, err)
	}

	// Record the address now so routers without access to the provisioner
	// can still resolve it
	if addr, err := o.registry.ResolveAddress(ctx, req.CellID); err != nil {
		logger.Warn("cell address not yet available", "error", err)
	} else {
		active.Address = addr
	}

	logger.Info("cell active", "stack", ref)
	return active, nil
}

// abandonCreate undoes a failed Create. It runs even when ctx has expired.
func (o *Orchestrator) abandonCreate(ctx context.Context, logger *slog.Logger, cellID, stackRef string) {
	cleanupCtx := context.WithoutCancel(ctx)

	if _, err := o.cells.DeleteCell(cleanupCtx, cellID); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Error("failed to remove registry entry after provisioning failure", "error", err)
	}
	if stackRef == "" {
		return
	}
	if err := o.prov.DeleteStack(cleanupCtx, stackRef); err != nil {
		logger.Error("failed to request teardown of partial stack", "stack", stackRef, "error", err)
		return
	}
	logger.Warn("requested teardown of partial stack", "stack", stackRef)
}

// Update redeploys each listed cell as one job of a batch. An empty imageRef
// keeps each cell's current image.
func (o *Orchestrator) Update(ctx context.Context, name string, cellIDs []string, imageRef string) (*batch.Report, error) {
	jobs := make([]batch.Job, 0, len(cellIDs))
	for _, id := range cellIDs {
		jobs = append(jobs, batch.Job{
			ID:  id,
			Run: func(ctx context.Context) error { return o.updateCell(ctx, id, imageRef) },
		})
	}
	return o.runner.Run(ctx, name, jobs)
}

// UpdateAll snapshots the active cells of stage, plus any an interrupted
// update left in updating, and updates them
func (o *Orchestrator) UpdateAll(ctx context.Context, name string, stage store.Stage, imageRef string) (*batch.Report, error) {
	cells, err := o.registry.ListUpdatable(ctx, stage)
	if err != nil {
		return nil, fmt.Errorf("listing cells to update: %w", err)
	}
	ids := make([]string, 0, len(cells))
	for _, c := range cells {
		ids = append(ids, c.ID)
	}
	o.logger.Info("updating all cells", "batch", name, "stage", stage, "cells", len(ids))
	return o.Update(ctx, name, ids, imageRef)
}

// updateCell moves the cell to updating, updates its stack and always
// returns it to active. Re-running after a crash is safe: updating is an
// accepted source status and an unchanged stack counts as success.
func (o *Orchestrator) updateCell(ctx context.Context, cellID, imageRef string) error {
	cell, err := o.cells.TransitionCell(ctx, cellID, store.Transition{
		From: []store.CellStatus{store.CellStatusActive, store.CellStatusUpdating},
		To:   store.CellStatusUpdating,
	})
	if err != nil {
		return fmt.Errorf("marking cell %s updating: %w", cellID, err)
	}

	image := imageRef
	if image == "" {
		image = cell.ImageRef
	}
	if image == "" {
		image = o.defaultImage
	}

	var updateErr error
	if cell.StackRef == "" {
		updateErr = fmt.Errorf("cell %s: %w", cellID, provision.ErrStackNotFound)
	} else {
		if err := o.prov.UpdateStack(ctx, cell.StackRef, provision.StackSpec{
			CellID:   cellID,
			Stage:    cell.Stage,
			ImageRef: image,
		}); err != nil {
			updateErr = fmt.Errorf("%w: cell %s: %w", ErrProvisioningFailed, cellID, err)
		}
	}

	restore := store.Transition{
		From: []store.CellStatus{store.CellStatusUpdating},
		To:   store.CellStatusActive,
	}
	if updateErr == nil {
		restore.ImageRef = image
	}
	if _, err := o.cells.TransitionCell(context.WithoutCancel(ctx), cellID, restore); err != nil {
		o.logger.Error("failed to restore cell to active", "cell_id", cellID, "error", err)
		if updateErr == nil {
			return fmt.Errorf("restoring cell %s: %w", cellID, err)
		}
	}

	if updateErr != nil {
		return updateErr
	}
	o.logger.Info("cell updated", "cell_id", cellID, "image", image)
	return nil
}

// Delete removes the cell from the registry first, so no new user can be
// routed to it, and then requests teardown of its stack
func (o *Orchestrator) Delete(ctx context.Context, cellID string) (*store.Cell, error) {
	removed, err := o.registry.Delete(ctx, cellID)
	if err != nil {
		return nil, err
	}
	o.logger.Info("cell deregistered", "cell_id", cellID)

	if removed.StackRef == "" {
		return removed, nil
	}
	if err := o.prov.DeleteStack(ctx, removed.StackRef); err != nil {
		return removed, fmt.Errorf("requesting teardown of %s: %w", removed.StackRef, err)
	}
	o.logger.Info("cell teardown requested", "cell_id", cellID, "stack", removed.StackRef)
	return removed, nil
}

// Kind names the taxonomy of an orchestration error for job reports
func Kind(err error) string {
	var apiErr smithy.APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProvisioningFailed):
		return "ProvisioningFailed"
	case errors.Is(err, store.ErrNotFound):
		return "NotFound"
	case errors.Is(err, store.ErrAlreadyExists):
		return "AlreadyExists"
	case errors.Is(err, store.ErrStatusConflict):
		return "StatusConflict"
	case errors.Is(err, provision.ErrStackNotFound):
		return "StackNotFound"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.As(err, &apiErr):
		return apiErr.ErrorCode()
	default:
		return "Error"
	}
}
