// ABOUTME: Cell registry: the set of cells, their status and their resolved addresses
// ABOUTME: Addresses come from the provisioner's stack output and are memoised in the store

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/cellular/internal/provision"
	"github.com/2389/cellular/internal/store"
)

// ErrAddressUnresolved means a cell has no stack or its stack reports no address
var ErrAddressUnresolved = errors.New("cell address unresolved")

// Registry is the cell registry over a CellStore
type Registry struct {
	cells         store.CellStore
	prov          provision.Provisioner
	addressOutput string
	logger        *slog.Logger
}

// New creates a Registry. prov may be nil when only memoised addresses
// should be served.
func New(cells store.CellStore, prov provision.Provisioner, addressOutput string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cells:         cells,
		prov:          prov,
		addressOutput: addressOutput,
		logger:        logger.With("component", "registry"),
	}
}

// ListActive returns cells eligible for assignment. An empty stage matches all.
func (r *Registry) ListActive(ctx context.Context, stage store.Stage) ([]*store.Cell, error) {
	return r.cells.ListCells(ctx, store.CellFilter{
		Stage:    stage,
		Statuses: []store.CellStatus{store.CellStatusActive},
	})
}

// ListUpdatable returns the cells a fleet update targets: active ones and
// those a previous update left in updating
func (r *Registry) ListUpdatable(ctx context.Context, stage store.Stage) ([]*store.Cell, error) {
	return r.cells.ListCells(ctx, store.CellFilter{
		Stage:    stage,
		Statuses: []store.CellStatus{store.CellStatusActive, store.CellStatusUpdating},
	})
}

// ListAll returns every cell that has not been deleted
func (r *Registry) ListAll(ctx context.Context, stage store.Stage) ([]*store.Cell, error) {
	return r.cells.ListCells(ctx, store.CellFilter{
		Stage: stage,
		Statuses: []store.CellStatus{
			store.CellStatusProvisioning,
			store.CellStatusActive,
			store.CellStatusUpdating,
			store.CellStatusDeleting,
		},
	})
}

// Get returns one cell, or store.ErrNotFound
func (r *Registry) Get(ctx context.Context, id string) (*store.Cell, error) {
	return r.cells.GetCell(ctx, id)
}

// Put writes a cell record unconditionally
func (r *Registry) Put(ctx context.Context, cell *store.Cell) error {
	return r.cells.PutCell(ctx, cell)
}

// Delete removes a cell record and returns what was removed
func (r *Registry) Delete(ctx context.Context, id string) (*store.Cell, error) {
	return r.cells.DeleteCell(ctx, id)
}

// ResolveAddress returns the cell's network address, asking the provisioner
// the first time and memoising the answer
func (r *Registry) ResolveAddress(ctx context.Context, cellID string) (string, error) {
	cell, err := r.cells.GetCell(ctx, cellID)
	if err != nil {
		return "", err
	}
	if cell.Address != "" {
		return cell.Address, nil
	}
	if cell.StackRef == "" || r.prov == nil {
		return "", fmt.Errorf("cell %s has no stack: %w", cellID, ErrAddressUnresolved)
	}

	addr, err := r.prov.Output(ctx, cell.StackRef, r.addressOutput)
	if err != nil {
		if errors.Is(err, provision.ErrOutputNotFound) || errors.Is(err, provision.ErrStackNotFound) {
			return "", fmt.Errorf("cell %s: %w: %v", cellID, ErrAddressUnresolved, err)
		}
		return "", fmt.Errorf("resolving address for cell %s: %w", cellID, err)
	}

	if err := r.cells.SetCellAddress(ctx, cellID, addr); err != nil {
		// The address is still correct; the next call resolves it again
		r.logger.Warn("failed to memoise cell address", "cell_id", cellID, "error", err)
	}
	return addr, nil
}
