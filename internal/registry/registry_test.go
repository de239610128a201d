// ABOUTME: Tests for the cell registry
// ABOUTME: Covers active filtering and lazy, memoised address resolution

package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cellular/internal/provision"
	"github.com/2389/cellular/internal/store"
)

func putCell(t *testing.T, s store.CellStore, id string, stage store.Stage, status store.CellStatus, stackRef string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.PutCell(context.Background(), &store.Cell{
		ID: id, Stage: stage, Status: status, StackRef: stackRef, CreatedAt: now, UpdatedAt: now,
	}))
}

func TestListActive(t *testing.T) {
	s := store.NewMockStore()
	r := New(s, nil, "dnsName", nil)

	putCell(t, s, "a", store.StageProd, store.CellStatusActive, "")
	putCell(t, s, "b", store.StageProd, store.CellStatusProvisioning, "")
	putCell(t, s, "c", store.StageSandbox, store.CellStatusActive, "")
	putCell(t, s, "d", store.StageProd, store.CellStatusDeleted, "")

	prod, err := r.ListActive(context.Background(), store.StageProd)
	require.NoError(t, err)
	require.Len(t, prod, 1)
	assert.Equal(t, "a", prod[0].ID)

	unstaged, err := r.ListActive(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, unstaged, 2)

	all, err := r.ListAll(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestListUpdatable(t *testing.T) {
	s := store.NewMockStore()
	r := New(s, nil, "dnsName", nil)

	putCell(t, s, "a", store.StageProd, store.CellStatusActive, "")
	putCell(t, s, "b", store.StageProd, store.CellStatusUpdating, "")
	putCell(t, s, "c", store.StageProd, store.CellStatusProvisioning, "")
	putCell(t, s, "d", store.StageSandbox, store.CellStatusUpdating, "")

	cells, err := r.ListUpdatable(context.Background(), store.StageProd)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, "a", cells[0].ID)
	assert.Equal(t, "b", cells[1].ID)
}

func TestResolveAddress_Memoised(t *testing.T) {
	s := store.NewMockStore()
	prov := provision.NewMemory("Cell-", "dnsName", map[string]string{"a": "a.example.com"})
	ref := prov.Register("a", "")
	putCell(t, s, "a", store.StageProd, store.CellStatusActive, ref)

	r := New(s, prov, "dnsName", nil)
	ctx := context.Background()

	addr, err := r.ResolveAddress(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.example.com", addr)

	cell, err := s.GetCell(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.example.com", cell.Address)

	// Once memoised the provisioner is no longer consulted
	prov.SetAddress("a", "moved.example.com")
	addr, err = r.ResolveAddress(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.example.com", addr)
}

func TestResolveAddress_Unresolved(t *testing.T) {
	s := store.NewMockStore()
	prov := provision.NewMemory("Cell-", "dnsName", nil)
	r := New(s, prov, "dnsName", nil)
	ctx := context.Background()

	putCell(t, s, "nostack", store.StageProd, store.CellStatusActive, "")
	_, err := r.ResolveAddress(ctx, "nostack")
	assert.ErrorIs(t, err, ErrAddressUnresolved)

	ref := prov.Register("nooutput", "")
	putCell(t, s, "nooutput", store.StageProd, store.CellStatusActive, ref)
	_, err = r.ResolveAddress(ctx, "nooutput")
	assert.ErrorIs(t, err, ErrAddressUnresolved)

	putCell(t, s, "gone", store.StageProd, store.CellStatusActive, "Cell-gone")
	_, err = r.ResolveAddress(ctx, "gone")
	assert.ErrorIs(t, err, ErrAddressUnresolved)

	_, err = r.ResolveAddress(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPutGetDelete(t *testing.T) {
	s := store.NewMockStore()
	r := New(s, nil, "dnsName", nil)
	ctx := context.Background()

	putCell(t, s, "a", store.StageProd, store.CellStatusActive, "ref")
	cell, err := r.Get(ctx, "a")
	require.NoError(t, err)
	cell.Address = "manual.example.com"
	require.NoError(t, r.Put(ctx, cell))

	removed, err := r.Delete(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "manual.example.com", removed.Address)

	_, err = r.Get(ctx, "a")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
