// ABOUTME: Tests for the router service over the mock store
// ABOUTME: Covers assignment, exactly-once registration, uniform login failures and validation

package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/cellular/internal/auth"
	"github.com/2389/cellular/internal/directory"
	"github.com/2389/cellular/internal/provision"
	"github.com/2389/cellular/internal/registry"
	"github.com/2389/cellular/internal/store"
)

var testSecret = []byte("router-test-secret-at-least-32-b")

type fixture struct {
	store    *store.MockStore
	prov     *provision.Memory
	signer   *auth.Signer
	verifier *auth.JWTVerifier
	svc      *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s := store.NewMockStore()
	prov := provision.NewMemory("Cell-", "dnsName", map[string]string{
		"cell-a": "cell-a.example.com",
		"cell-b": "cell-b.example.com",
	})

	dir, err := directory.New(s, directory.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	signer, err := auth.NewHS256Signer(testSecret, 0)
	require.NoError(t, err)
	verifier, err := auth.NewHS256Verifier(testSecret)
	require.NoError(t, err)

	f := &fixture{store: s, prov: prov, signer: signer, verifier: verifier}
	f.svc = NewService(dir, registry.New(s, prov, "dnsName", nil), signer, verifier, opts...)
	return f
}

func (f *fixture) addCell(t *testing.T, id string, stage store.Stage, status store.CellStatus) {
	t.Helper()
	now := time.Now().UTC()
	ref := f.prov.Register(id, "cell:1")
	require.NoError(t, f.store.PutCell(context.Background(), &store.Cell{
		ID: id, Stage: stage, Status: status, StackRef: ref, CreatedAt: now, UpdatedAt: now,
	}))
}

func pickIndex(i int) func(int) int {
	return func(n int) int { return i % n }
}

func TestRegister_AssignsActiveProdCell(t *testing.T) {
	f := newFixture(t, WithPicker(pickIndex(1)))
	f.addCell(t, "cell-a", store.StageProd, store.CellStatusActive)
	f.addCell(t, "cell-b", store.StageProd, store.CellStatusActive)
	f.addCell(t, "cell-c", store.StageProd, store.CellStatusProvisioning)
	f.addCell(t, "sandbox", store.StageSandbox, store.CellStatusActive)

	result, err := f.svc.Register(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "cell-b", result.CellID)
	assert.Empty(t, result.Credential)

	user, err := f.store.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "cell-b", user.CellID)
}

func TestRegister_Duplicate(t *testing.T) {
	f := newFixture(t, WithPicker(pickIndex(0)))
	f.addCell(t, "cell-a", store.StageProd, store.CellStatusActive)
	f.addCell(t, "cell-b", store.StageProd, store.CellStatusActive)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	f.svc.pick = pickIndex(1)
	_, err = f.svc.Register(ctx, "alice", "other")
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	user, err := f.store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "cell-a", user.CellID)
}

func TestRegister_NoCells(t *testing.T) {
	f := newFixture(t)
	f.addCell(t, "sandbox", store.StageSandbox, store.CellStatusActive)

	_, err := f.svc.Register(context.Background(), "alice", "pw")
	assert.ErrorIs(t, err, ErrNoCellsAvailable)

	_, err = f.store.GetUser(context.Background(), "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRegister_EmptyUsername(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), "", "pw")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRegister_GeneratesCredential(t *testing.T) {
	f := newFixture(t)
	f.addCell(t, "cell-a", store.StageProd, store.CellStatusActive)
	ctx := context.Background()

	result, err := f.svc.Register(ctx, "alice", "")
	require.NoError(t, err)
	require.NotEmpty(t, result.Credential)

	_, err = f.svc.Login(ctx, "alice", result.Credential)
	assert.NoError(t, err)
}

func TestRegister_ConcurrentExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.addCell(t, "cell-a", store.StageProd, store.CellStatusActive)
	f.addCell(t, "cell-b", store.StageProd, store.CellStatusActive)

	var wg sync.WaitGroup
	var ok, dup atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(context.Background(), "bob", "pw")
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, store.ErrAlreadyExists):
				dup.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(9), dup.Load())
}

func TestLogin_FailuresIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.addCell(t, "cell-a", store.StageProd, store.CellStatusActive)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	_, wrong := f.svc.Login(ctx, "alice", "nope")
	_, absent := f.svc.Login(ctx, "nobody", "pw")

	assert.ErrorIs(t, wrong, directory.ErrAuthFailed)
	assert.ErrorIs(t, absent, directory.ErrAuthFailed)
	assert.Equal(t, wrong.Error(), absent.Error())
}

func TestLogin_IssuesCellToken(t *testing.T) {
	f := newFixture(t)
	f.addCell(t, "cell-a", store.StageProd, store.CellStatusActive)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	result, err := f.svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "cell-a", result.CellID)
	assert.Equal(t, "cell-a.example.com", result.CellAddress)

	claims, err := f.verifier.Verify(result.Token, "cell-a")
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)

	_, err = f.verifier.Verify(result.Token, "cell-b")
	assert.ErrorIs(t, err, auth.ErrCellMismatch)
}

func TestLogin_AddressUnresolved(t *testing.T) {
	f := newFixture(t)
	f.addCell(t, "cell-x", store.StageProd, store.CellStatusActive) // no address configured
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "alice", "pw")
	assert.ErrorIs(t, err, registry.ErrAddressUnresolved)

	// The assigned cell has since been deleted
	_, err = f.store.DeleteCell(ctx, "cell-x")
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, "alice", "pw")
	assert.ErrorIs(t, err, registry.ErrAddressUnresolved)
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	f.addCell(t, "cell-a", store.StageProd, store.CellStatusActive)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	good, err := f.signer.Issue("alice", "cell-a")
	require.NoError(t, err)
	claims, err := f.svc.Validate(ctx, good)
	require.NoError(t, err)
	assert.Equal(t, "cell-a", claims.CellID)

	otherCell, err := f.signer.Issue("alice", "cell-b")
	require.NoError(t, err)
	_, err = f.svc.Validate(ctx, otherCell)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, auth.ErrCellMismatch)

	unknown, err := f.signer.Issue("mallory", "cell-a")
	require.NoError(t, err)
	_, err = f.svc.Validate(ctx, unknown)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.Validate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, auth.ErrMalformed)
}

// unreadableUsers fails every user lookup, as a store outage would
type unreadableUsers struct{ *store.MockStore }

func (unreadableUsers) GetUser(context.Context, string) (*store.User, error) {
	return nil, errors.New("connection refused")
}

// newOutageService returns a service over f's registry whose user store
// cannot be read
func newOutageService(t *testing.T, f *fixture) *Service {
	t.Helper()
	dir, err := directory.New(unreadableUsers{f.store}, directory.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	return NewService(dir, registry.New(f.store, f.prov, "dnsName", nil), f.signer, f.verifier)
}

func TestValidate_StoreOutageIsNotRejection(t *testing.T) {
	f := newFixture(t)
	svc := newOutageService(t, f)

	token, err := f.signer.Issue("alice", "cell-a")
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), token)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrVerificationUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}

func TestCells(t *testing.T) {
	f := newFixture(t)
	f.addCell(t, "cell-b", store.StageProd, store.CellStatusActive)
	f.addCell(t, "cell-a", store.StageProd, store.CellStatusActive)
	f.addCell(t, "cell-c", store.StageProd, store.CellStatusUpdating)
	f.addCell(t, "cell-d", store.StageSandbox, store.CellStatusActive)
	f.addCell(t, "cell-e", store.StageSandbox, store.CellStatusProvisioning)

	ids, err := f.svc.Cells(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cell-a", "cell-b", "cell-d"}, ids)
	assert.NoError(t, f.svc.Ready(context.Background()))
}
