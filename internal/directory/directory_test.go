// ABOUTME: Tests for the user directory
// ABOUTME: Covers exactly-once registration, uniform auth failures and hashing

package directory

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/cellular/internal/store"
)

func newTestDirectory(t *testing.T) (*Directory, *store.MockStore) {
	t.Helper()
	s := store.NewMockStore()
	d, err := New(s, WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	return d, s
}

func TestCreate_StoresHashNotCredential(t *testing.T) {
	d, s := newTestDirectory(t)
	ctx := context.Background()

	user, err := d.Create(ctx, "alice", "s3cret", "cell-a")
	require.NoError(t, err)
	assert.Equal(t, "cell-a", user.CellID)

	stored, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", stored.CredentialHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.CredentialHash), prehash("s3cret")))
}

func TestCreate_Duplicate(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	_, err := d.Create(ctx, "alice", "s3cret", "cell-a")
	require.NoError(t, err)

	_, err = d.Create(ctx, "alice", "other", "cell-b")
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	// The original binding and credential survive
	user, err := d.Authenticate(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "cell-a", user.CellID)
}

func TestCreate_Concurrent(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var created atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Create(ctx, "bob", "pw", "cell-a"); err == nil {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
}

func TestCreate_RequiresFields(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	_, err := d.Create(ctx, "", "pw", "cell-a")
	assert.Error(t, err)
	_, err = d.Create(ctx, "alice", "", "cell-a")
	assert.Error(t, err)
	_, err = d.Create(ctx, "alice", "pw", "")
	assert.Error(t, err)
}

func TestAuthenticate_FailuresIndistinguishable(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	_, err := d.Create(ctx, "alice", "s3cret", "cell-a")
	require.NoError(t, err)

	_, wrongErr := d.Authenticate(ctx, "alice", "wrong")
	_, absentErr := d.Authenticate(ctx, "nobody", "s3cret")

	assert.ErrorIs(t, wrongErr, ErrAuthFailed)
	assert.ErrorIs(t, absentErr, ErrAuthFailed)
	assert.Equal(t, wrongErr.Error(), absentErr.Error())
}

func TestCredential_LongerThanBcryptLimit(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	long := strings.Repeat("k", 80)
	_, err := d.Create(ctx, "alice", long, "cell-a")
	require.NoError(t, err)

	user, err := d.Authenticate(ctx, "alice", long)
	require.NoError(t, err)
	assert.Equal(t, "cell-a", user.CellID)

	// Bytes past 72 still count
	_, err = d.Authenticate(ctx, "alice", strings.Repeat("k", 79)+"x")
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestDeleteAndList(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	_, err := d.Create(ctx, "alice", "pw", "cell-a")
	require.NoError(t, err)
	_, err = d.Create(ctx, "bob", "pw", "cell-b")
	require.NoError(t, err)

	users, err := d.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, d.Delete(ctx, "alice"))
	assert.ErrorIs(t, d.Delete(ctx, "alice"), store.ErrNotFound)

	_, err = d.Get(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGenerateCredential(t *testing.T) {
	a, err := GenerateCredential()
	require.NoError(t, err)
	b, err := GenerateCredential()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")
}
