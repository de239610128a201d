// ABOUTME: Tests for the batch report history
// ABOUTME: Validates replay within the TTL, in-progress rejection and bounded size

package batch

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_BeginFinishReplay(t *testing.T) {
	h := NewHistory(time.Hour, 10)

	prev, err := h.Begin("update-1")
	require.NoError(t, err)
	assert.Nil(t, prev)

	// Same name while running
	_, err = h.Begin("update-1")
	assert.ErrorIs(t, err, ErrBatchInProgress)

	report := &Report{Name: "update-1"}
	h.Finish("update-1", report)

	prev, err = h.Begin("update-1")
	require.NoError(t, err)
	assert.Same(t, report, prev)
}

func TestHistory_Expired(t *testing.T) {
	h := NewHistory(time.Minute, 10)
	now := time.Now()
	h.now = func() time.Time { return now }

	_, err := h.Begin("b")
	require.NoError(t, err)
	h.Finish("b", &Report{Name: "b"})

	now = now.Add(2 * time.Minute)
	prev, err := h.Begin("b")
	require.NoError(t, err)
	assert.Nil(t, prev, "expired report must not be replayed")
}

func TestHistory_ZeroTTLNeverReplays(t *testing.T) {
	h := NewHistory(0, 10)

	_, err := h.Begin("b")
	require.NoError(t, err)
	h.Finish("b", &Report{Name: "b"})

	prev, err := h.Begin("b")
	require.NoError(t, err)
	assert.Nil(t, prev)
}

func TestHistory_EvictsOldestFinished(t *testing.T) {
	h := NewHistory(time.Hour, 3)

	// One running entry at the front is never evicted
	_, err := h.Begin("running")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		name := fmt.Sprintf("done-%d", i)
		_, err := h.Begin(name)
		require.NoError(t, err)
		h.Finish(name, &Report{Name: name})
	}
	assert.Equal(t, 3, h.Len())

	_, err = h.Begin("new")
	require.NoError(t, err)
	assert.Equal(t, 3, h.Len())

	_, err = h.Begin("running")
	assert.ErrorIs(t, err, ErrBatchInProgress)

	// done-0 was evicted, so it is a fresh claim
	prev, err := h.Begin("done-0")
	require.NoError(t, err)
	assert.Nil(t, prev)
}
