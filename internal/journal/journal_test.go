package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizonanalytic/lattice-sub007/internal/invocation"
	"github.com/horizonanalytic/lattice-sub007/internal/testutil"
)

func openTestJournal(t *testing.T, opts ...Option) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func pending(id uint64, signal string) invocation.Pending {
	return invocation.Pending{
		ID: id,
		Command: invocation.Descriptor{
			Type:    invocation.TypeInvokeSlot,
			Signal:  signal,
			Payload: "42",
		},
		RegisteredAt: testutil.Epoch,
		Orphaned:     true,
	}
}

func TestOpen_ConfiguresWAL(t *testing.T) {
	j := openTestJournal(t)

	var mode string
	require.NoError(t, j.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, j.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 3; i++ {
		j, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, j.Close())
	}
}

func TestJournal_RecordAndList(t *testing.T) {
	clock := testutil.NewManualClock()
	j := openTestJournal(t, WithClock(clock))
	ctx := context.Background()

	clock.Advance(time.Second)
	id1, err := j.Record(ctx, pending(7, "value_changed"))
	require.NoError(t, err)
	clock.Advance(time.Second)
	id2, err := j.Record(ctx, pending(9, "clicked"))
	require.NoError(t, err)
	assert.Less(t, id1, id2, "ids sort in reap order")

	entries, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, id1, entries[0].ID)
	assert.Equal(t, uint64(7), entries[0].InvocationID)
	assert.Equal(t, "value_changed", entries[0].Command.Signal)
	assert.Equal(t, "42", entries[0].Command.Payload)
	assert.True(t, entries[0].RegisteredAt.Equal(testutil.Epoch))
	assert.True(t, entries[0].ReapedAt.Equal(testutil.Epoch.Add(time.Second)))
	assert.Equal(t, uint64(9), entries[1].InvocationID)
}

func TestJournal_RecordOrphansBatch(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordOrphans(ctx, nil))
	require.NoError(t, j.RecordOrphans(ctx, []invocation.Pending{
		pending(1, "a"), pending(2, "b"), pending(3, "c"),
	}))

	n, err := j.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entries, err := j.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Command.Signal)
	assert.Equal(t, "b", entries[1].Command.Signal)
}

func TestJournal_ReaperIntegration(t *testing.T) {
	j := openTestJournal(t)
	reg := invocation.NewRegistry()

	id := reg.Register(invocation.Func{Label: "lost", Fn: func() {}}, nil)
	reg.Register(invocation.Func{Label: "live", Fn: func() {}}, nil)
	require.True(t, reg.MarkOrphaned(id))

	res, err := invocation.NewReaper(reg, invocation.WithJournal(j)).Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Reclaimed, 1)

	entries, err := j.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].InvocationID)
	assert.Equal(t, invocation.TypeFunc, entries[0].Command.Type)
	assert.Equal(t, "lost", entries[0].Command.Label)
}

func TestJournal_ClosedDatabaseFails(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = j.Record(context.Background(), pending(1, "a"))
	assert.Error(t, err)
}
