package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowstore/internal/blob"
	"github.com/roach88/flowstore/internal/checkpoint"
	"github.com/roach88/flowstore/internal/testutil"
)

func collect(t *testing.T, f *fixture, sess Session) []Entry {
	t.Helper()
	var out []Entry
	for e, err := range f.store.AllCheckpoints(context.Background(), sess) {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestAllCheckpoints_Empty(t *testing.T) {
	f := newFixture(t)
	assert.Empty(t, collect(t, f, f.db.DB()))
}

func TestAllCheckpoints_ReturnsEveryCheckpointInRunIDOrder(t *testing.T) {
	f := newFixture(t)

	// Added out of order.
	for _, n := range []int{3, 1, 5, 2, 4} {
		f.addFlow(t, n)
	}

	entries := collect(t, f, f.db.DB())
	require.Len(t, entries, 5)
	for i, e := range entries {
		n := i + 1
		assert.Equal(t, testutil.RunID(n), e.RunID)
		assert.Equal(t, testutil.InvocationID(n), e.InvocationID)
		assert.Equal(t, testutil.FlowState(n), e.Checkpoint.FlowState)
		assert.Equal(t, testutil.DefaultFlowClass, e.FlowName)
		assert.Equal(t, checkpoint.PlatformVersion, e.PlatformVersion)
		assert.True(t, e.Checkpoint.ErrorState.IsClean())
	}
}

func TestAllCheckpoints_AfterRemovingSubset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for n := 1; n <= 5; n++ {
		f.addFlow(t, n)
	}
	f.tx(t, func(tx *sql.Tx) error {
		for _, n := range []int{2, 4} {
			removed, err := f.store.RemoveCheckpoint(ctx, tx, testutil.RunID(n))
			if err != nil {
				return err
			}
			require.True(t, removed)
		}
		return nil
	})

	var got []checkpoint.RunID
	for _, e := range collect(t, f, f.db.DB()) {
		got = append(got, e.RunID)
	}
	assert.Equal(t, []checkpoint.RunID{testutil.RunID(1), testutil.RunID(3), testutil.RunID(5)}, got)
}

func TestAllCheckpoints_MatchesGetCheckpoint(t *testing.T) {
	f := newFixture(t)
	runID, cp := f.addFlow(t, 1)
	cp.Result = []byte("answer")
	cp.ProgressStep = "Finalising"
	cp.ErrorState = errored("ignored on read")
	f.update(t, runID, cp, testutil.FlowState(7))

	entries := collect(t, f, f.db.DB())
	require.Len(t, entries, 1)
	assert.Equal(t, *f.get(t, runID), entries[0].Checkpoint)
}

func TestAllCheckpoints_Restartable(t *testing.T) {
	f := newFixture(t)
	f.addFlow(t, 1)
	f.addFlow(t, 2)

	seq := f.store.AllCheckpoints(context.Background(), f.db.DB())

	var first, second int
	for _, err := range seq {
		require.NoError(t, err)
		first++
	}
	for _, err := range seq {
		require.NoError(t, err)
		second++
	}
	assert.Equal(t, 2, first)
	assert.Equal(t, 2, second)
}

func TestAllCheckpoints_BreakReleasesCursor(t *testing.T) {
	f := newFixture(t)
	for n := 1; n <= 3; n++ {
		f.addFlow(t, n)
	}

	for _, err := range f.store.AllCheckpoints(context.Background(), f.db.DB()) {
		require.NoError(t, err)
		break
	}

	assert.Equal(t, 0, f.db.DB().Stats().InUse, "connection still held by an open cursor")

	// With a single SQLite connection a leaked cursor would block this.
	n, err := CountCheckpoints(context.Background(), f.db.DB())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestAllCheckpoints_InsideTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addFlow(t, 1)

	f.tx(t, func(tx *sql.Tx) error {
		entries := collect(t, f, tx)
		require.Len(t, entries, 1)

		// The cursor is closed, so the same transaction can keep writing.
		_, err := f.store.RemoveCheckpoint(ctx, tx, entries[0].RunID)
		return err
	})

	assert.Empty(t, collect(t, f, f.db.DB()))
}

func TestAllCheckpoints_StopsOnIntegrityError(t *testing.T) {
	f := newFixture(t)
	f.addFlow(t, 1)
	runID, _ := f.addFlow(t, 2)
	f.addFlow(t, 3)

	rec := f.record(t, runID)
	_, err := f.db.DB().Exec("UPDATE checkpoint_blobs SET checkpoint_state = ? WHERE id = ?", []byte("forged"), rec.BlobID)
	require.NoError(t, err)

	var (
		ok   int
		errs []error
	)
	for _, err := range f.store.AllCheckpoints(context.Background(), f.db.DB()) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ok++
	}

	assert.Equal(t, 1, ok, "only the entry before the tampered one")
	require.Len(t, errs, 1)
	assert.True(t, blob.IsIntegrityError(errs[0]))
	assert.Equal(t, 0, f.db.DB().Stats().InUse)
}
