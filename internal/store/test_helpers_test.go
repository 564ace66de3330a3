package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/roach88/flowstore/internal/checkpoint"
	"github.com/roach88/flowstore/internal/testutil"
)

// fixture is a migrated SQLite database in t.TempDir plus a checkpoint
// store over it.
type fixture struct {
	path  string
	db    *Database
	store *CheckpointStore
	clock *testutil.Clock
}

// createTestDatabase opens a fresh migrated database.
func createTestDatabase(t *testing.T) (*Database, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db, path := createTestDatabase(t)
	clock := testutil.NewClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &fixture{
		path:  path,
		db:    db,
		store: db.Checkpoints(testutil.NewAdapter(t), opts...),
		clock: clock,
	}
}

// tx runs fn in a committed transaction and fails the test on error.
func (f *fixture) tx(t *testing.T, fn func(tx *sql.Tx) error) {
	t.Helper()
	if err := f.db.Transaction(context.Background(), fn); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

// addFlow records metadata for invocation n and adds the first checkpoint
// of RunID(n).
func (f *fixture) addFlow(t *testing.T, n int) (checkpoint.RunID, checkpoint.Checkpoint) {
	t.Helper()
	ctx := context.Background()
	runID := testutil.RunID(n)
	cp := testutil.NewCheckpoint(testutil.InvocationID(n))

	f.tx(t, func(tx *sql.Tx) error {
		if err := f.store.AddMetadata(ctx, tx, testutil.NewMetadata(cp.InvocationID.Value)); err != nil {
			return err
		}
		return f.store.AddCheckpoint(ctx, tx, runID, cp, testutil.FlowState(n))
	})
	return runID, cp
}

func (f *fixture) update(t *testing.T, runID checkpoint.RunID, cp checkpoint.Checkpoint, flowState []byte) {
	t.Helper()
	f.tx(t, func(tx *sql.Tx) error {
		return f.store.UpdateCheckpoint(context.Background(), tx, runID, cp, flowState)
	})
}

func (f *fixture) get(t *testing.T, runID checkpoint.RunID) *checkpoint.Serialized {
	t.Helper()
	got, err := f.store.GetCheckpoint(context.Background(), f.db.DB(), runID)
	if err != nil {
		t.Fatalf("GetCheckpoint(%s) failed: %v", runID, err)
	}
	return got
}

func (f *fixture) record(t *testing.T, runID checkpoint.RunID) *Record {
	t.Helper()
	rec, err := f.store.LoadRecord(context.Background(), f.db.DB(), runID)
	if err != nil {
		t.Fatalf("LoadRecord(%s) failed: %v", runID, err)
	}
	if rec == nil {
		t.Fatalf("LoadRecord(%s) = nil, want record", runID)
	}
	return rec
}

func (f *fixture) counts(t *testing.T) TableCounts {
	t.Helper()
	c, err := f.store.Counts(context.Background(), f.db.DB())
	if err != nil {
		t.Fatalf("Counts() failed: %v", err)
	}
	return c
}

// reopen closes the database and opens the same file again, as a node
// restart would.
func (f *fixture) reopen(t *testing.T, opts ...Option) {
	t.Helper()
	if err := f.db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	db, err := OpenSQLite(context.Background(), f.path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	f.db = db
	f.store = db.Checkpoints(testutil.NewAdapter(t), append([]Option{WithClock(f.clock.Now)}, opts...)...)
}

func errored(msg string) checkpoint.ErrorState {
	return checkpoint.Errored(checkpoint.FlowError{ID: 1, Type: "flows.IllegalStateError", Message: msg})
}
