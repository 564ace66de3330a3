package recovery

import (
	"context"
	"fmt"

	"github.com/roach88/flowstore/internal/store"
)

// ResumeFunc hands one verified checkpoint back to the engine.
type ResumeFunc func(ctx context.Context, e store.Entry) error

// Summary reports what Recover did.
type Summary struct {
	Counted int64 `json:"counted"`
	Checked int   `json:"checked"`
	Resumed int   `json:"resumed"`
}

// Recover runs the startup sequence before any flow executes: count the
// stored checkpoints, verify all of them, then resume each one in run id
// order. Resumption starts only if every checkpoint is compatible; one
// incompatible checkpoint fails startup with CheckpointIncompatibleError.
//
// All checkpoints are read and the cursor closed before the first resume
// call, so resume may write to db. Recover is single-threaded.
func Recover(ctx context.Context, db *store.Database, v *Verifier, resume ResumeFunc) (Summary, error) {
	var sum Summary

	n, err := store.CountCheckpoints(ctx, db.DB())
	if err != nil {
		return sum, fmt.Errorf("recover: %w", err)
	}
	sum.Counted = n
	if n == 0 {
		v.logger.Info("no checkpoints to recover")
		return sum, nil
	}

	report, err := v.Verify(ctx, db.DB())
	sum.Checked = report.Checked
	if err != nil {
		return sum, fmt.Errorf("recover: %w", err)
	}

	var entries []store.Entry
	for e, err := range v.store.AllCheckpoints(ctx, db.DB()) {
		if err != nil {
			return sum, fmt.Errorf("recover: %w", err)
		}
		entries = append(entries, e)
	}

	for _, e := range entries {
		if err := resume(ctx, e); err != nil {
			return sum, fmt.Errorf("recover: resume flow %s: %w", e.RunID, err)
		}
		sum.Resumed++
	}

	v.logger.Info("checkpoints recovered", "count", sum.Counted, "resumed", sum.Resumed)
	return sum, nil
}
