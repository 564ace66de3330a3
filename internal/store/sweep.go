package store

import (
	"context"
	"fmt"
)

// SweepStats counts the rows SweepOrphans deleted.
type SweepStats struct {
	Blobs      int64 `json:"blobs"`
	Results    int64 `json:"results"`
	Exceptions int64 `json:"exceptions"`
}

// Total returns the number of rows deleted across all tables.
func (s SweepStats) Total() int64 {
	return s.Blobs + s.Results + s.Exceptions
}

// TableCounts holds the row count of each table.
type TableCounts struct {
	Checkpoints int64 `json:"checkpoints"`
	Blobs       int64 `json:"blobs"`
	Results     int64 `json:"results"`
	Exceptions  int64 `json:"exceptions"`
	Metadata    int64 `json:"metadata"`
}

// SweepOrphans deletes blob, result and exception rows that no checkpoint
// links. They accumulate from RemoveCheckpoint and from blobs superseded by
// UpdateCheckpoint. Metadata records are never swept.
//
// Run it in its own transaction; rows written by uncommitted transactions
// are invisible to it and therefore safe.
func (s *CheckpointStore) SweepOrphans(ctx context.Context, sess Session) (stats SweepStats, err error) {
	ctx, span := s.start(ctx, "SweepOrphans", "")
	defer func() { endSpan(span, err) }()

	sweeps := []struct {
		name  string
		query string
		dest  *int64
	}{
		{"blobs", `DELETE FROM checkpoint_blobs WHERE NOT EXISTS (SELECT 1 FROM checkpoints c WHERE c.blob_id = checkpoint_blobs.id)`, &stats.Blobs},
		{"results", `DELETE FROM flow_results WHERE NOT EXISTS (SELECT 1 FROM checkpoints c WHERE c.result_id = flow_results.id)`, &stats.Results},
		{"exceptions", `DELETE FROM flow_exceptions WHERE NOT EXISTS (SELECT 1 FROM checkpoints c WHERE c.error_id = flow_exceptions.id)`, &stats.Exceptions},
	}

	for _, sw := range sweeps {
		res, err := sess.ExecContext(ctx, sw.query)
		if err != nil {
			return SweepStats{}, fmt.Errorf("sweep %s: %w", sw.name, err)
		}
		if *sw.dest, err = res.RowsAffected(); err != nil {
			return SweepStats{}, fmt.Errorf("sweep %s: %w", sw.name, err)
		}
	}

	s.logger.Info("swept orphaned checkpoint rows",
		"blobs", stats.Blobs,
		"results", stats.Results,
		"exceptions", stats.Exceptions,
	)
	return stats, nil
}

// Counts returns the row count of every checkpoint table.
func (s *CheckpointStore) Counts(ctx context.Context, sess Session) (TableCounts, error) {
	var c TableCounts
	tables := []struct {
		name string
		dest *int64
	}{
		{"checkpoints", &c.Checkpoints},
		{"checkpoint_blobs", &c.Blobs},
		{"flow_results", &c.Results},
		{"flow_exceptions", &c.Exceptions},
		{"flow_metadata", &c.Metadata},
	}

	for _, t := range tables {
		if err := sess.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.name).Scan(t.dest); err != nil {
			return TableCounts{}, fmt.Errorf("count %s: %w", t.name, err)
		}
	}
	return c, nil
}
