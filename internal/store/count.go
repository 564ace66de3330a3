package store

import (
	"context"
	"database/sql"
)

// Queryer runs a single-row query. *sql.DB, *sql.Conn and *sql.Tx all
// satisfy it.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CountCheckpoints returns the number of stored checkpoints. It runs before
// the schema is guaranteed to exist: a missing checkpoints table counts as
// zero. Any other failure is returned as a StorageUnavailableError.
func CountCheckpoints(ctx context.Context, q Queryer) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM checkpoints").Scan(&n)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, &StorageUnavailableError{Op: "count checkpoints", Err: err}
	}
	return n, nil
}
