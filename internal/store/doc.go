// Package store persists flow checkpoints in a relational database.
//
// Five tables hold the data:
//   - checkpoints: one row per flow run, keyed by run id
//   - checkpoint_blobs: serialized checkpoint and flow state plus integrity tag
//   - flow_results: terminal value of a completed flow
//   - flow_exceptions: latest error of an errored flow
//   - flow_metadata: one row per flow invocation
//
// # Sessions
//
// Every CheckpointStore operation takes a Session and runs inside it. The
// store never begins or ends a transaction; the engine decides the unit of
// work (typically one flow suspension) and rolls back the whole of it on
// error.
//
// # Sub-records
//
// Foreign keys from checkpoints to blobs, results and exceptions do not
// cascade. UpdateCheckpoint reconciles results and exceptions explicitly
// (see Reconcile) and orders its statements so every foreign key stays
// valid. Rows left unlinked by RemoveCheckpoint or by a superseded blob are
// collected by SweepOrphans.
//
// # Dialects
//
// SQLite (github.com/mattn/go-sqlite3) and PostgreSQL
// (github.com/jackc/pgx/v5/stdlib) are supported. Queries are written with
// ? placeholders and rebound for Postgres.
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
