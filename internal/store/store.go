package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var schemaSQLite string

//go:embed schema_postgres.sql
var schemaPostgres string

// Schema version tracking:
// 0 - No schema
// 1 - Five checkpoint tables plus the sub-record lookup indexes
const currentSchemaVersion = 1

// Database is an open connection pool plus the dialect it speaks.
// Checkpoint operations live on CheckpointStore; Database only manages
// connections and the schema.
type Database struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database and applies the schema.
//
// For SQLite the connection is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(ctx context.Context, driver, dsn string) (*Database, error) {
	d, err := Connect(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*Database, error) {
	return Open(ctx, DriverSQLite, path)
}

// Connect opens and pings the database without touching the schema. The
// startup counter uses this so it can run against an empty database.
func Connect(ctx context.Context, driver, dsn string) (*Database, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A local SQLite file either opens or it doesn't; only a network
	// database is worth retrying.
	attempts := uint(1)
	if dialect == DialectPostgres {
		attempts = 5
	}
	err = retry.Do(
		func() error { return db.PingContext(ctx) },
		retry.Attempts(attempts),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		db.Close()
		return nil, &StorageUnavailableError{Op: "connect", Err: err}
	}

	if dialect == DialectSQLite {
		// SQLite only supports one writer at a time, so limit connections
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	return &Database{db: db, dialect: dialect}, nil
}

// Close closes the connection pool.
func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// DB returns the underlying pool. It satisfies Session and Queryer.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Dialect returns the SQL dialect of the connection.
func (d *Database) Dialect() Dialect {
	return d.dialect
}

// Transaction runs fn inside a transaction, committing if fn returns nil
// and rolling back otherwise.
func (d *Database) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Migrate creates missing tables and brings the schema to the current
// version. Safe to run repeatedly.
func (d *Database) Migrate(ctx context.Context) error {
	schema := schemaSQLite
	if d.dialect == DialectPostgres {
		schema = schemaPostgres
	}
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := d.runMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SchemaVersion returns the recorded schema version, 0 if none.
func (d *Database) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	switch d.dialect {
	case DialectPostgres:
		err := d.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM flowstore_schema").Scan(&version)
		if err != nil {
			if isMissingTable(err) {
				return 0, nil
			}
			return 0, fmt.Errorf("get schema version: %w", err)
		}
	default:
		if err := d.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
			return 0, fmt.Errorf("get user_version: %w", err)
		}
	}
	return version, nil
}

// runMigrations applies incremental schema migrations based on the stored
// version.
func (d *Database) runMigrations(ctx context.Context) error {
	version, err := d.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if version >= currentSchemaVersion {
		return nil
	}

	if version < 1 {
		if err := d.migrateToV1(ctx); err != nil {
			return err
		}
	}

	return d.setSchemaVersion(ctx, currentSchemaVersion)
}

// migrateToV1 adds the sub-record lookup indexes SweepOrphans relies on.
// New databases get them from the schema file; this covers databases
// created before the indexes existed.
func (d *Database) migrateToV1(ctx context.Context) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_checkpoints_blob ON checkpoints(blob_id)",
		"CREATE INDEX IF NOT EXISTS idx_checkpoints_result ON checkpoints(result_id)",
		"CREATE INDEX IF NOT EXISTS idx_checkpoints_error ON checkpoints(error_id)",
		"CREATE INDEX IF NOT EXISTS idx_checkpoints_invocation ON checkpoints(invocation_id)",
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

func (d *Database) setSchemaVersion(ctx context.Context, version int) error {
	var err error
	switch d.dialect {
	case DialectPostgres:
		if _, err = d.db.ExecContext(ctx, "DELETE FROM flowstore_schema"); err == nil {
			_, err = d.db.ExecContext(ctx, "INSERT INTO flowstore_schema (version) VALUES ($1)", version)
		}
	default:
		_, err = d.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version))
	}
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (d *Database) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := d.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
