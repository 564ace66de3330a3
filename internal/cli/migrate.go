package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/flowstore/internal/store"
)

// MigrateResult is the output of the migrate command.
type MigrateResult struct {
	Dialect       string `json:"dialect"`
	SchemaVersion int    `json:"schema_version"`
}

func (r MigrateResult) String() string {
	return fmt.Sprintf("Schema at version %d (%s)", r.SchemaVersion, r.Dialect)
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the checkpoint schema",
		Long: `Open the database and apply the checkpoint schema and any pending
migrations. Running it against an up-to-date database is a no-op.

Examples:
  flowstore migrate --db ./flows.db
  flowstore migrate --driver pgx --db postgres://flows@localhost/flows`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	formatter := opts.formatter(cmd)
	formatter.VerboseLog("Opening %s database %s", cfg.Database.Driver, cfg.Database.DSN)
	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to migrate database", err)
	}
	defer db.Close()

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read schema version", err)
	}

	return formatter.Success(MigrateResult{
		Dialect:       db.Dialect().String(),
		SchemaVersion: version,
	})
}
