package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/flowstore/internal/store"
)

// CountResult is the output of the count command.
type CountResult struct {
	Checkpoints int64 `json:"checkpoints"`
}

func (r CountResult) String() string {
	return fmt.Sprintf("%d checkpoint(s)", r.Checkpoints)
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count stored checkpoints",
		Long: `Count the stored checkpoints with a raw query. The schema is not
created, so this works on a fresh database and reports 0.

Examples:
  flowstore count --db ./flows.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(rootOpts, cmd)
		},
	}
}

func runCount(opts *RootOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	formatter := opts.formatter(cmd)
	formatter.VerboseLog("Opening %s database %s", cfg.Database.Driver, cfg.Database.DSN)
	db, err := store.Connect(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Close()

	n, err := store.CountCheckpoints(ctx, db.DB())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count checkpoints", err)
	}

	return formatter.Success(CountResult{Checkpoints: n})
}
