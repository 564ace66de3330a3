package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/flowstore/internal/store"
)

// SweepResult is the output of the sweep command.
type SweepResult struct {
	Deleted   store.SweepStats  `json:"deleted"`
	Remaining store.TableCounts `json:"remaining"`
}

func (r SweepResult) String() string {
	return fmt.Sprintf("Swept %d orphaned row(s): %d blob(s), %d result(s), %d exception(s)\n"+
		"Remaining: %d checkpoint(s), %d blob(s), %d result(s), %d exception(s), %d metadata record(s)",
		r.Deleted.Total(), r.Deleted.Blobs, r.Deleted.Results, r.Deleted.Exceptions,
		r.Remaining.Checkpoints, r.Remaining.Blobs, r.Remaining.Results, r.Remaining.Exceptions, r.Remaining.Metadata)
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete orphaned blob, result and exception rows",
		Long: `Delete the sub-records no checkpoint links any more. They are left
behind by removed checkpoints and by blobs replaced on update. Metadata
records are never deleted.

Examples:
  flowstore sweep --config flowstore.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(rootOpts, cmd)
		},
	}
}

func runSweep(opts *RootOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	e, err := opts.openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	var result SweepResult
	err = e.db.Transaction(ctx, func(tx *sql.Tx) error {
		var err error
		if result.Deleted, err = e.store.SweepOrphans(ctx, tx); err != nil {
			return err
		}
		result.Remaining, err = e.store.Counts(ctx, tx)
		return err
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to sweep", err)
	}

	return opts.formatter(cmd).Success(result)
}
