package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/flowstore/internal/checkpoint"
)

// RemoveResult is the output of the remove command.
type RemoveResult struct {
	RunID   string `json:"run_id"`
	Removed bool   `json:"removed"`
}

func (r RemoveResult) String() string {
	return fmt.Sprintf("Removed checkpoint %s", r.RunID)
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <run-id>",
		Short: "Delete one stored checkpoint",
		Long: `Delete the checkpoint row of one flow. Its blob, result and
exception rows are left for sweep; its metadata record is kept.

Examples:
  flowstore remove 0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b --config flowstore.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(rootOpts, cmd, args[0])
		},
	}
}

func runRemove(opts *RootOptions, cmd *cobra.Command, arg string) error {
	ctx := context.Background()

	runID, err := checkpoint.ParseRunID(arg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid run id", err)
	}

	e, err := opts.openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	var removed bool
	err = e.db.Transaction(ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = e.store.RemoveCheckpoint(ctx, tx, runID)
		return err
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to remove checkpoint", err)
	}

	formatter := opts.formatter(cmd)
	if !removed {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("checkpoint %s not found", runID), nil)
		return NewExitError(ExitCommandError, "checkpoint not found")
	}
	return formatter.Success(RemoveResult{RunID: runID.String(), Removed: true})
}
