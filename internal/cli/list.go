package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/flowstore/internal/blob"
)

// ListEntry is one row of the list command.
type ListEntry struct {
	RunID           string `json:"run_id"`
	Status          string `json:"status"`
	FlowName        string `json:"flow_name"`
	PlatformVersion int    `json:"platform_version"`
	ProgressStep    string `json:"progress_step,omitempty"`
	Compatible      bool   `json:"compatible"`
	HasResult       bool   `json:"has_result"`
	StateBytes      int    `json:"state_bytes"`
}

// ListResult is the output of the list command.
type ListResult struct {
	Checkpoints []ListEntry `json:"checkpoints"`
	Total       int         `json:"total"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored checkpoints",
		Long: `List every stored checkpoint in run id order with its status, flow
name and progress. Blob tags are verified while reading.

Examples:
  flowstore list --config flowstore.yaml
  flowstore list --config flowstore.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	e, err := opts.openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	result := ListResult{Checkpoints: []ListEntry{}}
	for entry, err := range e.store.AllCheckpoints(ctx, e.db.DB()) {
		if err != nil {
			if blob.IsIntegrityError(err) {
				_ = opts.formatter(cmd).Error(ErrCodeIntegrity, err.Error(), nil)
				return WrapExitError(ExitFailure, "integrity check failed", err)
			}
			return WrapExitError(ExitCommandError, "failed to list checkpoints", err)
		}
		cp := entry.Checkpoint
		result.Checkpoints = append(result.Checkpoints, ListEntry{
			RunID:           entry.RunID.String(),
			Status:          cp.Status.String(),
			FlowName:        entry.FlowName,
			PlatformVersion: entry.PlatformVersion,
			ProgressStep:    cp.ProgressStep,
			Compatible:      cp.Compatible,
			HasResult:       cp.Result != nil,
			StateBytes:      len(cp.CheckpointState) + len(cp.FlowState),
		})
	}
	result.Total = len(result.Checkpoints)

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(result)
	}
	return outputListText(cmd, result)
}

func outputListText(cmd *cobra.Command, result ListResult) error {
	out := cmd.OutOrStdout()
	if result.Total == 0 {
		fmt.Fprintln(out, "No checkpoints found.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTATUS\tFLOW\tPLATFORM\tPROGRESS")
	for _, c := range result.Checkpoints {
		progress := c.ProgressStep
		if progress == "" {
			progress = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", c.RunID, c.Status, c.FlowName, c.PlatformVersion, progress)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d checkpoint(s)\n", result.Total)
	return nil
}
