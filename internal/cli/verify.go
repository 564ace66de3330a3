package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/flowstore/internal/blob"
	"github.com/roach88/flowstore/internal/codec"
	"github.com/roach88/flowstore/internal/recovery"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	SkipSubFlows bool
}

// VerifyResult is the output of a passing verify command.
type VerifyResult struct {
	Checked         int    `json:"checked"`
	PlatformVersion int    `json:"platform_version"`
	Accepts         string `json:"accepts"`
}

func (r VerifyResult) String() string {
	return fmt.Sprintf("Verified %d checkpoint(s) against platform version %d: all compatible", r.Checked, r.PlatformVersion)
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check stored checkpoints can be resumed",
		Long: `Run the startup compatibility check without resuming anything.

Every checkpoint is read, its blob tag verified, and its platform version
and sub-flow stack compared with the compatibility policy from the config.

Exit codes:
  0 - All checkpoints are compatible
  1 - At least one checkpoint is incompatible or fails its integrity check
  2 - Command error (bad config, database not found, etc.)

Examples:
  flowstore verify --config flowstore.yaml
  flowstore verify --config flowstore.cue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.SkipSubFlows, "skip-subflows", false, "check flow platform versions only, without decoding checkpoint state")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	e, err := opts.openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	policy := e.cfg.Compatibility.Policy()
	vopts := []recovery.Option{recovery.WithLogger(e.logger)}
	if !opts.SkipSubFlows {
		vopts = append(vopts, recovery.WithDecoder(codec.Codec{}))
	}
	v := recovery.NewVerifier(e.store, policy, vopts...)

	formatter := opts.formatter(cmd)
	report, err := v.Verify(ctx, e.db.DB())

	var incompatible *recovery.CheckpointIncompatibleError
	switch {
	case err == nil:
		return formatter.Success(VerifyResult{
			Checked:         report.Checked,
			PlatformVersion: policy.PlatformVersion,
			Accepts:         policy.Range(),
		})

	case errors.As(err, &incompatible):
		msg := fmt.Sprintf("%d incompatibility(ies) among %d checkpoint(s)", len(incompatible.Flows), report.Checked)
		if err := formatter.Error(ErrCodeIncompatible, msg, incompatible.Flows); err != nil {
			return err
		}
		if opts.Format != "json" {
			for _, f := range incompatible.Flows {
				fmt.Fprintf(formatter.Writer, "  %s\n", f)
			}
		}
		return NewExitError(ExitFailure, "incompatible checkpoints")

	case blob.IsIntegrityError(err):
		if err := formatter.Error(ErrCodeIntegrity, err.Error(), nil); err != nil {
			return err
		}
		return WrapExitError(ExitFailure, "integrity check failed", err)

	default:
		return WrapExitError(ExitCommandError, "failed to verify checkpoints", err)
	}
}
