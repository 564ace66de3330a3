package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/flowstore/internal/checkpoint"
)

// ShowException is the exception part of ShowResult.
type ShowException struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// ShowResult is the output of the show command.
type ShowResult struct {
	RunID         string         `json:"run_id"`
	Status        string         `json:"status"`
	Compatible    bool           `json:"compatible"`
	ProgressStep  string         `json:"progress_step,omitempty"`
	SuspendReason string         `json:"suspend_reason,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
	InvocationID  string         `json:"invocation_id"`
	FlowName      string         `json:"flow_name"`
	StartReason   string         `json:"start_reason"`
	InvokingUser  string         `json:"invoking_user"`
	Platform      int            `json:"platform_version"`
	BlobID        int64          `json:"blob_id"`
	StateBytes    int            `json:"checkpoint_state_bytes"`
	FlowBytes     int            `json:"flow_state_bytes"`
	IntegrityOK   bool           `json:"integrity_ok"`
	ResultBytes   *int           `json:"result_bytes,omitempty"`
	Exception     *ShowException `json:"exception,omitempty"`
}

func (r ShowResult) String() string {
	var b strings.Builder
	field := func(name, format string, args ...interface{}) {
		fmt.Fprintf(&b, "%-16s"+format+"\n", append([]interface{}{name + ":"}, args...)...)
	}
	field("Run ID", "%s", r.RunID)
	field("Status", "%s", r.Status)
	field("Compatible", "%t", r.Compatible)
	if r.ProgressStep != "" {
		field("Progress", "%s", r.ProgressStep)
	}
	if r.SuspendReason != "" {
		field("Suspended on", "%s", r.SuspendReason)
	}
	field("Updated", "%s", r.UpdatedAt.UTC().Format(time.RFC3339))
	field("Invocation", "%s", r.InvocationID)
	field("Flow", "%s", r.FlowName)
	field("Started by", "%s (%s)", r.InvokingUser, r.StartReason)
	field("Platform", "%d", r.Platform)
	field("Blob", "#%d, %d + %d bytes", r.BlobID, r.StateBytes, r.FlowBytes)
	if r.IntegrityOK {
		field("Integrity", "ok")
	} else {
		field("Integrity", "TAG MISMATCH")
	}
	if r.ResultBytes != nil {
		field("Result", "%d bytes", *r.ResultBytes)
	}
	if r.Exception != nil {
		field("Exception", "%s: %s", r.Exception.Type, r.Exception.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one stored checkpoint",
		Long: `Show the stored record of one checkpoint: status, metadata, blob
sizes and whether the blob tag verifies. Exits 1 when the tag does not
match.

Examples:
  flowstore show 0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b --config flowstore.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, cmd, args[0])
		},
	}
}

func runShow(opts *RootOptions, cmd *cobra.Command, arg string) error {
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

	rec, err := e.store.LoadRecord(ctx, e.db.DB(), runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load checkpoint", err)
	}
	formatter := opts.formatter(cmd)
	if rec == nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("checkpoint %s not found", runID), nil)
		return NewExitError(ExitCommandError, "checkpoint not found")
	}

	md := rec.Metadata
	result := ShowResult{
		RunID:         rec.RunID.String(),
		Status:        rec.Status.String(),
		Compatible:    rec.Compatible,
		ProgressStep:  rec.ProgressStep,
		SuspendReason: rec.SuspendReason,
		UpdatedAt:     rec.UpdatedAt,
		InvocationID:  rec.InvocationID,
		FlowName:      md.FlowName,
		StartReason:   md.StartReason.String(),
		InvokingUser:  md.InvokingUser,
		Platform:      md.PlatformVersion,
		BlobID:        rec.BlobID,
		StateBytes:    len(rec.Blob.CheckpointState),
		FlowBytes:     len(rec.Blob.FlowState),
		IntegrityOK:   rec.Integrity == nil,
	}
	if rec.ResultID.Valid {
		n := len(rec.Result)
		result.ResultBytes = &n
	}
	if rec.Exception != nil {
		result.Exception = &ShowException{Type: rec.Exception.Type, Message: rec.Exception.Message}
	}

	if err := formatter.Success(result); err != nil {
		return err
	}
	if rec.Integrity != nil {
		return WrapExitError(ExitFailure, "integrity check failed", rec.Integrity)
	}
	return nil
}
