package recovery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/flowstore/internal/checkpoint"
)

// Reason categorizes why a checkpoint cannot be resumed.
type Reason string

const (
	// ReasonPlatformVersion: the flow was started under a platform version
	// outside the accepted range.
	ReasonPlatformVersion Reason = "PLATFORM_VERSION"

	// ReasonCoreSubFlowVersion: a platform sub-flow was entered under a
	// platform version outside the accepted range.
	ReasonCoreSubFlowVersion Reason = "CORE_SUBFLOW_VERSION"

	// ReasonAppNotInstalled: an application sub-flow belongs to an app that
	// is not installed.
	ReasonAppNotInstalled Reason = "APP_NOT_INSTALLED"

	// ReasonAppHashMismatch: the installed app differs from the one the
	// sub-flow was entered with.
	ReasonAppHashMismatch Reason = "APP_HASH_MISMATCH"

	// ReasonUndecodable: the checkpoint state could not be decoded.
	ReasonUndecodable Reason = "UNDECODABLE_STATE"
)

// Incompatibility describes one checkpoint that cannot be resumed.
type Incompatibility struct {
	RunID checkpoint.RunID `json:"run_id"`

	// FlowClass is the offending sub-flow, or the flow name when the
	// offence concerns the whole flow.
	FlowClass string `json:"flow_class"`

	Reason Reason `json:"reason"`
	Detail string `json:"detail"`
}

func (i Incompatibility) String() string {
	return fmt.Sprintf("%s (%s): %s: %s", i.RunID, i.FlowClass, i.Reason, i.Detail)
}

// CheckpointIncompatibleError is returned when at least one stored
// checkpoint cannot be resumed by the running software. No checkpoint may
// be resumed while this error stands.
type CheckpointIncompatibleError struct {
	Flows []Incompatibility
}

func (e *CheckpointIncompatibleError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "found %d incompatible checkpoint(s)", len(e.Flows))
	for i, f := range e.Flows {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.String())
	}
	return b.String()
}

// IsCheckpointIncompatible returns true if err is or wraps a
// CheckpointIncompatibleError.
func IsCheckpointIncompatible(err error) bool {
	var ce *CheckpointIncompatibleError
	return errors.As(err, &ce)
}
