// Package recorder provides checkpoint.PerformanceRecorder implementations
// that publish checkpoint write sizes.
package recorder

import "github.com/roach88/flowstore/internal/checkpoint"

// Buffer labels used by every recorder.
const (
	partCheckpointState = "checkpoint_state"
	partFlowState       = "flow_state"
)

// Multi fans every observation out to each recorder in order.
type Multi []checkpoint.PerformanceRecorder

// Record calls Record on every member.
func (m Multi) Record(checkpointState, flowState []byte) {
	for _, r := range m {
		r.Record(checkpointState, flowState)
	}
}

// Combine returns a single recorder for rs. Nil members are dropped; no
// members yields a checkpoint.NoopRecorder.
func Combine(rs ...checkpoint.PerformanceRecorder) checkpoint.PerformanceRecorder {
	var m Multi
	for _, r := range rs {
		if r != nil {
			m = append(m, r)
		}
	}
	switch len(m) {
	case 0:
		return checkpoint.NoopRecorder{}
	case 1:
		return m[0]
	default:
		return m
	}
}
