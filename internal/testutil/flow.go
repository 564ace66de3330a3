package testutil

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/roach88/flowstore/internal/blob"
	"github.com/roach88/flowstore/internal/checkpoint"
	"github.com/roach88/flowstore/internal/codec"
)

// DefaultFlowClass is the flow class used by NewCheckpoint and NewMetadata.
const DefaultFlowClass = "test.flows.PaymentFlow"

// Key returns a fixed 32-byte HMAC key.
func Key() []byte {
	return bytes.Repeat([]byte{0x5a}, 32)
}

// NewAdapter creates a blob adapter keyed with Key.
func NewAdapter(t testing.TB, opts ...blob.Option) *blob.Adapter {
	t.Helper()
	a, err := blob.NewAdapter(Key(), opts...)
	if err != nil {
		t.Fatalf("blob.NewAdapter() failed: %v", err)
	}
	return a
}

// RunID returns a deterministic, valid UUIDv7-shaped run id for n.
// RunID(1) < RunID(2) in string order.
func RunID(n int) checkpoint.RunID {
	return checkpoint.RunID(fmt.Sprintf("00000000-0000-7000-8000-%012d", n))
}

// RunIDs returns RunID(1) through RunID(n).
func RunIDs(n int) []checkpoint.RunID {
	ids := make([]checkpoint.RunID, n)
	for i := range ids {
		ids[i] = RunID(i + 1)
	}
	return ids
}

// InvocationID returns a deterministic invocation id value for n.
func InvocationID(n int) string {
	return fmt.Sprintf("invocation-%04d", n)
}

// NewMetadata returns a complete metadata record for invocationID.
func NewMetadata(invocationID string) checkpoint.Metadata {
	return checkpoint.Metadata{
		InvocationID:      invocationID,
		FlowName:          DefaultFlowClass,
		StartReason:       checkpoint.StartRPC,
		InitialParameters: []byte("{}"),
		LaunchingApp:      "payments",
		PlatformVersion:   checkpoint.PlatformVersion,
		InvokingUser:      "alice",
		InvokedAt:         BaseTime,
		ReceivedAt:        BaseTime,
	}
}

// NewCheckpoint returns a fresh RUNNING checkpoint for invocationID whose
// state encodes a single core sub-flow at the current platform version.
func NewCheckpoint(invocationID string) checkpoint.Checkpoint {
	return checkpoint.Checkpoint{
		InvocationID: checkpoint.InvocationID{Value: invocationID, Timestamp: BaseTime},
		FlowClass:    DefaultFlowClass,
		State: EncodeState(codec.State{
			InvocationID:    invocationID,
			FlowClass:       DefaultFlowClass,
			PlatformVersion: checkpoint.PlatformVersion,
			SubFlows:        []codec.Frame{codec.CoreFrame(DefaultFlowClass, checkpoint.PlatformVersion)},
		}),
		ErrorState: checkpoint.Clean,
		Status:     checkpoint.StatusRunning,
		Compatible: true,
	}
}

// EncodeState encodes s with the reference codec.
//
// Panics on encoding failure, which only a broken codec can cause.
func EncodeState(s codec.State) []byte {
	data, err := codec.Codec{}.Encode(s)
	if err != nil {
		panic(fmt.Sprintf("testutil: encode state: %v", err))
	}
	return data
}

// FlowState returns a recognisable serialized flow state for n.
func FlowState(n int) []byte {
	return []byte(fmt.Sprintf("flow-state-%d", n))
}
