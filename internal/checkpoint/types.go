package checkpoint

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a flow as recorded by the engine.
type Status int

const (
	StatusCreated Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusHospitalized // held for manual intervention
	StatusKilled
)

var statusNames = [...]string{
	StatusCreated:      "CREATED",
	StatusRunning:      "RUNNING",
	StatusCompleted:    "COMPLETED",
	StatusFailed:       "FAILED",
	StatusHospitalized: "HOSPITALIZED",
	StatusKilled:       "KILLED",
}

// String returns the persisted name of the status.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus converts a persisted name back to a Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown checkpoint status %q", name)
}

// StartReason records how a flow invocation entered the node.
type StartReason int

const (
	StartRPC StartReason = iota
	StartFlow
	StartService
	StartScheduled
	StartInitiated
)

var startReasonNames = [...]string{
	StartRPC:       "RPC",
	StartFlow:      "FLOW",
	StartService:   "SERVICE",
	StartScheduled: "SCHEDULED",
	StartInitiated: "INITIATED",
}

func (r StartReason) String() string {
	if r < 0 || int(r) >= len(startReasonNames) {
		return fmt.Sprintf("StartReason(%d)", int(r))
	}
	return startReasonNames[r]
}

// ParseStartReason converts a persisted name back to a StartReason.
func ParseStartReason(name string) (StartReason, error) {
	for i, n := range startReasonNames {
		if n == name {
			return StartReason(i), nil
		}
	}
	return 0, fmt.Errorf("unknown start reason %q", name)
}

// InvocationID identifies a flow request. It is assigned before the flow is
// started and therefore before a RunID exists.
type InvocationID struct {
	Value     string
	Timestamp time.Time
}

// FlowError is one error observed by the engine while running a flow.
type FlowError struct {
	ID      int64
	Type    string // fully qualified error type name
	Message string
	Payload []byte // serialized error value, optional
}

// ErrorState is either clean or errored. An errored state carries the
// ordered list of errors seen so far plus the engine's propagation
// bookkeeping.
type ErrorState struct {
	Errored         bool
	Errors          []FlowError
	PropagatedIndex int
	Dirty           bool
}

// Clean is the error state of a flow with no unresolved error.
var Clean = ErrorState{}

// Errored builds an errored state from the given errors, oldest first.
func Errored(errs ...FlowError) ErrorState {
	return ErrorState{Errored: true, Errors: errs}
}

// IsClean reports whether the state carries no unresolved error.
func (e ErrorState) IsClean() bool {
	return !e.Errored
}

// Latest returns the most recent error of an errored state.
// Returns false for clean states and errored states with an empty list.
func (e ErrorState) Latest() (FlowError, bool) {
	if !e.Errored || len(e.Errors) == 0 {
		return FlowError{}, false
	}
	return e.Errors[len(e.Errors)-1], true
}

// Checkpoint is the engine's description of a suspended flow, handed to the
// store on every add or update.
type Checkpoint struct {
	// InvocationID links the checkpoint to its flow_metadata record.
	InvocationID InvocationID

	// FlowClass names the flow's entry point. Only used when the store has
	// to synthesize placeholder metadata.
	FlowClass string

	// State is the serialized checkpoint state produced by the engine.
	State []byte

	ErrorState ErrorState

	// Result is the serialized terminal value, nil while the flow has none.
	Result []byte

	Status        Status
	Compatible    bool
	ProgressStep  string // empty means unset
	SuspendReason string // name of the I/O request the flow is suspended on; empty means unset
}

// Serialized is a checkpoint as read back from storage.
type Serialized struct {
	CheckpointState []byte
	FlowState       []byte

	// ErrorState is always Clean.
	ErrorState ErrorState

	Result        []byte
	Status        Status
	ProgressStep  string
	SuspendReason string
	Compatible    bool
}

// Metadata describes one flow invocation. It is written once when the flow
// is requested; only FlowID is back-filled when the first checkpoint for the
// run is created.
type Metadata struct {
	InvocationID           string
	FlowID                 RunID // empty until the first checkpoint exists
	FlowName               string
	UserSuppliedIdentifier string // empty means unset
	StartReason            StartReason
	InitialParameters      []byte
	LaunchingApp           string
	PlatformVersion        int
	InvokingUser           string
	InvokedAt              time.Time
	ReceivedAt             time.Time
	StartedAt              *time.Time
	FinishedAt             *time.Time
}

// SubFlowKind distinguishes platform flows from application flows.
type SubFlowKind int

const (
	SubFlowCore SubFlowKind = iota
	SubFlowApp
)

func (k SubFlowKind) String() string {
	switch k {
	case SubFlowCore:
		return "core"
	case SubFlowApp:
		return "app"
	default:
		return fmt.Sprintf("SubFlowKind(%d)", int(k))
	}
}

// SubFlowVersion is the version marker recorded for a sub-flow when it was
// first entered.
type SubFlowVersion struct {
	Kind            SubFlowKind
	PlatformVersion int
	AppName         string // app flows only
	AppHash         string // app flows only
}

// CoreVersion returns the version marker of a platform flow.
func CoreVersion(platformVersion int) SubFlowVersion {
	return SubFlowVersion{Kind: SubFlowCore, PlatformVersion: platformVersion}
}

// AppVersion returns the version marker of an application flow.
func AppVersion(platformVersion int, appName, appHash string) SubFlowVersion {
	return SubFlowVersion{Kind: SubFlowApp, PlatformVersion: platformVersion, AppName: appName, AppHash: appHash}
}

// SubFlow is one frame of a flow's sub-flow stack.
type SubFlow struct {
	FlowClass string
	Version   SubFlowVersion
}
