package checkpoint

// Version constants for the running software.
const (
	// PlatformVersion is recorded in flow metadata and core sub-flow
	// version markers. Checkpoints written under a different platform
	// version are rejected by the recovery verifier unless its policy
	// allows the range.
	PlatformVersion = 8

	// StoreVersion is the flowstore release.
	StoreVersion = "0.3.0"
)
