package checkpoint

// PerformanceRecorder observes the serialized buffers of every checkpoint
// write just before they are persisted. Implementations must not retain or
// modify the slices and must not fail the write.
type PerformanceRecorder interface {
	Record(checkpointState, flowState []byte)
}

// RecorderFunc adapts a function to PerformanceRecorder.
type RecorderFunc func(checkpointState, flowState []byte)

// Record calls f.
func (f RecorderFunc) Record(checkpointState, flowState []byte) {
	f(checkpointState, flowState)
}

// NoopRecorder discards every observation.
type NoopRecorder struct{}

func (NoopRecorder) Record(_, _ []byte) {}
