// Package checkpoint defines the record model shared by the flow engine and
// the checkpoint store.
//
// The engine hands the store a Checkpoint together with two opaque byte
// buffers produced by its own serializer:
//   - the checkpoint state (engine-internal continuation bookkeeping)
//   - the flow state (the suspended logic's serialized stack)
//
// The store never parses either buffer. It reads back a Serialized value,
// which always reports a clean error state: a loaded checkpoint is the last
// known-good point to resume from, not the error trajectory that followed it.
//
// Identity:
//   - RunID identifies one execution of a flow (string form of a UUID)
//   - InvocationID identifies the request that started it and exists before
//     the run id is assigned
//
// Status and StartReason are closed enumerations persisted by name. The store
// treats Status as opaque data.
package checkpoint
