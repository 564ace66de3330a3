package store

import (
	"errors"
	"fmt"

	"github.com/roach88/flowstore/internal/checkpoint"
)

// ErrMetadataExists is returned by AddMetadata when the invocation id is
// already recorded.
var ErrMetadataExists = errors.New("flow metadata already exists")

// DuplicateCheckpointError is returned when a checkpoint is added for a run
// id that already has one.
type DuplicateCheckpointError struct {
	RunID checkpoint.RunID

	// Err is the underlying driver error.
	Err error
}

func (e *DuplicateCheckpointError) Error() string {
	return fmt.Sprintf("checkpoint for flow %s already exists", e.RunID)
}

func (e *DuplicateCheckpointError) Unwrap() error {
	return e.Err
}

// CheckpointNotFoundError is returned when an update targets a run id with
// no stored checkpoint.
type CheckpointNotFoundError struct {
	RunID checkpoint.RunID
}

func (e *CheckpointNotFoundError) Error() string {
	return fmt.Sprintf("checkpoint for flow %s not found", e.RunID)
}

// StorageUnavailableError wraps a failure to reach the database or one of
// its tables.
type StorageUnavailableError struct {
	// Op names the operation that failed, e.g. "count checkpoints".
	Op  string
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %s: %v", e.Op, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error {
	return e.Err
}

// MetadataNotFoundError is returned by AddCheckpoint when the checkpoint's
// invocation has no metadata record and placeholders are disabled.
type MetadataNotFoundError struct {
	RunID        checkpoint.RunID
	InvocationID string
}

func (e *MetadataNotFoundError) Error() string {
	return fmt.Sprintf("flow metadata for flow %s with invocation id %s does not exist", e.RunID, e.InvocationID)
}

// MetadataLinkedError is returned by AddCheckpoint when the checkpoint's
// metadata record is already linked to a different run.
type MetadataLinkedError struct {
	InvocationID string
	RunID        checkpoint.RunID
	LinkedRunID  checkpoint.RunID
}

func (e *MetadataLinkedError) Error() string {
	return fmt.Sprintf("flow metadata with invocation id %s is linked to flow %s, not %s", e.InvocationID, e.LinkedRunID, e.RunID)
}

// IsDuplicateCheckpoint returns true if err is or wraps a DuplicateCheckpointError.
func IsDuplicateCheckpoint(err error) bool {
	var de *DuplicateCheckpointError
	return errors.As(err, &de)
}

// IsCheckpointNotFound returns true if err is or wraps a CheckpointNotFoundError.
func IsCheckpointNotFound(err error) bool {
	var ne *CheckpointNotFoundError
	return errors.As(err, &ne)
}

// IsStorageUnavailable returns true if err is or wraps a StorageUnavailableError.
func IsStorageUnavailable(err error) bool {
	var se *StorageUnavailableError
	return errors.As(err, &se)
}

// IsMetadataNotFound returns true if err is or wraps a MetadataNotFoundError.
func IsMetadataNotFound(err error) bool {
	var me *MetadataNotFoundError
	return errors.As(err, &me)
}

// IsMetadataLinked returns true if err is or wraps a MetadataLinkedError.
func IsMetadataLinked(err error) bool {
	var le *MetadataLinkedError
	return errors.As(err, &le)
}
