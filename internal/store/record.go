package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/flowstore/internal/blob"
	"github.com/roach88/flowstore/internal/checkpoint"
)

// Record is the raw relational view of one checkpoint, including
// sub-record ids. Used by tooling and tests; the engine reads through
// GetCheckpoint.
type Record struct {
	RunID         checkpoint.RunID
	BlobID        int64
	ResultID      sql.NullInt64
	ErrorID       sql.NullInt64
	InvocationID  string
	Status        checkpoint.Status
	Compatible    bool
	ProgressStep  string
	SuspendReason string
	UpdatedAt     time.Time

	Blob      blob.Blob
	Result    []byte
	Exception *ExceptionRecord
	Metadata  checkpoint.Metadata

	// Integrity is the blob verification outcome; nil means the tag matched.
	// LoadRecord reports a mismatch here instead of failing.
	Integrity error
}

// ExceptionRecord is a stored flow_exceptions row.
type ExceptionRecord struct {
	ID          int64
	Type        string
	Message     string
	Payload     []byte
	PersistedAt time.Time
}

// LoadRecord returns the raw record of runID, or nil if there is none.
func (s *CheckpointStore) LoadRecord(ctx context.Context, sess Session, runID checkpoint.RunID) (_ *Record, err error) {
	ctx, span := s.start(ctx, "LoadRecord", runID)
	defer func() { endSpan(span, err) }()

	rec := Record{RunID: runID}
	var (
		status        string
		progressStep  sql.NullString
		suspendReason sql.NullString
	)
	err = sess.QueryRowContext(ctx, s.q(`
		SELECT blob_id, result_id, error_id, invocation_id, status, compatible, progress_step, suspend_reason, updated_at
		FROM checkpoints
		WHERE flow_id = ?
	`), runID.String()).Scan(
		&rec.BlobID, &rec.ResultID, &rec.ErrorID, &rec.InvocationID, &status,
		&rec.Compatible, &progressStep, &suspendReason, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if rec.Status, err = checkpoint.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	rec.ProgressStep = progressStep.String
	rec.SuspendReason = suspendReason.String

	err = sess.QueryRowContext(ctx, s.q(`
		SELECT checkpoint_state, flow_state, hmac, persisted_at FROM checkpoint_blobs WHERE id = ?
	`), rec.BlobID).Scan(&rec.Blob.CheckpointState, &rec.Blob.FlowState, &rec.Blob.Tag, &rec.Blob.PersistedAt)
	if err != nil {
		return nil, fmt.Errorf("load record: blob %d: %w", rec.BlobID, err)
	}
	rec.Integrity = s.blobs.Verify(runID, rec.Blob)

	if rec.ResultID.Valid {
		err = sess.QueryRowContext(ctx, s.q(`SELECT result_value FROM flow_results WHERE id = ?`),
			rec.ResultID.Int64).Scan(&rec.Result)
		if err != nil {
			return nil, fmt.Errorf("load record: result %d: %w", rec.ResultID.Int64, err)
		}
		rec.Result = nonNil(rec.Result)
	}

	if rec.ErrorID.Valid {
		var (
			ex      ExceptionRecord
			message sql.NullString
		)
		err = sess.QueryRowContext(ctx, s.q(`
			SELECT id, type, message, payload, persisted_at FROM flow_exceptions WHERE id = ?
		`), rec.ErrorID.Int64).Scan(&ex.ID, &ex.Type, &message, &ex.Payload, &ex.PersistedAt)
		if err != nil {
			return nil, fmt.Errorf("load record: exception %d: %w", rec.ErrorID.Int64, err)
		}
		ex.Message = message.String
		rec.Exception = &ex
	}

	md, err := s.loadMetadata(ctx, sess, rec.InvocationID)
	if err != nil {
		return nil, fmt.Errorf("load record: metadata %s: %w", rec.InvocationID, err)
	}
	rec.Metadata = *md

	return &rec, nil
}
