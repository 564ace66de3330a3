package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/flowstore/internal/blob"
	"github.com/roach88/flowstore/internal/checkpoint"
)

const tracerName = "github.com/roach88/flowstore/internal/store"

// Session is the subset of database/sql the store runs statements on.
// *sql.Tx, *sql.Conn and *sql.DB all satisfy it.
type Session interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CheckpointStore reads and writes checkpoints inside a caller-owned
// session. It never begins, commits or rolls back a transaction: every
// call joins whatever unit of work the caller passes in, and a failure
// leaves the caller to roll back.
//
// The store holds no mutable state and is safe for concurrent use with
// distinct sessions. Writes to the same run id must be serialized by the
// caller.
type CheckpointStore struct {
	dialect     Dialect
	blobs       *blob.Adapter
	logger      *slog.Logger
	tracer      trace.Tracer
	recorder    checkpoint.PerformanceRecorder
	placeholder bool
	now         func() time.Time
}

// Option configures a CheckpointStore.
type Option func(*CheckpointStore)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *CheckpointStore) {
		s.logger = logger
	}
}

// WithTracer sets the tracer used for operation spans. Default is the
// global otel tracer provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *CheckpointStore) {
		s.tracer = tracer
	}
}

// WithRecorder sets the performance recorder called with both buffers on
// every checkpoint write.
func WithRecorder(r checkpoint.PerformanceRecorder) Option {
	return func(s *CheckpointStore) {
		s.recorder = r
	}
}

// WithPlaceholderMetadata makes AddCheckpoint synthesize a metadata record
// when none exists for the checkpoint's invocation, instead of failing
// with MetadataNotFoundError. Every synthesized record is logged at WARN.
func WithPlaceholderMetadata(enabled bool) Option {
	return func(s *CheckpointStore) {
		s.placeholder = enabled
	}
}

// WithClock overrides the time source for persisted timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *CheckpointStore) {
		s.now = now
	}
}

// New creates a checkpoint store for the given dialect. blobs tags every
// written blob and verifies every read one.
func New(dialect Dialect, blobs *blob.Adapter, opts ...Option) *CheckpointStore {
	s := &CheckpointStore{
		dialect:  dialect,
		blobs:    blobs,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		recorder: checkpoint.NoopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkpoints returns a checkpoint store speaking d's dialect.
func (d *Database) Checkpoints(blobs *blob.Adapter, opts ...Option) *CheckpointStore {
	return New(d.dialect, blobs, opts...)
}

func (s *CheckpointStore) q(query string) string {
	return s.dialect.rebind(query)
}

func (s *CheckpointStore) start(ctx context.Context, op string, runID checkpoint.RunID) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("db.system", s.dialect.String())}
	if runID != "" {
		attrs = append(attrs, attribute.String("flow.run_id", runID.String()))
	}
	return s.tracer.Start(ctx, "store."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AddCheckpoint stores the first checkpoint of a flow run.
//
// The checkpoint's invocation must already have a metadata record (see
// AddMetadata) unless placeholder metadata is enabled; the record's
// flow_id is back-filled with runID; a record already linked to another
// run yields MetadataLinkedError. Progress step, suspend reason,
// result and exception are never set on creation.
//
// Returns DuplicateCheckpointError if runID already has a checkpoint.
func (s *CheckpointStore) AddCheckpoint(ctx context.Context, sess Session, runID checkpoint.RunID, cp checkpoint.Checkpoint, flowState []byte) (err error) {
	ctx, span := s.start(ctx, "AddCheckpoint", runID)
	defer func() { endSpan(span, err) }()

	if runID == "" {
		return errors.New("add checkpoint: empty run id")
	}
	now := s.now().UTC()

	invocationID := cp.InvocationID.Value
	exists, err := s.metadataExists(ctx, sess, invocationID)
	if err != nil {
		return fmt.Errorf("add checkpoint: %w", err)
	}
	if !exists {
		if !s.placeholder {
			return &MetadataNotFoundError{RunID: runID, InvocationID: invocationID}
		}
		if err := s.insertPlaceholderMetadata(ctx, sess, runID, cp, now); err != nil {
			return fmt.Errorf("add checkpoint: %w", err)
		}
	}

	blobID, err := s.insertBlob(ctx, sess, cp.State, flowState)
	if err != nil {
		return fmt.Errorf("add checkpoint: %w", err)
	}

	_, err = sess.ExecContext(ctx, s.q(`
		INSERT INTO checkpoints
		(flow_id, blob_id, result_id, error_id, invocation_id, status, compatible, progress_step, suspend_reason, updated_at)
		VALUES (?, ?, NULL, NULL, ?, ?, ?, NULL, NULL, ?)
	`),
		runID.String(),
		blobID,
		invocationID,
		cp.Status.String(),
		cp.Compatible,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &DuplicateCheckpointError{RunID: runID, Err: err}
		}
		return fmt.Errorf("add checkpoint: %w", err)
	}

	if err := s.linkMetadata(ctx, sess, runID, invocationID); err != nil {
		return fmt.Errorf("add checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint added",
		"run_id", runID,
		"status", cp.Status,
		"blob_id", blobID,
	)
	return nil
}

// linkMetadata back-fills the metadata flow_id with runID. A record
// already linked to another run is left alone and MetadataLinkedError is
// returned.
func (s *CheckpointStore) linkMetadata(ctx context.Context, sess Session, runID checkpoint.RunID, invocationID string) error {
	res, err := sess.ExecContext(ctx, s.q(`
		UPDATE flow_metadata SET flow_id = ?
		WHERE invocation_id = ? AND (flow_id IS NULL OR flow_id = ?)
	`), runID.String(), invocationID, runID.String())
	if err != nil {
		return fmt.Errorf("link metadata: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("link metadata: %w", err)
	}
	if n > 0 {
		return nil
	}

	var linked sql.NullString
	err = sess.QueryRowContext(ctx, s.q(`SELECT flow_id FROM flow_metadata WHERE invocation_id = ?`), invocationID).Scan(&linked)
	if err != nil {
		return fmt.Errorf("link metadata: %w", err)
	}
	return &MetadataLinkedError{
		InvocationID: invocationID,
		RunID:        runID,
		LinkedRunID:  checkpoint.RunID(linked.String),
	}
}

// UpdateCheckpoint replaces the stored checkpoint of runID.
//
// A new blob is written and linked. Result and exception sub-records are
// reconciled independently (see Reconcile). Status, compatible, progress
// step and suspend reason are overwritten unconditionally. The metadata
// link is never touched. The superseded blob is left for SweepOrphans.
//
// Returns CheckpointNotFoundError if runID has no checkpoint.
func (s *CheckpointStore) UpdateCheckpoint(ctx context.Context, sess Session, runID checkpoint.RunID, cp checkpoint.Checkpoint, flowState []byte) (err error) {
	ctx, span := s.start(ctx, "UpdateCheckpoint", runID)
	defer func() { endSpan(span, err) }()

	now := s.now().UTC()

	var resultID, errorID sql.NullInt64
	err = sess.QueryRowContext(ctx, s.q(`SELECT result_id, error_id FROM checkpoints WHERE flow_id = ?`),
		runID.String()).Scan(&resultID, &errorID)
	if errors.Is(err, sql.ErrNoRows) {
		return &CheckpointNotFoundError{RunID: runID}
	}
	if err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}

	blobID, err := s.insertBlob(ctx, sess, cp.State, flowState)
	if err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}

	resultLink, staleResult, err := s.reconcileResult(ctx, sess, resultID, cp.Result, now)
	if err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}
	latest, errored := cp.ErrorState.Latest()
	errorLink, staleError, err := s.reconcileException(ctx, sess, errorID, latest, errored, now)
	if err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}

	_, err = sess.ExecContext(ctx, s.q(`
		UPDATE checkpoints
		SET blob_id = ?, result_id = ?, error_id = ?, status = ?, compatible = ?,
		    progress_step = ?, suspend_reason = ?, updated_at = ?
		WHERE flow_id = ?
	`),
		blobID,
		resultLink,
		errorLink,
		cp.Status.String(),
		cp.Compatible,
		nullString(cp.ProgressStep),
		nullString(cp.SuspendReason),
		now,
		runID.String(),
	)
	if err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}

	// Unlinked above, so the foreign keys no longer point here.
	if staleResult.Valid {
		if _, err := sess.ExecContext(ctx, s.q(`DELETE FROM flow_results WHERE id = ?`), staleResult.Int64); err != nil {
			return fmt.Errorf("update checkpoint: delete result: %w", err)
		}
	}
	if staleError.Valid {
		if _, err := sess.ExecContext(ctx, s.q(`DELETE FROM flow_exceptions WHERE id = ?`), staleError.Int64); err != nil {
			return fmt.Errorf("update checkpoint: delete exception: %w", err)
		}
	}

	s.logger.Debug("checkpoint updated",
		"run_id", runID,
		"status", cp.Status,
		"blob_id", blobID,
		"has_result", resultLink.Valid,
		"has_error", errorLink.Valid,
	)
	return nil
}

// RemoveCheckpoint deletes the checkpoint row of runID and reports whether
// one existed. Blob, result and exception rows are not deleted.
func (s *CheckpointStore) RemoveCheckpoint(ctx context.Context, sess Session, runID checkpoint.RunID) (removed bool, err error) {
	ctx, span := s.start(ctx, "RemoveCheckpoint", runID)
	defer func() { endSpan(span, err) }()

	res, err := sess.ExecContext(ctx, s.q(`DELETE FROM checkpoints WHERE flow_id = ?`), runID.String())
	if err != nil {
		return false, fmt.Errorf("remove checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint removed", "run_id", runID, "removed", n > 0)
	return n > 0, nil
}

// GetCheckpoint returns the stored checkpoint of runID, or nil if there is
// none. The error state of the result is always clean. Returns a
// blob.IntegrityError if the stored blob fails verification.
func (s *CheckpointStore) GetCheckpoint(ctx context.Context, sess Session, runID checkpoint.RunID) (_ *checkpoint.Serialized, err error) {
	ctx, span := s.start(ctx, "GetCheckpoint", runID)
	defer func() { endSpan(span, err) }()

	row := sess.QueryRowContext(ctx, s.q(selectEntries+` WHERE c.flow_id = ?`), runID.String())
	e, err := s.scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return &e.Checkpoint, nil
}

func (s *CheckpointStore) insertBlob(ctx context.Context, sess Session, checkpointState, flowState []byte) (int64, error) {
	b, err := s.blobs.Wrap(nonNil(checkpointState), nonNil(flowState))
	if err != nil {
		return 0, fmt.Errorf("wrap blob: %w", err)
	}
	s.recorder.Record(checkpointState, flowState)

	var id int64
	err = sess.QueryRowContext(ctx, s.q(`
		INSERT INTO checkpoint_blobs (checkpoint_state, flow_state, hmac, persisted_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`),
		b.CheckpointState,
		b.FlowState,
		b.Tag,
		b.PersistedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert blob: %w", err)
	}
	return id, nil
}

// reconcileResult applies Reconcile to the result sub-record. It returns
// the id the checkpoint should link afterwards and, for ActionDelete, the
// id to delete once the link is gone.
func (s *CheckpointStore) reconcileResult(ctx context.Context, sess Session, current sql.NullInt64, result []byte, now time.Time) (link, stale sql.NullInt64, err error) {
	switch Reconcile(current.Valid, result != nil) {
	case ActionInsert:
		var id int64
		err = sess.QueryRowContext(ctx, s.q(`
			INSERT INTO flow_results (result_value, persisted_at) VALUES (?, ?) RETURNING id
		`), result, now).Scan(&id)
		if err != nil {
			return link, stale, fmt.Errorf("insert result: %w", err)
		}
		return sql.NullInt64{Int64: id, Valid: true}, stale, nil

	case ActionUpdate:
		_, err = sess.ExecContext(ctx, s.q(`
			UPDATE flow_results SET result_value = ?, persisted_at = ? WHERE id = ?
		`), result, now, current.Int64)
		if err != nil {
			return link, stale, fmt.Errorf("update result: %w", err)
		}
		return current, stale, nil

	case ActionDelete:
		return link, current, nil

	default:
		return link, stale, nil
	}
}

// reconcileException is reconcileResult for the exception sub-record. The
// row is built from the latest error of an errored state.
func (s *CheckpointStore) reconcileException(ctx context.Context, sess Session, current sql.NullInt64, latest checkpoint.FlowError, errored bool, now time.Time) (link, stale sql.NullInt64, err error) {
	message := nullString(truncateMessage(latest.Message, maxMessageBytes))
	var payload any
	if latest.Payload != nil {
		payload = latest.Payload
	}

	switch Reconcile(current.Valid, errored) {
	case ActionInsert:
		var id int64
		err = sess.QueryRowContext(ctx, s.q(`
			INSERT INTO flow_exceptions (type, message, payload, persisted_at) VALUES (?, ?, ?, ?) RETURNING id
		`), latest.Type, message, payload, now).Scan(&id)
		if err != nil {
			return link, stale, fmt.Errorf("insert exception: %w", err)
		}
		return sql.NullInt64{Int64: id, Valid: true}, stale, nil

	case ActionUpdate:
		_, err = sess.ExecContext(ctx, s.q(`
			UPDATE flow_exceptions SET type = ?, message = ?, payload = ?, persisted_at = ? WHERE id = ?
		`), latest.Type, message, payload, now, current.Int64)
		if err != nil {
			return link, stale, fmt.Errorf("update exception: %w", err)
		}
		return current, stale, nil

	case ActionDelete:
		return link, current, nil

	default:
		return link, stale, nil
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
