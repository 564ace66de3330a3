package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/flowstore/internal/checkpoint"
)

// Placeholder values for metadata synthesized by AddCheckpoint.
const (
	placeholderFlowName = "unknown.flow"
	placeholderApp      = "unknown"
	placeholderUser     = "unknown"
)

// AddMetadata records a flow invocation. It is called on the flow-start
// path before the first checkpoint of the run is added. FlowID is ignored;
// AddCheckpoint back-fills it.
//
// Returns ErrMetadataExists if the invocation id is already recorded.
func (s *CheckpointStore) AddMetadata(ctx context.Context, sess Session, md checkpoint.Metadata) (err error) {
	ctx, span := s.start(ctx, "AddMetadata", "")
	defer func() { endSpan(span, err) }()

	if md.InvocationID == "" {
		return errors.New("add metadata: empty invocation id")
	}
	if err := s.insertMetadata(ctx, sess, md); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("add metadata %s: %w", md.InvocationID, ErrMetadataExists)
		}
		return fmt.Errorf("add metadata: %w", err)
	}
	return nil
}

// GetMetadata returns the metadata record of invocationID, or nil if there
// is none.
func (s *CheckpointStore) GetMetadata(ctx context.Context, sess Session, invocationID string) (_ *checkpoint.Metadata, err error) {
	ctx, span := s.start(ctx, "GetMetadata", "")
	defer func() { endSpan(span, err) }()

	md, err := s.loadMetadata(ctx, sess, invocationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	return md, nil
}

func (s *CheckpointStore) metadataExists(ctx context.Context, sess Session, invocationID string) (bool, error) {
	var one int
	err := sess.QueryRowContext(ctx, s.q(`SELECT 1 FROM flow_metadata WHERE invocation_id = ?`), invocationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup metadata: %w", err)
	}
	return true, nil
}

// insertPlaceholderMetadata records a stand-in for a flow whose start path
// never wrote metadata.
func (s *CheckpointStore) insertPlaceholderMetadata(ctx context.Context, sess Session, runID checkpoint.RunID, cp checkpoint.Checkpoint, now time.Time) error {
	flowName := cp.FlowClass
	if flowName == "" {
		flowName = placeholderFlowName
	}
	invokedAt := cp.InvocationID.Timestamp
	if invokedAt.IsZero() {
		invokedAt = now
	}

	md := checkpoint.Metadata{
		InvocationID:    cp.InvocationID.Value,
		FlowName:        flowName,
		StartReason:     checkpoint.StartRPC,
		LaunchingApp:    placeholderApp,
		PlatformVersion: checkpoint.PlatformVersion,
		InvokingUser:    placeholderUser,
		InvokedAt:       invokedAt.UTC(),
		ReceivedAt:      now,
	}

	s.logger.Warn("no flow metadata for checkpoint; writing placeholder",
		"run_id", runID,
		"invocation_id", md.InvocationID,
		"flow_name", md.FlowName,
	)
	if err := s.insertMetadata(ctx, sess, md); err != nil {
		return fmt.Errorf("insert placeholder metadata: %w", err)
	}
	return nil
}

func (s *CheckpointStore) insertMetadata(ctx context.Context, sess Session, md checkpoint.Metadata) error {
	_, err := sess.ExecContext(ctx, s.q(`
		INSERT INTO flow_metadata
		(invocation_id, flow_id, flow_name, user_identifier, start_reason, initial_parameters,
		 launching_app, platform_version, invoking_user, invoked_at, received_at, started_at, finished_at)
		VALUES (?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		md.InvocationID,
		md.FlowName,
		nullString(md.UserSuppliedIdentifier),
		md.StartReason.String(),
		nonNil(md.InitialParameters),
		md.LaunchingApp,
		md.PlatformVersion,
		md.InvokingUser,
		md.InvokedAt.UTC(),
		md.ReceivedAt.UTC(),
		nullTime(md.StartedAt),
		nullTime(md.FinishedAt),
	)
	return err
}

func (s *CheckpointStore) loadMetadata(ctx context.Context, sess Session, invocationID string) (*checkpoint.Metadata, error) {
	var (
		md          checkpoint.Metadata
		flowID      sql.NullString
		userID      sql.NullString
		startReason string
		startedAt   sql.NullTime
		finishedAt  sql.NullTime
	)
	err := sess.QueryRowContext(ctx, s.q(`
		SELECT invocation_id, flow_id, flow_name, user_identifier, start_reason, initial_parameters,
		       launching_app, platform_version, invoking_user, invoked_at, received_at, started_at, finished_at
		FROM flow_metadata
		WHERE invocation_id = ?
	`), invocationID).Scan(
		&md.InvocationID,
		&flowID,
		&md.FlowName,
		&userID,
		&startReason,
		&md.InitialParameters,
		&md.LaunchingApp,
		&md.PlatformVersion,
		&md.InvokingUser,
		&md.InvokedAt,
		&md.ReceivedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	md.StartReason, err = checkpoint.ParseStartReason(startReason)
	if err != nil {
		return nil, fmt.Errorf("invocation %s: %w", invocationID, err)
	}
	md.FlowID = checkpoint.RunID(flowID.String)
	md.UserSuppliedIdentifier = userID.String
	if startedAt.Valid {
		t := startedAt.Time
		md.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		md.FinishedAt = &t
	}
	return &md, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
