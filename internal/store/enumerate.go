package store

import (
	"context"
	"database/sql"
	"fmt"
	"iter"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/flowstore/internal/blob"
	"github.com/roach88/flowstore/internal/checkpoint"
)

// Entry is one stored checkpoint together with the metadata the recovery
// verifier needs.
type Entry struct {
	RunID        checkpoint.RunID
	Checkpoint   checkpoint.Serialized
	InvocationID string

	// FlowName and PlatformVersion come from the linked metadata record.
	FlowName        string
	PlatformVersion int
}

// selectEntries reads everything GetCheckpoint and AllCheckpoints return
// in one statement, so enumeration never issues a query while a cursor is
// open on the same session.
const selectEntries = `
	SELECT c.flow_id, c.invocation_id, c.status, c.compatible, c.progress_step, c.suspend_reason,
	       c.result_id, r.result_value,
	       b.checkpoint_state, b.flow_state, b.hmac,
	       m.flow_name, m.platform_version
	FROM checkpoints c
	JOIN checkpoint_blobs b ON b.id = c.blob_id
	LEFT JOIN flow_results r ON r.id = c.result_id
	JOIN flow_metadata m ON m.invocation_id = c.invocation_id`

type rowScanner interface {
	Scan(dest ...any) error
}

// AllCheckpoints returns an iterator over every stored checkpoint ordered
// by run id. Rows are read lazily; the cursor is closed when the range
// loop ends, whether it ran to completion, hit break, or returned early.
// Iteration stops after the first error, which is yielded with a zero
// Entry.
//
// Each range over the returned sequence runs the query again, so the
// sequence can be consumed more than once. The session must stay open
// until the loop ends.
func (s *CheckpointStore) AllCheckpoints(ctx context.Context, sess Session) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		ctx, span := s.start(ctx, "AllCheckpoints", "")
		var (
			err   error
			count int
		)
		defer func() {
			span.SetAttributes(attribute.Int("checkpoint.count", count))
			endSpan(span, err)
		}()

		rows, err := sess.QueryContext(ctx, s.q(selectEntries+` ORDER BY c.flow_id`))
		if err != nil {
			err = fmt.Errorf("all checkpoints: %w", err)
			yield(Entry{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var e Entry
			e, err = s.scanEntry(rows)
			if err != nil {
				err = fmt.Errorf("all checkpoints: %w", err)
				yield(Entry{}, err)
				return
			}
			count++
			if !yield(e, nil) {
				return
			}
		}
		if err = rows.Err(); err != nil {
			err = fmt.Errorf("all checkpoints: %w", err)
			yield(Entry{}, err)
		}
	}
}

func (s *CheckpointStore) scanEntry(row rowScanner) (Entry, error) {
	var (
		e             Entry
		flowID        string
		status        string
		progressStep  sql.NullString
		suspendReason sql.NullString
		resultID      sql.NullInt64
		result        []byte
		b             blob.Blob
	)
	err := row.Scan(
		&flowID, &e.InvocationID, &status, &e.Checkpoint.Compatible, &progressStep, &suspendReason,
		&resultID, &result,
		&b.CheckpointState, &b.FlowState, &b.Tag,
		&e.FlowName, &e.PlatformVersion,
	)
	if err != nil {
		return Entry{}, err
	}
	e.RunID = checkpoint.RunID(flowID)

	st, err := checkpoint.ParseStatus(status)
	if err != nil {
		return Entry{}, fmt.Errorf("flow %s: %w", flowID, err)
	}

	state, flow, err := s.blobs.Unwrap(e.RunID, b)
	if err != nil {
		return Entry{}, err
	}

	if resultID.Valid {
		result = nonNil(result)
	} else {
		result = nil
	}

	e.Checkpoint.CheckpointState = state
	e.Checkpoint.FlowState = flow
	// A stored checkpoint is the last good one; errors are never replayed.
	e.Checkpoint.ErrorState = checkpoint.Clean
	e.Checkpoint.Result = result
	e.Checkpoint.Status = st
	e.Checkpoint.ProgressStep = progressStep.String
	e.Checkpoint.SuspendReason = suspendReason.String
	return e, nil
}
