package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// EventLog provides event-sourcing operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide event-sourcing operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-run
// sequence. The sequence read and the insert run in one transaction backed
// by a write-intent statement, so concurrent appenders cannot interleave.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx starts a deferred transaction; force lock
	// acquisition with an immediate write before reading the sequence.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.NodeID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// stepPayload is the node event payload shape used for replay.
type stepPayload struct {
	Input            any    `json:"input,omitempty"`
	Output           any    `json:"output,omitempty"`
	Error            string `json:"error,omitempty"`
	StreamingContent string `json:"streaming_content,omitempty"`
}

// ReplayEvents replays all events for a run and returns the reconstructed
// per-node step results. Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayEvents(ctx context.Context, runID string) (map[string]*schema.StepResult, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	results := make(map[string]*schema.StepResult)
	if len(events) == 0 {
		return results, nil
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	for _, e := range events {
		if e.NodeID == "" {
			continue
		}

		r, ok := results[e.NodeID]
		if !ok {
			r = &schema.StepResult{
				NodeID: e.NodeID,
				Status: schema.StepStatusPending,
			}
			results[e.NodeID] = r
		}

		var p stepPayload
		if len(e.Payload) > 0 {
			_ = json.Unmarshal(e.Payload, &p)
		}

		switch e.Type {
		case schema.EventNodeStarted:
			r.Status = schema.StepStatusRunning
			ts := e.Timestamp
			r.StartedAt = &ts
			r.Input = p.Input

		case schema.EventNodeStreaming:
			r.StreamingContent += p.StreamingContent

		case schema.EventNodeCompleted:
			r.Status = schema.StepStatusCompleted
			ts := e.Timestamp
			r.CompletedAt = &ts
			r.Output = p.Output
			if p.Input != nil {
				r.Input = p.Input
			}

		case schema.EventBranchSelected:
			// Informational; the node_completed event carries the output.

		case schema.EventNodeFailed:
			r.Status = schema.StepStatusFailed
			ts := e.Timestamp
			r.CompletedAt = &ts
			r.Error = p.Error
			if p.Input != nil {
				r.Input = p.Input
			}

		case schema.EventNodeSkipped:
			r.Status = schema.StepStatusSkipped
		}
	}

	return results, nil
}
