package store

import (
	"encoding/json"
	"time"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// Run is the persisted representation of a workflow run.
type Run struct {
	ID           string           `json:"id"`
	Name         string           `json:"name,omitempty"`
	Graph        *schema.Graph    `json:"graph"`
	Status       schema.RunStatus `json:"status"`
	TriggerInput json.RawMessage  `json:"trigger_input,omitempty"`
	Order        []string         `json:"execution_order,omitempty"`
	Error        string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Event is an immutable entry in the run event log. Sequence is monotonic and
// gapless per run, assigned by the EventLog on append.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status      *schema.RunStatus `json:"status,omitempty"`
	Order       []string          `json:"execution_order,omitempty"`
	Error       *string           `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status *schema.RunStatus `json:"status,omitempty"`
	Since  *time.Time        `json:"since,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}
