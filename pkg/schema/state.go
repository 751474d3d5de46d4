package schema

import "time"

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// StepStatus represents the lifecycle state of a single node's execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Trigger is the single input value a run starts from.
type Trigger struct {
	Input     any       `json:"input"`
	StartedAt time.Time `json:"started_at"`
}

// StepResult is the per-node outcome record. Created when the runner begins a
// node, mutated in place (streaming updates merge onto it), frozen once the
// status reaches a terminal value. A branch node's output is
// {"selected_branch": <handle>}.
type StepResult struct {
	NodeID           string     `json:"node_id"`
	Status           StepStatus `json:"status"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Input            any        `json:"input,omitempty"`
	Output           any        `json:"output,omitempty"`
	Error            string     `json:"error,omitempty"`
	StreamingContent string     `json:"streaming_content,omitempty"`
}

// Terminal reports whether the result has reached a terminal status.
func (r *StepResult) Terminal() bool {
	return r.Status == StepStatusCompleted || r.Status == StepStatusFailed || r.Status == StepStatusSkipped
}

// Fields exposes the result as a map for dot-path resolution
// (e.g. "agent-1.output.message" walks output, then message).
func (r *StepResult) Fields() map[string]any {
	m := map[string]any{
		"node_id": r.NodeID,
		"status":  string(r.Status),
		"input":   r.Input,
		"output":  r.Output,
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	if r.StreamingContent != "" {
		m["streaming_content"] = r.StreamingContent
	}
	return m
}

// Clone returns a deep copy of the result.
func (r *StepResult) Clone() *StepResult {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Input = deepCopyAny(r.Input)
	cp.Output = deepCopyAny(r.Output)
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// ExecutionContext is the mutable per-run accumulator: the trigger input plus
// each node's result keyed by node ID. Owned exclusively by one run; never
// shared across concurrent runs.
type ExecutionContext struct {
	Trigger Trigger                `json:"trigger"`
	Steps   map[string]*StepResult `json:"steps"`
}

// NewExecutionContext creates a context for a run triggered with input.
func NewExecutionContext(input any) *ExecutionContext {
	return &ExecutionContext{
		Trigger: Trigger{Input: input, StartedAt: time.Now().UTC()},
		Steps:   make(map[string]*StepResult),
	}
}

// TriggerFields exposes the trigger as a map for dot-path resolution.
func (c *ExecutionContext) TriggerFields() map[string]any {
	return map[string]any{
		"input":      c.Trigger.Input,
		"started_at": c.Trigger.StartedAt,
	}
}

// Clone returns a deep copy of the context.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	cp := &ExecutionContext{
		Trigger: Trigger{Input: deepCopyAny(c.Trigger.Input), StartedAt: c.Trigger.StartedAt},
		Steps:   make(map[string]*StepResult, len(c.Steps)),
	}
	for id, r := range c.Steps {
		cp.Steps[id] = r.Clone()
	}
	return cp
}

// ExecutionState is the externally observable run snapshot, pushed to
// observers on every state transition. Observers receive deep clones and must
// treat each as a full replacement snapshot, not a diff.
type ExecutionState struct {
	RunID          string            `json:"run_id"`
	Status         RunStatus         `json:"status"`
	StartedAt      time.Time         `json:"started_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	CurrentNodeID  string            `json:"current_node_id,omitempty"`
	ExecutionOrder []string          `json:"execution_order"`
	Context        *ExecutionContext `json:"context"`
	Error          string            `json:"error,omitempty"`
}

// Clone returns a deep copy of the state.
func (s *ExecutionState) Clone() *ExecutionState {
	if s == nil {
		return nil
	}
	cp := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	cp.ExecutionOrder = append([]string(nil), s.ExecutionOrder...)
	cp.Context = s.Context.Clone()
	return &cp
}

// deepCopyAny recursively deep-copies a value. Handles maps, slices, and
// primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(val))
		for k, item := range val {
			cp[k] = deepCopyAny(item)
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	default:
		return v
	}
}
