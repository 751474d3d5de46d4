package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stepflow-dev/stepflow/internal/logging"
	"github.com/stepflow-dev/stepflow/internal/store"
	"github.com/stepflow-dev/stepflow/internal/streaming"
	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// CancelledMessage is the fixed error text a cancelled run carries.
const CancelledMessage = "Execution cancelled"

// StateCallback observes run state. It is invoked synchronously on every
// state change with a deep-cloned full replacement snapshot.
type StateCallback func(*schema.ExecutionState)

// Runner drives one workflow run at a time through its topological order.
// Independent runs are fully isolated; a single Runner is safe for concurrent
// Run calls.
type Runner struct {
	executor *Executor
	hub      streaming.EventHub
	runs     store.Store
	appender EventAppender
	log      *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithHub publishes run events to the given streaming hub.
func WithHub(hub streaming.EventHub) RunnerOption {
	return func(r *Runner) { r.hub = hub }
}

// WithStore persists run records and appends events to the given store.
func WithStore(s store.Store, appender EventAppender) RunnerOption {
	return func(r *Runner) {
		r.runs = s
		r.appender = appender
	}
}

// WithLogger sets the runner's logger.
func WithLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

// NewRunner creates a Runner around the given executor.
func NewRunner(executor *Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		executor: executor,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run carries the per-run mutable state. Each Run call owns exactly one.
type run struct {
	graph   *schema.Graph
	state   *schema.ExecutionState
	skip    map[string]struct{}
	observe StateCallback
	runFSM  *RunFSM
	stepFSM *StepFSM
}

// Run executes the graph sequentially in topological order and returns the
// final state. onStateChange may be nil. Cancellation is cooperative: the
// context is checked before each node and forwarded into agent calls; a
// cancelled run finalizes with status cancelled and the fixed cancellation
// error text.
//
// Run returns an error only for setup failures (persistence). Node failures
// finalize the run as failed and are reported through the returned state.
func (r *Runner) Run(ctx context.Context, graph *schema.Graph, triggerInput any, onStateChange StateCallback) (*schema.ExecutionState, error) {
	runID := uuid.New().String()
	ctx = logging.WithRunID(ctx, runID)
	order := TopologicalOrder(graph)

	ec := schema.NewExecutionContext(triggerInput)
	rn := &run{
		graph: graph,
		state: &schema.ExecutionState{
			RunID:          runID,
			Status:         schema.RunStatusRunning,
			StartedAt:      time.Now().UTC(),
			ExecutionOrder: order,
			Context:        ec,
		},
		skip:    make(map[string]struct{}),
		observe: onStateChange,
		runFSM:  NewRunFSM(r.appender),
		stepFSM: NewStepFSM(r.appender),
	}

	log := r.log.With("run_id", runID)
	log.Info("run started", "nodes", len(graph.Nodes), "order", len(order))

	if err := r.persistRunStart(ctx, rn, triggerInput); err != nil {
		return nil, err
	}
	r.appendEvent(ctx, runID, "", schema.EventRunStarted, nil)
	r.emitHub(ctx, streaming.StreamEvent{RunID: runID, Type: schema.EventRunStarted})
	r.publish(ctx, rn)

	for _, nodeID := range order {
		if ctx.Err() != nil {
			return r.finalize(ctx, rn, schema.RunStatusCancelled, CancelledMessage, log), nil
		}

		node := graph.NodeByID(nodeID)
		if node == nil {
			return r.finalize(ctx, rn, schema.RunStatusFailed, "unknown node in order: "+nodeID, log), nil
		}

		if _, skipped := rn.skip[nodeID]; skipped {
			r.skipNode(ctx, rn, nodeID, log)
			continue
		}

		result := r.executeNode(ctx, rn, node, log)

		if ctx.Err() != nil {
			return r.finalize(ctx, rn, schema.RunStatusCancelled, CancelledMessage, log), nil
		}

		if node.Kind == schema.NodeKindBranch && result.Status == schema.StepStatusCompleted {
			r.pruneBranches(ctx, rn, node, result, log)
		}

		if result.Status == schema.StepStatusFailed {
			return r.finalize(ctx, rn, schema.RunStatusFailed, result.Error, log), nil
		}
	}

	return r.finalize(ctx, rn, schema.RunStatusCompleted, "", log), nil
}

// skipNode records a skipped result without transitioning through running.
func (r *Runner) skipNode(ctx context.Context, rn *run, nodeID string, log *slog.Logger) {
	result := &schema.StepResult{
		NodeID: nodeID,
		Status: schema.StepStatusSkipped,
	}
	rn.state.Context.Steps[nodeID] = result

	if err := rn.stepFSM.Transition(ctx, rn.state.RunID, nodeID, schema.StepStatusPending, schema.StepStatusSkipped, nil); err != nil {
		log.Warn("record skip transition", "node_id", nodeID, "error", err)
	}
	r.emitHub(ctx, streaming.StreamEvent{
		RunID:  rn.state.RunID,
		NodeID: nodeID,
		Type:   schema.EventNodeSkipped,
		Step:   result.Clone(),
	})
	r.publish(ctx, rn)

	log.Debug("node skipped", "node_id", nodeID)
}

// executeNode runs one node: marks it running, invokes the executor with a
// streaming callback, and merges the terminal result into the context.
func (r *Runner) executeNode(ctx context.Context, rn *run, node *schema.Node, log *slog.Logger) *schema.StepResult {
	now := time.Now().UTC()
	inflight := &schema.StepResult{
		NodeID:    node.ID,
		Status:    schema.StepStatusRunning,
		StartedAt: &now,
	}
	rn.state.Context.Steps[node.ID] = inflight
	rn.state.CurrentNodeID = node.ID

	if err := rn.stepFSM.Transition(ctx, rn.state.RunID, node.ID, schema.StepStatusPending, schema.StepStatusRunning, nil); err != nil {
		log.Warn("record start transition", "node_id", node.ID, "error", err)
	}
	r.emitHub(ctx, streaming.StreamEvent{
		RunID:  rn.state.RunID,
		NodeID: node.ID,
		Type:   schema.EventNodeStarted,
		Step:   inflight.Clone(),
	})
	r.publish(ctx, rn)

	onPartial := func(text string) {
		inflight.StreamingContent += text
		r.appendEvent(ctx, rn.state.RunID, node.ID, schema.EventNodeStreaming,
			map[string]any{"streaming_content": text})
		r.emitHub(ctx, streaming.StreamEvent{
			RunID:  rn.state.RunID,
			NodeID: node.ID,
			Type:   schema.EventNodeStreaming,
			Delta:  text,
		})
		r.publish(ctx, rn)
	}

	result := r.executor.ExecuteNode(logging.WithNodeID(ctx, node.ID), node, rn.state.Context, onPartial)

	completed := time.Now().UTC()
	inflight.Status = result.Status
	inflight.CompletedAt = &completed
	inflight.Input = result.Input
	inflight.Output = result.Output
	inflight.Error = result.Error

	payload, _ := json.Marshal(map[string]any{
		"input":  inflight.Input,
		"output": inflight.Output,
		"error":  inflight.Error,
	})
	if err := rn.stepFSM.Transition(ctx, rn.state.RunID, node.ID, schema.StepStatusRunning, inflight.Status, payload); err != nil {
		log.Warn("record terminal transition", "node_id", node.ID, "error", err)
	}
	r.emitHub(ctx, streaming.StreamEvent{
		RunID:  rn.state.RunID,
		NodeID: node.ID,
		Type:   stepEventType(inflight.Status),
		Step:   inflight.Clone(),
	})
	r.publish(ctx, rn)

	log.Debug("node finished", "node_id", node.ID, "status", inflight.Status)
	return inflight
}

// pruneBranches unions the reachable sets of the branch node's non-selected
// handles into the run's skip set.
func (r *Runner) pruneBranches(ctx context.Context, rn *run, node *schema.Node, result *schema.StepResult, log *slog.Logger) {
	handle, ok := SelectedBranch(result)
	if !ok {
		return
	}

	for id := range BranchSkipSet(rn.graph, node.ID, handle) {
		rn.skip[id] = struct{}{}
	}

	r.appendEvent(ctx, rn.state.RunID, node.ID, schema.EventBranchSelected,
		map[string]any{SelectedBranchKey: handle})
	r.emitHub(ctx, streaming.StreamEvent{
		RunID:  rn.state.RunID,
		NodeID: node.ID,
		Type:   schema.EventBranchSelected,
		Branch: handle,
	})

	log.Debug("branch selected", "node_id", node.ID, "handle", handle, "skip_size", len(rn.skip))
}

// finalize transitions the run to its terminal status, persists it, and
// publishes the final snapshot.
func (r *Runner) finalize(ctx context.Context, rn *run, status schema.RunStatus, errMsg string, log *slog.Logger) *schema.ExecutionState {
	now := time.Now().UTC()
	rn.state.Status = status
	rn.state.CompletedAt = &now
	rn.state.CurrentNodeID = ""
	rn.state.Error = errMsg

	if err := rn.runFSM.Transition(ctx, rn.state.RunID, schema.RunStatusRunning, status); err != nil {
		log.Warn("record run transition", "status", status, "error", err)
	}
	r.persistRunEnd(ctx, rn)
	r.emitHub(ctx, streaming.StreamEvent{
		RunID:    rn.state.RunID,
		Type:     runEventType(status),
		RunError: errMsg,
	})
	r.publish(ctx, rn)

	log.Info("run finished", "status", status, "error", errMsg)
	return rn.state.Clone()
}

// publish pushes a deep-cloned snapshot to the observer.
func (r *Runner) publish(ctx context.Context, rn *run) {
	if rn.observe != nil {
		rn.observe(rn.state.Clone())
	}
}

// appendEvent records an event in the event log when one is configured.
func (r *Runner) appendEvent(ctx context.Context, runID, nodeID, eventType string, payload map[string]any) {
	if r.appender == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	if err := r.appender.AppendEvent(ctx, &store.Event{
		RunID:   runID,
		NodeID:  nodeID,
		Type:    eventType,
		Payload: raw,
	}); err != nil {
		r.log.Warn("append event", "run_id", runID, "event_type", eventType, "error", err)
	}
}

// emitHub publishes a typed progress event to the streaming hub.
func (r *Runner) emitHub(ctx context.Context, ev streaming.StreamEvent) {
	if r.hub == nil || ev.Type == "" {
		return
	}
	if err := r.hub.Publish(ctx, ev); err != nil {
		r.log.Warn("publish stream event", "run_id", ev.RunID, "event_type", ev.Type, "error", err)
	}
}

func (r *Runner) persistRunStart(ctx context.Context, rn *run, triggerInput any) error {
	if r.runs == nil {
		return nil
	}
	trigger, err := json.Marshal(triggerInput)
	if err != nil {
		trigger = nil
	}
	started := rn.state.StartedAt
	record := &store.Run{
		ID:           rn.state.RunID,
		Graph:        rn.graph,
		Status:       schema.RunStatusRunning,
		TriggerInput: trigger,
		Order:        rn.state.ExecutionOrder,
		CreatedAt:    started,
		StartedAt:    &started,
	}
	if err := r.runs.CreateRun(ctx, record); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist run: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (r *Runner) persistRunEnd(ctx context.Context, rn *run) {
	if r.runs == nil {
		return
	}
	status := rn.state.Status
	errMsg := rn.state.Error
	if err := r.runs.UpdateRun(ctx, rn.state.RunID, store.RunUpdate{
		Status:      &status,
		Error:       &errMsg,
		CompletedAt: rn.state.CompletedAt,
	}); err != nil {
		r.log.Warn("persist run end", "run_id", rn.state.RunID, "error", err)
	}
}
