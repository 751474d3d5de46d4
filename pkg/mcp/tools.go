package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/stepflow-dev/stepflow/internal/store"
	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// handleRun validates and executes a workflow graph.
//
// The run executes on a context detached from the request so flow.cancel can
// stop it independently of the tool call's lifetime. With wait=true (the
// default) the handler blocks and returns the final state; with wait=false it
// returns the run ID as soon as the run is registered.
func (s *FlowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphDoc := mcp.ParseStringMap(req, "graph", nil)
	if graphDoc == nil {
		return mcp.NewToolResultError("graph is required"), nil
	}
	wait := req.GetBool("wait", true)

	var triggerInput any
	if params := mcp.ParseStringMap(req, "trigger_input", nil); params != nil {
		triggerInput = params
	}

	raw, err := json.Marshal(graphDoc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid graph: %v", err)), nil
	}
	g, result := s.pipeline.ValidateDocument(raw)
	if g == nil {
		return validationFailure(result)
	}

	var sessionID string
	if session := server.ClientSessionFromContext(ctx); session != nil {
		sessionID = session.SessionID()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	tr := &trackedRun{cancel: cancel, done: make(chan struct{})}

	idCh := make(chan string, 1)
	errCh := make(chan error, 1)
	var once sync.Once
	observe := func(state *schema.ExecutionState) {
		// The first snapshot carries the run ID; register before anything
		// can ask about the run.
		once.Do(func() {
			s.tracker.add(state.RunID, tr)
			if sessionID != "" {
				s.sessions.Register(state.RunID, sessionID)
			}
			idCh <- state.RunID
		})
		tr.setState(state)
	}

	go func() {
		defer cancel()
		final, runErr := s.runner.Run(runCtx, g, triggerInput, observe)
		if final != nil {
			tr.setState(final)
		}
		// The error must be visible before done wakes any waiter.
		if runErr != nil {
			errCh <- runErr
		}
		close(tr.done)
		if runErr == nil && final != nil {
			if nerr := s.notifier.NotifyFinished(context.Background(), final); nerr != nil {
				s.logger.Warn("notify run finished", "run_id", final.RunID, "error", nerr)
			}
		}
	}()

	if wait {
		<-tr.done
		select {
		case runErr := <-errCh:
			return mcp.NewToolResultError(fmt.Sprintf("run failed to start: %v", runErr)), nil
		default:
		}
		return marshalResult(tr.snapshot())
	}

	select {
	case runID := <-idCh:
		return marshalResult(map[string]any{
			"run_id": runID,
			"status": string(schema.RunStatusRunning),
		})
	case runErr := <-errCh:
		return mcp.NewToolResultError(fmt.Sprintf("run failed to start: %v", runErr)), nil
	}
}

// handleStatus returns the latest snapshot of a run. In-process runs answer
// from memory; finished runs started elsewhere answer from the store.
func (s *FlowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	if tr, ok := s.tracker.get(runID); ok {
		if state := tr.snapshot(); state != nil {
			return marshalResult(state)
		}
	}

	if s.store == nil {
		return mcp.NewToolResultError(fmt.Sprintf("unknown run: %s", runID)), nil
	}
	record, getErr := s.store.GetRun(ctx, runID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", getErr)), nil
	}

	resp := map[string]any{"run": record}
	if s.events != nil {
		steps, rerr := s.events.ReplayEvents(ctx, runID)
		if rerr != nil {
			s.logger.Warn("replay events", "run_id", runID, "error", rerr)
		} else {
			resp["steps"] = steps
		}
	}
	return marshalResult(resp)
}

// handleCancel requests cooperative cancellation of an in-process run.
func (s *FlowServer) handleCancel(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	tr, ok := s.tracker.get(runID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown run: %s", runID)), nil
	}
	if tr.finished() {
		return mcp.NewToolResultError(fmt.Sprintf("run already finished: %s", runID)), nil
	}

	tr.cancel()
	return marshalResult(map[string]any{
		"ok":     true,
		"run_id": runID,
	})
}

// handleValidate checks a graph document without executing it.
func (s *FlowServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphDoc := mcp.ParseStringMap(req, "graph", nil)
	if graphDoc == nil {
		return mcp.NewToolResultError("graph is required"), nil
	}

	raw, err := json.Marshal(graphDoc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid graph: %v", err)), nil
	}

	_, result := s.pipeline.ValidateDocument(raw)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleQuery lists persisted runs or run events based on filters.
func (s *FlowServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("no store configured; flow.query requires persistence"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "runs":
		return s.queryRuns(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *FlowServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rs := schema.RunStatus(status)
		rf.Status = &rs
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			rf.Since = &t
		}
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *FlowServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	runID, _ := filter["run_id"].(string)
	if runID == "" {
		return mcp.NewToolResultError("event query requires 'run_id' in filter"), nil
	}
	since := int64(extractInt(filter, "since_sequence", 0))

	events, err := s.store.GetEvents(ctx, runID, since)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// --- Internal helpers ---

// validationFailure renders a failed validation as an error tool result with
// the full issue list attached.
func validationFailure(result *schema.ValidationResult) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(map[string]any{
		"valid":    false,
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
	if err != nil {
		return mcp.NewToolResultError("graph validation failed"), nil
	}
	return mcp.NewToolResultError(string(data)), nil
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
