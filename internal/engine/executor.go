package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stepflow-dev/stepflow/internal/agents"
	"github.com/stepflow-dev/stepflow/internal/expressions"
	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// SelectedBranchKey is the output field a branch node's result carries.
const SelectedBranchKey = "selected_branch"

// Executor runs a single node against an execution context.
type Executor struct {
	evaluator *expressions.Evaluator
	agents    agents.Store
	invoker   agents.Invoker
}

// NewExecutor creates an Executor. agentStore and invoker may be nil when the
// graph contains no agent nodes; executing an agent node without them fails
// that node.
func NewExecutor(evaluator *expressions.Evaluator, agentStore agents.Store, invoker agents.Invoker) *Executor {
	return &Executor{
		evaluator: evaluator,
		agents:    agentStore,
		invoker:   invoker,
	}
}

// ExecuteNode resolves the node's input mapping and dispatches by kind,
// returning a terminal StepResult. Errors never propagate past this boundary:
// any failure during resolution or dispatch becomes a failed result carrying
// the error's message. onPartial receives incremental agent text and may be
// nil.
func (x *Executor) ExecuteNode(ctx context.Context, node *schema.Node, ec *schema.ExecutionContext, onPartial agents.PartialFunc) *schema.StepResult {
	result := &schema.StepResult{
		NodeID: node.ID,
		Status: schema.StepStatusRunning,
	}

	mapped, err := x.evaluator.EvaluateMapping(ctx, node.Input, ec)
	if err != nil {
		return failResult(result, err)
	}
	result.Input = mapped.Value

	var output any
	switch node.Kind {
	case schema.NodeKindGeneric:
		output = mapped.Value

	case schema.NodeKindBranch:
		output, err = x.executeBranch(ctx, node, ec)

	case schema.NodeKindAgent:
		output, err = x.executeAgent(ctx, node, mapped, onPartial)

	default:
		err = schema.NewErrorf(schema.ErrCodeExecution, "unknown node kind: %s", node.Kind).WithNode(node.ID)
	}
	if err != nil {
		return failResult(result, err)
	}

	result.Status = schema.StepStatusCompleted
	result.Output = output
	return result
}

// executeBranch evaluates the node's conditions in declared order and selects
// the first one that evaluates true, falling back to the default handle.
func (x *Executor) executeBranch(ctx context.Context, node *schema.Node, ec *schema.ExecutionContext) (any, error) {
	if node.Branch == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "branch node has no branch config").WithNode(node.ID)
	}

	selected := schema.DefaultHandle
	for _, cond := range node.Branch.Conditions {
		ok, err := x.evaluator.EvaluateCondition(ctx, cond.Expression, ec)
		if err != nil {
			return nil, err
		}
		if ok {
			selected = cond.ID
			break
		}
	}

	return map[string]any{SelectedBranchKey: selected}, nil
}

// executeAgent resolves the agent's configuration and delegates to the
// invoker. The cancellation context is forwarded so an in-flight call can be
// aborted.
func (x *Executor) executeAgent(ctx context.Context, node *schema.Node, mapped expressions.MappingResult, onPartial agents.PartialFunc) (any, error) {
	if node.Agent == nil || node.Agent.AgentID == "" {
		return nil, schema.NewError(schema.ErrCodeExecution, "agent node has no agent config").WithNode(node.ID)
	}
	if x.agents == nil || x.invoker == nil {
		return nil, schema.NewError(schema.ErrCodeAgent, "no agent store or invoker configured").WithNode(node.ID)
	}

	agent, err := x.agents.GetAgent(ctx, node.Agent.AgentID)
	if err != nil {
		return nil, err
	}

	text, err := x.invoker.Invoke(ctx, messageText(mapped), agent, nil, onPartial)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgent, "invoke agent %s: %s", agent.ID, err.Error()).
			WithNode(node.ID).WithCause(err)
	}
	return text, nil
}

// messageText renders a resolved input as the invoker's message string.
// Structured values are JSON-serialized; strings pass through.
func messageText(mapped expressions.MappingResult) string {
	if s, ok := mapped.Value.(string); ok {
		return s
	}
	if mapped.Value == nil {
		return ""
	}
	b, err := json.Marshal(mapped.Value)
	if err != nil {
		return fmt.Sprintf("%v", mapped.Value)
	}
	return string(b)
}

func failResult(result *schema.StepResult, err error) *schema.StepResult {
	result.Status = schema.StepStatusFailed
	result.Error = err.Error()
	return result
}

// SelectedBranch extracts the selected handle from a branch node's result
// output. Returns false when the result is not a branch output.
func SelectedBranch(result *schema.StepResult) (string, bool) {
	out, ok := result.Output.(map[string]any)
	if !ok {
		return "", false
	}
	handle, ok := out[SelectedBranchKey].(string)
	return handle, ok
}
