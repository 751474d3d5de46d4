package expressions

import (
	"context"
	"encoding/json"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// Engine evaluates expressions against run data.
// Three implementations: CEL (conditions), GoJQ (transforms), Expr (logic).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// BuildData exposes an execution context to the expression engines as plain
// JSON types under two top-level keys: "trigger" and "steps" (node ID → step
// result fields). Values are round-tripped through JSON so that every engine
// sees only nil/bool/float64/string/[]any/map[string]any.
func BuildData(ec *schema.ExecutionContext) map[string]any {
	steps := make(map[string]any, len(ec.Steps))
	for id, r := range ec.Steps {
		steps[id] = r.Fields()
	}
	data := map[string]any{
		"trigger": ec.TriggerFields(),
		"steps":   steps,
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var normalized map[string]any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return data
	}
	return normalized
}
