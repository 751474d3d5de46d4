package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// Engine prefixes for input-mapping templates and branch conditions.
// Unprefixed expressions use the {{path}} micro-language.
const (
	prefixCEL  = "cel:"
	prefixExpr = "expr:"
	prefixJQ   = "jq:"
)

// MappingResult is the explicit two-branch outcome of input-mapping
// evaluation: Structured is true when the value came out of a parsed JSON
// template, a single-placeholder native value, or an engine expression;
// false when the evaluation fell back to (or produced) a plain string.
type MappingResult struct {
	Value      any
	Structured bool
}

// Evaluator resolves input-mapping templates and branch conditions against an
// execution context. The zero value is not usable; construct with
// NewEvaluator, which wires the CEL, Expr, and GoJQ engines for prefixed
// expressions.
type Evaluator struct {
	cel  *CELEngine
	expr *ExprEngine
	jq   *GoJQEngine
}

// NewEvaluator creates an Evaluator with all three expression engines.
func NewEvaluator() (*Evaluator, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		cel:  celEngine,
		expr: NewExprEngine(),
		jq:   NewGoJQEngine(),
	}, nil
}

// EvaluateMapping resolves a node's input-mapping template.
//
// Empty templates are the default data-flow: the node receives the trigger
// input unchanged. A template that is exactly one {{path}} placeholder yields
// the raw resolved value with its native type preserved. A {...}-wrapped
// template is treated as a JSON-object template: placeholders are substituted
// and the whole string parsed; on parse failure the partially substituted
// string is returned as-is (non-fatal degradation, Structured=false).
// Anything else is string interpolation (undefined/null render empty).
// A "jq:" prefix routes the template to the GoJQ engine instead.
func (ev *Evaluator) EvaluateMapping(ctx context.Context, template string, ec *schema.ExecutionContext) (MappingResult, error) {
	trimmed := strings.TrimSpace(template)

	if trimmed == "" {
		return MappingResult{Value: ec.Trigger.Input}, nil
	}

	if expr, ok := strings.CutPrefix(trimmed, prefixJQ); ok {
		out, err := ev.jq.Evaluate(ctx, strings.TrimSpace(expr), BuildData(ec))
		if err != nil {
			return MappingResult{}, err
		}
		return MappingResult{Value: out, Structured: true}, nil
	}

	// Exact single placeholder: native type passthrough. Checked before the
	// JSON-template branch because "{{x}}" is also brace-wrapped.
	if path, ok := exactPlaceholder(trimmed); ok {
		v, _ := ResolvePath(path, ec)
		return MappingResult{Value: v, Structured: true}, nil
	}

	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		substituted := substitute(trimmed, ec, embedJSON)
		var parsed any
		if err := json.Unmarshal([]byte(substituted), &parsed); err != nil {
			return MappingResult{Value: substituted}, nil
		}
		return MappingResult{Value: parsed, Structured: true}, nil
	}

	return MappingResult{Value: substitute(template, ec, embedString)}, nil
}

// embedMode selects how a resolved value is written into the template.
type embedMode int

const (
	// embedJSON writes values for a JSON-object template: strings keep their
	// JSON escaping but drop the surrounding quotes (the template's own
	// quoting is preserved), everything else is JSON-serialized.
	embedJSON embedMode = iota
	// embedString writes the plain string form; undefined/null render empty.
	embedString
)

// substitute replaces every {{path}} occurrence in the template.
func substitute(template string, ec *schema.ExecutionContext, mode embedMode) string {
	var result strings.Builder
	result.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "{{")
		if idx == -1 {
			result.WriteString(template[i:])
			break
		}
		result.WriteString(template[i : i+idx])
		start := i + idx + 2

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			// Unclosed placeholder: emit the rest verbatim.
			result.WriteString(template[i+idx:])
			break
		}
		end += start

		path := strings.TrimSpace(template[start:end])
		v, found := ResolvePath(path, ec)
		result.WriteString(embed(v, found, mode))

		i = end + 2
	}

	return result.String()
}

func embed(v any, found bool, mode embedMode) string {
	if mode == embedString {
		if !found || v == nil {
			return ""
		}
		return stringify(v)
	}

	if !found || v == nil {
		return "null"
	}
	if s, ok := v.(string); ok {
		b, err := json.Marshal(s)
		if err != nil {
			return s
		}
		// Strip the surrounding quotes; the template supplies its own.
		return string(b[1 : len(b)-1])
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// stringify renders a resolved value for string interpolation.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// exactPlaceholder reports whether s is exactly one {{path}} expression and
// returns the inner path.
func exactPlaceholder(s string) (string, bool) {
	if len(s) < 4 || !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}
	inner := s[2 : len(s)-2]
	if strings.Contains(inner, "{{") || strings.Contains(inner, "}}") || strings.Contains(inner, "}") || strings.Contains(inner, "{") {
		return "", false
	}
	return strings.TrimSpace(inner), true
}
