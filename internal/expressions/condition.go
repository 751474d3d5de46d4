package expressions

import (
	"context"
	"strconv"
	"strings"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// comparisonOperators in scan priority order. Longer operators come first so
// that ">=" is never misread as ">" followed by "=".
var comparisonOperators = []string{"===", "!==", ">=", "<=", ">", "<", "==", "!="}

// EvaluateCondition evaluates a branch condition expression to a boolean.
//
// Unprefixed expressions use the comparison micro-language: a {{path}} left
// operand, one comparison operator, and a literal right operand. With no
// operator the expression must be a single {{path}} reference whose resolved
// value decides by truthiness; anything else is false. Empty expressions are
// false. Prefixed expressions ("cel:", "expr:", "jq:") are delegated to the
// corresponding engine and their result coerced to a boolean.
func (ev *Evaluator) EvaluateCondition(ctx context.Context, expression string, ec *schema.ExecutionContext) (bool, error) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return false, nil
	}

	if expr, ok := strings.CutPrefix(trimmed, prefixCEL); ok {
		return ev.engineCondition(ctx, ev.cel, expr, ec)
	}
	if expr, ok := strings.CutPrefix(trimmed, prefixExpr); ok {
		return ev.engineCondition(ctx, ev.expr, expr, ec)
	}
	if expr, ok := strings.CutPrefix(trimmed, prefixJQ); ok {
		return ev.engineCondition(ctx, ev.jq, expr, ec)
	}

	return evaluateComparison(trimmed, ec), nil
}

func (ev *Evaluator) engineCondition(ctx context.Context, engine Engine, expression string, ec *schema.ExecutionContext) (bool, error) {
	out, err := engine.Evaluate(ctx, strings.TrimSpace(expression), BuildData(ec))
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExpression, "%s condition failed", engine.Name()).WithCause(err)
	}
	return truthy(out), nil
}

// evaluateComparison implements the {{path}} OP literal micro-language.
// Operators are tried in priority order; an operator whose left side is not
// exactly a {{path}} reference is skipped and the scan continues.
func evaluateComparison(expression string, ec *schema.ExecutionContext) bool {
	for _, op := range comparisonOperators {
		idx := strings.Index(expression, op)
		if idx == -1 {
			continue
		}
		path, ok := exactPlaceholder(strings.TrimSpace(expression[:idx]))
		if !ok {
			continue
		}

		left, found := ResolvePath(path, ec)
		right := parseLiteral(strings.TrimSpace(expression[idx+len(op):]))
		return compare(op, left, found, right)
	}

	// No operator: bare placeholder truthiness.
	if path, ok := exactPlaceholder(expression); ok {
		v, found := ResolvePath(path, ec)
		return found && truthy(v)
	}
	return false
}

func compare(op string, left any, leftFound bool, right any) bool {
	switch op {
	case "==", "===":
		return leftFound && exactEqual(left, right)
	case "!=", "!==":
		return !leftFound || !exactEqual(left, right)
	default:
		if !leftFound {
			return false
		}
		ln, lok := toNumber(left)
		rn, rok := toNumber(right)
		if !lok || !rok {
			return false
		}
		switch op {
		case ">":
			return ln > rn
		case "<":
			return ln < rn
		case ">=":
			return ln >= rn
		case "<=":
			return ln <= rn
		}
		return false
	}
}

// parseLiteral interprets the right-hand side of a comparison. Recognized
// forms: true/false, null, numbers, quoted strings. Anything else is the raw
// text itself.
func parseLiteral(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	if len(raw) >= 2 {
		if (raw[0] == '"' && raw[len(raw)-1] == '"') || (raw[0] == '\'' && raw[len(raw)-1] == '\'') {
			return raw[1 : len(raw)-1]
		}
	}
	return raw
}

// exactEqual compares without type coercion: values of different kinds are
// never equal. Numbers compare by value across Go numeric types, but a
// numeric string never equals a number.
func exactEqual(left, right any) bool {
	ln, lok := numericValue(left)
	rn, rok := numericValue(right)
	if lok || rok {
		return lok && rok && ln == rn
	}

	switch l := left.(type) {
	case string:
		r, ok := right.(string)
		return ok && l == r
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	case nil:
		return right == nil
	default:
		return false
	}
}

// numericValue converts Go numeric types to float64 without touching strings.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// toNumber coerces for the ordering operators, where numeric strings count.
func toNumber(v any) (float64, bool) {
	if n, ok := numericValue(v); ok {
		return n, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

// truthy applies JS-like boolean coercion: false for nil, false, 0, "", and
// empty collections.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		if n, ok := numericValue(v); ok {
			return n != 0
		}
		return true
	}
}
