package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

func conditionContext(output any) *schema.ExecutionContext {
	ec := schema.NewExecutionContext(nil)
	ec.Steps["a"] = &schema.StepResult{
		NodeID: "a",
		Status: schema.StepStatusCompleted,
		Output: output,
	}
	return ec
}

func evalCondition(t *testing.T, expression string, ec *schema.ExecutionContext) bool {
	t.Helper()
	ev := newTestEvaluator(t)
	out, err := ev.EvaluateCondition(context.Background(), expression, ec)
	require.NoError(t, err)
	return out
}

func TestEvaluateCondition_StrictEqualityString(t *testing.T) {
	ec := conditionContext("b")
	assert.True(t, evalCondition(t, `{{a.output}} === "b"`, ec))
	assert.False(t, evalCondition(t, `{{a.output}} === "a"`, ec))
}

func TestEvaluateCondition_StrictInequality(t *testing.T) {
	ec := conditionContext("b")
	assert.True(t, evalCondition(t, `{{a.output}} !== "a"`, ec))
	assert.False(t, evalCondition(t, `{{a.output}} !== "b"`, ec))
}

func TestEvaluateCondition_NoCoercionAcrossTypes(t *testing.T) {
	// String "5" never equals number 5.
	ec := conditionContext("5")
	assert.False(t, evalCondition(t, "{{a.output}} == 5", ec))
	assert.True(t, evalCondition(t, `{{a.output}} == "5"`, ec))
}

func TestEvaluateCondition_NumericEqualityAcrossGoTypes(t *testing.T) {
	ec := conditionContext(5)
	assert.True(t, evalCondition(t, "{{a.output}} == 5", ec))
}

func TestEvaluateCondition_OrderingOperators(t *testing.T) {
	ec := conditionContext(10)
	assert.True(t, evalCondition(t, "{{a.output}} > 5", ec))
	assert.False(t, evalCondition(t, "{{a.output}} < 5", ec))
	assert.True(t, evalCondition(t, "{{a.output}} >= 10", ec))
	assert.True(t, evalCondition(t, "{{a.output}} <= 10", ec))
}

func TestEvaluateCondition_OrderingCoercesNumericStrings(t *testing.T) {
	ec := conditionContext("10")
	assert.True(t, evalCondition(t, "{{a.output}} > 5", ec))
}

func TestEvaluateCondition_OrderingOnNonNumericIsFalse(t *testing.T) {
	ec := conditionContext("not a number")
	assert.False(t, evalCondition(t, "{{a.output}} > 5", ec))
}

func TestEvaluateCondition_BooleanAndNullLiterals(t *testing.T) {
	assert.True(t, evalCondition(t, "{{a.output}} == true", conditionContext(true)))
	assert.True(t, evalCondition(t, "{{a.output}} == null", conditionContext(nil)))
	assert.False(t, evalCondition(t, "{{a.output}} == null", conditionContext("x")))
}

func TestEvaluateCondition_UndefinedLeftSide(t *testing.T) {
	ec := schema.NewExecutionContext(nil)
	// Unresolved references never equal anything, but are unequal to everything.
	assert.False(t, evalCondition(t, `{{missing.output}} == "x"`, ec))
	assert.True(t, evalCondition(t, `{{missing.output}} != "x"`, ec))
	assert.False(t, evalCondition(t, "{{missing.output}} > 1", ec))
}

func TestEvaluateCondition_TruthinessPassthrough(t *testing.T) {
	assert.True(t, evalCondition(t, "{{a.output}}", conditionContext("yes")))
	assert.False(t, evalCondition(t, "{{a.output}}", conditionContext(0)))
	assert.False(t, evalCondition(t, "{{a.output}}", conditionContext("")))
	assert.False(t, evalCondition(t, "{{a.output}}", conditionContext(nil)))
	assert.True(t, evalCondition(t, "{{a.output}}", conditionContext(42)))
}

func TestEvaluateCondition_UndefinedTruthinessIsFalse(t *testing.T) {
	ec := schema.NewExecutionContext(nil)
	assert.False(t, evalCondition(t, "{{missing.output}}", ec))
}

func TestEvaluateCondition_EmptyExpressionIsFalse(t *testing.T) {
	ec := schema.NewExecutionContext(nil)
	assert.False(t, evalCondition(t, "", ec))
	assert.False(t, evalCondition(t, "   ", ec))
}

func TestEvaluateCondition_NonPlaceholderWithoutOperatorIsFalse(t *testing.T) {
	ec := conditionContext("x")
	assert.False(t, evalCondition(t, "just some text", ec))
}

func TestEvaluateCondition_SingleQuotedLiteral(t *testing.T) {
	ec := conditionContext("b")
	assert.True(t, evalCondition(t, "{{a.output}} === 'b'", ec))
}

func TestEvaluateCondition_UnquotedLiteralIsRawText(t *testing.T) {
	ec := conditionContext("pending")
	assert.True(t, evalCondition(t, "{{a.output}} == pending", ec))
}

func TestEvaluateCondition_OperatorPriority(t *testing.T) {
	// ">=" must win over ">" when both substrings are present.
	ec := conditionContext(10)
	assert.True(t, evalCondition(t, "{{a.output}} >= 10", ec))
}

func TestEvaluateCondition_CELPrefix(t *testing.T) {
	ec := conditionContext(map[string]any{"score": 8})
	assert.True(t, evalCondition(t, `cel: steps["a"].output.score > 5.0`, ec))
	assert.False(t, evalCondition(t, `cel: steps["a"].output.score > 9.0`, ec))
}

func TestEvaluateCondition_ExprPrefix(t *testing.T) {
	ec := conditionContext(map[string]any{"tags": []any{"x", "y"}})
	assert.True(t, evalCondition(t, `expr: len(steps.a.output.tags) == 2`, ec))
}

func TestEvaluateCondition_JQPrefix(t *testing.T) {
	ec := conditionContext(map[string]any{"ok": true})
	assert.True(t, evalCondition(t, `jq: .steps.a.output.ok`, ec))
}

func TestEvaluateCondition_EngineErrorSurfaces(t *testing.T) {
	ev := newTestEvaluator(t)
	ec := schema.NewExecutionContext(nil)

	_, err := ev.EvaluateCondition(context.Background(), "cel: this is not CEL ((", ec)
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeExpression, flowErr.Code)
}
