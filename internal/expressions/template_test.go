package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	ev, err := NewEvaluator()
	require.NoError(t, err)
	return ev
}

func TestEvaluateMapping_EmptyTemplateIsTriggerPassthrough(t *testing.T) {
	ev := newTestEvaluator(t)
	ec := schema.NewExecutionContext(map[string]any{"q": "hi"})

	res, err := ev.EvaluateMapping(context.Background(), "", ec)
	require.NoError(t, err)
	assert.Equal(t, ec.Trigger.Input, res.Value)
	assert.False(t, res.Structured)
}

func TestEvaluateMapping_JSONObjectTemplate(t *testing.T) {
	ev := newTestEvaluator(t)
	ec := schema.NewExecutionContext("hi")

	res, err := ev.EvaluateMapping(context.Background(), `{"msg":"{{trigger.input}}"}`, ec)
	require.NoError(t, err)
	assert.True(t, res.Structured)
	assert.Equal(t, map[string]any{"msg": "hi"}, res.Value)
}

func TestEvaluateMapping_JSONTemplateNonStringValue(t *testing.T) {
	ev := newTestEvaluator(t)
	ec := testContext()

	res, err := ev.EvaluateMapping(context.Background(), `{"n":{{agent-1.output.count}}}`, ec)
	require.NoError(t, err)
	assert.True(t, res.Structured)
	assert.Equal(t, map[string]any{"n": float64(3)}, res.Value)
}

func TestEvaluateMapping_JSONTemplateEscapesStrings(t *testing.T) {
	ev := newTestEvaluator(t)
	ec := schema.NewExecutionContext(`he said "go"`)

	res, err := ev.EvaluateMapping(context.Background(), `{"msg":"{{trigger.input}}"}`, ec)
	require.NoError(t, err)
	assert.True(t, res.Structured)
	assert.Equal(t, map[string]any{"msg": `he said "go"`}, res.Value)
}

func TestEvaluateMapping_JSONTemplateUndefinedBecomesNull(t *testing.T) {
	ev := newTestEvaluator(t)
	ec := schema.NewExecutionContext("hi")

	res, err := ev.EvaluateMapping(context.Background(), `{"v":{{missing.output}}}`, ec)
	require.NoError(t, err)
	assert.True(t, res.Structured)
	assert.Equal(t, map[string]any{"v": nil}, res.Value)
}

func TestEvaluateMapping_JSONTemplateParseFailureFallsBackToString(t *testing.T) {
	ev := newTestEvaluator(t)
	ec := schema.NewExecutionContext("hi")

	// Trailing comma makes this invalid JSON after substitution.
	res, err := ev.EvaluateMapping(context.Background(), `{"msg":"{{trigger.input}}",}`, ec)
	require.NoError(t, err)
	assert.False(t, res.Structured)
	assert.Equal(t, `{"msg":"hi",}`, res.Value)
}

func TestEvaluateMapping_SinglePlaceholderPreservesType(t *testing.T) {
	ev := newTestEvaluator(t)
	ec := testContext()

	res, err := ev.EvaluateMapping(context.Background(), "{{agent-1.output}}", ec)
	require.NoError(t, err)
	assert.True(t, res.Structured)
	out, ok := res.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "done", out["message"])
}

func TestEvaluateMapping_SinglePlaceholderUndefinedIsNil(t *testing.T) {
	ev := newTestEvaluator(t)
	ec := schema.NewExecutionContext("hi")

	res, err := ev.EvaluateMapping(context.Background(), "{{missing.output}}", ec)
	require.NoError(t, err)
	assert.True(t, res.Structured)
	assert.Nil(t, res.Value)
}

func TestEvaluateMapping_MixedTextInterpolation(t *testing.T) {
	ev := newTestEvaluator(t)
	ec := testContext()

	res, err := ev.EvaluateMapping(context.Background(), "result: {{agent-1.output.message}} ({{agent-1.output.count}})", ec)
	require.NoError(t, err)
	assert.False(t, res.Structured)
	assert.Equal(t, "result: done (3)", res.Value)
}

func TestEvaluateMapping_MixedTextUndefinedRendersEmpty(t *testing.T) {
	ev := newTestEvaluator(t)
	ec := schema.NewExecutionContext("hi")

	res, err := ev.EvaluateMapping(context.Background(), "got [{{missing.output}}]", ec)
	require.NoError(t, err)
	assert.Equal(t, "got []", res.Value)
}

func TestEvaluateMapping_UnclosedPlaceholderEmittedVerbatim(t *testing.T) {
	ev := newTestEvaluator(t)
	ec := schema.NewExecutionContext("hi")

	res, err := ev.EvaluateMapping(context.Background(), "text {{trigger.input", ec)
	require.NoError(t, err)
	assert.Equal(t, "text {{trigger.input", res.Value)
}

func TestEvaluateMapping_JQPrefix(t *testing.T) {
	ev := newTestEvaluator(t)
	ec := testContext()

	res, err := ev.EvaluateMapping(context.Background(), `jq: {msg: .steps["agent-1"].output.message}`, ec)
	require.NoError(t, err)
	assert.True(t, res.Structured)
	assert.Equal(t, map[string]any{"msg": "done"}, res.Value)
}

func TestEvaluateMapping_JQPrefixBadExpression(t *testing.T) {
	ev := newTestEvaluator(t)
	ec := schema.NewExecutionContext("hi")

	_, err := ev.EvaluateMapping(context.Background(), "jq: .[", ec)
	require.Error(t, err)
}
