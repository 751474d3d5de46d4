package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

func testContext() *schema.ExecutionContext {
	ec := schema.NewExecutionContext("hello")
	ec.Steps["agent-1"] = &schema.StepResult{
		NodeID: "agent-1",
		Status: schema.StepStatusCompleted,
		Output: map[string]any{
			"message": "done",
			"count":   float64(3),
			"nested":  map[string]any{"flag": true},
		},
	}
	return ec
}

func TestResolvePath_TriggerInput(t *testing.T) {
	v, ok := ResolvePath("trigger.input", testContext())
	assert.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestResolvePath_StepOutputField(t *testing.T) {
	v, ok := ResolvePath("agent-1.output.message", testContext())
	assert.True(t, ok)
	assert.Equal(t, "done", v)
}

func TestResolvePath_DeepNesting(t *testing.T) {
	v, ok := ResolvePath("agent-1.output.nested.flag", testContext())
	assert.True(t, ok)
	assert.Equal(t, true, v)
}

func TestResolvePath_UnknownStep(t *testing.T) {
	v, ok := ResolvePath("missing.output", testContext())
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestResolvePath_MissingSegment(t *testing.T) {
	v, ok := ResolvePath("agent-1.output.absent", testContext())
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestResolvePath_WalkIntoNonObject(t *testing.T) {
	// output.message is a string; descending further is undefined, not an error.
	v, ok := ResolvePath("agent-1.output.message.length", testContext())
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestResolvePath_StepStatus(t *testing.T) {
	v, ok := ResolvePath("agent-1.status", testContext())
	assert.True(t, ok)
	assert.Equal(t, "completed", v)
}

func TestResolvePath_EmptyPath(t *testing.T) {
	_, ok := ResolvePath("", testContext())
	assert.False(t, ok)
}

func TestResolvePath_BareNodeID(t *testing.T) {
	v, ok := ResolvePath("agent-1", testContext())
	assert.True(t, ok)
	fields, isMap := v.(map[string]any)
	assert.True(t, isMap)
	assert.Equal(t, "agent-1", fields["node_id"])
}
