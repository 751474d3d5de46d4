package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextIDs_RoundTrip(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, RunID(ctx))
	assert.Empty(t, NodeID(ctx))
	assert.Empty(t, AgentID(ctx))

	ctx = WithRunID(ctx, "r1")
	ctx = WithNodeID(ctx, "n1")
	ctx = WithAgentID(ctx, "a1")

	assert.Equal(t, "r1", RunID(ctx))
	assert.Equal(t, "n1", NodeID(ctx))
	assert.Equal(t, "a1", AgentID(ctx))
}

func TestLogWith_AddsOnlyPresentIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithRunID(context.Background(), "r1")
	LogWith(ctx, logger).Info("hello")

	out := buf.String()
	assert.Contains(t, out, "run_id=r1")
	assert.NotContains(t, out, "node_id")
	assert.NotContains(t, out, "agent_id")
}

func TestCorrelationHandler_InjectsFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithNodeID(WithRunID(context.Background(), "r1"), "n1")
	logger.InfoContext(ctx, "node finished")

	out := buf.String()
	require.Contains(t, out, "run_id=r1")
	assert.Contains(t, out, "node_id=n1")
}

func TestCorrelationHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	h := NewCorrelationHandler(slog.NewTextHandler(&buf, nil))

	logger := slog.New(h).With("component", "runner").WithGroup("detail")
	logger.InfoContext(WithRunID(context.Background(), "r1"), "msg", "k", "v")

	out := buf.String()
	assert.Contains(t, out, "component=runner")
	assert.Contains(t, out, "run_id=r1")
}
