package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-dev/stepflow/internal/scheduler"
	"github.com/stepflow-dev/stepflow/pkg/schema"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngineStarter_CompletedRun(t *testing.T) {
	runner, err := newLocalRunner(discardLogger())
	require.NoError(t, err)

	g := &schema.Graph{Nodes: []schema.Node{{ID: "a", Kind: schema.NodeKindGeneric}}}
	require.NoError(t, newEngineStarter(runner).StartRun(context.Background(), g, "hi"))
}

func TestEngineStarter_SurfacesFailedRuns(t *testing.T) {
	runner, err := newLocalRunner(discardLogger())
	require.NoError(t, err)

	// No agent registered, so the run finalizes failed.
	g := &schema.Graph{Nodes: []schema.Node{{
		ID:    "a",
		Kind:  schema.NodeKindAgent,
		Agent: &schema.AgentNodeConfig{AgentID: "ghost"},
	}}}

	err = newEngineStarter(runner).StartRun(context.Background(), g, nil)
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeExecution, flowErr.Code)
}

func TestSchedule_DueJobRunsThroughEngine(t *testing.T) {
	runner, err := newLocalRunner(discardLogger())
	require.NoError(t, err)

	sched := scheduler.NewScheduler(newEngineStarter(runner), discardLogger())
	g := &schema.Graph{Nodes: []schema.Node{{ID: "a", Kind: schema.NodeKindGeneric}}}
	job := &scheduler.Job{
		ID:             "cli",
		Name:           "graph.json",
		CronExpression: "* * * * *",
		Graph:          g,
		TriggerInput:   "tick",
		Enabled:        true,
	}
	require.NoError(t, sched.AddJob(job))

	past := time.Now().Add(-time.Minute)
	job.NextRunAt = &past

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	require.Eventually(t, func() bool {
		jobs := sched.Jobs()
		return len(jobs) == 1 && jobs[0].LastRunStatus == "completed"
	}, 2*time.Second, 20*time.Millisecond)
}
