package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func testGraph(t *testing.T) *schema.Graph {
	t.Helper()
	g, err := schema.NewGraph(
		[]schema.Node{
			{ID: "a", Kind: schema.NodeKindGeneric},
			{ID: "b", Kind: schema.NodeKindGeneric},
		},
		[]schema.Edge{{Source: "a", Target: "b"}},
	)
	require.NoError(t, err)
	return g
}

func seedRun(t *testing.T, s *LibSQLStore) *Run {
	t.Helper()
	run := &Run{
		ID:           uuid.New().String(),
		Name:         "test-run",
		Graph:        testGraph(t),
		Status:       schema.RunStatusRunning,
		TriggerInput: json.RawMessage(`{"q":"hi"}`),
	}
	require.NoError(t, s.CreateRun(context.Background(), run))
	return run
}

// --- Run Tests ---

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := seedRun(t, s)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "test-run", got.Name)
	assert.Equal(t, schema.RunStatusRunning, got.Status)
	assert.JSONEq(t, `{"q":"hi"}`, string(got.TriggerInput))
	require.NotNil(t, got.Graph)
	assert.Len(t, got.Graph.Nodes, 2)
	assert.Len(t, got.Graph.Edges, 1)
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRun(context.Background(), "does-not-exist")
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeNotFound, flowErr.Code)
}

func TestUpdateRun_StatusAndError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := seedRun(t, s)

	failed := schema.RunStatusFailed
	errMsg := "node a failed"
	now := time.Now().UTC()
	require.NoError(t, s.UpdateRun(ctx, run.ID, RunUpdate{
		Status:      &failed,
		Error:       &errMsg,
		CompletedAt: &now,
	}))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, got.Status)
	assert.Equal(t, "node a failed", got.Error)
	assert.NotNil(t, got.CompletedAt)
}

func TestUpdateRun_ExecutionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := seedRun(t, s)
	require.NoError(t, s.UpdateRun(ctx, run.ID, RunUpdate{Order: []string{"a", "b"}}))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Order)
}

func TestUpdateRun_NotFound(t *testing.T) {
	s := newTestStore(t)

	completed := schema.RunStatusCompleted
	err := s.UpdateRun(context.Background(), "missing", RunUpdate{Status: &completed})
	require.Error(t, err)
}

func TestUpdateRun_NoFieldsIsNoop(t *testing.T) {
	s := newTestStore(t)
	run := seedRun(t, s)

	require.NoError(t, s.UpdateRun(context.Background(), run.ID, RunUpdate{}))
}

func TestListRuns_FilterByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1 := seedRun(t, s)
	r2 := seedRun(t, s)

	completed := schema.RunStatusCompleted
	require.NoError(t, s.UpdateRun(ctx, r2.ID, RunUpdate{Status: &completed}))

	running := schema.RunStatusRunning
	got, err := s.ListRuns(ctx, RunFilter{Status: &running})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r1.ID, got[0].ID)
}

func TestListRuns_Limit(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		seedRun(t, s)
	}

	got, err := s.ListRuns(context.Background(), RunFilter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestDeleteRun_RemovesEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := seedRun(t, s)
	el := NewEventLog(s)
	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: run.ID, Type: schema.EventRunStarted}))

	require.NoError(t, s.DeleteRun(ctx, run.ID))

	_, err := s.GetRun(ctx, run.ID)
	require.Error(t, err)

	events, err := s.GetEvents(ctx, run.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
}
