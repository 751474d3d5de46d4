package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

type fakeStarter struct {
	mu      sync.Mutex
	started int
	block   chan struct{}
	err     error
}

func (f *fakeStarter) StartRun(_ context.Context, _ *schema.Graph, _ any) error {
	f.mu.Lock()
	f.started++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.err
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func testJobGraph() *schema.Graph {
	return &schema.Graph{Nodes: []schema.Node{{ID: "only", Kind: schema.NodeKindGeneric}}}
}

func TestAddJob_ValidatesCronExpression(t *testing.T) {
	s := NewScheduler(&fakeStarter{}, nil)

	err := s.AddJob(&Job{ID: "bad", CronExpression: "not a cron", Graph: testJobGraph()})
	require.Error(t, err)

	err = s.AddJob(&Job{ID: "good", CronExpression: "*/5 * * * *", Graph: testJobGraph()})
	require.NoError(t, err)
}

func TestAddJob_RejectsDuplicateAndMissingFields(t *testing.T) {
	s := NewScheduler(&fakeStarter{}, nil)

	require.Error(t, s.AddJob(&Job{CronExpression: "* * * * *", Graph: testJobGraph()}))
	require.Error(t, s.AddJob(&Job{ID: "nograph", CronExpression: "* * * * *"}))

	job := &Job{ID: "j1", CronExpression: "* * * * *", Graph: testJobGraph()}
	require.NoError(t, s.AddJob(job))
	assert.Error(t, s.AddJob(job))
}

func TestAddJob_ComputesNextRun(t *testing.T) {
	s := NewScheduler(&fakeStarter{}, nil)

	job := &Job{ID: "j1", CronExpression: "0 12 * * *", Graph: testJobGraph()}
	require.NoError(t, s.AddJob(job))

	require.NotNil(t, job.NextRunAt)
	assert.Equal(t, 12, job.NextRunAt.Hour())
	assert.Equal(t, 0, job.NextRunAt.Minute())
}

func TestCalculateNextRun(t *testing.T) {
	s := NewScheduler(&fakeStarter{}, nil)

	after := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	next, err := s.CalculateNextRun("0 * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), next)

	_, err = s.CalculateNextRun("bogus", after)
	assert.Error(t, err)
}

func TestTick_RunsDueJobs(t *testing.T) {
	starter := &fakeStarter{}
	s := NewScheduler(starter, nil)

	job := &Job{ID: "due", CronExpression: "* * * * *", Graph: testJobGraph(), Enabled: true}
	require.NoError(t, s.AddJob(job))

	past := time.Now().Add(-time.Minute)
	job.NextRunAt = &past

	s.tick(context.Background())

	require.Eventually(t, func() bool { return starter.count() == 1 }, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		jobs := s.Jobs()
		return len(jobs) == 1 && jobs[0].LastRunAt != nil
	}, time.Second, 10*time.Millisecond)

	jobs := s.Jobs()
	assert.Equal(t, "completed", jobs[0].LastRunStatus)
	assert.True(t, jobs[0].NextRunAt.After(time.Now().Add(-time.Second)))
}

func TestTick_SkipsDisabledJobs(t *testing.T) {
	starter := &fakeStarter{}
	s := NewScheduler(starter, nil)

	job := &Job{ID: "off", CronExpression: "* * * * *", Graph: testJobGraph(), Enabled: false}
	require.NoError(t, s.AddJob(job))
	past := time.Now().Add(-time.Minute)
	job.NextRunAt = &past

	s.tick(context.Background())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, starter.count())
}

func TestTick_DoesNotDoubleInflightJobs(t *testing.T) {
	starter := &fakeStarter{block: make(chan struct{})}
	s := NewScheduler(starter, nil)

	job := &Job{ID: "slow", CronExpression: "* * * * *", Graph: testJobGraph(), Enabled: true}
	require.NoError(t, s.AddJob(job))
	past := time.Now().Add(-time.Minute)
	job.NextRunAt = &past

	s.tick(context.Background())
	require.Eventually(t, func() bool { return starter.count() == 1 }, time.Second, 10*time.Millisecond)

	// Second tick while the first run is still blocked.
	s.tick(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, starter.count())

	close(starter.block)
}

func TestTick_RecordsFailedRuns(t *testing.T) {
	starter := &fakeStarter{err: schema.NewError(schema.ErrCodeExecution, "boom")}
	s := NewScheduler(starter, nil)

	job := &Job{ID: "failing", CronExpression: "* * * * *", Graph: testJobGraph(), Enabled: true}
	require.NoError(t, s.AddJob(job))
	past := time.Now().Add(-time.Minute)
	job.NextRunAt = &past

	s.tick(context.Background())

	require.Eventually(t, func() bool {
		jobs := s.Jobs()
		return len(jobs) == 1 && jobs[0].LastRunStatus == "failed"
	}, time.Second, 10*time.Millisecond)
}

func TestRemoveJob(t *testing.T) {
	s := NewScheduler(&fakeStarter{}, nil)

	require.NoError(t, s.AddJob(&Job{ID: "gone", CronExpression: "* * * * *", Graph: testJobGraph()}))
	s.RemoveJob("gone")
	assert.Empty(t, s.Jobs())

	// Removing an unknown job is harmless.
	s.RemoveJob("never-existed")
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(&fakeStarter{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Stop()

	// Stop after Stop is a no-op.
	s.Stop()
}
