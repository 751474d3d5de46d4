package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// RunStarter starts a workflow run for a scheduled job. Implemented by a thin
// wrapper over the engine runner so the scheduler does not import the engine.
type RunStarter interface {
	StartRun(ctx context.Context, graph *schema.Graph, triggerInput any) error
}

// StartRunFunc adapts a plain function to RunStarter.
type StartRunFunc func(ctx context.Context, graph *schema.Graph, triggerInput any) error

func (f StartRunFunc) StartRun(ctx context.Context, graph *schema.Graph, triggerInput any) error {
	return f(ctx, graph, triggerInput)
}

// Job is a cron-scheduled workflow run. Jobs live in memory for the lifetime
// of the process.
type Job struct {
	ID             string
	Name           string
	CronExpression string
	Graph          *schema.Graph
	TriggerInput   any
	Enabled        bool
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	LastRunStatus  string
}

// Scheduler triggers workflow runs on cron schedules. The tick interval is
// one minute, matching the finest cron granularity.
type Scheduler struct {
	starter RunStarter
	parser  cron.Parser
	log     *slog.Logger

	mu   sync.Mutex
	jobs map[string]*Job

	// inflight tracks jobs whose run has not returned yet, so a slow run
	// is never doubled by the next tick.
	inflightMu sync.Mutex
	inflight   map[string]struct{}

	stopCh chan struct{}
	doneCh chan struct{}
}

const tickInterval = time.Minute

// NewScheduler creates a Scheduler that starts runs through the given starter.
func NewScheduler(starter RunStarter, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		starter:  starter,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		log:      log,
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
}

// AddJob registers a job. The cron expression is validated and the job's next
// run time computed immediately.
func (s *Scheduler) AddJob(job *Job) error {
	if job.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "scheduled job has empty ID")
	}
	if job.Graph == nil {
		return schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("scheduled job %s has no graph", job.ID))
	}

	next, err := s.CalculateNextRun(job.CronExpression, time.Now())
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation,
			fmt.Sprintf("invalid cron expression for job %s: %s", job.ID, job.CronExpression)).WithCause(err)
	}
	job.NextRunAt = &next

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("scheduled job already exists: %s", job.ID))
	}
	s.jobs[job.ID] = job
	return nil
}

// RemoveJob unregisters a job. Removing an unknown job is a no-op.
func (s *Scheduler) RemoveJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// Jobs returns a snapshot of all registered jobs.
func (s *Scheduler) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		copied := *job
		out = append(out, &copied)
	}
	return out
}

// Start begins the scheduling loop. It ticks once immediately, then every
// minute until Stop is called or the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)

		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()

		s.tick(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop halts the scheduling loop and waits for it to exit. Runs already
// started are not interrupted.
func (s *Scheduler) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
}

// tick fires every due, enabled job.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if !job.Enabled || job.NextRunAt == nil {
			continue
		}
		if !job.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		if !s.tryAcquire(job.ID) {
			s.log.Debug("scheduled job still running, skipping tick", "job_id", job.ID)
			continue
		}
		go s.runJob(ctx, job, now)
	}
}

// runJob starts the job's workflow run and records the outcome on the job.
func (s *Scheduler) runJob(ctx context.Context, job *Job, firedAt time.Time) {
	defer s.release(job.ID)

	s.log.Info("starting scheduled run", "job_id", job.ID, "job_name", job.Name)

	err := s.starter.StartRun(ctx, job.Graph, job.TriggerInput)

	status := "completed"
	if err != nil {
		status = "failed"
		s.log.Error("scheduled run failed", "job_id", job.ID, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.jobs[job.ID]; ok {
		current.LastRunAt = &firedAt
		current.LastRunStatus = status
		if next, nerr := s.CalculateNextRun(current.CronExpression, firedAt); nerr == nil {
			current.NextRunAt = &next
		}
	}
}

// CalculateNextRun returns the next activation of a cron expression after the
// given time.
func (s *Scheduler) CalculateNextRun(expression string, after time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(expression)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, running := s.inflight[jobID]; running {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) release(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}
