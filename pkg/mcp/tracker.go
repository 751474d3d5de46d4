package mcp

import (
	"context"
	"sync"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// trackedRun is the server-side handle on an in-process run: its cancel
// function, its latest snapshot, and a done channel closed when Run returns.
type trackedRun struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state *schema.ExecutionState
}

func (t *trackedRun) setState(state *schema.ExecutionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
}

func (t *trackedRun) snapshot() *schema.ExecutionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *trackedRun) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// runTracker indexes runs started through this server by run ID. Finished
// runs stay tracked so flow.status works without a store.
type runTracker struct {
	mu   sync.RWMutex
	runs map[string]*trackedRun
}

func newRunTracker() *runTracker {
	return &runTracker{runs: make(map[string]*trackedRun)}
}

func (rt *runTracker) add(runID string, tr *trackedRun) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.runs[runID] = tr
}

func (rt *runTracker) get(runID string) (*trackedRun, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	tr, ok := rt.runs[runID]
	return tr, ok
}
