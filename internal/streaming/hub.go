// Package streaming fans live run progress out to in-process subscribers.
// The runner publishes; anything wanting run telemetry subscribes by run ID
// and receives typed events.
package streaming

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// StreamEvent is one unit of run progress. Type is one of the schema event
// constants; the payload fields are populated per type: Delta carries a
// node_streaming text fragment, Step the frozen result of a node lifecycle
// event, Branch the winning handle of branch_selected, and RunError the
// error text of a failed or cancelled run.
type StreamEvent struct {
	RunID  string `json:"run_id"`
	NodeID string `json:"node_id,omitempty"`
	Type   string `json:"type"`

	Delta    string             `json:"delta,omitempty"`
	Step     *schema.StepResult `json:"step,omitempty"`
	Branch   string             `json:"branch,omitempty"`
	RunError string             `json:"run_error,omitempty"`
}

// Subscription is a live event feed. Close detaches it from the hub and
// closes the channel returned by Events.
type Subscription struct {
	events  chan StreamEvent
	dropped atomic.Uint64
	once    sync.Once
	detach  func()
}

// Events returns the feed channel. It closes when the subscription does.
func (s *Subscription) Events() <-chan StreamEvent { return s.events }

// Dropped reports how many events were discarded because this subscriber
// fell behind.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() { s.once.Do(s.detach) }

// EventHub is the runner's outbound progress channel.
type EventHub interface {
	// Publish delivers the event to matching subscribers without blocking.
	Publish(ctx context.Context, event StreamEvent) error
	// Subscribe attaches a feed for one run's events; an empty runID
	// subscribes to every run. Optional event types narrow the feed.
	Subscribe(ctx context.Context, runID string, types ...string) (*Subscription, error)
}
