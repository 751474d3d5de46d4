package streaming

import (
	"context"
	"sync"
)

// subscriberBuffer bounds how far a subscriber may lag before events drop.
const subscriberBuffer = 64

// entry pairs a subscription with its compiled type filter.
type entry struct {
	sub   *Subscription
	types map[string]struct{}
}

func (e *entry) wants(eventType string) bool {
	if len(e.types) == 0 {
		return true
	}
	_, ok := e.types[eventType]
	return ok
}

// MemoryHub is the in-process EventHub. Subscriptions are indexed by run ID,
// so a publish touches only that run's subscribers plus the firehose ones.
type MemoryHub struct {
	mu       sync.RWMutex
	nextID   uint64
	byRun    map[string]map[uint64]*entry
	firehose map[uint64]*entry
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		byRun:    make(map[string]map[uint64]*entry),
		firehose: make(map[uint64]*entry),
	}
}

// Publish delivers the event to the run's subscribers and the firehose. It
// never blocks: a subscriber whose buffer is full loses the event and its
// drop counter advances.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, e := range h.byRun[event.RunID] {
		offer(e, event)
	}
	for _, e := range h.firehose {
		offer(e, event)
	}
	return nil
}

func offer(e *entry, event StreamEvent) {
	if !e.wants(event.Type) {
		return
	}
	select {
	case e.sub.events <- event:
	default:
		e.sub.dropped.Add(1)
	}
}

// Subscribe attaches a subscription for runID ("" subscribes to every run).
func (h *MemoryHub) Subscribe(ctx context.Context, runID string, types ...string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var typeSet map[string]struct{}
	if len(types) > 0 {
		typeSet = make(map[string]struct{}, len(types))
		for _, t := range types {
			typeSet[t] = struct{}{}
		}
	}

	sub := &Subscription{events: make(chan StreamEvent, subscriberBuffer)}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	e := &entry{sub: sub, types: typeSet}
	if runID == "" {
		h.firehose[id] = e
	} else {
		set, ok := h.byRun[runID]
		if !ok {
			set = make(map[uint64]*entry)
			h.byRun[runID] = set
		}
		set[id] = e
	}
	h.mu.Unlock()

	sub.detach = func() {
		h.mu.Lock()
		if runID == "" {
			delete(h.firehose, id)
		} else if set, ok := h.byRun[runID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(h.byRun, runID)
			}
		}
		h.mu.Unlock()
		// Publish sends under the read lock, so once the entry is gone
		// no sender can hold the channel.
		close(sub.events)
	}

	return sub, nil
}

var _ EventHub = (*MemoryHub)(nil)
