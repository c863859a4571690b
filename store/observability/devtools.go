package observability

import (
	"context"
	"sync"
)

// DevToolsTap records a bounded trailing window of events for inspection,
// standing in for an external debugging collaborator. It never logs or
// blocks the write pipeline.
type DevToolsTap struct {
	mu     sync.Mutex
	cap    int
	events []Event
}

// NewDevToolsTap creates a tap retaining at most capacity trailing events.
func NewDevToolsTap(capacity int) *DevToolsTap {
	if capacity <= 0 {
		capacity = 200
	}
	return &DevToolsTap{cap: capacity}
}

func (d *DevToolsTap) OnEvent(ctx context.Context, event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	if len(d.events) > d.cap {
		d.events = d.events[len(d.events)-d.cap:]
	}
}

// Events returns a snapshot of the retained trailing events, oldest first.
func (d *DevToolsTap) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}
