package audit

import (
	"context"
	"sync"
)

// PendingStore holds events between flushes.
// Drain must remove and return every pending event in one atomic step.
type PendingStore interface {
	// Append adds an event and returns the number of pending events
	Append(ctx context.Context, ev Event) (int, error)

	// Drain removes and returns all pending events
	Drain(ctx context.Context) ([]Event, error)

	// Len returns the number of pending events
	Len(ctx context.Context) (int, error)
}

// MemoryPending is a process-local PendingStore
type MemoryPending struct {
	mu     sync.Mutex
	events []Event
}

var _ PendingStore = (*MemoryPending)(nil)

// NewMemoryPending creates an empty in-memory pending store
func NewMemoryPending() *MemoryPending {
	return &MemoryPending{}
}

// Append adds an event
func (p *MemoryPending) Append(_ context.Context, ev Event) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return len(p.events), nil
}

// Drain swaps the pending slice for an empty one
func (p *MemoryPending) Drain(_ context.Context) ([]Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	drained := p.events
	p.events = nil
	return drained, nil
}

// Len returns the number of pending events
func (p *MemoryPending) Len(_ context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events), nil
}
