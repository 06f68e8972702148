// Package memory contains an in-memory mirror publisher for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawler-sentinel/internal/event"
)

// Publisher stores published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []event.ClassificationEvent
	err    error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent publishes return err. A nil err restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records evt.
func (p *Publisher) Publish(_ context.Context, evt event.ClassificationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

// Events returns a copy of the recorded events.
func (p *Publisher) Events() []event.ClassificationEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]event.ClassificationEvent, len(p.events))
	copy(out, p.events)
	return out
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
