// Package memory contains an in-memory publisher for tests.
package memory

import (
	"context"
	"sync"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// Publisher stores published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []nfce.JobEvent
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// PublishJobEvent records the event.
func (p *Publisher) PublishJobEvent(_ context.Context, event nfce.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (p *Publisher) Events() []nfce.JobEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]nfce.JobEvent, len(p.events))
	copy(out, p.events)
	return out
}
