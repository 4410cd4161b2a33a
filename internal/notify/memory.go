package notify

import (
	"context"
	"sync"

	"github.com/ouvrio/dossier/model"
)

// MemorySink records events in memory for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []model.DomainEvent
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(_ context.Context, ev model.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of all recorded events in publish order.
func (s *MemorySink) Events() []model.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DomainEvent, len(s.events))
	copy(out, s.events)
	return out
}
