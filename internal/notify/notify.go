// Package notify delivers domain events to an external sink. Delivery is
// strictly best-effort: a sink failure is logged and swallowed, it never
// fails the operation that produced the event.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/ouvrio/dossier/model"
)

// EventSink receives domain events after the state change that produced them
// has been committed.
type EventSink interface {
	Publish(ctx context.Context, ev model.DomainEvent) error
}

// LogSink writes events to the structured log. It is the default sink when no
// broker is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, ev model.DomainEvent) error {
	s.logger.Info("domain event",
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type),
		zap.String("entity_type", ev.EntityType),
		zap.String("entity_id", ev.EntityID),
		zap.String("actor_type", ev.ActorType),
		zap.String("actor_id", ev.ActorID),
	)
	return nil
}
