package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/ouvrio/dossier/model"
)

// NATSSink publishes events as JSON to a NATS subject derived from the event
// type, e.g. "dossier.events.STEP_SUBMITTED".
type NATSSink struct {
	conn          *nats.Conn
	subjectPrefix string
}

func NewNATSSink(conn *nats.Conn, subjectPrefix string) *NATSSink {
	return &NATSSink{conn: conn, subjectPrefix: subjectPrefix}
}

func (s *NATSSink) Publish(_ context.Context, ev model.DomainEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	subject := s.subjectPrefix + "." + ev.Type
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and drops the connection.
func (s *NATSSink) Close() {
	_ = s.conn.Flush()
	s.conn.Close()
}
