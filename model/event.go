package model

import "time"

// Domain event types emitted to the notification sink.
const (
	EventDossierCreated       = "DOSSIER_CREATED"
	EventDossierStatusChanged = "DOSSIER_STATUS_CHANGED"
	EventStepSubmitted        = "STEP_SUBMITTED"
	EventStepCompleted        = "STEP_COMPLETED"
	EventStepRejected         = "STEP_REJECTED"
	EventStepAssigned         = "STEP_ASSIGNED"
	EventDocumentUploaded     = "DOCUMENT_UPLOADED"
)

// Entity types referenced by events.
const (
	EntityDossier      = "dossier"
	EntityStepInstance = "step_instance"
	EntityDocument     = "document"
)

// DomainEvent is the fire-and-forget payload handed to the notification
// collaborator. Delivery is best-effort and never participates in the
// transaction that produced it.
type DomainEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ActorType  string         `json:"actor_type"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
