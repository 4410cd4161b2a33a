package model

import "time"

// Dossier status constants. The sequence is ordered but non-strict: a dossier
// only visits the statuses its product's steps are configured to set.
const (
	DossierStatusQualification   = "QUALIFICATION"
	DossierStatusFormSubmitted   = "FORM_SUBMITTED"
	DossierStatusNMPending       = "NM_PENDING"
	DossierStatusLLCAccepted     = "LLC_ACCEPTED"
	DossierStatusEINPending      = "EIN_PENDING"
	DossierStatusBankPreparation = "BANK_PREPARATION"
	DossierStatusBankOpened      = "BANK_OPENED"
	DossierStatusWaiting48h      = "WAITING_48H"
	DossierStatusInProgress      = "IN_PROGRESS"
	DossierStatusUnderReview     = "UNDER_REVIEW"
	DossierStatusCompleted       = "COMPLETED"
	DossierStatusClosed          = "CLOSED"
	DossierStatusError           = "ERROR"
)

// dossierStatuses is the full set of valid statuses.
var dossierStatuses = map[string]bool{
	DossierStatusQualification:   true,
	DossierStatusFormSubmitted:   true,
	DossierStatusNMPending:       true,
	DossierStatusLLCAccepted:     true,
	DossierStatusEINPending:      true,
	DossierStatusBankPreparation: true,
	DossierStatusBankOpened:      true,
	DossierStatusWaiting48h:      true,
	DossierStatusInProgress:      true,
	DossierStatusUnderReview:     true,
	DossierStatusCompleted:       true,
	DossierStatusClosed:          true,
	DossierStatusError:           true,
}

// ValidDossierStatus reports whether s is a known dossier status.
func ValidDossierStatus(s string) bool {
	return dossierStatuses[s]
}

// Dossier is a client case file progressing through a product's steps.
// Dossiers are never hard-deleted; CLOSED is the archival status.
type Dossier struct {
	ID                    string         `json:"id"`
	OwnerID               string         `json:"owner_id"`
	ProductID             string         `json:"product_id"`
	Status                string         `json:"status"`
	CurrentStepInstanceID string         `json:"current_step_instance_id,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	IsTest                bool           `json:"is_test,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	Version               int            `json:"version"`
}

// Actor types recorded in the status history.
const (
	ActorTypeClient = "CLIENT"
	ActorTypeAgent  = "AGENT"
	ActorTypeAdmin  = "ADMIN"
	ActorTypeSystem = "SYSTEM"
)

// DossierStatusHistory is an append-only record of a dossier status change.
type DossierStatusHistory struct {
	ID        string    `json:"id"`
	DossierID string    `json:"dossier_id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	ActorType string    `json:"actor_type"`
	ChangedBy string    `json:"changed_by"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
