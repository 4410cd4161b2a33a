package model

import "time"

// Step types. CLIENT steps are filled by the dossier owner and reviewed by a
// verifier agent; ADMIN steps are internal creation work performed by a
// creator agent. FORMATION steps gate on course completion and TIMER steps
// are advanced by the scheduler once their delay elapses.
const (
	StepTypeClient    = "CLIENT"
	StepTypeAdmin     = "ADMIN"
	StepTypeFormation = "FORMATION"
	StepTypeTimer     = "TIMER"
)

// Validation statuses for a step instance.
const (
	ValidationDraft       = "DRAFT"
	ValidationSubmitted   = "SUBMITTED"
	ValidationUnderReview = "UNDER_REVIEW"
	ValidationApproved    = "APPROVED"
	ValidationRejected    = "REJECTED"
)

// Review decisions.
const (
	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"
)

// StepInstance is the materialization of a catalog step for one dossier.
// Exactly one instance per (dossier, step) is open at a time; historical
// instances persist for audit.
type StepInstance struct {
	ID               string         `json:"id"`
	DossierID        string         `json:"dossier_id"`
	StepCode         string         `json:"step_code"`
	StepType         string         `json:"step_type"`
	ValidationStatus string         `json:"validation_status"`
	AssignedTo       string         `json:"assigned_to,omitempty"`
	FieldValues      map[string]any `json:"field_values,omitempty"`
	RejectionReason  string         `json:"rejection_reason,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Version          int            `json:"version"`
}

// Open reports whether the instance still needs work: it has not reached a
// terminal approval.
func (si *StepInstance) Open() bool {
	return si.ValidationStatus != ValidationApproved
}

// Reviewable reports whether the instance can be reviewed. ADMIN instances
// are reviewable straight from DRAFT: the creator's approval is the
// completion signal for internal work, there is no client submission.
func (si *StepInstance) Reviewable() bool {
	if si.StepType == StepTypeAdmin && si.ValidationStatus == ValidationDraft {
		return true
	}
	return si.ValidationStatus == ValidationSubmitted ||
		si.ValidationStatus == ValidationUnderReview
}
