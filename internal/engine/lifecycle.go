package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ouvrio/dossier/internal/catalog"
	"github.com/ouvrio/dossier/internal/store"
	"github.com/ouvrio/dossier/model"
)

// Lifecycle creates, advances, and closes step instances. It enforces one
// open instance per (dossier, step) pair and the validation state machine:
//
//	DRAFT -> SUBMITTED -> UNDER_REVIEW -> APPROVED
//	                  \-> REJECTED -> SUBMITTED (resubmit)
type Lifecycle struct {
	store    store.Store
	catalog  *catalog.Registry
	balancer *Balancer
}

// NewLifecycle creates a new step-instance lifecycle manager.
func NewLifecycle(st store.Store, cat *catalog.Registry, bal *Balancer) *Lifecycle {
	return &Lifecycle{store: st, catalog: cat, balancer: bal}
}

// GetOrCreate returns the open instance for the (dossier, step) pair,
// creating it if absent. Creation is idempotent: a concurrent creation that
// wins the unique-constraint race is simply re-read. ADMIN steps are routed
// to a creator agent immediately, since the work exists as soon as the
// instance does.
func (l *Lifecycle) GetOrCreate(ctx context.Context, d model.Dossier, stepCode string) (model.StepInstance, error) {
	step, ok := l.catalog.GetStep(stepCode)
	if !ok {
		return model.StepInstance{}, model.NewNotFoundError(fmt.Sprintf("step %q not found", stepCode))
	}

	existing, err := l.store.FindOpenStepInstance(ctx, d.ID, stepCode)
	if err == nil {
		return existing, nil
	}
	if !model.IsCode(err, model.ErrNotFound) {
		return model.StepInstance{}, err
	}

	now := time.Now().UTC()
	inst := model.StepInstance{
		ID:               uuid.New().String(),
		DossierID:        d.ID,
		StepCode:         stepCode,
		StepType:         step.Type,
		ValidationStatus: model.ValidationDraft,
		StartedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}

	if err := l.store.CreateStepInstance(ctx, inst); err != nil {
		if model.IsCode(err, model.ErrConflict) {
			// Lost the creation race; converge on the winner's row.
			return l.store.FindOpenStepInstance(ctx, d.ID, stepCode)
		}
		return model.StepInstance{}, err
	}

	if step.Type == model.StepTypeAdmin {
		if _, err := l.balancer.Assign(ctx, inst); err != nil {
			return model.StepInstance{}, err
		}
		return l.store.GetStepInstance(ctx, inst.ID)
	}

	return inst, nil
}

// Submit persists field values and moves the instance to SUBMITTED. Allowed
// from DRAFT and REJECTED. For CLIENT steps this is the assignment trigger:
// review work only exists once there is something to review.
func (l *Lifecycle) Submit(ctx context.Context, instanceID string, fieldValues map[string]any) (model.StepInstance, error) {
	inst, err := l.store.GetStepInstance(ctx, instanceID)
	if err != nil {
		return model.StepInstance{}, err
	}

	switch inst.ValidationStatus {
	case model.ValidationDraft, model.ValidationRejected:
	default:
		return model.StepInstance{}, model.NewInvalidTransitionError(
			model.ValidationSubmitted, inst.ValidationStatus,
		)
	}

	if inst.FieldValues == nil {
		inst.FieldValues = make(map[string]any, len(fieldValues))
	}
	for k, v := range fieldValues {
		inst.FieldValues[k] = v
	}

	// Required fields are checked against the merged set, so a resubmit only
	// needs to carry the corrected values.
	if step, ok := l.catalog.GetStep(inst.StepCode); ok {
		var missing []model.FieldError
		for _, f := range step.Fields {
			if !f.Required {
				continue
			}
			if v, present := inst.FieldValues[f.Name]; !present || v == nil || v == "" {
				missing = append(missing, model.FieldError{
					Field:   f.Name,
					Code:    "required",
					Message: fmt.Sprintf("field %q is required", f.Name),
				})
			}
		}
		if len(missing) > 0 {
			return model.StepInstance{}, model.NewValidationError(missing)
		}
	}

	inst.ValidationStatus = model.ValidationSubmitted
	inst.RejectionReason = ""

	if err := l.store.UpdateStepInstance(ctx, inst); err != nil {
		return model.StepInstance{}, err
	}

	if inst.StepType == model.StepTypeClient && inst.AssignedTo == "" {
		if _, err := l.balancer.Assign(ctx, inst); err != nil {
			return model.StepInstance{}, err
		}
	}

	return l.store.GetStepInstance(ctx, inst.ID)
}

// Resubmit re-applies corrected field values on a REJECTED instance and moves
// it back to SUBMITTED, clearing the rejection reason. The instance re-enters
// the assignment pool only if it has no existing assignee; otherwise the
// original reviewer keeps it.
func (l *Lifecycle) Resubmit(ctx context.Context, instanceID string, correctedFields map[string]any) (model.StepInstance, error) {
	inst, err := l.store.GetStepInstance(ctx, instanceID)
	if err != nil {
		return model.StepInstance{}, err
	}

	if inst.ValidationStatus != model.ValidationRejected {
		return model.StepInstance{}, model.NewInvalidTransitionError(
			model.ValidationSubmitted, inst.ValidationStatus,
		)
	}

	return l.Submit(ctx, instanceID, correctedFields)
}

// Review applies an agent's decision to a SUBMITTED or UNDER_REVIEW instance.
// APPROVE closes the instance (completed_at set); REJECT sends it back to the
// client with a reason. The optimistic version guard turns a concurrent
// double-review into a CONFLICT instead of a silent overwrite.
func (l *Lifecycle) Review(ctx context.Context, instanceID, agentID, decision, reason string) (model.StepInstance, error) {
	inst, err := l.store.GetStepInstance(ctx, instanceID)
	if err != nil {
		return model.StepInstance{}, err
	}

	if !inst.Reviewable() {
		attempted := model.ValidationApproved
		if decision == model.DecisionReject {
			attempted = model.ValidationRejected
		}
		return model.StepInstance{}, model.NewInvalidTransitionError(attempted, inst.ValidationStatus)
	}

	switch decision {
	case model.DecisionApprove:
		now := time.Now().UTC()
		inst.ValidationStatus = model.ValidationApproved
		inst.CompletedAt = &now
		inst.RejectionReason = ""
	case model.DecisionReject:
		inst.ValidationStatus = model.ValidationRejected
		inst.RejectionReason = reason
	default:
		return model.StepInstance{}, model.NewBadRequestError(
			fmt.Sprintf("unknown decision %q", decision),
		)
	}

	claimed := false
	if inst.AssignedTo == "" && agentID != "" {
		// Manual pickup from the unassigned queue: reviewing claims the work.
		inst.AssignedTo = agentID
		claimed = true
	}

	if err := l.store.UpdateStepInstance(ctx, inst); err != nil {
		return model.StepInstance{}, err
	}
	if claimed {
		if err := l.recordClaim(ctx, inst, agentID); err != nil {
			return model.StepInstance{}, err
		}
	}
	return l.store.GetStepInstance(ctx, inst.ID)
}

// recordClaim mirrors a manual claim onto the dossier's agent assignments, so
// the claiming agent keeps visibility on the dossier afterwards.
func (l *Lifecycle) recordClaim(ctx context.Context, inst model.StepInstance, agentID string) error {
	role := model.DossierRoleVerifier
	if inst.StepType == model.StepTypeAdmin {
		role = model.DossierRoleCreator
	}
	return l.store.UpsertAgentAssignment(ctx, model.DossierAgentAssignment{
		ID:        uuid.New().String(),
		DossierID: inst.DossierID,
		AgentID:   agentID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	})
}

// StartReview marks a SUBMITTED instance as UNDER_REVIEW for the given agent.
func (l *Lifecycle) StartReview(ctx context.Context, instanceID, agentID string) (model.StepInstance, error) {
	inst, err := l.store.GetStepInstance(ctx, instanceID)
	if err != nil {
		return model.StepInstance{}, err
	}

	if inst.ValidationStatus != model.ValidationSubmitted {
		return model.StepInstance{}, model.NewInvalidTransitionError(
			model.ValidationUnderReview, inst.ValidationStatus,
		)
	}

	inst.ValidationStatus = model.ValidationUnderReview
	claimed := false
	if inst.AssignedTo == "" && agentID != "" {
		inst.AssignedTo = agentID
		claimed = true
	}
	if err := l.store.UpdateStepInstance(ctx, inst); err != nil {
		return model.StepInstance{}, err
	}
	if claimed {
		if err := l.recordClaim(ctx, inst, agentID); err != nil {
			return model.StepInstance{}, err
		}
	}
	return l.store.GetStepInstance(ctx, inst.ID)
}
