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

// StateMachine maintains Dossier.Status as a coarse projection of step
// progress, decoupled from per-instance validation statuses. Every status
// write appends a DossierStatusHistory row; that log is append-only and is
// the audit trail for the machine.
type StateMachine struct {
	store     store.Store
	catalog   *catalog.Registry
	lifecycle *Lifecycle
}

// NewStateMachine creates a new dossier state machine.
func NewStateMachine(st store.Store, cat *catalog.Registry, lc *Lifecycle) *StateMachine {
	return &StateMachine{store: st, catalog: cat, lifecycle: lc}
}

// AdvanceOnApproval processes a step-instance approval: if the product step
// carries a dossier_status_on_approval it is applied (with a history row),
// and the dossier's current-step pointer moves to the next step's instance,
// created if it does not yet exist. A rejection never reaches this method,
// so rejections can never move the dossier status backwards or forwards.
func (m *StateMachine) AdvanceOnApproval(ctx context.Context, approved model.StepInstance, actorType, actorID string) (model.Dossier, error) {
	d, err := m.store.GetDossier(ctx, approved.DossierID)
	if err != nil {
		return model.Dossier{}, err
	}

	ps, _, ok := m.catalog.ProductStepFor(d.ProductID, approved.StepCode)
	if !ok {
		return model.Dossier{}, model.NewBadRequestError(
			fmt.Sprintf("step %q is not part of product %q", approved.StepCode, d.ProductID),
		)
	}

	var transition *model.DossierStatusHistory
	if ps.DossierStatusOnApproval != "" && ps.DossierStatusOnApproval != d.Status {
		if !model.ValidDossierStatus(ps.DossierStatusOnApproval) {
			return model.Dossier{}, model.NewBadRequestError(
				fmt.Sprintf("step %q configures unknown dossier status %q", approved.StepCode, ps.DossierStatusOnApproval),
			)
		}
		transition = &model.DossierStatusHistory{
			ID:        uuid.New().String(),
			DossierID: d.ID,
			OldStatus: d.Status,
			NewStatus: ps.DossierStatusOnApproval,
			ActorType: actorType,
			ChangedBy: actorID,
			CreatedAt: time.Now().UTC(),
		}
		d.Status = ps.DossierStatusOnApproval
	}

	if next, ok := m.catalog.NextStep(d.ProductID, approved.StepCode); ok {
		nextInst, err := m.lifecycle.GetOrCreate(ctx, d, next.StepCode)
		if err != nil {
			return model.Dossier{}, err
		}
		d.CurrentStepInstanceID = nextInst.ID
	}

	// The history row is written together with the status so a losing
	// concurrent update cannot leave a phantom transition in the log.
	if transition != nil {
		err = m.store.UpdateDossierWithHistory(ctx, d, *transition)
	} else {
		err = m.store.UpdateDossier(ctx, d)
	}
	if err != nil {
		return model.Dossier{}, err
	}
	return m.store.GetDossier(ctx, d.ID)
}

// Override forces a dossier status directly, bypassing step completion. The
// reason is mandatory and the history row records the admin actor. Step
// instances are left untouched.
func (m *StateMachine) Override(ctx context.Context, dossierID, newStatus, adminID, reason string) (model.Dossier, error) {
	if reason == "" {
		return model.Dossier{}, model.NewValidationError([]model.FieldError{
			{Field: "reason", Code: "required", Message: "a reason is required for a manual status override"},
		})
	}
	if !model.ValidDossierStatus(newStatus) {
		return model.Dossier{}, model.NewValidationError([]model.FieldError{
			{Field: "status", Code: "invalid", Message: fmt.Sprintf("unknown dossier status %q", newStatus)},
		})
	}

	d, err := m.store.GetDossier(ctx, dossierID)
	if err != nil {
		return model.Dossier{}, err
	}
	if d.Status == newStatus {
		return d, nil
	}

	transition := model.DossierStatusHistory{
		ID:        uuid.New().String(),
		DossierID: d.ID,
		OldStatus: d.Status,
		NewStatus: newStatus,
		ActorType: model.ActorTypeAdmin,
		ChangedBy: adminID,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	d.Status = newStatus
	if err := m.store.UpdateDossierWithHistory(ctx, d, transition); err != nil {
		return model.Dossier{}, err
	}
	return m.store.GetDossier(ctx, d.ID)
}
