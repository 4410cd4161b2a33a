package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ouvrio/dossier/internal/catalog"
	"github.com/ouvrio/dossier/internal/notify"
	"github.com/ouvrio/dossier/internal/store"
	"github.com/ouvrio/dossier/model"
)

// Orchestrator is the single entry point for anything outside the engine.
// It owns authorization, cross-component sequencing (submit then assign,
// approve then advance), and event emission. The components it composes
// enforce only their own state-machine rules; callers never reach them
// directly.
type Orchestrator struct {
	store     store.Store
	catalog   *catalog.Registry
	lifecycle *Lifecycle
	machine   *StateMachine
	balancer  *Balancer
	documents *Documents
	sink      notify.EventSink
	logger    *zap.Logger
}

// NewOrchestrator wires the engine components behind one façade.
func NewOrchestrator(
	st store.Store,
	cat *catalog.Registry,
	lc *Lifecycle,
	sm *StateMachine,
	bal *Balancer,
	docs *Documents,
	sink notify.EventSink,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:     st,
		catalog:   cat,
		lifecycle: lc,
		machine:   sm,
		balancer:  bal,
		documents: docs,
		sink:      sink,
		logger:    logger,
	}
}

// CreateDossier opens a new case file for a product and materializes its
// first step instance so the client has something to work on immediately.
// Staff only.
func (o *Orchestrator) CreateDossier(ctx context.Context, ownerID, productID string, isTest bool, metadata map[string]any) (model.Dossier, error) {
	rctx := model.MustRequestContext(ctx)
	if !rctx.IsAgent() {
		return model.Dossier{}, model.NewForbiddenError("only staff can create dossiers")
	}

	if _, ok := o.catalog.GetProduct(productID); !ok {
		return model.Dossier{}, model.NewValidationError([]model.FieldError{
			{Field: "product_id", Code: "unknown", Message: fmt.Sprintf("unknown product %q", productID)},
		})
	}
	if ownerID == "" {
		return model.Dossier{}, model.NewValidationError([]model.FieldError{
			{Field: "owner_id", Code: "required", Message: "owner_id is required"},
		})
	}

	now := time.Now().UTC()
	d := model.Dossier{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		ProductID: productID,
		Status:    model.DossierStatusQualification,
		Metadata:  metadata,
		IsTest:    isTest,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if err := o.store.CreateDossier(ctx, d); err != nil {
		return model.Dossier{}, err
	}

	// The opening agent stays attached as the dossier's manager, so the
	// assignment-based visibility rule keeps the dossier in their view.
	if err := o.store.UpsertAgentAssignment(ctx, model.DossierAgentAssignment{
		ID:        uuid.New().String(),
		DossierID: d.ID,
		AgentID:   rctx.SubjectID,
		Role:      model.DossierRoleManager,
		CreatedAt: now,
	}); err != nil {
		return model.Dossier{}, err
	}

	if first, ok := o.catalog.FirstStep(productID); ok {
		inst, err := o.lifecycle.GetOrCreate(ctx, d, first.StepCode)
		if err != nil {
			return model.Dossier{}, err
		}
		d.CurrentStepInstanceID = inst.ID
		if err := o.store.UpdateDossier(ctx, d); err != nil {
			return model.Dossier{}, err
		}
	}

	d, err := o.store.GetDossier(ctx, d.ID)
	if err != nil {
		return model.Dossier{}, err
	}

	o.emit(ctx, model.EventDossierCreated, model.EntityDossier, d.ID, map[string]any{
		"product_id": d.ProductID,
		"owner_id":   d.OwnerID,
	})
	return d, nil
}

// GetDossier returns a dossier visible to the caller. Clients see only their
// own dossiers; a lookup on someone else's dossier answers NOT_FOUND, not
// FORBIDDEN.
func (o *Orchestrator) GetDossier(ctx context.Context, dossierID string) (model.Dossier, error) {
	return o.loadVisible(ctx, dossierID)
}

// StatusHistory returns the append-only status log of a visible dossier.
func (o *Orchestrator) StatusHistory(ctx context.Context, dossierID string) ([]model.DossierStatusHistory, error) {
	if _, err := o.loadVisible(ctx, dossierID); err != nil {
		return nil, err
	}
	return o.store.GetStatusHistory(ctx, dossierID)
}

// StepInstances returns all step instances of a visible dossier.
func (o *Orchestrator) StepInstances(ctx context.Context, dossierID string) ([]model.StepInstance, error) {
	if _, err := o.loadVisible(ctx, dossierID); err != nil {
		return nil, err
	}
	return o.store.ListStepInstances(ctx, dossierID)
}

// SubmitStep submits the client's field values on a step, materializing the
// open instance if this is the first touch. Only the dossier owner can
// submit, and only on CLIENT and FORMATION steps.
func (o *Orchestrator) SubmitStep(ctx context.Context, dossierID, stepCode string, fields map[string]any) (model.StepInstance, error) {
	rctx := model.MustRequestContext(ctx)

	d, err := o.loadVisible(ctx, dossierID)
	if err != nil {
		return model.StepInstance{}, err
	}
	if !rctx.IsAgent() && d.OwnerID != rctx.SubjectID {
		return model.StepInstance{}, model.NewNotFoundError("dossier not found")
	}

	step, ok := o.catalog.GetStep(stepCode)
	if !ok {
		return model.StepInstance{}, model.NewNotFoundError(fmt.Sprintf("step %q not found", stepCode))
	}
	if step.Type != model.StepTypeClient && step.Type != model.StepTypeFormation {
		return model.StepInstance{}, model.NewForbiddenError(
			fmt.Sprintf("step %q does not accept client submissions", stepCode),
		)
	}
	if _, _, ok := o.catalog.ProductStepFor(d.ProductID, stepCode); !ok {
		return model.StepInstance{}, model.NewBadRequestError(
			fmt.Sprintf("step %q is not part of product %q", stepCode, d.ProductID),
		)
	}

	inst, err := o.lifecycle.GetOrCreate(ctx, d, stepCode)
	if err != nil {
		return model.StepInstance{}, err
	}
	inst, err = o.lifecycle.Submit(ctx, inst.ID, fields)
	if err != nil {
		return model.StepInstance{}, err
	}

	o.emit(ctx, model.EventStepSubmitted, model.EntityStepInstance, inst.ID, map[string]any{
		"dossier_id": d.ID,
		"step_code":  stepCode,
	})
	if inst.AssignedTo != "" {
		o.emit(ctx, model.EventStepAssigned, model.EntityStepInstance, inst.ID, map[string]any{
			"dossier_id":  d.ID,
			"step_code":   stepCode,
			"assigned_to": inst.AssignedTo,
		})
	}

	// FORMATION steps have no reviewer pool: completing the material is the
	// approval, so the instance closes and the dossier advances immediately.
	if step.Type == model.StepTypeFormation {
		inst, err = o.lifecycle.Review(ctx, inst.ID, "", model.DecisionApprove, "")
		if err != nil {
			return model.StepInstance{}, err
		}
		after, err := o.machine.AdvanceOnApproval(ctx, inst, model.ActorTypeSystem, model.ActorTypeSystem)
		if err != nil {
			return model.StepInstance{}, err
		}
		o.emit(ctx, model.EventStepCompleted, model.EntityStepInstance, inst.ID, map[string]any{
			"dossier_id": d.ID,
			"step_code":  stepCode,
		})
		if after.Status != d.Status {
			o.emit(ctx, model.EventDossierStatusChanged, model.EntityDossier, after.ID, map[string]any{
				"old_status": d.Status,
				"new_status": after.Status,
			})
		}
	}
	return inst, nil
}

// ResubmitStep re-submits a rejected instance with corrected fields. Only
// the dossier owner may resubmit.
func (o *Orchestrator) ResubmitStep(ctx context.Context, instanceID string, fields map[string]any) (model.StepInstance, error) {
	rctx := model.MustRequestContext(ctx)

	inst, err := o.store.GetStepInstance(ctx, instanceID)
	if err != nil {
		return model.StepInstance{}, err
	}
	d, err := o.store.GetDossier(ctx, inst.DossierID)
	if err != nil {
		return model.StepInstance{}, err
	}
	if !rctx.IsAgent() && d.OwnerID != rctx.SubjectID {
		return model.StepInstance{}, model.NewNotFoundError("step instance not found")
	}

	inst, err = o.lifecycle.Resubmit(ctx, instanceID, fields)
	if err != nil {
		return model.StepInstance{}, err
	}

	o.emit(ctx, model.EventStepSubmitted, model.EntityStepInstance, inst.ID, map[string]any{
		"dossier_id": d.ID,
		"step_code":  inst.StepCode,
		"resubmit":   true,
	})
	return inst, nil
}

// ReviewStep applies an agent's APPROVE or REJECT decision. Approval feeds
// the dossier state machine: status side effect, next-step materialization,
// current-step pointer move. Rejection only marks the instance and keeps the
// dossier where it is.
func (o *Orchestrator) ReviewStep(ctx context.Context, instanceID, decision, reason string) (model.StepInstance, error) {
	rctx := model.MustRequestContext(ctx)
	if !rctx.IsAgent() {
		return model.StepInstance{}, model.NewForbiddenError("only staff can review steps")
	}
	if decision == model.DecisionReject && reason == "" {
		return model.StepInstance{}, model.NewValidationError([]model.FieldError{
			{Field: "reason", Code: "required", Message: "a reason is required to reject"},
		})
	}

	inst, err := o.store.GetStepInstance(ctx, instanceID)
	if err != nil {
		return model.StepInstance{}, err
	}

	// A staff token alone is not enough to review: the caller must be a
	// registered, active agent whose type matches the step's pool. Admins
	// bypass the pool check.
	if !rctx.IsAdmin() {
		agent, err := o.store.GetAgent(ctx, rctx.SubjectID)
		if model.IsCode(err, model.ErrNotFound) {
			return model.StepInstance{}, model.NewForbiddenError("caller is not a registered agent")
		}
		if err != nil {
			return model.StepInstance{}, err
		}
		if !agent.Active {
			return model.StepInstance{}, model.NewForbiddenError(
				fmt.Sprintf("agent %q is inactive", agent.ID),
			)
		}
		if !agent.EligibleFor(inst.StepType) {
			return model.StepInstance{}, model.NewForbiddenError(
				fmt.Sprintf("agent %q cannot review %s steps", agent.ID, inst.StepType),
			)
		}
	}

	if inst.AssignedTo != "" && inst.AssignedTo != rctx.SubjectID && !rctx.IsAdmin() {
		assigned, aerr := o.store.HasAgentAssignment(ctx, inst.DossierID, rctx.SubjectID)
		if aerr != nil {
			return model.StepInstance{}, aerr
		}
		if !assigned {
			// No relation to the dossier at all: mask existence.
			return model.StepInstance{}, model.NewNotFoundError("step instance not found")
		}
		return model.StepInstance{}, model.NewForbiddenError("step instance is assigned to another agent")
	}

	inst, err = o.lifecycle.Review(ctx, instanceID, rctx.SubjectID, decision, reason)
	if err != nil {
		return model.StepInstance{}, err
	}

	if decision == model.DecisionReject {
		o.emit(ctx, model.EventStepRejected, model.EntityStepInstance, inst.ID, map[string]any{
			"dossier_id": inst.DossierID,
			"step_code":  inst.StepCode,
			"reason":     reason,
		})
		return inst, nil
	}

	before, err := o.store.GetDossier(ctx, inst.DossierID)
	if err != nil {
		return model.StepInstance{}, err
	}
	after, err := o.machine.AdvanceOnApproval(ctx, inst, actorTypeFor(rctx), rctx.SubjectID)
	if err != nil {
		return model.StepInstance{}, err
	}

	o.emit(ctx, model.EventStepCompleted, model.EntityStepInstance, inst.ID, map[string]any{
		"dossier_id": inst.DossierID,
		"step_code":  inst.StepCode,
	})
	if after.Status != before.Status {
		o.emit(ctx, model.EventDossierStatusChanged, model.EntityDossier, after.ID, map[string]any{
			"old_status": before.Status,
			"new_status": after.Status,
		})
	}
	return inst, nil
}

// SetAssignee manually assigns or unassigns a step instance, overriding the
// balancer. Admin only. An empty agentID releases the instance back to the
// unassigned queue.
func (o *Orchestrator) SetAssignee(ctx context.Context, instanceID, agentID string) (model.StepInstance, error) {
	rctx := model.MustRequestContext(ctx)
	if !rctx.IsAdmin() {
		return model.StepInstance{}, model.NewForbiddenError("only admins can reassign step instances")
	}

	inst, err := o.store.GetStepInstance(ctx, instanceID)
	if err != nil {
		return model.StepInstance{}, err
	}
	if !inst.Open() {
		return model.StepInstance{}, model.NewConflictError("step instance is already approved")
	}

	if agentID != "" {
		agent, err := o.store.GetAgent(ctx, agentID)
		if err != nil {
			return model.StepInstance{}, err
		}
		if !agent.Active {
			return model.StepInstance{}, model.NewValidationError([]model.FieldError{
				{Field: "agent_id", Code: "inactive", Message: fmt.Sprintf("agent %q is inactive", agentID)},
			})
		}
		if !agent.EligibleFor(inst.StepType) {
			return model.StepInstance{}, model.NewValidationError([]model.FieldError{
				{Field: "agent_id", Code: "ineligible", Message: fmt.Sprintf("agent %q cannot handle %s steps", agentID, inst.StepType)},
			})
		}
	}

	inst.AssignedTo = agentID
	if err := o.store.UpdateStepInstance(ctx, inst); err != nil {
		return model.StepInstance{}, err
	}

	if agentID != "" {
		role := model.DossierRoleVerifier
		if inst.StepType == model.StepTypeAdmin {
			role = model.DossierRoleCreator
		}
		if err := o.store.UpsertAgentAssignment(ctx, model.DossierAgentAssignment{
			ID:        uuid.New().String(),
			DossierID: inst.DossierID,
			AgentID:   agentID,
			Role:      role,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return model.StepInstance{}, err
		}
		o.emit(ctx, model.EventStepAssigned, model.EntityStepInstance, inst.ID, map[string]any{
			"dossier_id":  inst.DossierID,
			"step_code":   inst.StepCode,
			"assigned_to": agentID,
			"manual":      true,
		})
	}
	return o.store.GetStepInstance(ctx, inst.ID)
}

// UnassignedQueue lists open reviewable instances with no assignee, oldest
// first, for manual pickup. Staff only.
func (o *Orchestrator) UnassignedQueue(ctx context.Context) ([]model.StepInstance, error) {
	rctx := model.MustRequestContext(ctx)
	if !rctx.IsAgent() {
		return nil, model.NewForbiddenError("only staff can view the unassigned queue")
	}
	return o.store.FindUnassigned(ctx)
}

// OverrideStatus forces a dossier status with a mandatory reason. Admin only.
func (o *Orchestrator) OverrideStatus(ctx context.Context, dossierID, newStatus, reason string) (model.Dossier, error) {
	rctx := model.MustRequestContext(ctx)
	if !rctx.IsAdmin() {
		return model.Dossier{}, model.NewForbiddenError("only admins can override dossier status")
	}

	before, err := o.store.GetDossier(ctx, dossierID)
	if err != nil {
		return model.Dossier{}, err
	}
	after, err := o.machine.Override(ctx, dossierID, newStatus, rctx.SubjectID, reason)
	if err != nil {
		return model.Dossier{}, err
	}

	if after.Status != before.Status {
		o.emit(ctx, model.EventDossierStatusChanged, model.EntityDossier, after.ID, map[string]any{
			"old_status": before.Status,
			"new_status": after.Status,
			"override":   true,
			"reason":     reason,
		})
	}
	return after, nil
}

// UploadDocument stores a file and appends a version to the document slot.
// Owners upload to their own dossiers; staff to any.
func (o *Orchestrator) UploadDocument(
	ctx context.Context,
	dossierID, docTypeID, stepInstanceID, fileName string,
	sizeBytes int64,
	content io.Reader,
) (model.Document, model.DocumentVersion, error) {
	rctx := model.MustRequestContext(ctx)

	d, err := o.loadVisible(ctx, dossierID)
	if err != nil {
		return model.Document{}, model.DocumentVersion{}, err
	}
	if !rctx.IsAgent() && d.OwnerID != rctx.SubjectID {
		return model.Document{}, model.DocumentVersion{}, model.NewNotFoundError("dossier not found")
	}

	if stepInstanceID != "" {
		inst, err := o.store.GetStepInstance(ctx, stepInstanceID)
		if err != nil {
			return model.Document{}, model.DocumentVersion{}, err
		}
		if inst.DossierID != d.ID {
			return model.Document{}, model.DocumentVersion{}, model.NewBadRequestError(
				"step instance does not belong to this dossier",
			)
		}
		// A step-bound upload must target a slot the step declares.
		if !o.catalog.StepRequiresDocument(inst.StepCode, docTypeID) {
			return model.Document{}, model.DocumentVersion{}, model.NewValidationError([]model.FieldError{
				{
					Field:   "document_type_id",
					Code:    "not_declared",
					Message: fmt.Sprintf("step %q does not declare document type %q", inst.StepCode, docTypeID),
				},
			})
		}
	}

	doc, version, err := o.documents.Upload(ctx, rctx.SubjectID, d, docTypeID, stepInstanceID, fileName, sizeBytes, content)
	if err != nil {
		return model.Document{}, model.DocumentVersion{}, err
	}

	o.emit(ctx, model.EventDocumentUploaded, model.EntityDocument, doc.ID, map[string]any{
		"dossier_id":       d.ID,
		"document_type_id": docTypeID,
		"version_number":   version.VersionNumber,
		"file_name":        version.FileName,
	})
	return doc, version, nil
}

// ClearDocumentCurrent logically deletes a document by nulling its current
// pointer. Versions remain for audit. Staff only.
func (o *Orchestrator) ClearDocumentCurrent(ctx context.Context, documentID string) (model.Document, error) {
	rctx := model.MustRequestContext(ctx)
	if !rctx.IsAgent() {
		return model.Document{}, model.NewForbiddenError("only staff can remove documents")
	}

	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		return model.Document{}, err
	}
	if _, err := o.loadVisible(ctx, doc.DossierID); err != nil {
		if model.IsCode(err, model.ErrNotFound) {
			return model.Document{}, model.NewNotFoundError("document not found")
		}
		return model.Document{}, err
	}
	return o.documents.ClearCurrentVersion(ctx, documentID)
}

// DocumentVersions returns the version history of a document visible to the
// caller.
func (o *Orchestrator) DocumentVersions(ctx context.Context, documentID string) ([]model.DocumentVersion, error) {
	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if _, err := o.loadVisible(ctx, doc.DossierID); err != nil {
		if model.IsCode(err, model.ErrNotFound) {
			return nil, model.NewNotFoundError("document not found")
		}
		return nil, err
	}
	return o.documents.Versions(ctx, documentID)
}

// CompleteTimerStep approves an elapsed TIMER instance on behalf of the
// system scheduler and advances the dossier through the same path a human
// approval takes.
func (o *Orchestrator) CompleteTimerStep(ctx context.Context, instanceID string) (model.StepInstance, error) {
	inst, err := o.store.GetStepInstance(ctx, instanceID)
	if err != nil {
		return model.StepInstance{}, err
	}
	if inst.StepType != model.StepTypeTimer {
		return model.StepInstance{}, model.NewBadRequestError(
			fmt.Sprintf("step instance %q is not a timer step", instanceID),
		)
	}

	// Timer instances sit in DRAFT until the delay elapses; route them
	// through SUBMITTED so the lifecycle guards hold.
	if inst.ValidationStatus == model.ValidationDraft {
		if _, err := o.lifecycle.Submit(ctx, instanceID, nil); err != nil {
			return model.StepInstance{}, err
		}
	}

	// No agent is involved: the empty reviewer ID keeps assigned_to clear, so
	// the workload counters and assignment log never see a phantom "SYSTEM"
	// agent.
	inst, err = o.lifecycle.Review(ctx, instanceID, "", model.DecisionApprove, "")
	if err != nil {
		return model.StepInstance{}, err
	}
	if _, err := o.machine.AdvanceOnApproval(ctx, inst, model.ActorTypeSystem, model.ActorTypeSystem); err != nil {
		return model.StepInstance{}, err
	}

	o.emit(ctx, model.EventStepCompleted, model.EntityStepInstance, inst.ID, map[string]any{
		"dossier_id": inst.DossierID,
		"step_code":  inst.StepCode,
		"timer":      true,
	})
	return inst, nil
}

// loadVisible fetches a dossier and applies the visibility rule: admins see
// everything, agents see only dossiers they hold an assignment on, clients
// see only what they own. A foreign dossier looks absent rather than
// forbidden.
func (o *Orchestrator) loadVisible(ctx context.Context, dossierID string) (model.Dossier, error) {
	rctx := model.MustRequestContext(ctx)

	d, err := o.store.GetDossier(ctx, dossierID)
	if err != nil {
		return model.Dossier{}, err
	}

	switch {
	case rctx.IsAdmin():
		return d, nil
	case rctx.IsAgent():
		assigned, err := o.store.HasAgentAssignment(ctx, dossierID, rctx.SubjectID)
		if err != nil {
			return model.Dossier{}, err
		}
		if !assigned {
			return model.Dossier{}, model.NewNotFoundError("dossier not found")
		}
		return d, nil
	case d.OwnerID == rctx.SubjectID:
		return d, nil
	default:
		return model.Dossier{}, model.NewNotFoundError("dossier not found")
	}
}

// emit publishes a domain event. Failures are logged and swallowed; events
// never roll back the state change that produced them.
func (o *Orchestrator) emit(ctx context.Context, eventType, entityType, entityID string, payload map[string]any) {
	rctx := model.RequestContextFrom(ctx)
	actorType, actorID := model.ActorTypeSystem, model.ActorTypeSystem
	if rctx != nil {
		actorType, actorID = actorTypeFor(rctx), rctx.SubjectID
	}

	ev := model.DomainEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID,
		ActorType:  actorType,
		ActorID:    actorID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
	if err := o.sink.Publish(ctx, ev); err != nil {
		o.logger.Warn("event publish failed",
			zap.String("event_type", eventType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

func actorTypeFor(rctx *model.RequestContext) string {
	switch rctx.Role {
	case model.RoleAdmin:
		return model.ActorTypeAdmin
	case model.RoleAgent:
		return model.ActorTypeAgent
	default:
		return model.ActorTypeClient
	}
}
