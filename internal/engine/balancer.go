package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ouvrio/dossier/internal/store"
	"github.com/ouvrio/dossier/model"
)

// Balancer routes staff-facing work to the least-loaded active agent of the
// required type. It is a best-effort load leveler: it runs only at
// creation/submission time and never rebalances retroactively, so an agent
// mid-review is never surprised by a reassignment.
type Balancer struct {
	store store.Store
}

// NewBalancer creates a new assignment balancer.
func NewBalancer(st store.Store) *Balancer {
	return &Balancer{store: st}
}

// Assign picks the eligible active agent with the smallest open workload for
// the instance's pool and atomically claims the instance for them. Ties break
// by earliest agent creation, which keeps placement reproducible.
//
// Returning ("", nil) with no error means no eligible agent exists: the
// instance stays unassigned and surfaces in the unassigned queue for manual
// pickup. That is a valid state, not a failure.
func (b *Balancer) Assign(ctx context.Context, inst model.StepInstance) (string, error) {
	agents, err := b.store.ListActiveAgents(ctx)
	if err != nil {
		return "", err
	}

	var eligible []model.Agent
	for _, a := range agents {
		if a.EligibleFor(inst.StepType) {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		return "", nil
	}

	// Pool-specific counting: a dual-role agent's CLIENT and ADMIN loads are
	// tracked independently.
	workload, err := b.store.OpenWorkload(ctx, inst.StepType)
	if err != nil {
		return "", err
	}

	best := eligible[0]
	bestLoad := workload[best.ID]
	for _, a := range eligible[1:] {
		if workload[a.ID] < bestLoad {
			best = a
			bestLoad = workload[a.ID]
		}
	}

	claimed, err := b.store.ClaimAssignment(ctx, inst.ID, best.ID)
	if err != nil {
		return "", err
	}
	if !claimed {
		// Lost the race to a concurrent trigger; whoever won is the assignee.
		current, err := b.store.GetStepInstance(ctx, inst.ID)
		if err != nil {
			return "", err
		}
		return current.AssignedTo, nil
	}

	role := model.DossierRoleVerifier
	if inst.StepType == model.StepTypeAdmin {
		role = model.DossierRoleCreator
	}
	if err := b.store.UpsertAgentAssignment(ctx, model.DossierAgentAssignment{
		ID:        uuid.New().String(),
		DossierID: inst.DossierID,
		AgentID:   best.ID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return "", err
	}

	return best.ID, nil
}
