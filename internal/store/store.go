// Package store persists dossiers, step instances, agents, and documents.
// Two implementations exist: an in-memory store for tests and development,
// and a PostgreSQL store for production.
package store

import (
	"context"

	"github.com/ouvrio/dossier/model"
)

// Store is the persistence boundary for the workflow engine. All methods are
// safe for concurrent use; mutating methods on versioned rows use optimistic
// locking and return CONFLICT when the stored version has moved.
type Store interface {
	// CreateDossier persists a new dossier.
	CreateDossier(ctx context.Context, d model.Dossier) error

	// GetDossier retrieves a dossier by ID. Returns NOT_FOUND if absent.
	GetDossier(ctx context.Context, id string) (model.Dossier, error)

	// UpdateDossier persists an updated dossier with optimistic locking.
	UpdateDossier(ctx context.Context, d model.Dossier) error

	// UpdateDossierWithHistory persists an updated dossier and its status
	// history row as one atomic unit. On a version CONFLICT neither is
	// written, so the append-only log never records a transition that lost
	// the race.
	UpdateDossierWithHistory(ctx context.Context, d model.Dossier, h model.DossierStatusHistory) error

	// AppendStatusHistory adds a row to the dossier's append-only status log.
	AppendStatusHistory(ctx context.Context, h model.DossierStatusHistory) error

	// GetStatusHistory returns all history rows for a dossier, oldest first.
	GetStatusHistory(ctx context.Context, dossierID string) ([]model.DossierStatusHistory, error)

	// CreateStepInstance persists a new step instance. Returns CONFLICT if an
	// open instance already exists for the same (dossier, step) pair, so two
	// concurrent getOrCreate calls converge on one row.
	CreateStepInstance(ctx context.Context, si model.StepInstance) error

	// GetStepInstance retrieves a step instance by ID.
	GetStepInstance(ctx context.Context, id string) (model.StepInstance, error)

	// FindOpenStepInstance returns the open (non-approved) instance for the
	// (dossier, step) pair. Returns NOT_FOUND if none exists.
	FindOpenStepInstance(ctx context.Context, dossierID, stepCode string) (model.StepInstance, error)

	// ListStepInstances returns all instances of a dossier, oldest first.
	ListStepInstances(ctx context.Context, dossierID string) ([]model.StepInstance, error)

	// UpdateStepInstance persists an updated instance with optimistic locking.
	UpdateStepInstance(ctx context.Context, si model.StepInstance) error

	// ClaimAssignment atomically sets assigned_to on an instance that has no
	// assignee yet. Returns false if the instance was already claimed. This is
	// the single concurrency-control point for the balancer's check-then-act.
	ClaimAssignment(ctx context.Context, instanceID, agentID string) (bool, error)

	// OpenWorkload returns, per agent ID, the count of open step instances of
	// the given step type currently assigned to them (validation status in
	// DRAFT/SUBMITTED/UNDER_REVIEW). Instances on test dossiers are excluded.
	OpenWorkload(ctx context.Context, stepType string) (map[string]int, error)

	// FindUnassigned returns open SUBMITTED/UNDER_REVIEW instances (and open
	// ADMIN-step drafts) with no assignee, oldest first. This backs the
	// unassigned queue view for manual pickup.
	FindUnassigned(ctx context.Context) ([]model.StepInstance, error)

	// ListOpenByType returns all open instances of the given step type,
	// oldest first. The timer processor uses this to find elapsed TIMER
	// instances.
	ListOpenByType(ctx context.Context, stepType string) ([]model.StepInstance, error)

	// GetAgent retrieves an agent by ID.
	GetAgent(ctx context.Context, id string) (model.Agent, error)

	// ListActiveAgents returns all active agents ordered by creation time,
	// ties broken by ID. The ordering is the balancer's deterministic
	// tie-break, so it must be stable.
	ListActiveAgents(ctx context.Context) ([]model.Agent, error)

	// UpsertAgentAssignment records an agent's role on a dossier.
	UpsertAgentAssignment(ctx context.Context, a model.DossierAgentAssignment) error

	// HasAgentAssignment reports whether the agent is assigned to the dossier
	// in any role.
	HasAgentAssignment(ctx context.Context, dossierID, agentID string) (bool, error)

	// GetDocument retrieves a document by ID.
	GetDocument(ctx context.Context, id string) (model.Document, error)

	// FindDocument returns the document for the (dossier, documentType,
	// stepInstance) key. Returns NOT_FOUND if none exists.
	FindDocument(ctx context.Context, dossierID, docTypeID, stepInstanceID string) (model.Document, error)

	// CreateDocument persists a new document slot.
	CreateDocument(ctx context.Context, d model.Document) error

	// AppendDocumentVersion inserts a new immutable version with the next
	// monotonic version number and points the document's current version at
	// it. The stored version (with its assigned number) is returned.
	AppendDocumentVersion(ctx context.Context, v model.DocumentVersion) (model.DocumentVersion, error)

	// ClearCurrentVersion nulls the document's current-version pointer.
	// Versions themselves are never removed.
	ClearCurrentVersion(ctx context.Context, documentID string) error

	// ListDocumentVersions returns all versions of a document, oldest first.
	ListDocumentVersions(ctx context.Context, documentID string) ([]model.DocumentVersion, error)
}
