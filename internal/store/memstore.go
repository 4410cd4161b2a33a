package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ouvrio/dossier/model"
)

// MemoryStore is an in-memory Store for tests and development.
type MemoryStore struct {
	mu          sync.RWMutex
	dossiers    map[string]model.Dossier
	history     map[string][]model.DossierStatusHistory // key: dossier ID
	instances   map[string]model.StepInstance           // key: instance ID
	agents      map[string]model.Agent
	assignments map[string]model.DossierAgentAssignment // key: dossier ID + "/" + agent ID
	documents   map[string]model.Document
	versions    map[string][]model.DocumentVersion // key: document ID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		dossiers:    make(map[string]model.Dossier),
		history:     make(map[string][]model.DossierStatusHistory),
		instances:   make(map[string]model.StepInstance),
		agents:      make(map[string]model.Agent),
		assignments: make(map[string]model.DossierAgentAssignment),
		documents:   make(map[string]model.Document),
		versions:    make(map[string][]model.DocumentVersion),
	}
}

// CreateDossier persists a new dossier.
func (s *MemoryStore) CreateDossier(_ context.Context, d model.Dossier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.dossiers[d.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("dossier %q already exists", d.ID))
	}
	s.dossiers[d.ID] = d
	return nil
}

// GetDossier retrieves a dossier by ID.
func (s *MemoryStore) GetDossier(_ context.Context, id string) (model.Dossier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.dossiers[id]
	if !exists {
		return model.Dossier{}, model.NewNotFoundError(fmt.Sprintf("dossier %q not found", id))
	}
	return d, nil
}

// UpdateDossier persists an updated dossier with optimistic locking.
func (s *MemoryStore) UpdateDossier(_ context.Context, d model.Dossier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.dossiers[d.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("dossier %q not found", d.ID))
	}
	if existing.Version != d.Version {
		return model.NewConflictError(
			fmt.Sprintf("dossier %q version conflict (expected %d, got %d)", d.ID, d.Version, existing.Version),
		)
	}

	d.Version++
	d.UpdatedAt = time.Now().UTC()
	s.dossiers[d.ID] = d
	return nil
}

// UpdateDossierWithHistory persists the dossier update and its history row
// under one lock, so a version conflict leaves the status log untouched.
func (s *MemoryStore) UpdateDossierWithHistory(_ context.Context, d model.Dossier, h model.DossierStatusHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.dossiers[d.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("dossier %q not found", d.ID))
	}
	if existing.Version != d.Version {
		return model.NewConflictError(
			fmt.Sprintf("dossier %q version conflict (expected %d, got %d)", d.ID, d.Version, existing.Version),
		)
	}

	d.Version++
	d.UpdatedAt = time.Now().UTC()
	s.dossiers[d.ID] = d
	s.history[h.DossierID] = append(s.history[h.DossierID], h)
	return nil
}

// AppendStatusHistory adds a row to the dossier's status log.
func (s *MemoryStore) AppendStatusHistory(_ context.Context, h model.DossierStatusHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[h.DossierID] = append(s.history[h.DossierID], h)
	return nil
}

// GetStatusHistory returns all history rows for a dossier, oldest first.
func (s *MemoryStore) GetStatusHistory(_ context.Context, dossierID string) ([]model.DossierStatusHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.history[dossierID]
	result := make([]model.DossierStatusHistory, len(rows))
	copy(result, rows)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// CreateStepInstance persists a new step instance, enforcing one open
// instance per (dossier, step) pair.
func (s *MemoryStore) CreateStepInstance(_ context.Context, si model.StepInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.instances {
		if existing.DossierID == si.DossierID && existing.StepCode == si.StepCode && existing.Open() {
			return model.NewConflictError(
				fmt.Sprintf("open step instance already exists for dossier %q step %q", si.DossierID, si.StepCode),
			)
		}
	}
	if _, exists := s.instances[si.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("step instance %q already exists", si.ID))
	}
	s.instances[si.ID] = si
	return nil
}

// GetStepInstance retrieves a step instance by ID.
func (s *MemoryStore) GetStepInstance(_ context.Context, id string) (model.StepInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	si, exists := s.instances[id]
	if !exists {
		return model.StepInstance{}, model.NewNotFoundError(fmt.Sprintf("step instance %q not found", id))
	}
	return si, nil
}

// FindOpenStepInstance returns the open instance for the (dossier, step) pair.
func (s *MemoryStore) FindOpenStepInstance(_ context.Context, dossierID, stepCode string) (model.StepInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, si := range s.instances {
		if si.DossierID == dossierID && si.StepCode == stepCode && si.Open() {
			return si, nil
		}
	}
	return model.StepInstance{}, model.NewNotFoundError(
		fmt.Sprintf("no open step instance for dossier %q step %q", dossierID, stepCode),
	)
}

// ListStepInstances returns all instances of a dossier, oldest first.
func (s *MemoryStore) ListStepInstances(_ context.Context, dossierID string) ([]model.StepInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.StepInstance
	for _, si := range s.instances {
		if si.DossierID == dossierID {
			result = append(result, si)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

// UpdateStepInstance persists an updated instance with optimistic locking.
func (s *MemoryStore) UpdateStepInstance(_ context.Context, si model.StepInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.instances[si.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("step instance %q not found", si.ID))
	}
	if existing.Version != si.Version {
		return model.NewConflictError(
			fmt.Sprintf("step instance %q version conflict (expected %d, got %d)", si.ID, si.Version, existing.Version),
		)
	}

	si.Version++
	si.UpdatedAt = time.Now().UTC()
	s.instances[si.ID] = si
	return nil
}

// ClaimAssignment atomically sets assigned_to on an unclaimed instance.
func (s *MemoryStore) ClaimAssignment(_ context.Context, instanceID, agentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	si, exists := s.instances[instanceID]
	if !exists {
		return false, model.NewNotFoundError(fmt.Sprintf("step instance %q not found", instanceID))
	}
	if si.AssignedTo != "" {
		return false, nil
	}
	si.AssignedTo = agentID
	si.UpdatedAt = time.Now().UTC()
	si.Version++
	s.instances[instanceID] = si
	return true, nil
}

// OpenWorkload counts open assigned instances of the given step type per
// agent, excluding test dossiers.
func (s *MemoryStore) OpenWorkload(_ context.Context, stepType string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, si := range s.instances {
		if si.StepType != stepType || si.AssignedTo == "" {
			continue
		}
		switch si.ValidationStatus {
		case model.ValidationDraft, model.ValidationSubmitted, model.ValidationUnderReview:
		default:
			continue
		}
		if d, ok := s.dossiers[si.DossierID]; ok && d.IsTest {
			continue
		}
		counts[si.AssignedTo]++
	}
	return counts, nil
}

// FindUnassigned returns open instances awaiting manual pickup, oldest first.
func (s *MemoryStore) FindUnassigned(_ context.Context) ([]model.StepInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.StepInstance
	for _, si := range s.instances {
		if si.AssignedTo != "" {
			continue
		}
		awaiting := si.Reviewable() ||
			(si.StepType == model.StepTypeAdmin && si.ValidationStatus == model.ValidationDraft)
		if !awaiting {
			continue
		}
		result = append(result, si)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

// ListOpenByType returns all open instances of the given step type, oldest
// first.
func (s *MemoryStore) ListOpenByType(_ context.Context, stepType string) ([]model.StepInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.StepInstance
	for _, si := range s.instances {
		if si.StepType == stepType && si.Open() {
			result = append(result, si)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

// GetAgent retrieves an agent by ID.
func (s *MemoryStore) GetAgent(_ context.Context, id string) (model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.agents[id]
	if !exists {
		return model.Agent{}, model.NewNotFoundError(fmt.Sprintf("agent %q not found", id))
	}
	return a, nil
}

// PutAgent inserts or replaces an agent. For tests and seeding.
func (s *MemoryStore) PutAgent(a model.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
}

// ListActiveAgents returns active agents ordered by creation time, then ID.
func (s *MemoryStore) ListActiveAgents(_ context.Context) ([]model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Agent
	for _, a := range s.agents {
		if a.Active {
			result = append(result, a)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// UpsertAgentAssignment records an agent's role on a dossier.
func (s *MemoryStore) UpsertAgentAssignment(_ context.Context, a model.DossierAgentAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignments[a.DossierID+"/"+a.AgentID] = a
	return nil
}

// HasAgentAssignment reports whether the agent is assigned to the dossier.
func (s *MemoryStore) HasAgentAssignment(_ context.Context, dossierID, agentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.assignments[dossierID+"/"+agentID]
	return ok, nil
}

// GetDocument retrieves a document by ID.
func (s *MemoryStore) GetDocument(_ context.Context, id string) (model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.documents[id]
	if !exists {
		return model.Document{}, model.NewNotFoundError(fmt.Sprintf("document %q not found", id))
	}
	return d, nil
}

// FindDocument returns the document for the (dossier, documentType,
// stepInstance) key.
func (s *MemoryStore) FindDocument(_ context.Context, dossierID, docTypeID, stepInstanceID string) (model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.documents {
		if d.DossierID == dossierID && d.DocumentTypeID == docTypeID && d.StepInstanceID == stepInstanceID {
			return d, nil
		}
	}
	return model.Document{}, model.NewNotFoundError(
		fmt.Sprintf("no document for dossier %q type %q", dossierID, docTypeID),
	)
}

// CreateDocument persists a new document slot.
func (s *MemoryStore) CreateDocument(_ context.Context, d model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.documents[d.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("document %q already exists", d.ID))
	}
	s.documents[d.ID] = d
	return nil
}

// AppendDocumentVersion inserts the next immutable version and repoints the
// document at it.
func (s *MemoryStore) AppendDocumentVersion(_ context.Context, v model.DocumentVersion) (model.DocumentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, exists := s.documents[v.DocumentID]
	if !exists {
		return model.DocumentVersion{}, model.NewNotFoundError(
			fmt.Sprintf("document %q not found", v.DocumentID),
		)
	}

	max := 0
	for _, existing := range s.versions[v.DocumentID] {
		if existing.VersionNumber > max {
			max = existing.VersionNumber
		}
	}
	v.VersionNumber = max + 1
	s.versions[v.DocumentID] = append(s.versions[v.DocumentID], v)

	doc.CurrentVersionID = v.ID
	doc.UpdatedAt = time.Now().UTC()
	s.documents[doc.ID] = doc

	return v, nil
}

// ClearCurrentVersion nulls the document's current-version pointer.
func (s *MemoryStore) ClearCurrentVersion(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, exists := s.documents[documentID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("document %q not found", documentID))
	}
	doc.CurrentVersionID = ""
	doc.UpdatedAt = time.Now().UTC()
	s.documents[documentID] = doc
	return nil
}

// ListDocumentVersions returns all versions of a document, oldest first.
func (s *MemoryStore) ListDocumentVersions(_ context.Context, documentID string) ([]model.DocumentVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.versions[documentID]
	result := make([]model.DocumentVersion, len(rows))
	copy(result, rows)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].VersionNumber < result[j].VersionNumber
	})
	return result, nil
}

// Len returns the total number of dossiers. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dossiers)
}
