package engine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ouvrio/dossier/internal/catalog"
	"github.com/ouvrio/dossier/internal/filestore"
	"github.com/ouvrio/dossier/internal/notify"
	"github.com/ouvrio/dossier/internal/store"
	"github.com/ouvrio/dossier/model"
)

// testCatalog builds two LLC products. llc-standard is a three-step flow: a
// CLIENT step that moves the dossier to FORM_SUBMITTED on approval, an ADMIN
// creation step that moves it to LLC_ACCEPTED, and a 48h TIMER step that
// completes it. llc-guided prepends mandatory contact fields and a FORMATION
// course before the ADMIN work.
func testCatalog() *catalog.Registry {
	return catalog.NewRegistry([]catalog.Definition{
		{
			Products: []catalog.Product{
				{
					ID:    "llc-standard",
					Label: "LLC Standard",
					Steps: []catalog.ProductStep{
						{StepCode: "personal_info", Position: 1, DossierStatusOnApproval: model.DossierStatusFormSubmitted},
						{StepCode: "company_creation", Position: 2, DossierStatusOnApproval: model.DossierStatusLLCAccepted},
						{StepCode: "wait_48h", Position: 3, DossierStatusOnApproval: model.DossierStatusCompleted},
					},
				},
				{
					ID:    "llc-guided",
					Label: "LLC Guided",
					Steps: []catalog.ProductStep{
						{StepCode: "contact_details", Position: 1, DossierStatusOnApproval: model.DossierStatusFormSubmitted},
						{StepCode: "intro_course", Position: 2},
						{StepCode: "company_creation", Position: 3, DossierStatusOnApproval: model.DossierStatusLLCAccepted},
					},
				},
			},
			Steps: []catalog.Step{
				{Code: "personal_info", Type: model.StepTypeClient, Position: 1, DocumentTypes: []string{"passport"}},
				{Code: "company_creation", Type: model.StepTypeAdmin, Position: 2},
				{Code: "wait_48h", Type: model.StepTypeTimer, Position: 3, TimerDelay: catalog.Duration(48 * time.Hour)},
				{Code: "contact_details", Type: model.StepTypeClient, Position: 1, Fields: []catalog.StepField{
					{Name: "first_name", Kind: "text", Required: true},
					{Name: "last_name", Kind: "text", Required: true},
					{Name: "phone", Kind: "text"},
				}},
				{Code: "intro_course", Type: model.StepTypeFormation, Position: 2, FormationID: "form-101"},
				// Defined in the catalog but bound to no product.
				{Code: "orphan_step", Type: model.StepTypeClient, Position: 9},
			},
			DocumentTypes: []catalog.DocumentType{
				{ID: "passport", AllowedExtensions: []string{"pdf", "jpg"}, MaxFileSizeMB: 10},
				{ID: "ein_letter", AllowedExtensions: []string{".pdf"}, MaxFileSizeMB: 5},
			},
		},
	})
}

// testEngine bundles a fully wired engine over in-memory collaborators.
type testEngine struct {
	store     *store.MemoryStore
	catalog   *catalog.Registry
	files     *filestore.MemoryStorage
	sink      *notify.MemorySink
	balancer  *Balancer
	lifecycle *Lifecycle
	machine   *StateMachine
	documents *Documents
	orch      *Orchestrator
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	st := store.NewMemoryStore()
	cat := testCatalog()
	files := filestore.NewMemoryStorage()
	sink := notify.NewMemorySink()

	bal := NewBalancer(st)
	lc := NewLifecycle(st, cat, bal)
	sm := NewStateMachine(st, cat, lc)
	docs := NewDocuments(st, cat, files)
	orch := NewOrchestrator(st, cat, lc, sm, bal, docs, sink, zap.NewNop())

	return &testEngine{
		store:     st,
		catalog:   cat,
		files:     files,
		sink:      sink,
		balancer:  bal,
		lifecycle: lc,
		machine:   sm,
		documents: docs,
		orch:      orch,
	}
}

// seedAgent adds an active agent of the given type.
func (e *testEngine) seedAgent(id, agentType string, createdAt time.Time) {
	e.store.PutAgent(model.Agent{
		ID:        id,
		Email:     id + "@example.com",
		AgentType: agentType,
		Active:    true,
		CreatedAt: createdAt,
	})
}

// seedDossier inserts a dossier directly, bypassing authorization.
func (e *testEngine) seedDossier(t *testing.T, d model.Dossier) model.Dossier {
	t.Helper()
	if d.Status == "" {
		d.Status = model.DossierStatusQualification
	}
	if d.Version == 0 {
		d.Version = 1
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if err := e.store.CreateDossier(context.Background(), d); err != nil {
		t.Fatalf("seeding dossier: %v", err)
	}
	return d
}

func ctxAs(role, subjectID string) context.Context {
	return model.WithRequestContext(context.Background(), &model.RequestContext{
		SubjectID: subjectID,
		Role:      role,
	})
}

// eventTypes extracts the ordered event type names from the sink.
func (e *testEngine) eventTypes() []string {
	events := e.sink.Events()
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func hasEvent(types []string, want string) bool {
	for _, tp := range types {
		if tp == want {
			return true
		}
	}
	return false
}
