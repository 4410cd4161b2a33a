package engine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ouvrio/dossier/model"
)

func TestTimerProcessor_Sweep_completesElapsed(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	d := e.seedDossier(t, model.Dossier{
		ID: "d-1", OwnerID: "client-1", ProductID: "llc-standard",
		Status: model.DossierStatusBankOpened,
	})

	inst, err := e.lifecycle.GetOrCreate(ctx, d, "wait_48h")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	// Backdate the start so the 48h delay has elapsed.
	inst.StartedAt = time.Now().UTC().Add(-49 * time.Hour)
	if err := e.store.UpdateStepInstance(ctx, inst); err != nil {
		t.Fatalf("backdating instance: %v", err)
	}

	p := NewTimerProcessor(e.store, e.catalog, e.orch, time.Minute, zap.NewNop())
	p.Sweep(ctx)

	got, _ := e.store.GetStepInstance(ctx, inst.ID)
	if got.ValidationStatus != model.ValidationApproved {
		t.Errorf("ValidationStatus = %q, want APPROVED after sweep", got.ValidationStatus)
	}
	after, _ := e.store.GetDossier(ctx, "d-1")
	if after.Status != model.DossierStatusCompleted {
		t.Errorf("dossier Status = %q, want COMPLETED", after.Status)
	}
}

func TestTimerProcessor_Sweep_skipsNotElapsed(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	d := e.seedDossier(t, model.Dossier{ID: "d-1", OwnerID: "client-1", ProductID: "llc-standard"})

	inst, err := e.lifecycle.GetOrCreate(ctx, d, "wait_48h")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	p := NewTimerProcessor(e.store, e.catalog, e.orch, time.Minute, zap.NewNop())
	p.Sweep(ctx)

	got, _ := e.store.GetStepInstance(ctx, inst.ID)
	if got.ValidationStatus != model.ValidationDraft {
		t.Errorf("ValidationStatus = %q, want DRAFT (delay not elapsed)", got.ValidationStatus)
	}
}

func TestTimerProcessor_Sweep_idempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	d := e.seedDossier(t, model.Dossier{
		ID: "d-1", OwnerID: "client-1", ProductID: "llc-standard",
		Status: model.DossierStatusBankOpened,
	})

	inst, err := e.lifecycle.GetOrCreate(ctx, d, "wait_48h")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	inst.StartedAt = time.Now().UTC().Add(-49 * time.Hour)
	if err := e.store.UpdateStepInstance(ctx, inst); err != nil {
		t.Fatalf("backdating instance: %v", err)
	}

	p := NewTimerProcessor(e.store, e.catalog, e.orch, time.Minute, zap.NewNop())
	p.Sweep(ctx)
	// A second sweep finds no open timer instances and changes nothing.
	p.Sweep(ctx)

	history, _ := e.store.GetStatusHistory(ctx, "d-1")
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1 (single completion)", len(history))
	}
}

func TestTimerProcessor_Sweep_ignoresOtherStepTypes(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	d := e.seedDossier(t, model.Dossier{ID: "d-1", OwnerID: "client-1", ProductID: "llc-standard"})

	inst, err := e.lifecycle.GetOrCreate(ctx, d, "personal_info")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	p := NewTimerProcessor(e.store, e.catalog, e.orch, time.Minute, zap.NewNop())
	p.Sweep(ctx)

	got, _ := e.store.GetStepInstance(ctx, inst.ID)
	if got.ValidationStatus != model.ValidationDraft {
		t.Errorf("CLIENT instance status = %q, want untouched DRAFT", got.ValidationStatus)
	}
}

func TestTimerProcessor_Run_stopsOnCancel(t *testing.T) {
	e := newTestEngine(t)
	p := NewTimerProcessor(e.store, e.catalog, e.orch, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after context cancellation")
	}
}
