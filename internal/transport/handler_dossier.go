package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ouvrio/dossier/internal/engine"
	"github.com/ouvrio/dossier/model"
)

// Handler holds the orchestrator and serves every API route.
type Handler struct {
	orch   *engine.Orchestrator
	logger *zap.Logger
}

// NewHandler creates the API handler set.
func NewHandler(orch *engine.Orchestrator, logger *zap.Logger) *Handler {
	return &Handler{orch: orch, logger: logger}
}

type createDossierRequest struct {
	OwnerID   string         `json:"owner_id"`
	ProductID string         `json:"product_id"`
	IsTest    bool           `json:"is_test"`
	Metadata  map[string]any `json:"metadata"`
}

// HandleCreateDossier opens a new dossier and its first step instance.
func (h *Handler) HandleCreateDossier(w http.ResponseWriter, r *http.Request) {
	var req createDossierRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	d, err := h.orch.CreateDossier(r.Context(), req.OwnerID, req.ProductID, req.IsTest, req.Metadata)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, d)
}

// dossierDetail is the dossier read model with its step instances inlined.
type dossierDetail struct {
	model.Dossier
	StepInstances []model.StepInstance `json:"step_instances"`
}

// HandleGetDossier returns a dossier with all its step instances.
func (h *Handler) HandleGetDossier(w http.ResponseWriter, r *http.Request) {
	dossierID := chi.URLParam(r, "dossierID")

	d, err := h.orch.GetDossier(r.Context(), dossierID)
	if err != nil {
		WriteError(w, err)
		return
	}
	instances, err := h.orch.StepInstances(r.Context(), dossierID)
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, dossierDetail{Dossier: d, StepInstances: instances})
}

// HandleStatusHistory returns the dossier's append-only status log.
func (h *Handler) HandleStatusHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.orch.StatusHistory(r.Context(), chi.URLParam(r, "dossierID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"history": history})
}

type overrideStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// HandleOverrideStatus forces a dossier status. Admin only, reason mandatory.
func (h *Handler) HandleOverrideStatus(w http.ResponseWriter, r *http.Request) {
	var req overrideStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	d, err := h.orch.OverrideStatus(r.Context(), chi.URLParam(r, "dossierID"), req.Status, req.Reason)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, d)
}
