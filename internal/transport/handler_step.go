package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ouvrio/dossier/model"
)

type submitStepRequest struct {
	FieldValues map[string]any `json:"field_values"`
}

// HandleSubmitStep submits the client's field values on a step of their
// dossier, creating the open instance on first touch.
func (h *Handler) HandleSubmitStep(w http.ResponseWriter, r *http.Request) {
	var req submitStepRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	inst, err := h.orch.SubmitStep(r.Context(),
		chi.URLParam(r, "dossierID"),
		chi.URLParam(r, "stepCode"),
		req.FieldValues,
	)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

// HandleResubmitStep resubmits a rejected instance with corrected values.
func (h *Handler) HandleResubmitStep(w http.ResponseWriter, r *http.Request) {
	var req submitStepRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	inst, err := h.orch.ResubmitStep(r.Context(), chi.URLParam(r, "instanceID"), req.FieldValues)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

type reviewStepRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// HandleReviewStep applies an agent's APPROVE or REJECT decision.
func (h *Handler) HandleReviewStep(w http.ResponseWriter, r *http.Request) {
	var req reviewStepRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.Decision != model.DecisionApprove && req.Decision != model.DecisionReject {
		WriteValidationError(w, []model.FieldError{
			{Field: "decision", Code: "invalid", Message: "decision must be APPROVE or REJECT"},
		})
		return
	}

	inst, err := h.orch.ReviewStep(r.Context(), chi.URLParam(r, "instanceID"), req.Decision, req.Reason)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

type setAssigneeRequest struct {
	AgentID string `json:"agent_id"`
}

// HandleSetAssignee manually assigns or releases a step instance.
func (h *Handler) HandleSetAssignee(w http.ResponseWriter, r *http.Request) {
	var req setAssigneeRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	inst, err := h.orch.SetAssignee(r.Context(), chi.URLParam(r, "instanceID"), req.AgentID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

// HandleUnassignedQueue lists open instances awaiting manual pickup.
func (h *Handler) HandleUnassignedQueue(w http.ResponseWriter, r *http.Request) {
	instances, err := h.orch.UnassignedQueue(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	if instances == nil {
		instances = []model.StepInstance{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"step_instances": instances})
}
