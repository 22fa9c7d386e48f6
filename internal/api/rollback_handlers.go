package api

import (
	"net/http"

	"github.com/altairalabs/finguard/internal/actorctx"
	"github.com/altairalabs/finguard/internal/rpe"
)

type createPlanRequest struct {
	Targets                []rpe.Target `json:"targets" validate:"required,min=1"`
	Scope                  rpe.Scope    `json:"scope"`
	Risk                   string       `json:"risk" validate:"required"`
	DataLoss               rpe.DataLoss `json:"dataLoss"`
	BusinessJustification  string       `json:"businessJustification"`
	TechnicalJustification string       `json:"technicalJustification"`
}

func (h *Handler) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, roleRollbackPlanner) {
		return
	}
	var req createPlanRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateStruct(req); err != nil {
		writeError(w, err)
		return
	}

	plan := h.rpe.CreatePlan(r.Context(), req.Targets, req.Scope, req.Risk, req.DataLoss,
		req.BusinessJustification, req.TechnicalJustification, actorctx.ActorID(r.Context()))
	writeJSON(w, http.StatusCreated, plan)
}

func (h *Handler) handleValidatePlan(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, roleRollbackPlanner) {
		return
	}
	plan, err := h.rpe.Validate(r.Context(), r.PathValue("planId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *Handler) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, roleRollbackApprove) {
		return
	}
	plan, err := h.rpe.Approve(r.Context(), r.PathValue("planId"), actorctx.ActorID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *Handler) handleExecutePlan(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, roleRollbackExecute) {
		return
	}
	result, err := h.rpe.Execute(r.Context(), r.PathValue("planId"), actorctx.ActorID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	h.policy.InvalidateCache(r.Context())
	writeJSON(w, http.StatusOK, result)
}
