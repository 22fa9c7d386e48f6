package api

import (
	"net/http"

	"github.com/altairalabs/finguard/internal/policy"
	"github.com/altairalabs/finguard/internal/transform"
)

// evaluateRequest is the body of POST /v1/evaluate.
type evaluateRequest struct {
	Intent      policy.Intent `json:"intent" validate:"required"`
	PolicyNames []string      `json:"policyNames"`
}

// handleEvaluate implements the hot-path `evaluate(intent, policyNames[]) ->
// Decision` call per spec.md §6.
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateStruct(req); err != nil {
		writeError(w, err)
		return
	}

	decision, err := h.policy.Evaluate(r.Context(), req.Intent, req.PolicyNames)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// transformRequest is the body of POST /v1/transform.
type transformRequest struct {
	Context transform.Context `json:"context"`
	Fields  []transform.Field `json:"fields" validate:"required,min=1"`
}

// handleTransform implements the `(payload, context) -> transformed` call.
func (h *Handler) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateStruct(req); err != nil {
		writeError(w, err)
		return
	}

	out := h.transform.Transform(req.Context, req.Fields)
	writeJSON(w, http.StatusOK, out)
}
