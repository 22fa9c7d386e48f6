package api

import (
	"net/http"

	"github.com/altairalabs/finguard/internal/aps"
)

func (h *Handler) handleExecuteTransaction(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, rolePolicyDeployer) {
		return
	}
	var txn aps.Transaction
	if err := readJSON(r, &txn); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.aps.Execute(r.Context(), txn)
	if err != nil {
		writeError(w, err)
		return
	}
	h.policy.InvalidateCache(r.Context())
	writeJSON(w, http.StatusOK, result)
}
