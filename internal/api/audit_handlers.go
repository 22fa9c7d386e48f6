package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/altairalabs/finguard/internal/audit"
)

func (h *Handler) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, roleAuditor) {
		return
	}
	q := r.URL.Query()
	filter := audit.QueryFilter{
		UserID:              q.Get("userId"),
		Action:              q.Get("action"),
		Result:              audit.Result(q.Get("result")),
		ComplianceFramework: q.Get("complianceFramework"),
		Offset:              atoiOr(q.Get("offset"), 0),
		Limit:               atoiOr(q.Get("limit"), 100),
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = t
		}
	}

	entries, err := h.auditRead.Query(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, roleAuditor) {
		return
	}
	ok, err := h.auditRead.Verify(r.Context(), r.PathValue("entryId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
