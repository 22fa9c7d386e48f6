package api

import (
	"io"
	"net/http"

	"github.com/altairalabs/finguard/internal/km"
)

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, roleKeyOperator) {
		return
	}
	purpose := km.Purpose(r.URL.Query().Get("purpose"))
	keys, err := h.km.List(r.Context(), purpose)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *Handler) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, roleKeyOperator) {
		return
	}
	next, err := h.km.Rotate(r.Context(), r.PathValue("keyId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

type revokeKeyRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, roleKeyOperator) {
		return
	}
	var req revokeKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateStruct(req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.km.Revoke(r.Context(), r.PathValue("keyId"), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handler) handleBackupKeys(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, roleKeyCustodian) {
		return
	}
	data, err := h.km.Backup(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set(headerContentType, "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleRestoreKeys(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, roleKeyCustodian) {
		return
	}
	if r.Body == nil {
		writeError(w, errMissingBody)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.km.Restore(r.Context(), data); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}
