package api

import (
	"net/http"

	"github.com/altairalabs/finguard/internal/actorctx"
	"github.com/altairalabs/finguard/internal/pvs"
)

// Roles required per admin operation. spec.md §6 names policy_deployer,
// rollback_executor, and key_custodian as examples; the remaining roles
// below extend that scheme to every other mutating operation (see
// DESIGN.md's Open Question decision for the full role map).
const (
	rolePolicyAuthor    = "policy_author"
	rolePolicyApprover  = "policy_approver"
	rolePolicyDeployer  = "policy_deployer"
	roleRollbackPlanner = "rollback_planner"
	roleRollbackApprove = "rollback_approver"
	roleRollbackExecute = "rollback_executor"
	roleKeyOperator     = "key_operator"
	roleKeyCustodian    = "key_custodian"
	roleAuditor         = "auditor"
)

type createVersionRequest struct {
	Content  pvs.Content  `json:"content"`
	Metadata pvs.Metadata `json:"metadata" validate:"required"`
}

func (h *Handler) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, rolePolicyAuthor) {
		return
	}
	policyID := r.PathValue("policyId")
	var req createVersionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateStruct(req); err != nil {
		writeError(w, err)
		return
	}

	v, err := h.pvs.CreateVersion(r.Context(), policyID, req.Content, req.Metadata, actorctx.ActorID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) handleApproveVersion(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, rolePolicyApprover) {
		return
	}
	policyID, version := r.PathValue("policyId"), r.PathValue("version")
	if err := h.pvs.Approve(r.Context(), policyID, version, actorctx.ActorID(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (h *Handler) handleDeployVersion(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, rolePolicyDeployer) {
		return
	}
	policyID, version := r.PathValue("policyId"), r.PathValue("version")
	if err := h.pvs.Deploy(r.Context(), policyID, version, actorctx.ActorID(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	h.policy.InvalidateCache(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "deployed"})
}

func (h *Handler) handleArchiveVersion(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, rolePolicyDeployer) {
		return
	}
	policyID, version := r.PathValue("policyId"), r.PathValue("version")
	if err := h.pvs.Archive(r.Context(), policyID, version, actorctx.ActorID(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	h.policy.InvalidateCache(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

type restoreVersionRequest struct {
	TargetVersion string `json:"targetVersion" validate:"required"`
}

func (h *Handler) handleRestoreVersion(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, rolePolicyDeployer) {
		return
	}
	policyID := r.PathValue("policyId")
	var req restoreVersionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateStruct(req); err != nil {
		writeError(w, err)
		return
	}

	v, err := h.pvs.Restore(r.Context(), policyID, req.TargetVersion, actorctx.ActorID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	h.policy.InvalidateCache(r.Context())
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	policyID := r.PathValue("policyId")
	versions, err := h.pvs.ListVersions(r.Context(), policyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *Handler) handleDiffVersions(w http.ResponseWriter, r *http.Request) {
	policyID := r.PathValue("policyId")
	diff, err := h.pvs.Diff(r.Context(), policyID, r.PathValue("v1"), r.PathValue("v2"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}
