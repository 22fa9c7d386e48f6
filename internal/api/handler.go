// Package api exposes FinGuard core's two external surfaces over HTTP:
// the runtime evaluation surface (evaluate, transform) and the
// administrative surface (policy lifecycle, atomic policy sets, rollback
// plans, key management, audit query) described in spec.md §6.
package api

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/altairalabs/finguard/internal/aps"
	"github.com/altairalabs/finguard/internal/audit"
	"github.com/altairalabs/finguard/internal/km"
	"github.com/altairalabs/finguard/internal/policy"
	"github.com/altairalabs/finguard/internal/pvs"
	"github.com/altairalabs/finguard/internal/rpe"
	"github.com/altairalabs/finguard/internal/transform"
	"github.com/altairalabs/finguard/pkg/metrics"
)

// AuditRecorder is the narrow audit surface the API layer uses directly,
// for ACCESS_DENIED entries.
type AuditRecorder interface {
	Record(ctx context.Context, action, target string, details map[string]any) error
}

// AuditQuerier is the read surface queryAudit/verifyAudit need; satisfied
// directly by *audit.Ledger.
type AuditQuerier interface {
	Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Entry, error)
	Verify(ctx context.Context, entryID string) (bool, error)
}

// Handler wires every core component behind HTTP routes. The audit fields
// are narrow interfaces so tests can substitute fakes; the other components
// are held as their concrete types.
type Handler struct {
	km        *km.Manager
	audit     AuditRecorder
	auditRead AuditQuerier
	transform *transform.Engine
	policy    *policy.Service
	pvs       *pvs.Service
	aps       *aps.Service
	rpe       *rpe.Service
	metrics   *metrics.HTTPMetrics
	log       logr.Logger
}

// NewHandler builds a Handler. RegisterRoutes registers every route whether
// or not its component is nil; the handlers do not check for a nil
// component.
func NewHandler(
	keyManager *km.Manager,
	auditRecorder AuditRecorder,
	auditQuerier AuditQuerier,
	transformEngine *transform.Engine,
	policySvc *policy.Service,
	pvsSvc *pvs.Service,
	apsSvc *aps.Service,
	rpeSvc *rpe.Service,
	httpMetrics *metrics.HTTPMetrics,
	log logr.Logger,
) *Handler {
	return &Handler{
		km:        keyManager,
		audit:     auditRecorder,
		auditRead: auditQuerier,
		transform: transformEngine,
		policy:    policySvc,
		pvs:       pvsSvc,
		aps:       apsSvc,
		rpe:       rpeSvc,
		metrics:   httpMetrics,
		log:       log.WithName("api"),
	}
}

// RegisterRoutes registers every route on mux. It adds no middleware:
// cmd/finguard-core wraps mux with WithActorContext and MetricsMiddleware.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Runtime evaluation surface.
	mux.HandleFunc("POST /v1/evaluate", h.handleEvaluate)
	mux.HandleFunc("POST /v1/transform", h.handleTransform)

	// Administrative surface: policy versions.
	mux.HandleFunc("POST /v1/policies/{policyId}/versions", h.handleCreateVersion)
	mux.HandleFunc("POST /v1/policies/{policyId}/versions/{version}/approve", h.handleApproveVersion)
	mux.HandleFunc("POST /v1/policies/{policyId}/versions/{version}/deploy", h.handleDeployVersion)
	mux.HandleFunc("POST /v1/policies/{policyId}/versions/{version}/archive", h.handleArchiveVersion)
	mux.HandleFunc("POST /v1/policies/{policyId}/restore", h.handleRestoreVersion)
	mux.HandleFunc("GET /v1/policies/{policyId}/versions", h.handleListVersions)
	mux.HandleFunc("GET /v1/policies/{policyId}/versions/{v1}/diff/{v2}", h.handleDiffVersions)

	// Administrative surface: atomic policy sets.
	mux.HandleFunc("POST /v1/atomic-transactions", h.handleExecuteTransaction)

	// Administrative surface: rollback plans.
	mux.HandleFunc("POST /v1/rollback-plans", h.handleCreatePlan)
	mux.HandleFunc("POST /v1/rollback-plans/{planId}/validate", h.handleValidatePlan)
	mux.HandleFunc("POST /v1/rollback-plans/{planId}/approve", h.handleApprovePlan)
	mux.HandleFunc("POST /v1/rollback-plans/{planId}/execute", h.handleExecutePlan)

	// Administrative surface: key management.
	mux.HandleFunc("GET /v1/keys", h.handleListKeys)
	mux.HandleFunc("POST /v1/keys/{keyId}/rotate", h.handleRotateKey)
	mux.HandleFunc("POST /v1/keys/{keyId}/revoke", h.handleRevokeKey)
	mux.HandleFunc("POST /v1/keys/backup", h.handleBackupKeys)
	mux.HandleFunc("POST /v1/keys/restore", h.handleRestoreKeys)

	// Administrative surface: audit.
	mux.HandleFunc("GET /v1/audit", h.handleQueryAudit)
	mux.HandleFunc("GET /v1/audit/{entryId}/verify", h.handleVerifyAudit)
}
