package aps

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/altairalabs/finguard/internal/fgerr"
	"github.com/altairalabs/finguard/internal/pvs"
	"github.com/altairalabs/finguard/pkg/metrics"
)

// PVSOps is the PVS surface APS needs: lookups for pre-validation, plus the
// lock-held mutation primitives for execution and compensating rollback.
type PVSOps interface {
	PolicyLookup
	GetActive(ctx context.Context, policyID string) (pvs.PolicyVersion, error)
	LockPolicies(ctx context.Context, policyIDs []string, timeout time.Duration) (func(), error)
	CreateVersionLocked(ctx context.Context, policyID string, content pvs.Content, meta pvs.Metadata, actor string) (pvs.PolicyVersion, error)
	Approve(ctx context.Context, policyID, version, approver string) error
	DeployLocked(ctx context.Context, policyID, version, actor string) error
	RestoreLocked(ctx context.Context, policyID, targetVersion, actor string) (pvs.PolicyVersion, error)
	ArchiveLocked(ctx context.Context, policyID, version, actor string) error
	ArchiveActiveLocked(ctx context.Context, policyID, actor string) error
	SetStatusLocked(ctx context.Context, policyID, version string, status pvs.Status) error
}

// AuditRecorder is the subset of the audit ledger's interface APS needs.
type AuditRecorder interface {
	Record(ctx context.Context, action, target string, details map[string]any) error
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	LockTimeout        time.Duration
	TransactionTimeout time.Duration
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.LockTimeout <= 0 {
		c.LockTimeout = 30 * time.Second
	}
	if c.TransactionTimeout <= 0 {
		c.TransactionTimeout = 60 * time.Second
	}
	return c
}

// Service is the Atomic Policy Set: it executes a batch of PVS operations as
// a single commit-or-rollback unit.
type Service struct {
	pvs     PVSOps
	audit   AuditRecorder
	metrics *metrics.APSMetrics
	cfg     ServiceConfig
}

// NewService builds a Service backed by pvsOps.
func NewService(pvsOps PVSOps, audit AuditRecorder, m *metrics.APSMetrics, cfg ServiceConfig) *Service {
	return &Service{pvs: pvsOps, audit: audit, metrics: m, cfg: cfg.withDefaults()}
}

// Execute runs txn's operations to completion or rolls every applied
// mutation back, emitting START/COMPLETE/FAIL_ATOMIC_TRANSACTION audit
// entries regardless of outcome.
func (s *Service) Execute(ctx context.Context, txn Transaction) (Result, error) {
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.Actor == "" {
		txn.Actor = "system"
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TransactionTimeout)
	defer cancel()

	s.auditRecord(ctx, "START_ATOMIC_TRANSACTION", txn.ID, map[string]any{
		"operationCount": len(txn.Operations),
		"dryRun":         txn.DryRun,
		"actor":          txn.Actor,
	})

	ordered, err := preValidate(ctx, s.pvs, txn.Operations)
	if err != nil {
		return s.fail(ctx, txn, start, nil, err)
	}

	if txn.DryRun {
		results := dryRun(ctx, s.pvs, ordered)
		return s.finishDryRun(ctx, txn, start, results), nil
	}

	policyIDs := make([]string, 0, len(ordered))
	for _, op := range ordered {
		policyIDs = append(policyIDs, op.PolicyID)
	}

	release, err := s.pvs.LockPolicies(ctx, policyIDs, s.cfg.LockTimeout)
	if err != nil {
		return s.fail(ctx, txn, start, nil, err)
	}
	defer release()

	var completed []OpResult
	var compensations []func(context.Context)

	for _, op := range ordered {
		res, compensate, err := s.applyOp(ctx, op, txn.Actor)
		if err != nil {
			for i := len(compensations) - 1; i >= 0; i-- {
				compensations[i](ctx)
			}
			failed := []OpResult{{PolicyID: op.PolicyID, Kind: op.Kind, Error: err.Error()}}
			return s.fail(ctx, txn, start, completed, fmt.Errorf("operation on policy %q: %w", op.PolicyID, err), failed...)
		}
		completed = append(completed, res)
		compensations = append(compensations, compensate)
		if s.metrics != nil {
			s.metrics.OperationsTotal.WithLabelValues(string(op.Kind)).Inc()
		}
	}

	s.auditRecord(ctx, "COMPLETE_ATOMIC_TRANSACTION", txn.ID, map[string]any{
		"completed": len(completed),
		"actor":     txn.Actor,
	})
	if s.metrics != nil {
		s.metrics.TransactionsTotal.WithLabelValues(string(StateCommitted)).Inc()
		s.metrics.TransactionDuration.Observe(time.Since(start).Seconds())
	}
	return Result{TransactionID: txn.ID, State: StateCommitted, Completed: completed}, nil
}

func (s *Service) fail(ctx context.Context, txn Transaction, start time.Time, completed []OpResult, err error, failed ...OpResult) (Result, error) {
	s.auditRecord(ctx, "FAIL_ATOMIC_TRANSACTION", txn.ID, map[string]any{
		"result": "FAILURE",
		"error":  err.Error(),
		"actor":  txn.Actor,
	})
	if s.metrics != nil {
		s.metrics.TransactionsTotal.WithLabelValues(string(StateFailed)).Inc()
		s.metrics.TransactionDuration.Observe(time.Since(start).Seconds())
	}
	return Result{TransactionID: txn.ID, State: StateFailed, Completed: completed, Failed: failed}, err
}

func (s *Service) finishDryRun(ctx context.Context, txn Transaction, start time.Time, results []validationResult) Result {
	var completed, failed []OpResult
	for _, r := range results {
		if r.err != nil {
			failed = append(failed, OpResult{PolicyID: r.op.PolicyID, Kind: r.op.Kind, Error: r.err.Error()})
			continue
		}
		completed = append(completed, OpResult{PolicyID: r.op.PolicyID, Kind: r.op.Kind})
	}
	s.auditRecord(ctx, "COMPLETE_ATOMIC_TRANSACTION", txn.ID, map[string]any{
		"dryRun": true, "completed": len(completed), "failed": len(failed), "actor": txn.Actor,
	})
	if s.metrics != nil {
		s.metrics.TransactionDuration.Observe(time.Since(start).Seconds())
	}
	return Result{TransactionID: txn.ID, State: StateCommitted, Completed: completed, Failed: failed}
}

// applyOp executes a single operation and returns the compensating action
// that would undo it, for the caller to invoke (in reverse order across all
// already-applied operations) if a later operation in the same transaction
// fails.
func (s *Service) applyOp(ctx context.Context, op Operation, actor string) (OpResult, func(context.Context), error) {
	switch op.Kind {
	case OpCreate:
		return s.applyCreate(ctx, op, actor, pvs.ChangeCreation)
	case OpUpdate:
		return s.applyCreate(ctx, op, actor, pvs.ChangeUpdate)
	case OpRestore:
		return s.applyRestore(ctx, op, actor)
	case OpDelete:
		return s.applyDelete(ctx, op, actor)
	default:
		return OpResult{}, nil, fmt.Errorf("%w: unknown operation kind %q", fgerr.ErrInvalidInput, op.Kind)
	}
}

// applyCreate backs create and update, which both create a new version and
// deploy it immediately.
func (s *Service) applyCreate(ctx context.Context, op Operation, actor string, change pvs.ChangeType) (OpResult, func(context.Context), error) {
	meta := op.Metadata
	meta.ChangeType = change

	prevActive, hadActive := s.snapshotActive(ctx, op.PolicyID)

	v, err := s.pvs.CreateVersionLocked(ctx, op.PolicyID, op.Content, meta, actor)
	if err != nil {
		return OpResult{}, nil, err
	}
	if err := s.pvs.Approve(ctx, op.PolicyID, v.Version, actor); err != nil {
		return OpResult{}, nil, err
	}
	if err := s.pvs.DeployLocked(ctx, op.PolicyID, v.Version, actor); err != nil {
		return OpResult{}, nil, err
	}

	compensate := func(ctx context.Context) {
		_ = s.pvs.SetStatusLocked(ctx, op.PolicyID, v.Version, pvs.StatusArchived)
		if hadActive {
			_ = s.pvs.SetStatusLocked(ctx, op.PolicyID, prevActive.Version, pvs.StatusActive)
		}
	}
	return OpResult{PolicyID: op.PolicyID, Kind: op.Kind, Version: v.Version}, compensate, nil
}

func (s *Service) applyRestore(ctx context.Context, op Operation, actor string) (OpResult, func(context.Context), error) {
	prevActive, hadActive := s.snapshotActive(ctx, op.PolicyID)

	v, err := s.pvs.RestoreLocked(ctx, op.PolicyID, op.TargetVersion, actor)
	if err != nil {
		return OpResult{}, nil, err
	}

	compensate := func(ctx context.Context) {
		_ = s.pvs.SetStatusLocked(ctx, op.PolicyID, v.Version, pvs.StatusArchived)
		if hadActive {
			_ = s.pvs.SetStatusLocked(ctx, op.PolicyID, prevActive.Version, pvs.StatusActive)
		}
	}
	return OpResult{PolicyID: op.PolicyID, Kind: op.Kind, Version: v.Version}, compensate, nil
}

func (s *Service) applyDelete(ctx context.Context, op Operation, actor string) (OpResult, func(context.Context), error) {
	prevActive, hadActive := s.snapshotActive(ctx, op.PolicyID)
	if !hadActive {
		// Nothing to delete; a no-op compensates trivially.
		return OpResult{PolicyID: op.PolicyID, Kind: op.Kind}, func(context.Context) {}, nil
	}

	if err := s.pvs.ArchiveActiveLocked(ctx, op.PolicyID, actor); err != nil {
		return OpResult{}, nil, err
	}

	compensate := func(ctx context.Context) {
		_ = s.pvs.SetStatusLocked(ctx, op.PolicyID, prevActive.Version, pvs.StatusActive)
	}
	return OpResult{PolicyID: op.PolicyID, Kind: op.Kind, Version: prevActive.Version}, compensate, nil
}

func (s *Service) snapshotActive(ctx context.Context, policyID string) (pvs.PolicyVersion, bool) {
	v, err := s.pvs.GetActive(ctx, policyID)
	if err != nil {
		return pvs.PolicyVersion{}, false
	}
	return v, true
}

func (s *Service) auditRecord(ctx context.Context, action, target string, details map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, action, target, details)
}
