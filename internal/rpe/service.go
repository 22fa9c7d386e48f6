package rpe

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/altairalabs/finguard/internal/fgerr"
	"github.com/altairalabs/finguard/internal/pvs"
)

// PVSExecutor is the PVS surface RPE needs to run a rollback, beyond the
// read-only PVSLookup validation uses.
type PVSExecutor interface {
	PVSLookup
	LockPolicies(ctx context.Context, policyIDs []string, timeout time.Duration) (func(), error)
	GetActive(ctx context.Context, policyID string) (pvs.PolicyVersion, error)
	RestoreLocked(ctx context.Context, policyID, targetVersion, actor string) (pvs.PolicyVersion, error)
}

// CacheInvalidator is the PDP surface the CLEAR_CACHE phase needs.
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context)
}

// AuditRecorder is the subset of the audit ledger's interface RPE needs.
type AuditRecorder interface {
	Record(ctx context.Context, action, target string, details map[string]any) error
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	GraceWindow time.Duration
	LockTimeout time.Duration
	Now         func() time.Time
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.GraceWindow <= 0 {
		c.GraceWindow = 10 * time.Minute
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Service is the Rollback Planner/Executor.
type Service struct {
	pvs   PVSExecutor
	cache CacheInvalidator
	audit AuditRecorder
	cfg   ServiceConfig

	mu    chan struct{} // simple guard for the in-memory plan store
	plans map[string]Plan
}

// NewService builds a Service. cache may be nil to skip cache invalidation.
func NewService(pvsExec PVSExecutor, cache CacheInvalidator, audit AuditRecorder, cfg ServiceConfig) *Service {
	return &Service{
		pvs:   pvsExec,
		cache: cache,
		audit: audit,
		cfg:   cfg.withDefaults(),
		mu:    make(chan struct{}, 1),
		plans: map[string]Plan{},
	}
}

func (s *Service) lock()   { s.mu <- struct{}{} }
func (s *Service) unlock() { <-s.mu }

// CreatePlan proposes a rollback in DRAFT state.
func (s *Service) CreatePlan(ctx context.Context, targets []Target, scope Scope, risk string, dataLoss DataLoss, businessJustification, technicalJustification, actor string) Plan {
	p := Plan{
		ID:                     uuid.NewString(),
		Targets:                targets,
		Scope:                  scope,
		Phases:                 append([]Phase(nil), DefaultPhases...),
		Risk:                   risk,
		ApprovalRequired:       true,
		BusinessJustification:  businessJustification,
		TechnicalJustification: technicalJustification,
		DataLoss:               dataLoss,
		CreatedAt:              s.cfg.Now().UTC(),
		CreatedBy:              actor,
		Status:                 StatusDraft,
	}

	s.lock()
	s.plans[p.ID] = p
	s.unlock()

	s.auditRecord(ctx, "ROLLBACK_PLAN_CREATED", p.ID, map[string]any{"scope": scope.Policies, "actor": actor})
	return p
}

// Validate runs every validation check against planID, transitioning it to
// VALIDATED if all pass.
func (s *Service) Validate(ctx context.Context, planID string) (Plan, error) {
	p, err := s.getPlan(planID)
	if err != nil {
		return Plan{}, err
	}

	checks, checkErr := runChecks(ctx, s.pvs, p, s.cfg.GraceWindow, s.cfg.Now())
	p.Checks = checks
	if checkErr == nil {
		p.Status = StatusValidated
	}
	s.putPlan(p)

	validateResult := "SUCCESS"
	if checkErr != nil {
		validateResult = "FAILURE"
	}
	s.auditRecord(ctx, "ROLLBACK_PLAN_VALIDATED", p.ID, map[string]any{"passed": checkErr == nil, "result": validateResult})
	if checkErr != nil {
		return p, checkErr
	}
	return p, nil
}

// Approve transitions a VALIDATED plan to APPROVED.
func (s *Service) Approve(ctx context.Context, planID, approver string) (Plan, error) {
	p, err := s.getPlan(planID)
	if err != nil {
		return Plan{}, err
	}
	if p.Status != StatusValidated {
		return Plan{}, fmt.Errorf("%w: plan %s is %s, not VALIDATED", fgerr.ErrPreconditionFailed, planID, p.Status)
	}
	if approver == "" {
		return Plan{}, fmt.Errorf("%w: approve requires a reviewer", fgerr.ErrInvalidInput)
	}

	p.Status = StatusApproved
	p.ApprovedBy = approver
	s.putPlan(p)

	s.auditRecord(ctx, "ROLLBACK_PLAN_APPROVED", p.ID, map[string]any{"approver": approver})
	return p, nil
}

// Execute runs planID's phases in order. It requires the plan be APPROVED,
// per spec.md's NotApproved precondition.
func (s *Service) Execute(ctx context.Context, planID, actor string) (ExecutionResult, error) {
	p, err := s.getPlan(planID)
	if err != nil {
		return ExecutionResult{}, err
	}
	if p.Status != StatusApproved {
		return ExecutionResult{}, fmt.Errorf("%w: plan %s is %s, not APPROVED", fgerr.ErrNotApproved, planID, p.Status)
	}

	p.Status = StatusExecuting
	s.putPlan(p)

	policyIDs := make([]string, 0, len(p.Targets))
	for _, t := range p.Targets {
		policyIDs = append(policyIDs, t.PolicyID)
	}
	release, err := s.pvs.LockPolicies(ctx, policyIDs, s.cfg.LockTimeout)
	if err != nil {
		return s.fail(ctx, p, nil, "", err)
	}
	defer release()

	phases := p.Phases
	if len(phases) == 0 {
		phases = DefaultPhases
	}

	var results []PhaseResult
	for _, phase := range phases {
		if err := s.runPhase(ctx, p, phase, actor); err != nil {
			results = append(results, PhaseResult{Phase: phase, Error: err.Error()})
			return s.fail(ctx, p, results, phase, err)
		}
		results = append(results, PhaseResult{Phase: phase})
	}

	p.Status = StatusCompleted
	s.putPlan(p)
	s.auditRecord(ctx, "ROLLBACK_COMPLETED", p.ID, map[string]any{"actor": actor})
	return ExecutionResult{PlanID: p.ID, Status: StatusCompleted, Phases: results}, nil
}

func (s *Service) runPhase(ctx context.Context, p Plan, phase Phase, actor string) error {
	switch phase {
	case PhaseBackupCurrent:
		for _, t := range p.Targets {
			if _, err := s.pvs.GetActive(ctx, t.PolicyID); err != nil && err != fgerr.ErrNotFound {
				return err
			}
		}
		return nil
	case PhaseRestoreTarget:
		for _, t := range p.Targets {
			if _, err := s.pvs.RestoreLocked(ctx, t.PolicyID, t.Value, actor); err != nil {
				return err
			}
		}
		return nil
	case PhaseClearCache:
		if s.cache != nil {
			s.cache.InvalidateCache(ctx)
		}
		return nil
	case PhaseValidateState:
		for _, t := range p.Targets {
			target, err := s.pvs.GetVersion(ctx, t.PolicyID, t.Value)
			if err != nil {
				return err
			}
			active, err := s.pvs.GetActive(ctx, t.PolicyID)
			if err != nil {
				return err
			}
			// RestoreLocked creates a new version carrying the target's
			// content, rather than reactivating the target's own version
			// string, so state is validated by content hash, not version.
			if active.Hash != target.Hash {
				return fmt.Errorf("%w: policy %q active content does not match rollback target %s", fgerr.ErrIntegrity, t.PolicyID, t.Value)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown rollback phase %q", fgerr.ErrInvalidInput, phase)
	}
}

func (s *Service) fail(ctx context.Context, p Plan, results []PhaseResult, failedPhase Phase, err error) (ExecutionResult, error) {
	p.Status = StatusFailed
	s.putPlan(p)
	s.auditRecord(ctx, "ROLLBACK_FAILED", p.ID, map[string]any{"result": "FAILURE", "phase": string(failedPhase), "error": err.Error()})
	return ExecutionResult{PlanID: p.ID, Status: StatusFailed, Phases: results}, err
}

func (s *Service) getPlan(id string) (Plan, error) {
	s.lock()
	defer s.unlock()
	p, ok := s.plans[id]
	if !ok {
		return Plan{}, fgerr.ErrNotFound
	}
	return p, nil
}

func (s *Service) putPlan(p Plan) {
	s.lock()
	defer s.unlock()
	s.plans[p.ID] = p
}

func (s *Service) auditRecord(ctx context.Context, action, target string, details map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, action, target, details)
}
