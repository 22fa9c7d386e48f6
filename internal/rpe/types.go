// Package rpe implements the Rollback Planner/Executor: proposes, validates,
// approves, and executes a multi-policy restoration to a prior
// PolicyVersion, invalidating PDP's decision cache once the restore lands.
package rpe

import "time"

// Target names, for one policyId in a plan's scope, the version to restore.
type Target struct {
	PolicyID string
	Value    string // the PolicyVersion to roll back to
}

// TimeWindow bounds when a plan may pass validation: the time_window check
// compares the validation time against it. Execute does not check it again.
type TimeWindow struct {
	Start    string // "15:04" local to Timezone
	End      string
	Timezone string // IANA zone name, e.g. "Australia/Sydney"
}

// Scope names which policies a plan touches and, optionally, the window
// during which it may be validated.
type Scope struct {
	Policies   []string
	TimeWindow *TimeWindow
}

// DataLossRisk classifies how much a rollback's data-model change could
// discard in-flight state.
type DataLossRisk string

const (
	DataLossNone        DataLossRisk = "none"
	DataLossMinimal     DataLossRisk = "minimal"
	DataLossSignificant DataLossRisk = "significant"
)

// DataLoss records a plan's assessed data-loss risk and whether it has
// explicit sign-off despite that risk.
type DataLoss struct {
	Risk     DataLossRisk
	Approved bool
}

// Phase is one step of rollback execution, run strictly in this order.
type Phase string

const (
	PhaseBackupCurrent Phase = "BACKUP_CURRENT"
	PhaseRestoreTarget Phase = "RESTORE_TARGET"
	PhaseClearCache    Phase = "CLEAR_CACHE"
	PhaseValidateState Phase = "VALIDATE_STATE"
)

// DefaultPhases is the canonical phase order used when a Plan does not
// override it.
var DefaultPhases = []Phase{PhaseBackupCurrent, PhaseRestoreTarget, PhaseClearCache, PhaseValidateState}

// Status is a Plan's lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusValidated Status = "VALIDATED"
	StatusApproved  Status = "APPROVED"
	StatusExecuting Status = "EXECUTING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// CheckResult is one validation check's outcome.
type CheckResult struct {
	Name   string
	Passed bool
	Reason string
}

// Plan is a proposed multi-policy rollback.
type Plan struct {
	ID                     string
	Targets                []Target
	Scope                  Scope
	Phases                 []Phase
	Risk                   string
	ApprovalRequired       bool
	MaintenanceWindow      *TimeWindow
	BusinessJustification  string
	TechnicalJustification string
	DataLoss               DataLoss

	CreatedAt  time.Time
	CreatedBy  string
	Status     Status
	Checks     []CheckResult
	ApprovedBy string
}

// targetFor returns the Target for policyID, if any.
func (p Plan) targetFor(policyID string) (Target, bool) {
	for _, t := range p.Targets {
		if t.PolicyID == policyID {
			return t, true
		}
	}
	return Target{}, false
}

// PhaseResult records one phase's outcome during execution.
type PhaseResult struct {
	Phase Phase
	Error string
}

// ExecutionResult is the outcome of running a Plan's phases.
type ExecutionResult struct {
	PlanID  string
	Status  Status
	Phases  []PhaseResult
}
