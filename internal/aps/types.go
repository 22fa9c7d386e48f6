// Package aps implements the Atomic Policy Set: a commit-or-rollback unit
// executing N heterogeneous operations (create/update/restore/delete)
// against the Policy Version Store.
package aps

import (
	"time"

	"github.com/altairalabs/finguard/internal/pvs"
)

// OperationKind is one APS operation's effect on a policyId.
type OperationKind string

const (
	// OpCreate inserts a new policy and deploys it immediately: APS treats
	// the active policy set, not a draft backlog, as the unit of atomicity.
	OpCreate OperationKind = "create"
	// OpUpdate creates a new version for an existing policy and deploys it,
	// replacing the currently active version.
	OpUpdate OperationKind = "update"
	// OpRestore redeploys a prior version of an existing policy.
	OpRestore OperationKind = "restore"
	// OpDelete archives a policy's active version without a replacement.
	OpDelete OperationKind = "delete"
)

// Operation is one step of a Transaction.
type Operation struct {
	Kind     OperationKind
	PolicyID string

	// Content and Metadata are required for OpCreate and OpUpdate.
	Content  pvs.Content
	Metadata pvs.Metadata

	// TargetVersion is required for OpRestore: the version to redeploy.
	TargetVersion string
}

// State is a Transaction's lifecycle state.
type State string

const (
	StatePreparing State = "preparing"
	StateValidating State = "validating"
	StateExecuting  State = "executing"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
	StateFailed     State = "failed"
)

// Transaction is one atomic set of policy operations.
type Transaction struct {
	ID         string
	Operations []Operation
	DryRun     bool
	UserID     string
	Actor      string
	CreatedAt  time.Time
	State      State
}

// OpResult is one operation's outcome within a transaction.
type OpResult struct {
	PolicyID string
	Kind     OperationKind
	Version  string // the version produced or affected, when applicable
	Error    string // non-empty on failure
}

// Result is a Transaction's final, observable outcome.
type Result struct {
	TransactionID string
	State         State
	Completed     []OpResult
	Failed        []OpResult
}
