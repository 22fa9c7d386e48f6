// Package pvs implements the Policy Version Store: the exclusive owner of
// PolicyVersion lifecycle (create/approve/deploy/archive/restore) and the
// only component permitted to mutate a PolicyVersion's status.
package pvs

import "time"

// Enforcement is a policy's enforcement strength.
type Enforcement string

const (
	EnforcementBlocking Enforcement = "BLOCKING"
	EnforcementWarning  Enforcement = "WARNING"
	EnforcementAdvisory Enforcement = "ADVISORY"
)

// Status is a PolicyVersion's lifecycle state.
type Status string

const (
	StatusDraft          Status = "DRAFT"
	StatusApproved       Status = "APPROVED"
	StatusActive         Status = "ACTIVE"
	StatusRollbackTarget Status = "ROLLBACK_TARGET"
	StatusArchived       Status = "ARCHIVED"
)

// ChangeType drives the semver bump a new version receives.
type ChangeType string

const (
	ChangeCreation ChangeType = "CREATION"
	ChangeUpdate   ChangeType = "UPDATE"
	ChangeBreaking ChangeType = "BREAKING"
)

// Config is the enforcement-relevant part of a policy's content.
type Config struct {
	Enforcement          Enforcement
	Scope                string
	Priority              int
	Jurisdictions        []string
	ComplianceFrameworks []string
}

// Content is a PolicyVersion's rule body. Rules is a map of CEL rule name to
// CEL expression source, matching the teacher's per-rule compilation unit.
type Content struct {
	Rules       map[string]string
	Data        map[string]any
	Config      Config
	Dependencies []string
	Constraints  []string
}

// Metadata is descriptive, non-semantic information about a version.
type Metadata struct {
	Title        string
	Description  string
	Category     string
	Severity     string
	Impact       string
	ChangeType   ChangeType
	ReleaseNotes string
	Reviewers    []string
	ApprovedBy   string
}

// PolicyVersion is one immutable snapshot of a policyId's content, subject
// to PVS-managed status transitions.
type PolicyVersion struct {
	ID            string
	PolicyID      string
	Version       string
	Hash          string
	Content       Content
	Metadata      Metadata
	ParentVersion string
	Tags          []string
	CreatedAt     time.Time
	CreatedBy     string
	Status        Status
}

// matchesOperation reports whether a version's scope applies to operation.
// An empty scope matches every operation.
func (v PolicyVersion) matchesOperation(operation string) bool {
	return v.Content.Config.Scope == "" || v.Content.Config.Scope == operation
}
