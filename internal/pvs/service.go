package pvs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/altairalabs/finguard/internal/fgerr"
)

// AuditRecorder is the subset of the audit ledger's interface PVS needs:
// every lifecycle transition is audited.
type AuditRecorder interface {
	Record(ctx context.Context, action, target string, details map[string]any) error
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	LockTimeout time.Duration
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.LockTimeout <= 0 {
		c.LockTimeout = 5 * time.Second
	}
	return c
}

// Service is the Policy Version Store: the exclusive owner of PolicyVersion
// lifecycle transitions.
type Service struct {
	repo  PolicyRepository
	audit AuditRecorder
	locks *policyLocker
	cfg   ServiceConfig
}

// NewService builds a Service backed by repo.
func NewService(repo PolicyRepository, audit AuditRecorder, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, locks: newPolicyLocker(), cfg: cfg.withDefaults()}
}

// LockPolicies acquires one advisory lock per policyID, in canonical
// (sorted) order, used by APS to hold every lock a multi-policy transaction
// touches before delegating each operation to the *Locked methods below.
func (s *Service) LockPolicies(ctx context.Context, policyIDs []string, timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = s.cfg.LockTimeout
	}
	return s.locks.acquireMany(ctx, policyIDs, timeout)
}

// CreateVersion creates a new DRAFT version for policyID.
func (s *Service) CreateVersion(ctx context.Context, policyID string, content Content, meta Metadata, actor string) (PolicyVersion, error) {
	release, err := s.locks.acquire(ctx, policyID, s.cfg.LockTimeout)
	if err != nil {
		return PolicyVersion{}, err
	}
	defer release()
	return s.CreateVersionLocked(ctx, policyID, content, meta, actor)
}

// CreateVersionLocked performs CreateVersion's work without acquiring
// policyID's lock, for callers (APS) that already hold it via LockPolicies.
func (s *Service) CreateVersionLocked(ctx context.Context, policyID string, content Content, meta Metadata, actor string) (PolicyVersion, error) {
	latest, err := s.repo.GetLatest(ctx, policyID)
	latestVersion := ""
	if err == nil {
		latestVersion = latest.Version
	} else if err != fgerr.ErrNotFound {
		return PolicyVersion{}, err
	}

	version, err := nextSemver(latestVersion, meta.ChangeType)
	if err != nil {
		return PolicyVersion{}, err
	}

	v := PolicyVersion{
		ID:            uuid.NewString(),
		PolicyID:      policyID,
		Version:       version,
		Hash:          canonicalContentHash(content),
		Content:       content,
		Metadata:      meta,
		ParentVersion: latestVersion,
		CreatedAt:     time.Now().UTC(),
		CreatedBy:     actor,
		Status:        StatusDraft,
	}
	if err := s.repo.Insert(ctx, v); err != nil {
		return PolicyVersion{}, err
	}

	s.auditRecord(ctx, "POLICY_VERSION_CREATED", policyID, map[string]any{"version": version, "actor": actor})
	return v, nil
}

// Approve transitions policyID's DRAFT version to APPROVED.
func (s *Service) Approve(ctx context.Context, policyID, version, approver string) error {
	v, err := s.repo.Get(ctx, policyID, version)
	if err != nil {
		return err
	}
	if v.Status != StatusDraft {
		return fmt.Errorf("%w: version %s is %s, not DRAFT", fgerr.ErrPreconditionFailed, version, v.Status)
	}
	if approver == "" {
		return fmt.Errorf("%w: approve requires a reviewer", fgerr.ErrInvalidInput)
	}

	if err := s.repo.UpdateStatus(ctx, policyID, version, StatusApproved, approver); err != nil {
		return err
	}
	s.auditRecord(ctx, "POLICY_VERSION_APPROVED", policyID, map[string]any{"version": version, "approver": approver})
	return nil
}

// Deploy atomically transitions policyID's current ACTIVE version (if any)
// to ARCHIVED and the named APPROVED version to ACTIVE.
func (s *Service) Deploy(ctx context.Context, policyID, version, actor string) error {
	release, err := s.locks.acquire(ctx, policyID, s.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer release()
	return s.DeployLocked(ctx, policyID, version, actor)
}

// DeployLocked performs Deploy's work without acquiring policyID's lock.
func (s *Service) DeployLocked(ctx context.Context, policyID, version, actor string) error {
	v, err := s.repo.Get(ctx, policyID, version)
	if err != nil {
		return err
	}
	if v.Status != StatusApproved {
		return fmt.Errorf("%w: version %s is %s, not APPROVED", fgerr.ErrPreconditionFailed, version, v.Status)
	}

	if current, err := s.repo.GetActive(ctx, policyID); err == nil {
		if err := s.repo.UpdateStatus(ctx, policyID, current.Version, StatusArchived, ""); err != nil {
			return err
		}
		s.auditRecord(ctx, "POLICY_VERSION_ARCHIVED", policyID, map[string]any{"version": current.Version, "actor": actor})
	} else if err != fgerr.ErrNotFound {
		return err
	}

	if err := s.repo.UpdateStatus(ctx, policyID, version, StatusActive, ""); err != nil {
		return err
	}
	s.auditRecord(ctx, "POLICY_VERSION_DEPLOYED", policyID, map[string]any{"version": version, "actor": actor})
	return nil
}

// Archive transitions a non-ACTIVE version to ARCHIVED.
func (s *Service) Archive(ctx context.Context, policyID, version, actor string) error {
	release, err := s.locks.acquire(ctx, policyID, s.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer release()
	return s.ArchiveLocked(ctx, policyID, version, actor)
}

// ArchiveLocked performs Archive's work without acquiring policyID's lock.
func (s *Service) ArchiveLocked(ctx context.Context, policyID, version, actor string) error {
	v, err := s.repo.Get(ctx, policyID, version)
	if err != nil {
		return err
	}
	if v.Status == StatusActive {
		return fmt.Errorf("%w: cannot archive the ACTIVE version directly, deploy a replacement first", fgerr.ErrPreconditionFailed)
	}

	if err := s.repo.UpdateStatus(ctx, policyID, version, StatusArchived, ""); err != nil {
		return err
	}
	s.auditRecord(ctx, "POLICY_VERSION_ARCHIVED", policyID, map[string]any{"version": version, "actor": actor})
	return nil
}

// ArchiveActiveLocked archives policyID's current ACTIVE version, if any,
// performing no action (and returning no error) when none is active. It
// backs APS's "delete" operation kind: turning a policy off without
// deploying a replacement.
func (s *Service) ArchiveActiveLocked(ctx context.Context, policyID, actor string) error {
	current, err := s.repo.GetActive(ctx, policyID)
	if err != nil {
		if err == fgerr.ErrNotFound {
			return nil
		}
		return err
	}
	if err := s.repo.UpdateStatus(ctx, policyID, current.Version, StatusArchived, ""); err != nil {
		return err
	}
	s.auditRecord(ctx, "POLICY_VERSION_ARCHIVED", policyID, map[string]any{"version": current.Version, "actor": actor})
	return nil
}

// Restore creates a new version whose content equals targetVersion's
// content, marks it ROLLBACK_TARGET, and deploys it atomically.
func (s *Service) Restore(ctx context.Context, policyID, targetVersion, actor string) (PolicyVersion, error) {
	release, err := s.locks.acquire(ctx, policyID, s.cfg.LockTimeout)
	if err != nil {
		return PolicyVersion{}, err
	}
	defer release()
	return s.RestoreLocked(ctx, policyID, targetVersion, actor)
}

// RestoreLocked performs Restore's work without acquiring policyID's lock.
func (s *Service) RestoreLocked(ctx context.Context, policyID, targetVersion, actor string) (PolicyVersion, error) {
	target, err := s.repo.Get(ctx, policyID, targetVersion)
	if err != nil {
		return PolicyVersion{}, err
	}

	latest, err := s.repo.GetLatest(ctx, policyID)
	latestVersion := ""
	if err == nil {
		latestVersion = latest.Version
	} else if err != fgerr.ErrNotFound {
		return PolicyVersion{}, err
	}

	version, err := nextSemver(latestVersion, ChangeUpdate)
	if err != nil {
		return PolicyVersion{}, err
	}

	v := PolicyVersion{
		ID:            uuid.NewString(),
		PolicyID:      policyID,
		Version:       version,
		Hash:          target.Hash,
		Content:       target.Content,
		Metadata:      target.Metadata,
		ParentVersion: latestVersion,
		CreatedAt:     time.Now().UTC(),
		CreatedBy:     actor,
		Status:        StatusRollbackTarget,
	}
	if err := s.repo.Insert(ctx, v); err != nil {
		return PolicyVersion{}, err
	}

	if current, err := s.repo.GetActive(ctx, policyID); err == nil {
		if err := s.repo.UpdateStatus(ctx, policyID, current.Version, StatusArchived, ""); err != nil {
			return PolicyVersion{}, err
		}
	} else if err != fgerr.ErrNotFound {
		return PolicyVersion{}, err
	}
	if err := s.repo.UpdateStatus(ctx, policyID, version, StatusActive, ""); err != nil {
		return PolicyVersion{}, err
	}

	s.auditRecord(ctx, "POLICY_VERSION_RESTORED", policyID, map[string]any{
		"version": version, "restoredFrom": targetVersion, "actor": actor,
	})
	v.Status = StatusActive
	return v, nil
}

// GetLatest returns policyID's most recently created version.
func (s *Service) GetLatest(ctx context.Context, policyID string) (PolicyVersion, error) {
	return s.repo.GetLatest(ctx, policyID)
}

// GetVersion returns a specific version of policyID.
func (s *Service) GetVersion(ctx context.Context, policyID, version string) (PolicyVersion, error) {
	return s.repo.Get(ctx, policyID, version)
}

// GetActive returns policyID's current ACTIVE version, if any.
func (s *Service) GetActive(ctx context.Context, policyID string) (PolicyVersion, error) {
	return s.repo.GetActive(ctx, policyID)
}

// SetStatusLocked forcibly sets a version's status, bypassing the usual
// lifecycle preconditions. It exists only for APS's compensating rollback,
// to undo a mutation already committed earlier in a transaction that a
// later operation caused to fail. Callers must already hold policyID's lock.
func (s *Service) SetStatusLocked(ctx context.Context, policyID, version string, status Status) error {
	return s.repo.UpdateStatus(ctx, policyID, version, status, "")
}

// ListVersions returns every version of policyID, oldest first.
func (s *Service) ListVersions(ctx context.Context, policyID string) ([]PolicyVersion, error) {
	return s.repo.ListVersions(ctx, policyID)
}

// Diff compares two versions of policyID.
func (s *Service) Diff(ctx context.Context, policyID, v1, v2 string) (Diff, error) {
	from, err := s.repo.Get(ctx, policyID, v1)
	if err != nil {
		return Diff{}, err
	}
	to, err := s.repo.Get(ctx, policyID, v2)
	if err != nil {
		return Diff{}, err
	}
	return computeDiff(from, to), nil
}

// ListActiveForOperation returns every ACTIVE version applicable to
// operation, used by the PDP to load the active policy set.
func (s *Service) ListActiveForOperation(ctx context.Context, operation string, policyIDs []string) ([]PolicyVersion, error) {
	return s.repo.ListActiveForOperation(ctx, operation, policyIDs)
}

// ListAllActive returns every ACTIVE version across every policyId, used by
// APS to build its dependency DAG against the existing active set.
func (s *Service) ListAllActive(ctx context.Context) ([]PolicyVersion, error) {
	return s.repo.ListAllActive(ctx)
}

func (s *Service) auditRecord(ctx context.Context, action, target string, details map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, action, target, details)
}
