package pvs

import (
	"context"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/altairalabs/finguard/internal/fgerr"
)

// dbPool abstracts the database operations PVS needs, mirroring
// internal/audit's dbPool so both packages can share a single
// *pgxpool.Pool in production while substituting fakes in tests.
type dbPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PolicyRepository is the storage abstraction PVS operates over.
type PolicyRepository interface {
	Insert(ctx context.Context, v PolicyVersion) error
	Get(ctx context.Context, policyID, version string) (PolicyVersion, error)
	GetActive(ctx context.Context, policyID string) (PolicyVersion, error)
	GetLatest(ctx context.Context, policyID string) (PolicyVersion, error)
	ListVersions(ctx context.Context, policyID string) ([]PolicyVersion, error)
	// ListActiveForOperation returns every ACTIVE version whose scope
	// matches operation (or carries no scope), across all policyIds.
	ListActiveForOperation(ctx context.Context, operation string, policyIDs []string) ([]PolicyVersion, error)
	// ListAllActive returns every ACTIVE version regardless of scope, used
	// by APS to build the dependency DAG against the full active set.
	ListAllActive(ctx context.Context) ([]PolicyVersion, error)
	UpdateStatus(ctx context.Context, policyID, version string, status Status, approvedBy string) error
}

// memoryRepository is an in-memory PolicyRepository used by tests;
// cmd/finguard-core always uses the Postgres repository.
type memoryRepository struct {
	mu       sync.RWMutex
	versions map[string][]PolicyVersion // keyed by policyId, ordered by insertion
}

// NewMemoryRepository builds an in-memory PolicyRepository.
func NewMemoryRepository() PolicyRepository {
	return &memoryRepository{versions: map[string][]PolicyVersion{}}
}

func (r *memoryRepository) Insert(_ context.Context, v PolicyVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[v.PolicyID] = append(r.versions[v.PolicyID], v)
	return nil
}

func (r *memoryRepository) Get(_ context.Context, policyID, version string) (PolicyVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.versions[policyID] {
		if v.Version == version {
			return v, nil
		}
	}
	return PolicyVersion{}, fgerr.ErrNotFound
}

func (r *memoryRepository) GetActive(_ context.Context, policyID string) (PolicyVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.versions[policyID] {
		if v.Status == StatusActive {
			return v, nil
		}
	}
	return PolicyVersion{}, fgerr.ErrNotFound
}

// GetLatest returns the most recently inserted version. Versions are
// appended in insertion order, so the last element is latest regardless of
// CreatedAt clock resolution.
func (r *memoryRepository) GetLatest(_ context.Context, policyID string) (PolicyVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.versions[policyID]
	if len(versions) == 0 {
		return PolicyVersion{}, fgerr.ErrNotFound
	}
	return versions[len(versions)-1], nil
}

func (r *memoryRepository) ListVersions(_ context.Context, policyID string) ([]PolicyVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]PolicyVersion(nil), r.versions[policyID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) ListActiveForOperation(_ context.Context, operation string, policyIDs []string) ([]PolicyVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := map[string]bool{}
	for _, id := range policyIDs {
		want[id] = true
	}

	var out []PolicyVersion
	for policyID, versions := range r.versions {
		if len(policyIDs) > 0 && !want[policyID] {
			continue
		}
		for _, v := range versions {
			if v.Status == StatusActive && v.matchesOperation(operation) {
				out = append(out, v)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Content.Config.Priority != out[j].Content.Config.Priority {
			return out[i].Content.Config.Priority > out[j].Content.Config.Priority
		}
		return out[i].PolicyID < out[j].PolicyID
	})
	return out, nil
}

func (r *memoryRepository) ListAllActive(_ context.Context) ([]PolicyVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []PolicyVersion
	for _, versions := range r.versions {
		for _, v := range versions {
			if v.Status == StatusActive {
				out = append(out, v)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyID < out[j].PolicyID })
	return out, nil
}

func (r *memoryRepository) UpdateStatus(_ context.Context, policyID, version string, status Status, approvedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.versions[policyID]
	for i, v := range versions {
		if v.Version == version {
			versions[i].Status = status
			if approvedBy != "" {
				versions[i].Metadata.ApprovedBy = approvedBy
			}
			return nil
		}
	}
	return fgerr.ErrNotFound
}

// postgresRepository is the production PolicyRepository backed by Postgres
// through the shared dbPool abstraction.
type postgresRepository struct {
	pool dbPool
}

// NewPostgresRepository wraps pool as a PolicyRepository.
func NewPostgresRepository(pool dbPool) PolicyRepository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) Insert(ctx context.Context, v PolicyVersion) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO policy_versions
			(id, policy_id, version, hash, status, parent_version, created_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		v.ID, v.PolicyID, v.Version, v.Hash, string(v.Status), v.ParentVersion, v.CreatedAt, v.CreatedBy)
	return err
}

func (r *postgresRepository) Get(ctx context.Context, policyID, version string) (PolicyVersion, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, policy_id, version, hash, status, parent_version, created_at, created_by
		FROM policy_versions WHERE policy_id = $1 AND version = $2`, policyID, version)
	return scanPolicyVersion(row)
}

func (r *postgresRepository) GetActive(ctx context.Context, policyID string) (PolicyVersion, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, policy_id, version, hash, status, parent_version, created_at, created_by
		FROM policy_versions WHERE policy_id = $1 AND status = 'ACTIVE'`, policyID)
	return scanPolicyVersion(row)
}

func (r *postgresRepository) GetLatest(ctx context.Context, policyID string) (PolicyVersion, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, policy_id, version, hash, status, parent_version, created_at, created_by
		FROM policy_versions WHERE policy_id = $1 ORDER BY created_at DESC LIMIT 1`, policyID)
	return scanPolicyVersion(row)
}

func (r *postgresRepository) ListVersions(ctx context.Context, policyID string) ([]PolicyVersion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, policy_id, version, hash, status, parent_version, created_at, created_by
		FROM policy_versions WHERE policy_id = $1 ORDER BY created_at ASC`, policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicyVersions(rows)
}

func (r *postgresRepository) ListActiveForOperation(ctx context.Context, operation string, policyIDs []string) ([]PolicyVersion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, policy_id, version, hash, status, parent_version, created_at, created_by
		FROM policy_versions
		WHERE status = 'ACTIVE' AND (cardinality($1::text[]) = 0 OR policy_id = ANY($1))
		ORDER BY policy_id ASC`, policyIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicyVersions(rows)
}

func (r *postgresRepository) ListAllActive(ctx context.Context) ([]PolicyVersion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, policy_id, version, hash, status, parent_version, created_at, created_by
		FROM policy_versions WHERE status = 'ACTIVE' ORDER BY policy_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicyVersions(rows)
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, policyID, version string, status Status, approvedBy string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE policy_versions SET status = $1, approved_by = COALESCE(NULLIF($2, ''), approved_by)
		WHERE policy_id = $3 AND version = $4`, string(status), approvedBy, policyID, version)
	return err
}

func scanPolicyVersion(row pgx.Row) (PolicyVersion, error) {
	var v PolicyVersion
	var status string
	if err := row.Scan(&v.ID, &v.PolicyID, &v.Version, &v.Hash, &status, &v.ParentVersion, &v.CreatedAt, &v.CreatedBy); err != nil {
		if err == pgx.ErrNoRows {
			return PolicyVersion{}, fgerr.ErrNotFound
		}
		return PolicyVersion{}, err
	}
	v.Status = Status(status)
	return v, nil
}

func scanPolicyVersions(rows pgx.Rows) ([]PolicyVersion, error) {
	var out []PolicyVersion
	for rows.Next() {
		var v PolicyVersion
		var status string
		if err := rows.Scan(&v.ID, &v.PolicyID, &v.Version, &v.Hash, &status, &v.ParentVersion, &v.CreatedAt, &v.CreatedBy); err != nil {
			return nil, err
		}
		v.Status = Status(status)
		out = append(out, v)
	}
	return out, rows.Err()
}
