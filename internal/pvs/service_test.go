package pvs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/finguard/internal/fgerr"
)

type noopAudit struct{ calls []string }

func (a *noopAudit) Record(_ context.Context, action, target string, _ map[string]any) error {
	a.calls = append(a.calls, action+":"+target)
	return nil
}

func newTestService(t *testing.T) (*Service, *noopAudit) {
	t.Helper()
	audit := &noopAudit{}
	return NewService(NewMemoryRepository(), audit, ServiceConfig{}), audit
}

func TestCreateVersionBumpsSemverByChangeType(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	v1, err := svc.CreateVersion(ctx, "policy-1", Content{}, Metadata{ChangeType: ChangeCreation}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v1.Version)
	assert.Equal(t, StatusDraft, v1.Status)

	v2, err := svc.CreateVersion(ctx, "policy-1", Content{}, Metadata{ChangeType: ChangeUpdate}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", v2.Version)

	v3, err := svc.CreateVersion(ctx, "policy-1", Content{}, Metadata{ChangeType: ChangeBreaking}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", v3.Version)
}

func TestApproveRequiresDraftAndReviewer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	v, err := svc.CreateVersion(ctx, "policy-1", Content{}, Metadata{ChangeType: ChangeCreation}, "alice")
	require.NoError(t, err)

	err = svc.Approve(ctx, "policy-1", v.Version, "")
	assert.ErrorIs(t, err, fgerr.ErrInvalidInput)

	require.NoError(t, svc.Approve(ctx, "policy-1", v.Version, "bob"))

	err = svc.Approve(ctx, "policy-1", v.Version, "bob")
	assert.ErrorIs(t, err, fgerr.ErrPreconditionFailed)
}

func TestDeployArchivesPriorActiveAtomically(t *testing.T) {
	svc, audit := newTestService(t)
	ctx := context.Background()

	v1, err := svc.CreateVersion(ctx, "policy-1", Content{}, Metadata{ChangeType: ChangeCreation}, "alice")
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, "policy-1", v1.Version, "bob"))
	require.NoError(t, svc.Deploy(ctx, "policy-1", v1.Version, "alice"))

	active, err := svc.repo.GetActive(ctx, "policy-1")
	require.NoError(t, err)
	assert.Equal(t, v1.Version, active.Version)

	v2, err := svc.CreateVersion(ctx, "policy-1", Content{}, Metadata{ChangeType: ChangeUpdate}, "alice")
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, "policy-1", v2.Version, "bob"))
	require.NoError(t, svc.Deploy(ctx, "policy-1", v2.Version, "alice"))

	archived, err := svc.repo.Get(ctx, "policy-1", v1.Version)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, archived.Status)

	active, err = svc.repo.GetActive(ctx, "policy-1")
	require.NoError(t, err)
	assert.Equal(t, v2.Version, active.Version)

	assert.Contains(t, audit.calls, "POLICY_VERSION_DEPLOYED:policy-1")
}

func TestRestoreDeploysRollbackTargetAtomically(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	v1, err := svc.CreateVersion(ctx, "policy-1", Content{Rules: map[string]string{"r1": "true"}},
		Metadata{ChangeType: ChangeCreation}, "alice")
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, "policy-1", v1.Version, "bob"))
	require.NoError(t, svc.Deploy(ctx, "policy-1", v1.Version, "alice"))

	v2, err := svc.CreateVersion(ctx, "policy-1", Content{Rules: map[string]string{"r1": "false"}},
		Metadata{ChangeType: ChangeUpdate}, "alice")
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, "policy-1", v2.Version, "bob"))
	require.NoError(t, svc.Deploy(ctx, "policy-1", v2.Version, "alice"))

	restored, err := svc.Restore(ctx, "policy-1", v1.Version, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, restored.Status)
	assert.Equal(t, v1.Content.Rules["r1"], restored.Content.Rules["r1"])

	archived, err := svc.repo.Get(ctx, "policy-1", v2.Version)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, archived.Status)
}

func TestDiffClassifiesComplexity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	v1, err := svc.CreateVersion(ctx, "policy-1",
		Content{Rules: map[string]string{"r1": "true", "r2": "true"}, Config: Config{Enforcement: EnforcementWarning}},
		Metadata{ChangeType: ChangeCreation}, "alice")
	require.NoError(t, err)

	v2, err := svc.CreateVersion(ctx, "policy-1",
		Content{Rules: map[string]string{"r1": "true"}, Config: Config{Enforcement: EnforcementBlocking}},
		Metadata{ChangeType: ChangeBreaking}, "alice")
	require.NoError(t, err)

	diff, err := svc.Diff(ctx, "policy-1", v1.Version, v2.Version)
	require.NoError(t, err)
	assert.Contains(t, diff.RemovedRules, "r2")
	assert.True(t, diff.EnforcementChanged)
	assert.Equal(t, ComplexityBreaking, diff.Complexity)
}

func TestListActiveForOperationOrdersByPriorityThenPolicyID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, p := range []struct {
		id       string
		priority int
	}{{"policy-b", 5}, {"policy-a", 5}, {"policy-c", 10}} {
		v, err := svc.CreateVersion(ctx, p.id, Content{Config: Config{Priority: p.priority}}, Metadata{ChangeType: ChangeCreation}, "alice")
		require.NoError(t, err)
		require.NoError(t, svc.Approve(ctx, p.id, v.Version, "bob"))
		require.NoError(t, svc.Deploy(ctx, p.id, v.Version, "alice"))
	}

	active, err := svc.ListActiveForOperation(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "policy-c", active[0].PolicyID)
	assert.Equal(t, "policy-a", active[1].PolicyID)
	assert.Equal(t, "policy-b", active[2].PolicyID)
}
