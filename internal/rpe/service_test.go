package rpe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/finguard/internal/fgerr"
	"github.com/altairalabs/finguard/internal/pvs"
)

type recordingAudit struct{ records []map[string]any }

func (a *recordingAudit) Record(_ context.Context, action, target string, details map[string]any) error {
	rec := map[string]any{"action": action, "target": target}
	for k, v := range details {
		rec[k] = v
	}
	a.records = append(a.records, rec)
	return nil
}

func (a *recordingAudit) actions() []string {
	out := make([]string, len(a.records))
	for i, r := range a.records {
		out[i] = r["action"].(string)
	}
	return out
}

type fakeCache struct{ invalidated int }

func (c *fakeCache) InvalidateCache(_ context.Context) { c.invalidated++ }

func seedPolicy(t *testing.T, svc *pvs.Service, policyID string) (v1, v2 pvs.PolicyVersion) {
	t.Helper()
	ctx := context.Background()

	v1, err := svc.CreateVersion(ctx, policyID, pvs.Content{Rules: map[string]string{"allow": "true"}}, pvs.Metadata{ChangeType: pvs.ChangeCreation}, "operator")
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, policyID, v1.Version, "reviewer"))
	require.NoError(t, svc.Deploy(ctx, policyID, v1.Version, "operator"))

	v2, err = svc.CreateVersion(ctx, policyID, pvs.Content{Rules: map[string]string{"allow": "financial.amount < 500"}}, pvs.Metadata{ChangeType: pvs.ChangeUpdate}, "operator")
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, policyID, v2.Version, "reviewer"))
	require.NoError(t, svc.Deploy(ctx, policyID, v2.Version, "operator"))
	return v1, v2
}

func newTestService(t *testing.T, now time.Time) (*Service, *pvs.Service, *fakeCache, *recordingAudit) {
	t.Helper()
	repo := pvs.NewMemoryRepository()
	pvsSvc := pvs.NewService(repo, nil, pvs.ServiceConfig{})
	cache := &fakeCache{}
	audit := &recordingAudit{}
	svc := NewService(pvsSvc, cache, audit, ServiceConfig{GraceWindow: time.Hour, Now: func() time.Time { return now }})
	return svc, pvsSvc, cache, audit
}

func TestFullLifecycleRollsBackToPriorVersion(t *testing.T) {
	now := time.Now().UTC().Add(2 * time.Hour)
	svc, pvsSvc, cache, audit := newTestService(t, now)
	ctx := context.Background()

	v1, _ := seedPolicy(t, pvsSvc, "policy-a")

	plan := svc.CreatePlan(ctx, []Target{{PolicyID: "policy-a", Value: v1.Version}},
		Scope{Policies: []string{"policy-a"}}, "low", DataLoss{Risk: DataLossNone}, "revert bad rule", "restore v1", "operator")
	assert.Equal(t, StatusDraft, plan.Status)

	validated, err := svc.Validate(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, validated.Status)

	approved, err := svc.Approve(ctx, plan.ID, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)

	result, err := svc.Execute(ctx, plan.ID, "operator")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Len(t, result.Phases, 4)
	assert.Equal(t, 1, cache.invalidated)

	// RestoreLocked creates a new version carrying v1's content rather than
	// reactivating v1's own version string, so assert on content, not version.
	active, err := pvsSvc.GetActive(ctx, "policy-a")
	require.NoError(t, err)
	assert.Equal(t, v1.Hash, active.Hash)
	assert.NotEqual(t, v1.Version, active.Version)

	assert.Contains(t, audit.actions(), "ROLLBACK_COMPLETED")
}

func TestExecuteRequiresApproval(t *testing.T) {
	now := time.Now().UTC().Add(2 * time.Hour)
	svc, pvsSvc, _, _ := newTestService(t, now)
	ctx := context.Background()

	v1, _ := seedPolicy(t, pvsSvc, "policy-a")
	plan := svc.CreatePlan(ctx, []Target{{PolicyID: "policy-a", Value: v1.Version}},
		Scope{Policies: []string{"policy-a"}}, "low", DataLoss{Risk: DataLossNone}, "", "", "operator")

	_, err := svc.Execute(ctx, plan.ID, "operator")
	assert.ErrorIs(t, err, fgerr.ErrNotApproved)
}

func TestValidateFailsOnUnknownTargetVersion(t *testing.T) {
	now := time.Now().UTC().Add(2 * time.Hour)
	svc, pvsSvc, _, _ := newTestService(t, now)
	ctx := context.Background()

	seedPolicy(t, pvsSvc, "policy-a")
	plan := svc.CreatePlan(ctx, []Target{{PolicyID: "policy-a", Value: "9.9.9"}},
		Scope{Policies: []string{"policy-a"}}, "low", DataLoss{Risk: DataLossNone}, "", "", "operator")

	_, err := svc.Validate(ctx, plan.ID)
	assert.Error(t, err)
}

func TestValidateFailsOnUnapprovedDataLossRisk(t *testing.T) {
	now := time.Now().UTC().Add(2 * time.Hour)
	svc, pvsSvc, _, _ := newTestService(t, now)
	ctx := context.Background()

	v1, _ := seedPolicy(t, pvsSvc, "policy-a")
	plan := svc.CreatePlan(ctx, []Target{{PolicyID: "policy-a", Value: v1.Version}},
		Scope{Policies: []string{"policy-a"}}, "high", DataLoss{Risk: DataLossSignificant}, "", "", "operator")

	_, err := svc.Validate(ctx, plan.ID)
	assert.Error(t, err)
}

func TestValidatePassesOnApprovedDataLossRisk(t *testing.T) {
	now := time.Now().UTC().Add(2 * time.Hour)
	svc, pvsSvc, _, _ := newTestService(t, now)
	ctx := context.Background()

	v1, _ := seedPolicy(t, pvsSvc, "policy-a")
	plan := svc.CreatePlan(ctx, []Target{{PolicyID: "policy-a", Value: v1.Version}},
		Scope{Policies: []string{"policy-a"}}, "high", DataLoss{Risk: DataLossSignificant, Approved: true}, "", "", "operator")

	validated, err := svc.Validate(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, validated.Status)
}

func TestValidateFailsOnConcurrentModificationWithinGraceWindow(t *testing.T) {
	now := time.Now().UTC()
	svc, pvsSvc, _, _ := newTestService(t, now)
	ctx := context.Background()

	v1, v2 := seedPolicy(t, pvsSvc, "policy-a")
	_ = v2

	// v2 was deployed "now" (within the 1h grace window looking back from
	// plan.createdAt), so rolling back to v1 must be flagged as contested.
	plan := svc.CreatePlan(ctx, []Target{{PolicyID: "policy-a", Value: v1.Version}},
		Scope{Policies: []string{"policy-a"}}, "low", DataLoss{Risk: DataLossNone}, "", "", "operator")

	_, err := svc.Validate(ctx, plan.ID)
	assert.Error(t, err)
}

func TestValidateFailsOutsideTimeWindow(t *testing.T) {
	// Plan creation time is pushed 2h into the future so the concurrent-
	// modification check (which compares against it) passes regardless of
	// real wall-clock test timing; the window is then derived from that same
	// "now" so it deterministically excludes it, isolating the time_window
	// check under test.
	now := time.Now().UTC().Add(2 * time.Hour)
	window := TimeWindow{
		Start:    now.Add(1 * time.Hour).Format("15:04"),
		End:      now.Add(2 * time.Hour).Format("15:04"),
		Timezone: "UTC",
	}
	svc, pvsSvc, _, _ := newTestService(t, now)
	ctx := context.Background()

	v1, _ := seedPolicy(t, pvsSvc, "policy-a")
	plan := svc.CreatePlan(ctx, []Target{{PolicyID: "policy-a", Value: v1.Version}},
		Scope{Policies: []string{"policy-a"}, TimeWindow: &window},
		"low", DataLoss{Risk: DataLossNone}, "", "", "operator")

	_, err := svc.Validate(ctx, plan.ID)
	assert.Error(t, err)
}
