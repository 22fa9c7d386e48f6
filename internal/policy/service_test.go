package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/finguard/internal/pvs"
)

type fakeProvider struct {
	versions []pvs.PolicyVersion
}

func (p *fakeProvider) ListActiveForOperation(_ context.Context, _ string, _ []string) ([]pvs.PolicyVersion, error) {
	return p.versions, nil
}

type recordingAudit struct{ records []map[string]any }

func (a *recordingAudit) Record(_ context.Context, action, target string, details map[string]any) error {
	rec := map[string]any{"action": action, "target": target}
	for k, v := range details {
		rec[k] = v
	}
	a.records = append(a.records, rec)
	return nil
}

func spendLimitPolicy(limit string, enforcement pvs.Enforcement, priority int) pvs.PolicyVersion {
	return pvs.PolicyVersion{
		PolicyID: "spend-limit",
		Version:  "1.0.0",
		Hash:     "h-" + limit,
		Content: pvs.Content{
			Rules: map[string]string{"within_limit": "financial.amount < " + limit},
			Config: pvs.Config{
				Enforcement: enforcement,
				Priority:    priority,
			},
		},
		Status: pvs.StatusActive,
	}
}

func newTestService(t *testing.T, versions []pvs.PolicyVersion) (*Service, *recordingAudit) {
	t.Helper()
	cache, err := NewLocalCache(100)
	require.NoError(t, err)
	audit := &recordingAudit{}
	svc, err := NewService(&fakeProvider{versions: versions}, audit, cache, nil, nil, ServiceConfig{})
	require.NoError(t, err)
	return svc, audit
}

func TestEvaluateAllowsWithinLimit(t *testing.T) {
	svc, audit := newTestService(t, []pvs.PolicyVersion{spendLimitPolicy("10000", pvs.EnforcementBlocking, 1)})

	decision, err := svc.Evaluate(context.Background(), Intent{
		ID:        "intent-1",
		Operation: OperationCreatePayment,
		Financial: Financial{Amount: 5000},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllow, decision.Outcome)
	require.Len(t, audit.records, 1)
	assert.Equal(t, "SUCCESS", audit.records[0]["result"])
}

func TestEvaluateDeniesOverLimitBlocking(t *testing.T) {
	svc, audit := newTestService(t, []pvs.PolicyVersion{spendLimitPolicy("10000", pvs.EnforcementBlocking, 1)})

	decision, err := svc.Evaluate(context.Background(), Intent{
		ID:        "intent-2",
		Operation: OperationCreatePayment,
		Financial: Financial{Amount: 15000},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeny, decision.Outcome)
	assert.NotEmpty(t, decision.Reason)
	assert.Equal(t, "FAILURE", audit.records[0]["result"])
}

func TestEvaluateWarningProducesConditional(t *testing.T) {
	svc, _ := newTestService(t, []pvs.PolicyVersion{spendLimitPolicy("1000", pvs.EnforcementWarning, 1)})

	decision, err := svc.Evaluate(context.Background(), Intent{
		ID:        "intent-3",
		Operation: OperationCreatePayment,
		Financial: Financial{Amount: 5000},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConditional, decision.Outcome)
	assert.NotEmpty(t, decision.Conditions)
	assert.NotEmpty(t, decision.Obligations)
}

func TestEvaluateLaterBlockingOverridesConditional(t *testing.T) {
	svc, _ := newTestService(t, []pvs.PolicyVersion{
		spendLimitPolicy("1000", pvs.EnforcementWarning, 10),
		spendLimitPolicy("2000", pvs.EnforcementBlocking, 1),
	})

	decision, err := svc.Evaluate(context.Background(), Intent{
		ID:        "intent-4",
		Operation: OperationCreatePayment,
		Financial: Financial{Amount: 5000},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeny, decision.Outcome)
}

func TestEvaluateCachesRepeatedCalls(t *testing.T) {
	svc, _ := newTestService(t, []pvs.PolicyVersion{spendLimitPolicy("10000", pvs.EnforcementBlocking, 1)})
	intent := Intent{ID: "intent-5", Operation: OperationCreatePayment, Financial: Financial{Amount: 5000}}

	first, err := svc.Evaluate(context.Background(), intent, nil)
	require.NoError(t, err)
	assert.False(t, first.Metrics.CacheHit)

	second, err := svc.Evaluate(context.Background(), intent, nil)
	require.NoError(t, err)
	assert.True(t, second.Metrics.CacheHit)
	assert.Equal(t, first.Outcome, second.Outcome)
}

func TestEvaluateInvalidCELIsFailClosed(t *testing.T) {
	bad := spendLimitPolicy("10000", pvs.EnforcementBlocking, 1)
	bad.Content.Rules["broken"] = "this is not valid cel {{{"
	bad.Hash = "broken-hash"

	svc, audit := newTestService(t, []pvs.PolicyVersion{bad})

	decision, err := svc.Evaluate(context.Background(), Intent{
		ID:        "intent-6",
		Operation: OperationCreatePayment,
		Financial: Financial{Amount: 500},
	}, nil)
	assert.Error(t, err)
	assert.Equal(t, OutcomeDeny, decision.Outcome)
	assert.Equal(t, "evaluation_error", decision.Reason)
	assert.Equal(t, "FAILURE", audit.records[0]["result"])
}

func TestEvaluateIndigenousDataRecordsTraditionalOwners(t *testing.T) {
	svc, audit := newTestService(t, []pvs.PolicyVersion{spendLimitPolicy("10000", pvs.EnforcementBlocking, 1)})

	_, err := svc.Evaluate(context.Background(), Intent{
		ID:        "intent-7",
		Operation: OperationCreatePayment,
		Financial: Financial{
			Amount:         500,
			IndigenousData: &IndigenousData{TraditionalOwners: []string{"owner-1"}, CommunityID: "community-1"},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner-1"}, audit.records[0]["traditionalOwners"])
}
