package aps

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newTestService(t *testing.T) (*Service, *pvs.Service, *recordingAudit) {
	t.Helper()
	repo := pvs.NewMemoryRepository()
	pvsAudit := &recordingAudit{}
	pvsSvc := pvs.NewService(repo, pvsAudit, pvs.ServiceConfig{})
	apsAudit := &recordingAudit{}
	svc := NewService(pvsSvc, apsAudit, nil, ServiceConfig{})
	return svc, pvsSvc, apsAudit
}

func createContent(rule string) pvs.Content {
	return pvs.Content{Rules: map[string]string{"allow": rule}}
}

func TestExecuteCreatesAndDeploysAllOperations(t *testing.T) {
	svc, pvsSvc, audit := newTestService(t)

	txn := Transaction{
		Actor: "operator-1",
		Operations: []Operation{
			{Kind: OpCreate, PolicyID: "policy-a", Content: createContent("financial.amount < 1000")},
			{Kind: OpCreate, PolicyID: "policy-b", Content: createContent("financial.amount < 2000")},
		},
	}

	result, err := svc.Execute(context.Background(), txn)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, result.State)
	assert.Len(t, result.Completed, 2)

	active, err := pvsSvc.GetActive(context.Background(), "policy-a")
	require.NoError(t, err)
	assert.Equal(t, pvs.StatusActive, active.Status)

	assert.Contains(t, audit.actions(), "START_ATOMIC_TRANSACTION")
	assert.Contains(t, audit.actions(), "COMPLETE_ATOMIC_TRANSACTION")
}

func TestExecuteRejectsDuplicateCreateInSameTransaction(t *testing.T) {
	svc, _, _ := newTestService(t)

	txn := Transaction{
		Operations: []Operation{
			{Kind: OpCreate, PolicyID: "policy-a", Content: createContent("true")},
			{Kind: OpCreate, PolicyID: "policy-a", Content: createContent("true")},
		},
	}

	result, err := svc.Execute(context.Background(), txn)
	assert.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
}

func TestExecuteRejectsUpdateOfUnknownPolicy(t *testing.T) {
	svc, _, _ := newTestService(t)

	txn := Transaction{
		Operations: []Operation{
			{Kind: OpUpdate, PolicyID: "ghost", Content: createContent("true")},
		},
	}

	_, err := svc.Execute(context.Background(), txn)
	assert.Error(t, err)
}

func TestExecuteRejectsCircularDependency(t *testing.T) {
	svc, _, _ := newTestService(t)

	txn := Transaction{
		Operations: []Operation{
			{Kind: OpCreate, PolicyID: "policy-a", Content: pvs.Content{Dependencies: []string{"policy-b"}}},
			{Kind: OpCreate, PolicyID: "policy-b", Content: pvs.Content{Dependencies: []string{"policy-a"}}},
		},
	}

	_, err := svc.Execute(context.Background(), txn)
	assert.Error(t, err)
}

func TestExecuteOrdersCreatesByDependency(t *testing.T) {
	svc, pvsSvc, _ := newTestService(t)

	txn := Transaction{
		Operations: []Operation{
			{Kind: OpCreate, PolicyID: "downstream", Content: pvs.Content{Rules: map[string]string{"allow": "true"}, Dependencies: []string{"upstream"}}},
			{Kind: OpCreate, PolicyID: "upstream", Content: pvs.Content{Rules: map[string]string{"allow": "true"}}},
		},
	}

	result, err := svc.Execute(context.Background(), txn)
	require.NoError(t, err)
	require.Len(t, result.Completed, 2)
	assert.Equal(t, "upstream", result.Completed[0].PolicyID)
	assert.Equal(t, "downstream", result.Completed[1].PolicyID)

	_, err = pvsSvc.GetActive(context.Background(), "upstream")
	require.NoError(t, err)
}

func TestExecuteRollsBackOnLaterOperationFailure(t *testing.T) {
	svc, pvsSvc, audit := newTestService(t)

	// Seed a pre-existing policy outside this transaction, so the failing
	// operation passes pre-validation's existence check but fails at
	// execution time (an unrecognized operation kind reaches applyOp's
	// default case), forcing the earlier create in the same transaction to
	// be compensated.
	_, err := svc.Execute(context.Background(), Transaction{
		Operations: []Operation{{Kind: OpCreate, PolicyID: "policy-old", Content: createContent("true")}},
	})
	require.NoError(t, err)

	txn := Transaction{
		Operations: []Operation{
			{Kind: OpCreate, PolicyID: "policy-new", Content: createContent("financial.amount < 1000")},
			{Kind: OperationKind("bogus"), PolicyID: "policy-old"},
		},
	}

	result, err := svc.Execute(context.Background(), txn)
	assert.Error(t, err)
	assert.Equal(t, StateFailed, result.State)

	_, getErr := pvsSvc.GetActive(context.Background(), "policy-new")
	assert.Error(t, getErr, "the compensated create must not leave policy-new active")
	assert.Contains(t, audit.actions(), "FAIL_ATOMIC_TRANSACTION")
}

func TestDryRunAppliesNoMutations(t *testing.T) {
	svc, pvsSvc, _ := newTestService(t)

	txn := Transaction{
		DryRun: true,
		Operations: []Operation{
			{Kind: OpCreate, PolicyID: "policy-a", Content: createContent("true")},
		},
	}

	result, err := svc.Execute(context.Background(), txn)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, result.State)

	_, err = pvsSvc.GetActive(context.Background(), "policy-a")
	assert.Error(t, err) // dry run created nothing
}

func TestDeleteArchivesActiveVersion(t *testing.T) {
	svc, pvsSvc, _ := newTestService(t)

	_, err := svc.Execute(context.Background(), Transaction{
		Operations: []Operation{{Kind: OpCreate, PolicyID: "policy-a", Content: createContent("true")}},
	})
	require.NoError(t, err)

	result, err := svc.Execute(context.Background(), Transaction{
		Operations: []Operation{{Kind: OpDelete, PolicyID: "policy-a"}},
	})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, result.State)

	_, err = pvsSvc.GetActive(context.Background(), "policy-a")
	assert.Error(t, err)
}
