package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/finguard/internal/actorctx"
	"github.com/altairalabs/finguard/internal/audit"
	"github.com/altairalabs/finguard/internal/km"
	"github.com/altairalabs/finguard/internal/policy"
	"github.com/altairalabs/finguard/internal/pvs"
	"github.com/altairalabs/finguard/internal/transform"
)

// testAuditAdapter narrows *audit.Ledger's richer Record signature the same
// way cmd/finguard-core's adapter does, so components under test see the
// same AuditRecorder shape they do in production — including deriving
// Result from details["result"] rather than hardcoding SUCCESS.
type testAuditAdapter struct{ ledger *audit.Ledger }

func (a *testAuditAdapter) Record(ctx context.Context, action, target string, details map[string]any) error {
	result := audit.ResultSuccess
	if raw, _ := details["result"].(string); audit.Result(raw) == audit.ResultFailure || audit.Result(raw) == audit.ResultPartial {
		result = audit.Result(raw)
	}
	_, err := a.ledger.Record(ctx, actorctx.ActorID(ctx), action, target, details, result, audit.Metadata{}, nil)
	return err
}

// newTestHandler wires a Handler against in-memory component instances, the
// same way cmd/finguard-core wires Postgres-backed ones, so handler tests
// exercise the real request/response contract rather than mocks.
func newTestHandler(t *testing.T) (*Handler, *audit.Ledger) {
	t.Helper()

	ledger, err := audit.NewLedger(context.Background(), audit.NewMemoryStore(), []byte("test-integrity-key"), logr.Discard(), nil, audit.LedgerConfig{
		BufferSize: 16, BatchSize: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	adapter := &testAuditAdapter{ledger: ledger}

	pvsSvc := pvs.NewService(pvs.NewMemoryRepository(), adapter, pvs.ServiceConfig{LockTimeout: time.Second})

	cache, err := policy.NewLocalCache(100)
	require.NoError(t, err)
	policySvc, err := policy.NewService(pvsSvc, adapter, cache, nil, nil, policy.ServiceConfig{})
	require.NoError(t, err)

	engine, err := transform.NewEngine(nil, 0, nil)
	require.NoError(t, err)

	master, err := km.NewMasterKeyProvider(km.MasterKeyConfig{Backend: "local"})
	require.NoError(t, err)
	keyManager, err := km.NewManager(t.TempDir(), master, transform.NewMemoryConsentStore(), adapter, nil, km.ManagerConfig{})
	require.NoError(t, err)

	return NewHandler(keyManager, adapter, ledger, engine, policySvc, pvsSvc, nil, nil, nil, logr.Discard()), ledger
}

func actorRequest(method, path string, body any, roles ...string) *http.Request {
	var r *http.Request
	if body != nil {
		buf, _ := json.Marshal(body)
		r = httptest.NewRequest(method, path, bytes.NewReader(buf))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	ctx := actorctx.With(r.Context(), actorctx.Fields{ActorID: "alice", Roles: roles})
	return r.WithContext(ctx)
}

func TestHandleCreateVersionRequiresRole(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := actorRequest(http.MethodPost, "/v1/policies/p1/versions", createVersionRequest{
		Metadata: pvs.Metadata{ChangeType: pvs.ChangeCreation},
	})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHandleCreateVersionSucceedsWithRole(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := actorRequest(http.MethodPost, "/v1/policies/p1/versions", createVersionRequest{
		Metadata: pvs.Metadata{ChangeType: pvs.ChangeCreation},
	}, rolePolicyAuthor)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	var v pvs.PolicyVersion
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	assert.Equal(t, "1.0.0", v.Version)
	assert.Equal(t, pvs.StatusDraft, v.Status)
}

func TestCreateVersionThenDeployLifecycle(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	create := actorRequest(http.MethodPost, "/v1/policies/p1/versions", createVersionRequest{
		Metadata: pvs.Metadata{ChangeType: pvs.ChangeCreation},
	}, rolePolicyAuthor)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, create)
	require.Equal(t, http.StatusCreated, rr.Code)

	approve := actorRequest(http.MethodPost, "/v1/policies/p1/versions/1.0.0/approve", nil, rolePolicyApprover)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, approve)
	require.Equal(t, http.StatusOK, rr.Code)

	deploy := actorRequest(http.MethodPost, "/v1/policies/p1/versions/1.0.0/deploy", nil, rolePolicyDeployer)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, deploy)
	require.Equal(t, http.StatusOK, rr.Code)

	list := actorRequest(http.MethodGet, "/v1/policies/p1/versions", nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, list)
	require.Equal(t, http.StatusOK, rr.Code)
	var versions []pvs.PolicyVersion
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &versions))
	require.Len(t, versions, 1)
	assert.Equal(t, pvs.StatusActive, versions[0].Status)
}

func TestHandleEvaluateWithNoActivePoliciesAllows(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := actorRequest(http.MethodPost, "/v1/evaluate", evaluateRequest{
		Intent: policy.Intent{Operation: "transfer"},
	})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var decision policy.Decision
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &decision))
	assert.Equal(t, policy.OutcomeAllow, decision.Outcome)
}

func TestHandleTransformAppliesNoopWithEmptyTable(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := actorRequest(http.MethodPost, "/v1/transform", transformRequest{
		Context: transform.Context{ConsentLevel: transform.ConsentFullAutomation},
		Fields:  []transform.Field{{Path: "amount", Value: 100}},
	})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var out transform.Output
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, float64(100), out.Payload["amount"])
}

func TestHandleListKeysRequiresRole(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := actorRequest(http.MethodGet, "/v1/keys", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
	assert.Equal(t, roleKeyOperator, errResp.RequiredRole)
}

func TestHandleListKeysSucceedsWithRole(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := actorRequest(http.MethodGet, "/v1/keys", nil, roleKeyOperator)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var keys []km.Key
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &keys))
	assert.Empty(t, keys)
}

func TestHandleQueryAuditRequiresRole(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := actorRequest(http.MethodGet, "/v1/audit", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHandleCreateVersionRejectsMalformedBody(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/v1/policies/p1/versions", bytes.NewReader([]byte("{not json")))
	ctx := actorctx.With(req.Context(), actorctx.Fields{ActorID: "alice", Roles: []string{rolePolicyAuthor}})
	req = req.WithContext(ctx)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// TestAccessDeniedEntryCarriesFailureResult guards against the adapter
// hardcoding ResultSuccess on every audit entry: a rejected request must
// persist with the ledger's first-class Result column set to FAILURE, not
// just a "result" string buried in Details, since query(filter{result:
// FAILURE}) relies on the column.
func TestAccessDeniedEntryCarriesFailureResult(t *testing.T) {
	h, ledger := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := actorRequest(http.MethodGet, "/v1/keys", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)

	var entries []audit.Entry
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		var err error
		entries, err = ledger.Query(context.Background(), audit.QueryFilter{Action: "ACCESS_DENIED"})
		require.NoError(t, err)
		if len(entries) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotEmpty(t, entries, "ACCESS_DENIED entry should have been persisted")
	assert.Equal(t, audit.ResultFailure, entries[0].Result)

	failureOnly, err := ledger.Query(context.Background(), audit.QueryFilter{Result: audit.ResultFailure})
	require.NoError(t, err)
	assert.NotEmpty(t, failureOnly, "query(filter{result:FAILURE}) must match the denied entry")
}
