package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvFallback(t *testing.T) {
	tests := []struct {
		name       string
		initial    string
		defaultVal string
		envVal     string
		want       string
	}{
		{"env overrides default", "", "", "from-env", "from-env"},
		{"flag value kept when non-default", "flag-val", "", "", "flag-val"},
		{"empty env ignored", "", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_ENV_FALLBACK_" + tt.name
			if tt.envVal != "" {
				t.Setenv(key, tt.envVal)
			}
			val := tt.initial
			envFallback(&val, tt.defaultVal, key)
			assert.Equal(t, tt.want, val)
		})
	}
}

func TestResolveIntegrityKeyRequiresValue(t *testing.T) {
	_, err := resolveIntegrityKey("")
	assert.Error(t, err)
}

func TestResolveIntegrityKeyRejectsNonHex(t *testing.T) {
	_, err := resolveIntegrityKey("not-hex-zz")
	assert.Error(t, err)
}

func TestResolveIntegrityKeyDecodesHex(t *testing.T) {
	key, err := resolveIntegrityKey("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, key)
}

func TestMergedRuleTableEmptyWhenNoPresets(t *testing.T) {
	table, err := mergedRuleTable(nil)
	require.NoError(t, err)
	assert.Empty(t, table)
}

func TestMergedRuleTableConcatenatesKnownPresets(t *testing.T) {
	table, err := mergedRuleTable([]string{"privacy_act", "austrac"})
	require.NoError(t, err)
	assert.NotEmpty(t, table)
}

func TestMergedRuleTableRejectsUnknownPreset(t *testing.T) {
	_, err := mergedRuleTable([]string{"not-a-real-preset"})
	assert.Error(t, err)
}

func TestNewMetricsServerServesPrometheusFormat(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	ct := rec.Header().Get("Content-Type")
	assert.True(t, strings.Contains(ct, "text/plain") || strings.Contains(ct, "application/openmetrics-text"))
}

func TestNewHealthServerHealthz(t *testing.T) {
	// pgxpool.Pool's zero-value can't be constructed directly; newHealthServer
	// only touches the pool in /readyz, so /healthz is exercised against a nil
	// pool here without calling its methods.
	srv := newHealthServer(":0", (*pgxpool.Pool)(nil))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
