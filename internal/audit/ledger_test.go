package audit

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, Store) {
	t.Helper()
	store := NewMemoryStore()
	l, err := NewLedger(context.Background(), store, []byte("test-integrity-key"), logr.Discard(), nil, LedgerConfig{
		BufferSize: 16, BatchSize: 1, FlushInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, store
}

func waitForCount(t *testing.T, store Store, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		entries, err := store.Query(context.Background(), QueryFilter{})
		require.NoError(t, err)
		if len(entries) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d entries to flush", n)
}

func TestRecordChainsSequentialEntries(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	id1, err := l.Record(ctx, "user-1", "POLICY_DEPLOYED", "policy-1", nil, ResultSuccess, Metadata{}, nil)
	require.NoError(t, err)
	id2, err := l.Record(ctx, "user-1", "POLICY_DEPLOYED", "policy-2", nil, ResultSuccess, Metadata{}, nil)
	require.NoError(t, err)

	waitForCount(t, store, 2)

	e1, err := store.Get(ctx, id1)
	require.NoError(t, err)
	e2, err := store.Get(ctx, id2)
	require.NoError(t, err)

	assert.Equal(t, genesisHash, e1.PrevHash)
	assert.Equal(t, e1.IntegrityHash, e2.PrevHash)
	assert.NotEqual(t, e1.IntegrityHash, e2.IntegrityHash)
}

func TestVerifyDetectsTampering(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	id, err := l.Record(ctx, "user-1", "KEY_ROTATED", "key-1", nil, ResultSuccess, Metadata{}, nil)
	require.NoError(t, err)
	waitForCount(t, store, 1)

	ok, err := l.Verify(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	mem := store.(*memoryStore)
	mem.mu.Lock()
	idx := mem.byID[id]
	mem.entries[idx].Target = "key-tampered"
	mem.mu.Unlock()

	ok, err = l.Verify(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyChainWalksToGenesis(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Record(ctx, "user-1", "A", "t1", nil, ResultSuccess, Metadata{}, nil)
	require.NoError(t, err)
	_, err = l.Record(ctx, "user-1", "B", "t2", nil, ResultSuccess, Metadata{}, nil)
	require.NoError(t, err)
	id3, err := l.Record(ctx, "user-1", "C", "t3", nil, ResultSuccess, Metadata{}, nil)
	require.NoError(t, err)
	waitForCount(t, store, 3)

	broken, err := l.VerifyChain(ctx, id3)
	require.NoError(t, err)
	assert.Empty(t, broken)
}

func TestRetentionYearsRule(t *testing.T) {
	assert.Equal(t, 50, RetentionYears(map[string]any{"traditionalOwners": []string{"x"}}, nil))
	assert.Equal(t, 10, RetentionYears(nil, []string{"AUSTRAC"}))
	assert.Equal(t, 7, RetentionYears(nil, nil))
	// Indigenous markers take precedence over compliance frameworks.
	assert.Equal(t, 50, RetentionYears(map[string]any{"culturalSensitivity": "high"}, []string{"AUSTRAC"}))
	// Any key carrying the "indigenous" prefix counts as a marker, not just
	// an exact match against a fixed list.
	assert.Equal(t, 50, RetentionYears(map[string]any{"indigenousData": true}, nil))
}

func TestStatsAggregatesByActionResultUser(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Record(ctx, "user-1", "LOGIN", "t", nil, ResultSuccess, Metadata{}, nil)
	require.NoError(t, err)
	_, err = l.Record(ctx, "user-2", "LOGIN", "t", nil, ResultFailure, Metadata{}, nil)
	require.NoError(t, err)
	waitForCount(t, store, 2)

	summary, err := l.Stats(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalCount)
	assert.Equal(t, 2, summary.ByAction["LOGIN"])
	assert.Equal(t, 1, summary.ByResult[ResultSuccess])
	assert.Equal(t, 1, summary.ByResult[ResultFailure])
}
