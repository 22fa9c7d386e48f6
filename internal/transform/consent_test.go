package transform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsentGrantAndGet(t *testing.T) {
	store := NewMemoryConsentStore()
	ctx := context.Background()

	require.NoError(t, store.Grant(ctx, ConsentRecord{
		SubjectID: "user-1",
		Scope:     ScopeDataTransform,
		Level:     ConsentFullAutomation,
		GrantedAt: time.Now(),
	}))

	r, err := store.Get(ctx, "user-1", ScopeDataTransform)
	require.NoError(t, err)
	assert.Equal(t, ConsentFullAutomation, r.Level)
}

func TestConsentRevokeMakesInactive(t *testing.T) {
	store := NewMemoryConsentStore()
	ctx := context.Background()

	require.NoError(t, store.Grant(ctx, ConsentRecord{
		SubjectID: "community-1",
		Scope:     ScopeKeyCustody,
		Level:     ConsentFullAutomation,
		GrantedAt: time.Now().Add(-time.Hour),
	}))

	ok, err := store.HasCommunityKeyCustodyConsent(ctx, "community-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Revoke(ctx, "community-1", ScopeKeyCustody, time.Now()))

	ok, err = store.HasCommunityKeyCustodyConsent(ctx, "community-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsentMissingGrantIsNotCustody(t *testing.T) {
	store := NewMemoryConsentStore()
	ok, err := store.HasCommunityKeyCustodyConsent(context.Background(), "unknown-community")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsentExpiryIsHonored(t *testing.T) {
	store := NewMemoryConsentStore()
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	require.NoError(t, store.Grant(ctx, ConsentRecord{
		SubjectID: "community-2",
		Scope:     ScopeKeyCustody,
		Level:     ConsentFullAutomation,
		GrantedAt: time.Now().Add(-time.Hour),
		Expiry:    &past,
	}))

	ok, err := store.HasCommunityKeyCustodyConsent(ctx, "community-2")
	require.NoError(t, err)
	assert.False(t, ok)
}
