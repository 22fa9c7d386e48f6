package actorctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithAndExtract(t *testing.T) {
	ctx := With(context.Background(), Fields{
		ActorID:   "admin-1",
		SessionID: "sess-1",
		RequestID: "req-1",
		IPAddress: "10.0.0.1",
		Roles:     []string{"policy_deployer", "key_custodian"},
	})

	got := Extract(ctx)
	assert.Equal(t, "admin-1", got.ActorID)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "10.0.0.1", got.IPAddress)
	assert.True(t, HasRole(ctx, "key_custodian"))
	assert.False(t, HasRole(ctx, "rollback_executor"))
}

func TestUnsetFieldsReturnZeroValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ActorID(ctx))
	assert.Empty(t, RequestID(ctx))
	assert.Nil(t, Roles(ctx))
	assert.False(t, HasRole(ctx, "anything"))
}

func TestWithActorIDAndRequestIDOverrideIndividually(t *testing.T) {
	ctx := With(context.Background(), Fields{ActorID: "a", RequestID: "r1"})
	ctx = WithRequestID(ctx, "r2")
	ctx = WithActorID(ctx, "b")

	assert.Equal(t, "b", ActorID(ctx))
	assert.Equal(t, "r2", RequestID(ctx))
}
