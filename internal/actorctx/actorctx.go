// Package actorctx propagates the identity of the caller driving a core
// operation — actor, session, request, and network origin — through
// context.Context, so every audited operation can recover "who did this"
// without threading extra parameters through every call.
package actorctx

import "context"

type contextKey string

const (
	keyActorID   contextKey = "finguard-actor-id"
	keySessionID contextKey = "finguard-session-id"
	keyRequestID contextKey = "finguard-request-id"
	keyIPAddress contextKey = "finguard-ip-address"
	keyRoles     contextKey = "finguard-roles"
)

// Fields holds the full set of propagated identity attributes for an
// administrative or runtime call, matching the {actorId, sessionId,
// requestId, ipAddress, roles[]} envelope required on every admin operation.
type Fields struct {
	ActorID   string
	SessionID string
	RequestID string
	IPAddress string
	Roles     []string
}

// With returns a context carrying all of Fields' values.
func With(ctx context.Context, f Fields) context.Context {
	ctx = context.WithValue(ctx, keyActorID, f.ActorID)
	ctx = context.WithValue(ctx, keySessionID, f.SessionID)
	ctx = context.WithValue(ctx, keyRequestID, f.RequestID)
	ctx = context.WithValue(ctx, keyIPAddress, f.IPAddress)
	ctx = context.WithValue(ctx, keyRoles, f.Roles)
	return ctx
}

// WithActorID returns a context with just the actor id set.
func WithActorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyActorID, id)
}

// WithRequestID returns a context with just the request id set.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// ActorID extracts the actor id from ctx, or "" if unset.
func ActorID(ctx context.Context) string { return getString(ctx, keyActorID) }

// SessionID extracts the session id from ctx, or "" if unset.
func SessionID(ctx context.Context) string { return getString(ctx, keySessionID) }

// RequestID extracts the request id from ctx, or "" if unset.
func RequestID(ctx context.Context) string { return getString(ctx, keyRequestID) }

// IPAddress extracts the caller's IP address from ctx, or "" if unset.
func IPAddress(ctx context.Context) string { return getString(ctx, keyIPAddress) }

// Roles extracts the caller's roles from ctx, or nil if unset.
func Roles(ctx context.Context) []string {
	if v := ctx.Value(keyRoles); v != nil {
		if r, ok := v.([]string); ok {
			return r
		}
	}
	return nil
}

// HasRole reports whether ctx's actor carries the given role.
func HasRole(ctx context.Context, role string) bool {
	for _, r := range Roles(ctx) {
		if r == role {
			return true
		}
	}
	return false
}

// Extract reads all propagated fields back out of ctx.
func Extract(ctx context.Context) Fields {
	return Fields{
		ActorID:   ActorID(ctx),
		SessionID: SessionID(ctx),
		RequestID: RequestID(ctx),
		IPAddress: IPAddress(ctx),
		Roles:     Roles(ctx),
	}
}

func getString(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
