package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/altairalabs/finguard/internal/actorctx"
	"github.com/altairalabs/finguard/internal/fgerr"
	"github.com/altairalabs/finguard/pkg/metrics"
)

// WithActorContext extracts the {actorId, sessionId, requestId, ipAddress,
// roles[]} envelope spec.md §6 requires on every admin operation from
// request headers, and attaches it to the request context.
func WithActorContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fields := actorctx.Fields{
			ActorID:   r.Header.Get("X-Actor-Id"),
			SessionID: r.Header.Get("X-Session-Id"),
			RequestID: requestIDOrGenerate(r),
			IPAddress: clientIP(r),
			Roles:     splitRoles(r.Header.Get("X-Roles")),
		}
		ctx := actorctx.With(r.Context(), fields)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDOrGenerate(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.New().String()
}

func splitRoles(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			roles = append(roles, p)
		}
	}
	return roles
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx != -1 {
			return strings.TrimSpace(fwd[:idx])
		}
		return fwd
	}
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	return ip
}

// statusCapture wraps http.ResponseWriter to capture the status code written.
type statusCapture struct {
	http.ResponseWriter
	code int
}

func (s *statusCapture) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware records request count and latency by method, route, and
// status code.
func MetricsMiddleware(m *metrics.HTTPMetrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sc := &statusCapture{ResponseWriter: w, code: http.StatusOK}

		next.ServeHTTP(sc, r)

		route := r.Pattern
		if route == "" {
			route = r.URL.Path
		}
		status := strconv.Itoa(sc.code)
		m.RequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.RequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// requireRole fails the request with Forbidden, auditing the attempt, unless
// ctx's actor carries role. Every admin handler that spec.md §6 names a
// required role for calls this before performing its operation.
func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, role string) bool {
	if actorctx.HasRole(r.Context(), role) {
		return true
	}
	h.auditForbidden(r, role)
	decErr := fgerr.New(fgerr.ErrForbidden, "missing required role", actorctx.RequestID(r.Context()))
	decErr.RequiredRole = role
	writeError(w, decErr)
	return false
}

func (h *Handler) auditForbidden(r *http.Request, role string) {
	if h.audit == nil {
		return
	}
	fields := actorctx.Extract(r.Context())
	_ = h.audit.Record(r.Context(), "ACCESS_DENIED", r.URL.Path, map[string]any{
		"result":       "FAILURE",
		"actorId":      fields.ActorID,
		"requiredRole": role,
		"roles":        fields.Roles,
	})
}
