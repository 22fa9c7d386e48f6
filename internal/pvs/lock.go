package pvs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/altairalabs/finguard/internal/fgerr"
)

// policyLocker hands out one advisory lock per policyId, mirroring the
// single-flight-per-key shape of golang.org/x/sync/singleflight without
// coalescing callers' results — deploy/restore mutate shared state, so each
// caller must still execute its own critical section once it acquires the
// key, rather than reuse another caller's outcome.
type policyLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newPolicyLocker() *policyLocker {
	return &policyLocker{locks: map[string]chan struct{}{}}
}

// acquire blocks until policyID's lock is free or timeout elapses, returning
// a release function. On timeout it returns fgerr.ErrConflict wrapped as a
// deploy-contested error.
func (l *policyLocker) acquire(ctx context.Context, policyID string, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[policyID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[policyID] = ch
	}
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: deploy contested for policy %q after %s", fgerr.ErrConflict, policyID, timeout)
	}
}

// acquireMany acquires one lock per distinct policyID, always in canonical
// (sorted) order, so two callers locking an overlapping policyID set can
// never deadlock against each other. Used by APS, which must hold every
// policyId lock its transaction touches for the duration of execution.
func (l *policyLocker) acquireMany(ctx context.Context, policyIDs []string, timeout time.Duration) (func(), error) {
	ids := sortedCopy(dedupeStrings(policyIDs))
	releases := make([]func(), 0, len(ids))
	deadline := time.Now().Add(timeout)

	release := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, id := range ids {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			release()
			return nil, fmt.Errorf("%w: lock acquisition timed out before reaching policy %q", fgerr.ErrConflict, id)
		}
		r, err := l.acquire(ctx, id, remaining)
		if err != nil {
			release()
			return nil, err
		}
		releases = append(releases, r)
	}
	return release, nil
}

func dedupeStrings(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
