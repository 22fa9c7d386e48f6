package transform

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/altairalabs/finguard/internal/fgerr"
)

// ConsentScope is a capability a consent grant covers, e.g. "key_custody" or
// "data_transformation".
type ConsentScope string

const (
	ScopeKeyCustody       ConsentScope = "key_custody"
	ScopeDataTransform    ConsentScope = "data_transformation"
	ScopeSecondaryUse     ConsentScope = "secondary_use"
)

// ConsentRecord is one community or individual's recorded consent grant.
type ConsentRecord struct {
	ID          string
	SubjectID   string // userId or communityId
	Scope       ConsentScope
	Level       ConsentLevel
	GrantedBy   string
	GrantedAt   time.Time
	RevokedAt   *time.Time
	Expiry      *time.Time
}

func (r ConsentRecord) active(at time.Time) bool {
	if r.RevokedAt != nil && !r.RevokedAt.After(at) {
		return false
	}
	if r.Expiry != nil && r.Expiry.Before(at) {
		return false
	}
	return true
}

// ConsentStore is the durable backend for consent grants. It also satisfies
// km.ConsentChecker, so a single store can back both the Key Manager's
// community key custody check and the DTE's consent-level resolution.
type ConsentStore interface {
	Grant(ctx context.Context, r ConsentRecord) error
	Revoke(ctx context.Context, subjectID string, scope ConsentScope, at time.Time) error
	Get(ctx context.Context, subjectID string, scope ConsentScope) (ConsentRecord, error)
	List(ctx context.Context, subjectID string) ([]ConsentRecord, error)
	HasCommunityKeyCustodyConsent(ctx context.Context, communityID string) (bool, error)
}

type memoryConsentStore struct {
	mu      sync.RWMutex
	records map[string][]ConsentRecord // keyed by subjectID
	now     func() time.Time
}

// NewMemoryConsentStore builds an in-memory ConsentStore.
func NewMemoryConsentStore() ConsentStore {
	return &memoryConsentStore{records: map[string][]ConsentRecord{}, now: time.Now}
}

func (s *memoryConsentStore) Grant(_ context.Context, r ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.SubjectID] = append(s.records[r.SubjectID], r)
	return nil
}

func (s *memoryConsentStore) Revoke(_ context.Context, subjectID string, scope ConsentScope, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.records[subjectID] {
		if r.Scope == scope && r.RevokedAt == nil {
			at := at
			s.records[subjectID][i].RevokedAt = &at
		}
	}
	return nil
}

func (s *memoryConsentStore) Get(_ context.Context, subjectID string, scope ConsentScope) (ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	var latest ConsentRecord
	found := false
	for _, r := range s.records[subjectID] {
		if r.Scope != scope || !r.active(now) {
			continue
		}
		if !found || r.GrantedAt.After(latest.GrantedAt) {
			latest = r
			found = true
		}
	}
	if !found {
		return ConsentRecord{}, fgerr.ErrNotFound
	}
	return latest, nil
}

func (s *memoryConsentStore) List(_ context.Context, subjectID string) ([]ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]ConsentRecord(nil), s.records[subjectID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.Before(out[j].GrantedAt) })
	return out, nil
}

func (s *memoryConsentStore) HasCommunityKeyCustodyConsent(ctx context.Context, communityID string) (bool, error) {
	r, err := s.Get(ctx, communityID, ScopeKeyCustody)
	if err != nil {
		if err == fgerr.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return r.active(s.now()), nil
}
