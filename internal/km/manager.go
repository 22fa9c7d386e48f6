package km

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/altairalabs/finguard/internal/fgerr"
	"github.com/altairalabs/finguard/pkg/metrics"
)

// ConsentChecker tells the Key Manager whether a community has recorded
// consent for FinGuard to hold custody of a key on its behalf. generate()
// consults it whenever a communityId is supplied.
type ConsentChecker interface {
	HasCommunityKeyCustodyConsent(ctx context.Context, communityID string) (bool, error)
}

// AuditRecorder is the subset of the audit ledger's interface the Key
// Manager needs: every successful get() must be audited.
type AuditRecorder interface {
	Record(ctx context.Context, action, target string, details map[string]any) error
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	DefaultLifetime       time.Duration
	RotationGraceWindow   time.Duration
	AutoRotateThreshold   float64 // 0 disables auto-rotation
	BackupRetentionDays   int
	DefaultAlgorithm      Algorithm
	PlaintextCacheSize    int
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.DefaultLifetime == 0 {
		c.DefaultLifetime = 365 * 24 * time.Hour
	}
	if c.RotationGraceWindow == 0 {
		c.RotationGraceWindow = 30 * 24 * time.Hour
	}
	if c.DefaultAlgorithm == "" {
		c.DefaultAlgorithm = AlgorithmAESGCM
	}
	if c.PlaintextCacheSize == 0 {
		c.PlaintextCacheSize = 256
	}
	return c
}

// Manager is the Key Manager: it owns EncryptionKey material exclusively —
// every other component holds only key ids.
type Manager struct {
	cfg      ManagerConfig
	store    *fileKeyStore
	master   MasterKeyProvider
	consent  ConsentChecker
	audit    AuditRecorder
	metrics  *metrics.KMMetrics
	cache    *lru.Cache[string, Key]
}

// NewManager builds a Manager backed by a file-based key store at dir.
func NewManager(dir string, master MasterKeyProvider, consent ConsentChecker, audit AuditRecorder, m *metrics.KMMetrics, cfg ManagerConfig) (*Manager, error) {
	cfg = cfg.withDefaults()

	store, err := newFileKeyStore(dir)
	if err != nil {
		return nil, err
	}

	cache, err := lru.New[string, Key](cfg.PlaintextCacheSize)
	if err != nil {
		return nil, fmt.Errorf("km: plaintext cache init: %w", err)
	}

	return &Manager{cfg: cfg, store: store, master: master, consent: consent, audit: audit, metrics: m, cache: cache}, nil
}

// Generate produces a new key, seals it under the master key, and caches
// the plaintext. It fails with ErrConsentInsufficient if communityID is set
// and community consent for key custody has not been recorded.
func (m *Manager) Generate(ctx context.Context, purpose Purpose, classification Classification, communityID string) (Key, error) {
	if communityID != "" {
		if purpose != PurposeCommunity {
			return Key{}, fmt.Errorf("%w: communityId requires purpose=community", fgerr.ErrInvalidInput)
		}
		if m.consent == nil {
			return Key{}, fmt.Errorf("%w: no consent checker configured for community key custody", fgerr.ErrConsentInsufficient)
		}
		ok, err := m.consent.HasCommunityKeyCustodyConsent(ctx, communityID)
		if err != nil {
			return Key{}, fmt.Errorf("%w: consent lookup failed: %v", fgerr.ErrStorageUnavailable, err)
		}
		if !ok {
			return Key{}, fmt.Errorf("%w: community %q has not consented to key custody", fgerr.ErrConsentInsufficient, communityID)
		}
	}

	alg := m.cfg.DefaultAlgorithm
	material, err := generateMaterial(alg)
	if err != nil {
		return Key{}, err
	}

	now := time.Now().UTC()
	key := Key{
		ID:             uuid.NewString(),
		Algorithm:      alg,
		Material:       material,
		Classification: classification,
		Purpose:        purpose,
		CommunityID:    communityID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.DefaultLifetime),
		Status:         StatusActive,
	}

	if err := m.persist(ctx, key); err != nil {
		return Key{}, err
	}

	m.cache.Add(key.ID, key)
	if m.metrics != nil {
		m.metrics.KeysGenerated.WithLabelValues(string(purpose)).Inc()
	}
	return key.Redact(), nil
}

// persist seals key.Material under the master key and writes it to the
// store.
func (m *Manager) persist(ctx context.Context, key Key) error {
	start := time.Now()

	dek, err := generateMaterial(key.Algorithm)
	if err != nil {
		return err
	}
	wrappedDEK, masterKeyRef, err := m.master.WrapDEK(ctx, dek)
	if err != nil {
		return err
	}
	nonce, ciphertext, err := sealMaterial(key.Algorithm, dek, []byte(key.ID), key.Material)
	if err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.SealDuration.WithLabelValues("seal").Observe(time.Since(start).Seconds())
	}

	return m.store.put(ctx, sealedKey{
		ID:             key.ID,
		Algorithm:      key.Algorithm,
		Classification: key.Classification,
		Purpose:        key.Purpose,
		CommunityID:    key.CommunityID,
		CreatedAt:      key.CreatedAt,
		RotatedAt:      key.RotatedAt,
		ExpiresAt:      key.ExpiresAt,
		Status:         key.Status,
		PredecessorID:  key.PredecessorID,
		SuccessorID:    key.SuccessorID,
		WrappedDEK:     wrappedDEK,
		MasterKeyRef:   masterKeyRef,
		Nonce:          nonce,
		Ciphertext:     ciphertext,
	})
}

func (m *Manager) unseal(ctx context.Context, sk sealedKey) (Key, error) {
	dek, err := m.master.UnwrapDEK(ctx, sk.WrappedDEK, sk.MasterKeyRef)
	if err != nil {
		if m.metrics != nil {
			m.metrics.IntegrityFailures.WithLabelValues(string(sk.Purpose)).Inc()
		}
		return Key{}, fmt.Errorf("%w: unwrap DEK for key %q: %v", fgerr.ErrIntegrity, sk.ID, err)
	}

	start := time.Now()
	material, err := unsealMaterial(sk.Algorithm, dek, []byte(sk.ID), sk.Nonce, sk.Ciphertext)
	if err != nil {
		if m.metrics != nil {
			m.metrics.IntegrityFailures.WithLabelValues(string(sk.Purpose)).Inc()
		}
		return Key{}, err
	}
	if m.metrics != nil {
		m.metrics.SealDuration.WithLabelValues("unseal").Observe(time.Since(start).Seconds())
	}

	return Key{
		ID:             sk.ID,
		Algorithm:      sk.Algorithm,
		Material:       material,
		Classification: sk.Classification,
		Purpose:        sk.Purpose,
		CommunityID:    sk.CommunityID,
		CreatedAt:      sk.CreatedAt,
		RotatedAt:      sk.RotatedAt,
		ExpiresAt:      sk.ExpiresAt,
		Status:         sk.Status,
		PredecessorID:  sk.PredecessorID,
		SuccessorID:    sk.SuccessorID,
	}, nil
}

// Get returns an active or recently-rotated key, never a revoked or
// expired one, and audits every successful retrieval.
func (m *Manager) Get(ctx context.Context, keyID string) (Key, error) {
	if cached, ok := m.cache.Get(keyID); ok {
		if err := m.checkRetrievable(cached); err != nil {
			return Key{}, err
		}
		m.auditGet(ctx, keyID)
		return cached, nil
	}

	sk, err := m.store.get(ctx, keyID)
	if err != nil {
		return Key{}, err
	}
	if sk.Status == StatusRevoked || sk.Status == StatusExpired {
		return Key{}, fgerr.ErrNotFound
	}
	if sk.Status == StatusRotated && sk.RotatedAt != nil && time.Since(*sk.RotatedAt) > m.cfg.RotationGraceWindow {
		return Key{}, fgerr.ErrNotFound
	}

	key, err := m.unseal(ctx, sk)
	if err != nil {
		return Key{}, err
	}
	m.cache.Add(keyID, key)
	m.auditGet(ctx, keyID)
	return key, nil
}

func (m *Manager) checkRetrievable(key Key) error {
	if key.Status == StatusRevoked || key.Status == StatusExpired {
		return fgerr.ErrNotFound
	}
	if key.Status == StatusRotated && key.RotatedAt != nil && time.Since(*key.RotatedAt) > m.cfg.RotationGraceWindow {
		return fgerr.ErrNotFound
	}
	return nil
}

func (m *Manager) auditGet(ctx context.Context, keyID string) {
	if m.audit == nil {
		return
	}
	_ = m.audit.Record(ctx, "KEY_RETRIEVED", keyID, map[string]any{"keyId": keyID})
}

// List returns all active/rotated keys, optionally filtered by purpose,
// excluding revoked and expired keys.
func (m *Manager) List(ctx context.Context, purpose Purpose) ([]Key, error) {
	sealed, err := m.store.list(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Key, 0, len(sealed))
	for _, sk := range sealed {
		if sk.Status == StatusRevoked || sk.Status == StatusExpired {
			continue
		}
		if purpose != "" && sk.Purpose != purpose {
			continue
		}
		out = append(out, Key{
			ID: sk.ID, Algorithm: sk.Algorithm, Classification: sk.Classification,
			Purpose: sk.Purpose, CommunityID: sk.CommunityID, CreatedAt: sk.CreatedAt,
			RotatedAt: sk.RotatedAt, ExpiresAt: sk.ExpiresAt, Status: sk.Status,
			PredecessorID: sk.PredecessorID, SuccessorID: sk.SuccessorID,
		})
	}
	return out, nil
}

// Rotate creates a new key with identical purpose/classification/community,
// marks the predecessor rotated. Both keys remain decryptable during the
// grace window.
func (m *Manager) Rotate(ctx context.Context, keyID string) (Key, error) {
	old, err := m.Get(ctx, keyID)
	if err != nil {
		return Key{}, err
	}

	next, err := m.Generate(ctx, old.Purpose, old.Classification, old.CommunityID)
	if err != nil {
		return Key{}, err
	}
	// Generate returns a redacted copy; the cached copy still carries the
	// material that is re-sealed and re-cached below.
	if full, ok := m.cache.Get(next.ID); ok {
		next = full
	}

	now := time.Now().UTC()
	old.Status = StatusRotated
	old.RotatedAt = &now
	old.SuccessorID = next.ID
	if err := m.persist(ctx, old); err != nil {
		return Key{}, err
	}
	m.cache.Remove(old.ID)

	next.PredecessorID = old.ID
	if err := m.persist(ctx, next); err != nil {
		return Key{}, err
	}
	m.cache.Add(next.ID, next)

	if m.metrics != nil {
		m.metrics.KeysRotated.WithLabelValues(string(old.Purpose)).Inc()
	}
	return next.Redact(), nil
}

// Revoke marks a key revoked; subsequent Get calls fail.
func (m *Manager) Revoke(ctx context.Context, keyID, reason string) error {
	sk, err := m.store.get(ctx, keyID)
	if err != nil {
		return err
	}
	sk.Status = StatusRevoked
	if err := m.store.put(ctx, sk); err != nil {
		return err
	}
	m.cache.Remove(keyID)

	if m.metrics != nil {
		m.metrics.KeysRevoked.WithLabelValues(string(sk.Purpose)).Inc()
	}
	if m.audit != nil {
		_ = m.audit.Record(ctx, "KEY_REVOKED", keyID, map[string]any{"keyId": keyID, "reason": reason})
	}
	return nil
}

// backupBundle is the format emitted by Backup and consumed by Restore.
type backupBundle struct {
	CreatedAt time.Time   `json:"createdAt"`
	Keys      []sealedKey `json:"keys"`
	Signature string      `json:"signature"`
}

// Backup emits a sealed bundle of all stored keys plus a signature over the
// payload; when a master key is configured the bundle's key rows are
// already individually sealed under it, satisfying "sealed under the
// master key" without re-wrapping the whole bundle.
func (m *Manager) Backup(ctx context.Context) ([]byte, error) {
	sealed, err := m.store.list(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal backup payload: %v", fgerr.ErrIntegrity, err)
	}
	sig := sha256.Sum256(payload)

	bundle := backupBundle{
		CreatedAt: time.Now().UTC(),
		Keys:      sealed,
		Signature: fmt.Sprintf("%x", sig),
	}
	out, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal backup bundle: %v", fgerr.ErrIntegrity, err)
	}
	return out, nil
}

// Restore verifies the bundle's signature, writes its keys to storage, and
// clears the plaintext cache so subsequent Get calls re-unseal from the
// restored rows.
func (m *Manager) Restore(ctx context.Context, data []byte) error {
	var bundle backupBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("%w: unmarshal backup bundle: %v", fgerr.ErrIntegrity, err)
	}

	payload, err := json.Marshal(bundle.Keys)
	if err != nil {
		return fmt.Errorf("%w: remarshal backup payload: %v", fgerr.ErrIntegrity, err)
	}
	sig := sha256.Sum256(payload)
	if fmt.Sprintf("%x", sig) != bundle.Signature {
		return fmt.Errorf("%w: backup signature mismatch", fgerr.ErrIntegrity)
	}

	for _, sk := range bundle.Keys {
		if err := m.store.put(ctx, sk); err != nil {
			return err
		}
	}
	m.cache.Purge()
	return nil
}

// MaintenanceResult reports what maintenance() did.
type MaintenanceResult struct {
	Expired       int
	AutoRotated   int
	BackupsPurged int
}

// Maintenance expires keys past expiresAt, auto-rotates keys past the
// configured threshold of their lifetime when enabled, and purges backups
// past their retention window (left to the caller's backup store — this
// Manager only reports the count it was told to purge via purgeBackups).
func (m *Manager) Maintenance(ctx context.Context, purgeBackups func(olderThan time.Time) (int, error)) (MaintenanceResult, error) {
	if m.metrics != nil {
		m.metrics.MaintenanceRuns.Inc()
	}

	sealed, err := m.store.list(ctx)
	if err != nil {
		return MaintenanceResult{}, err
	}

	var result MaintenanceResult
	now := time.Now().UTC()
	for _, sk := range sealed {
		if sk.Status == StatusActive && now.After(sk.ExpiresAt) {
			sk.Status = StatusExpired
			if err := m.store.put(ctx, sk); err != nil {
				return result, err
			}
			m.cache.Remove(sk.ID)
			result.Expired++
			continue
		}

		if sk.Status == StatusActive && m.cfg.AutoRotateThreshold > 0 {
			lifetime := sk.ExpiresAt.Sub(sk.CreatedAt)
			elapsed := now.Sub(sk.CreatedAt)
			if lifetime > 0 && float64(elapsed)/float64(lifetime) >= m.cfg.AutoRotateThreshold {
				if _, err := m.Rotate(ctx, sk.ID); err != nil {
					return result, err
				}
				result.AutoRotated++
			}
		}
	}

	if purgeBackups != nil {
		retain := time.Duration(m.cfg.BackupRetentionDays) * 24 * time.Hour
		purged, err := purgeBackups(now.Add(-retain))
		if err != nil {
			return result, err
		}
		result.BackupsPurged = purged
	}

	return result, nil
}
