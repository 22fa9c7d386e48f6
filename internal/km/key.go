// Package km implements the Key Manager: deterministic key identity,
// confidentiality of material at rest under a pluggable master key, and
// full lifecycle management (generate/get/list/rotate/revoke/backup/
// restore/maintenance).
package km

import "time"

// Purpose identifies what an EncryptionKey is used for.
type Purpose string

const (
	PurposeAuditIntegrity Purpose = "audit_integrity"
	PurposeDataAtRest     Purpose = "data_at_rest"
	PurposeTokenization   Purpose = "tokenization"
	PurposeCommunity      Purpose = "community"
)

// Classification mirrors the DTE's field classification tiers, recorded on
// the key so callers can reason about which keys protect which sensitivity
// tier.
type Classification string

const (
	ClassificationPublic       Classification = "public"
	ClassificationSensitive    Classification = "sensitive"
	ClassificationConfidential Classification = "confidential"
	ClassificationSacred       Classification = "sacred"
)

// Status is a key's lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusRotated Status = "rotated"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// Algorithm identifies the AEAD cipher used to seal a key's material.
type Algorithm string

const (
	AlgorithmAESGCM          Algorithm = "aes-256-gcm"
	AlgorithmChaCha20Poly1305 Algorithm = "chacha20-poly1305"
)

// KeySize returns the required symmetric key size in bytes for alg.
func (a Algorithm) KeySize() int {
	switch a {
	case AlgorithmAESGCM, AlgorithmChaCha20Poly1305:
		return 32
	default:
		return 32
	}
}

// Key is the Key Manager's view of an EncryptionKey: material is the raw
// plaintext symmetric key, populated only while held in the in-process LRU
// cache or immediately after unsealing — it is never the wire/storage
// representation (see sealedKey for that).
type Key struct {
	ID             string
	Algorithm      Algorithm
	Material       []byte
	Classification Classification
	Purpose        Purpose
	CommunityID    string
	CreatedAt      time.Time
	RotatedAt      *time.Time
	ExpiresAt      time.Time
	Status         Status
	// PredecessorID is set on a key produced by rotate(), pointing back to
	// the key it replaced, so grace-window lookups can find it.
	PredecessorID string
	// SuccessorID is set on a rotated key, pointing forward to its
	// replacement.
	SuccessorID string
}

// Redact returns a copy of k with Material cleared, safe to log or audit.
func (k Key) Redact() Key {
	k.Material = nil
	return k
}
