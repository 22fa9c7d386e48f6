// Package config provides configuration management for the FinGuard core.
package config

import (
	"errors"
	"time"
)

// Options holds all configuration options for the FinGuard core.
type Options struct {
	// PostgresDSN is the connection string for the audit and policy stores.
	PostgresDSN string

	// RedisAddr names a Redis server for the distributed PDP decision cache.
	// cmd/finguard-core does not read it and always uses the in-process cache.
	RedisAddr string

	// TransformPresets names the compliance rule-table presets merged into
	// the DTE's default pipeline, in order.
	TransformPresets []string

	// KeyMaintenanceCron is the cron schedule on which the Key Manager's
	// maintenance pass (auto-rotation, backup purge) runs.
	KeyMaintenanceCron string

	// KeyStoreDir is the directory holding sealed per-key files (§6 persisted
	// state layout).
	KeyStoreDir string
	// KeyBackupDir is the directory holding timestamped key backup bundles.
	KeyBackupDir string

	// MasterKeyProvider selects the KM backend wrapping the master key:
	// "local", "aws-kms", "azure-keyvault", "gcp-kms", or "vault-transit".
	MasterKeyProvider string

	// KeyDefaultLifetime is the default expiresAt horizon for generated keys.
	KeyDefaultLifetime time.Duration
	// KeyRotationGraceWindow is how long a rotated-out key stays decryptable.
	KeyRotationGraceWindow time.Duration
	// KeyAutoRotateThreshold is the fraction of lifetime after which
	// maintenance() auto-rotates a key (0 disables auto-rotation).
	KeyAutoRotateThreshold float64
	// KeyBackupRetentionDays bounds how long backup bundles are retained.
	KeyBackupRetentionDays int

	// PDPCacheTTL bounds how long a cached Decision may be served.
	PDPCacheTTL time.Duration
	// PVSLockTimeout bounds a deploy's advisory-lock wait.
	PVSLockTimeout time.Duration
	// APSLockTimeout and APSTransactionTimeout bound an atomic policy set run.
	APSLockTimeout        time.Duration
	APSTransactionTimeout time.Duration

	// RetentionYearsDefault/Compliance/Indigenous are the three retention
	// tiers applied by the audit ledger at record time.
	RetentionYearsDefault    int
	RetentionYearsCompliance int
	RetentionYearsIndigenous int
}

// DefaultOptions returns Options with sensible defaults matching spec.md's
// stated soft targets and retention tiers.
func DefaultOptions() Options {
	return Options{
		TransformPresets:         []string{"privacy_act", "austrac", "care"},
		KeyMaintenanceCron:       "0 3 * * *",
		KeyStoreDir:              "./data/keys",
		KeyBackupDir:             "./data/keys/backup",
		MasterKeyProvider:        "local",
		KeyDefaultLifetime:       365 * 24 * time.Hour,
		KeyRotationGraceWindow:   30 * 24 * time.Hour,
		KeyAutoRotateThreshold:   0.9,
		KeyBackupRetentionDays:   180,
		PDPCacheTTL:              5 * time.Minute,
		PVSLockTimeout:           10 * time.Second,
		APSLockTimeout:           30 * time.Second,
		APSTransactionTimeout:    60 * time.Second,
		RetentionYearsDefault:    7,
		RetentionYearsCompliance: 10,
		RetentionYearsIndigenous: 50,
	}
}

var errInvalidAutoRotateThreshold = errors.New("config: KeyAutoRotateThreshold must be in [0, 1)")

// Validate checks whether Options are internally consistent.
func (o *Options) Validate() error {
	if o.KeyAutoRotateThreshold < 0 || o.KeyAutoRotateThreshold >= 1 {
		return errInvalidAutoRotateThreshold
	}
	return nil
}
