package km

import (
	"context"
	"fmt"
)

// MasterKeyProvider wraps and unwraps per-key data encryption keys (DEKs)
// under a master key held outside the process: a cloud KMS, an HSM, or (for
// local/dev use) a key held in process memory. The Key Manager always
// encrypts key material locally with the DEK; the provider only ever
// touches the much smaller DEK, so network calls happen once per
// generate/rotate rather than once per seal.
type MasterKeyProvider interface {
	// WrapDEK encrypts dek under the master key, returning an opaque
	// wrapped blob and a reference to the master key version used, so
	// later rotation of the master key itself can be detected.
	WrapDEK(ctx context.Context, dek []byte) (wrapped []byte, keyRef string, err error)
	// UnwrapDEK decrypts a blob produced by WrapDEK.
	UnwrapDEK(ctx context.Context, wrapped []byte, keyRef string) (dek []byte, err error)
	// Name identifies the backend, e.g. "local", "aws-kms".
	Name() string
	// Close releases any resources (network clients) held by the provider.
	Close() error
}

// MasterKeyConfig selects and configures a MasterKeyProvider backend.
type MasterKeyConfig struct {
	// Backend is one of "local", "aws-kms", "azure-keyvault", "gcp-kms",
	// "vault-transit".
	Backend string
	// KeyRef identifies the master key at the backend (ARN, vault URL +
	// key name, key resource name, etc.), unused for "local".
	KeyRef string
	// Region is required by aws-kms.
	Region string
	// Credentials carries backend-specific secrets (access keys, vault
	// tokens, service account JSON) sourced from the deployment's secret
	// store rather than from flags.
	Credentials map[string]string
	// LocalMasterKey seeds the "local" backend's in-memory master key; if
	// empty one is generated. Intended for dev and tests only.
	LocalMasterKey []byte
}

// NewMasterKeyProvider builds the provider selected by cfg.Backend.
func NewMasterKeyProvider(cfg MasterKeyConfig) (MasterKeyProvider, error) {
	switch cfg.Backend {
	case "", "local":
		return newLocalMasterKeyProvider(cfg)
	case "aws-kms":
		return newAWSMasterKeyProvider(cfg)
	case "azure-keyvault":
		return newAzureMasterKeyProvider(cfg)
	case "gcp-kms":
		return newGCPMasterKeyProvider(cfg)
	case "vault-transit":
		return newVaultMasterKeyProvider(cfg)
	default:
		return nil, fmt.Errorf("km: unknown master key backend %q", cfg.Backend)
	}
}
