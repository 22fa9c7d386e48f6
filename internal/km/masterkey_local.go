package km

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/altairalabs/finguard/internal/fgerr"
)

// localMasterKeyProvider seals DEKs with AES-256-GCM under a master key
// held in process memory. This is the dev/test backend and the fallback
// when no cloud KMS is configured; production deployments are expected to
// select one of the cloud-backed providers below.
type localMasterKeyProvider struct {
	mu        sync.RWMutex
	masterKey []byte
	keyRef    string
}

func newLocalMasterKeyProvider(cfg MasterKeyConfig) (*localMasterKeyProvider, error) {
	mk := cfg.LocalMasterKey
	if len(mk) == 0 {
		mk = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, mk); err != nil {
			return nil, fmt.Errorf("%w: local master key generation: %v", fgerr.ErrIntegrity, err)
		}
	}
	if len(mk) != 32 {
		return nil, fmt.Errorf("%w: local master key must be 32 bytes, got %d", fgerr.ErrInvalidInput, len(mk))
	}
	ref := cfg.KeyRef
	if ref == "" {
		ref = "local-v1"
	}
	return &localMasterKeyProvider{masterKey: mk, keyRef: ref}, nil
}

func (p *localMasterKeyProvider) WrapDEK(_ context.Context, dek []byte) ([]byte, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	nonce, ciphertext, err := sealMaterial(AlgorithmAESGCM, p.masterKey, []byte(p.keyRef), dek)
	if err != nil {
		return nil, "", err
	}
	wrapped, err := marshalEnvelope(envelope{
		Version:      envelopeVersion,
		Algorithm:    AlgorithmAESGCM,
		Nonce:        nonce,
		Ciphertext:   ciphertext,
		MasterKeyRef: p.keyRef,
	})
	if err != nil {
		return nil, "", err
	}
	return wrapped, p.keyRef, nil
}

func (p *localMasterKeyProvider) UnwrapDEK(_ context.Context, wrapped []byte, keyRef string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	env, err := unmarshalEnvelope(wrapped)
	if err != nil {
		return nil, err
	}
	if keyRef != "" && env.MasterKeyRef != keyRef {
		return nil, fmt.Errorf("%w: master key reference mismatch", fgerr.ErrIntegrity)
	}
	return unsealMaterial(AlgorithmAESGCM, p.masterKey, []byte(env.MasterKeyRef), env.Nonce, env.Ciphertext)
}

func (p *localMasterKeyProvider) Name() string { return "local" }

func (p *localMasterKeyProvider) Close() error { return nil }
