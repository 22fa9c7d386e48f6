package km

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/altairalabs/finguard/internal/fgerr"
)

const envelopeVersion = 1

// envelope is the local master key provider's wrapped-DEK format: the DEK
// sealed under the in-memory master key, with the master key reference
// bound as associated data so a DEK wrapped under another reference fails
// authentication. Key files on disk use sealedKey (store.go) instead.
type envelope struct {
	Version      int       `json:"version"`
	Algorithm    Algorithm `json:"algorithm"`
	WrappedDEK   []byte    `json:"wrappedDek"`
	Nonce        []byte    `json:"nonce"`
	Ciphertext   []byte    `json:"ciphertext"`
	MasterKeyRef string    `json:"masterKeyRef"`
}

func newAEAD(alg Algorithm, dek []byte) (cipher.AEAD, error) {
	switch alg {
	case AlgorithmChaCha20Poly1305:
		aead, err := chacha20poly1305.New(dek)
		if err != nil {
			return nil, fmt.Errorf("%w: chacha20poly1305 init: %v", fgerr.ErrIntegrity, err)
		}
		return aead, nil
	case AlgorithmAESGCM, "":
		block, err := aes.NewCipher(dek)
		if err != nil {
			return nil, fmt.Errorf("%w: aes cipher init: %v", fgerr.ErrIntegrity, err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("%w: gcm init: %v", fgerr.ErrIntegrity, err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", fgerr.ErrInvalidInput, alg)
	}
}

// sealMaterial encrypts plaintext under dek with keyID bound as associated
// data, returning the nonce and ciphertext (tag appended by Seal).
func sealMaterial(alg Algorithm, dek, keyID, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aead, err := newAEAD(alg, dek)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("%w: nonce generation: %v", fgerr.ErrIntegrity, err)
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, keyID)
	return nonce, ciphertext, nil
}

// unsealMaterial decrypts ciphertext under dek, validating that keyID
// matches the associated data bound at seal time. Any mismatch — wrong
// dek, flipped ciphertext byte, or substituted keyID — surfaces as
// ErrIntegrity per the Key Manager's KeyIntegrityError contract.
func unsealMaterial(alg Algorithm, dek, keyID, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(alg, dek)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed for key %q", fgerr.ErrIntegrity, keyID)
	}
	return plaintext, nil
}

func marshalEnvelope(env envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal envelope: %v", fgerr.ErrIntegrity, err)
	}
	return b, nil
}

func unmarshalEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: invalid envelope: %v", fgerr.ErrIntegrity, err)
	}
	if env.Version != envelopeVersion {
		return envelope{}, fmt.Errorf("%w: unsupported envelope version %d", fgerr.ErrIntegrity, env.Version)
	}
	return env, nil
}

// generateMaterial returns a cryptographically random key of the size
// required by alg.
func generateMaterial(alg Algorithm) ([]byte, error) {
	buf := make([]byte, alg.KeySize())
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("%w: key material generation: %v", fgerr.ErrIntegrity, err)
	}
	return buf, nil
}
