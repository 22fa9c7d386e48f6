package km

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealUnsealRoundTrip(t *testing.T) {
	dek, err := generateMaterial(AlgorithmAESGCM)
	require.NoError(t, err)

	nonce, ciphertext, err := sealMaterial(AlgorithmAESGCM, dek, []byte("key-1"), []byte("top secret"))
	require.NoError(t, err)

	plaintext, err := unsealMaterial(AlgorithmAESGCM, dek, []byte("key-1"), nonce, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "top secret", string(plaintext))
}

func TestUnsealFailsOnKeyIDMismatch(t *testing.T) {
	dek, err := generateMaterial(AlgorithmAESGCM)
	require.NoError(t, err)

	nonce, ciphertext, err := sealMaterial(AlgorithmAESGCM, dek, []byte("key-1"), []byte("top secret"))
	require.NoError(t, err)

	_, err = unsealMaterial(AlgorithmAESGCM, dek, []byte("key-2"), nonce, ciphertext)
	assert.Error(t, err)
}

func TestUnsealFailsOnTamperedCiphertext(t *testing.T) {
	dek, err := generateMaterial(AlgorithmAESGCM)
	require.NoError(t, err)

	nonce, ciphertext, err := sealMaterial(AlgorithmAESGCM, dek, []byte("key-1"), []byte("top secret"))
	require.NoError(t, err)
	ciphertext[0] ^= 0xFF

	_, err = unsealMaterial(AlgorithmAESGCM, dek, []byte("key-1"), nonce, ciphertext)
	assert.Error(t, err)
}

func TestSealUnsealChaCha20Poly1305(t *testing.T) {
	dek, err := generateMaterial(AlgorithmChaCha20Poly1305)
	require.NoError(t, err)

	nonce, ciphertext, err := sealMaterial(AlgorithmChaCha20Poly1305, dek, []byte("key-1"), []byte("data"))
	require.NoError(t, err)

	plaintext, err := unsealMaterial(AlgorithmChaCha20Poly1305, dek, []byte("key-1"), nonce, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "data", string(plaintext))
}
