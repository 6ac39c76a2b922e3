package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestAesGcm_RoundTrip(t *testing.T) {
	svc, err := NewAesGcmService(testKey)
	require.NoError(t, err)

	ciphertext, err := svc.Encrypt("super-secret-refresh-token")
	require.NoError(t, err)
	assert.NotEqual(t, "super-secret-refresh-token", ciphertext)

	plaintext, err := svc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-refresh-token", plaintext)
}

func TestAesGcm_UniqueNonces(t *testing.T) {
	svc, err := NewAesGcmService(testKey)
	require.NoError(t, err)

	a, err := svc.Encrypt("same input")
	require.NoError(t, err)
	b, err := svc.Encrypt("same input")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "each encryption must use a fresh nonce")
}

func TestAesGcm_TamperedCiphertext(t *testing.T) {
	svc, err := NewAesGcmService(testKey)
	require.NoError(t, err)

	ciphertext, err := svc.Encrypt("token")
	require.NoError(t, err)

	tampered := strings.Replace(ciphertext[:8], "a", "b", 1) + ciphertext[8:]
	if tampered == ciphertext {
		tampered = "00" + ciphertext[2:]
	}

	_, err = svc.Decrypt(tampered)
	assert.Error(t, err)
}

func TestAesGcm_InvalidKey(t *testing.T) {
	_, err := NewAesGcmService("not-hex")
	assert.Error(t, err)

	_, err = NewAesGcmService("abcd")
	assert.Error(t, err)

	// AES-128-length keys are rejected; only 256-bit keys are accepted.
	_, err = NewAesGcmService(strings.Repeat("ab", 16))
	assert.Error(t, err)
}

func TestNoop_PassThrough(t *testing.T) {
	svc := NoopService{}

	ciphertext, err := svc.Encrypt("value")
	require.NoError(t, err)
	assert.Equal(t, "value", ciphertext)

	plaintext, err := svc.Decrypt("value")
	require.NoError(t, err)
	assert.Equal(t, "value", plaintext)
}
