package vault

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte("k"), 32)
}

func TestRoundTrip(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	plaintext := []byte("sk-test-api-key-123")
	ciphertext, err := v.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	got, err := v.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	v1, err := New(testKey())
	require.NoError(t, err)
	v2, err := New(bytes.Repeat([]byte("x"), 32))
	require.NoError(t, err)

	ciphertext, err := v1.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = v2.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrCrypto)
}

func TestDecryptCorruptedFails(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	ciphertext, err := v.Encrypt([]byte("secret"))
	require.NoError(t, err)

	corrupted := append([]byte(nil), ciphertext...)
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err = v.Decrypt(corrupted)
	assert.ErrorIs(t, err, ErrCrypto)
}

func TestDecryptTruncatedFails(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	_, err = v.Decrypt([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCrypto)
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New([]byte("too-short"))
	assert.Error(t, err)
}
