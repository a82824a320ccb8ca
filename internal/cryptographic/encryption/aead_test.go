package encryption

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAEAD_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext []byte
		aad       []byte
	}{
		{"empty", []byte{}, nil},
		{"simple", []byte("hello world"), nil},
		{"with aad", []byte("payload"), []byte("header")},
		{"large", make([]byte, 10000), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := NewKey()
			require.NoError(t, err)
			nonce, err := NewNonce()
			require.NoError(t, err)

			ct, err := AEADEncrypt(key, nonce, tt.plaintext, tt.aad)
			require.NoError(t, err)
			assert.Len(t, ct, len(tt.plaintext)+TagSize)

			plain, err := AEADDecrypt(key, nonce, ct, tt.aad)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tt.plaintext, plain))
		})
	}
}

func TestAEADDecrypt_Failures(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)
	nonce, err := NewNonce()
	require.NoError(t, err)
	ct, err := AEADEncrypt(key, nonce, []byte("secret"), []byte("aad"))
	require.NoError(t, err)

	otherKey, err := NewKey()
	require.NoError(t, err)

	_, err = AEADDecrypt(otherKey, nonce, ct, []byte("aad"))
	assert.ErrorIs(t, err, ErrOpenFailed)

	_, err = AEADDecrypt(key, nonce, ct, []byte("other"))
	assert.ErrorIs(t, err, ErrOpenFailed)

	_, err = AEADDecrypt(key, nonce, ct[:TagSize-1], []byte("aad"))
	assert.Error(t, err)

	_, err = AEADDecrypt(key[:16], nonce, ct, []byte("aad"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = AEADDecrypt(key, nonce[:8], ct, []byte("aad"))
	assert.ErrorIs(t, err, ErrInvalidNonceSize)
}

func TestNewKey_Random(t *testing.T) {
	k1, err := NewKey()
	require.NoError(t, err)
	k2, err := NewKey()
	require.NoError(t, err)

	assert.Len(t, k1, KeySize)
	assert.NotEqual(t, k1, k2)
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3}
	Wipe(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
