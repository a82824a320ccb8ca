package oaep

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

const (
	// DefaultBits is the modulus size of newly generated identity keys.
	DefaultBits = 2048
	// MinBits is the smallest modulus accepted for a recipient key.
	MinBits = 2048
)

// label is empty to stay interoperable with WebCrypto RSA-OAEP.
var label []byte

func GenerateKey(bits int) (*rsa.PrivateKey, error) {
	if bits < MinBits {
		return nil, fmt.Errorf("rsa key size %d below minimum %d", bits, MinBits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("rsa.GenerateKey: %w", err)
	}
	return priv, nil
}

// Wrap encrypts a symmetric key under pub with RSA-OAEP-SHA256.
func Wrap(pub *rsa.PublicKey, key []byte) ([]byte, error) {
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, label)
	if err != nil {
		return nil, fmt.Errorf("rsa.EncryptOAEP: %w", err)
	}
	return wrapped, nil
}

func Unwrap(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, label)
	if err != nil {
		return nil, fmt.Errorf("rsa.DecryptOAEP: %w", err)
	}
	return key, nil
}
