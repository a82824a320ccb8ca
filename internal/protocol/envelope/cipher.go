// Package envelope implements hybrid encryption of message payloads: each
// payload gets a fresh AES-256-GCM key which is wrapped with the recipient's
// RSA-OAEP public key.
package envelope

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"

	"snapsafe/internal/cryptographic/encryption"
	"snapsafe/internal/cryptographic/oaep"
	"snapsafe/internal/model"
)

// ErrDecryptionFailed is returned by Open for any malformed, tampered or
// misaddressed envelope.
var ErrDecryptionFailed = errors.New("decryption failed")

var encoding = base64.StdEncoding

// Seal encrypts plaintext for the holder of recipient's private key.
func Seal(plaintext []byte, recipient *rsa.PublicKey) (*model.Sealed, error) {
	if recipient == nil {
		return nil, fmt.Errorf("seal: nil recipient key")
	}

	key, err := encryption.NewKey()
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	defer encryption.Wipe(key)

	nonce, err := encryption.NewNonce()
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}

	ciphertext, err := encryption.AEADEncrypt(key, nonce, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}

	wrapped, err := oaep.Wrap(recipient, key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}

	return &model.Sealed{
		IV:         encoding.EncodeToString(nonce),
		WrappedKey: encoding.EncodeToString(wrapped),
		Ciphertext: encoding.EncodeToString(ciphertext),
	}, nil
}

// Open recovers the plaintext of s with the recipient's own private key.
// Every failure wraps ErrDecryptionFailed.
func Open(s *model.Sealed, own *rsa.PrivateKey) ([]byte, error) {
	if s == nil || own == nil {
		return nil, fmt.Errorf("%w: missing envelope or key", ErrDecryptionFailed)
	}

	nonce, err := encoding.DecodeString(s.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: iv: %v", ErrDecryptionFailed, err)
	}
	wrapped, err := encoding.DecodeString(s.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: wrapped key: %v", ErrDecryptionFailed, err)
	}
	ciphertext, err := encoding.DecodeString(s.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrDecryptionFailed, err)
	}

	key, err := oaep.Unwrap(own, wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	defer encryption.Wipe(key)

	plain, err := encryption.AEADDecrypt(key, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plain, nil
}
