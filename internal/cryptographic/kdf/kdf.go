package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Argon2id parameters for passphrase stretching (RFC 9106 second recommended option).
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	KeySize      = 32
)

// HKDF fills buffer from HKDF-SHA256(secret, salt, info).
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// Passphrase stretches a user passphrase into a KeySize master key.
func Passphrase(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeySize)
}

// SubKey derives a KeySize key bound to label from master.
func SubKey(master []byte, label string) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := HKDF(master, nil, []byte(label), key); err != nil {
		return nil, err
	}
	return key, nil
}
