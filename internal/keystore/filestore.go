package keystore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"snapsafe/internal/cryptographic/encryption"
	"snapsafe/internal/cryptographic/kdf"
)

const (
	SaltSize = 32
	saltFile = ".salt"
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// EncryptedFileStore keeps each entry in its own file, encrypted at rest
// with AES-256-GCM under a key derived from a passphrase.
//
// File layout: nonce (12 bytes) || ciphertext || tag (16 bytes). The entry
// name is bound as associated data so files cannot be swapped.
type EncryptedFileStore struct {
	dir    string
	master []byte
}

func NewEncryptedFileStore(dir string, passphrase []byte) (*EncryptedFileStore, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &EncryptedFileStore{dir: dir}

	salt, err := s.loadOrGenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize salt: %w", err)
	}

	s.master = kdf.Passphrase(passphrase, salt)
	return s, nil
}

func (s *EncryptedFileStore) Get(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.path(name)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) < encryption.NonceSize {
		return "", fmt.Errorf("entry %s is truncated", name)
	}

	key, err := kdf.SubKey(s.master, name)
	if err != nil {
		return "", err
	}
	defer encryption.Wipe(key)

	plain, err := encryption.AEADDecrypt(key, data[:encryption.NonceSize], data[encryption.NonceSize:], []byte(name))
	if err != nil {
		return "", fmt.Errorf("decrypt %s (wrong passphrase?): %w", name, err)
	}
	return string(plain), nil
}

func (s *EncryptedFileStore) Set(ctx context.Context, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(name)
	if err != nil {
		return err
	}

	key, err := kdf.SubKey(s.master, name)
	if err != nil {
		return err
	}
	defer encryption.Wipe(key)

	nonce, err := encryption.NewNonce()
	if err != nil {
		return err
	}
	ct, err := encryption.AEADEncrypt(key, nonce, []byte(value), []byte(name))
	if err != nil {
		return err
	}

	// Write-then-rename so a crash never leaves a half-written key file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(nonce, ct...), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

func (s *EncryptedFileStore) path(name string) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("invalid entry name %q", name)
	}
	return filepath.Join(s.dir, name+".enc"), nil
}

func (s *EncryptedFileStore) loadOrGenerateSalt() ([]byte, error) {
	path := filepath.Join(s.dir, saltFile)

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != SaltSize {
			return nil, fmt.Errorf("salt file has %d bytes, want %d", len(data), SaltSize)
		}
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read salt file: %w", err)
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write salt file: %w", err)
	}
	return salt, nil
}
