package keystore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"snapsafe/internal/cryptographic/encryption"
	"snapsafe/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	IdentityEntry = "identity"
	CacheKeyEntry = "thread-cache-key"
)

// Identity returns the identity the client runs as. A configured identity
// is stored and wins; otherwise the stored one is used, and a random UUID
// is generated and stored on first use. The keypair and the identity must
// stay together: the relay files envelopes under the identity only.
func Identity(ctx context.Context, store SecureStore, configured string) (string, error) {
	if configured != "" {
		if err := store.Set(ctx, IdentityEntry, configured); err != nil {
			return "", unavailable("persist identity", err)
		}
		return configured, nil
	}

	return loadOrCreateEntry(ctx, store, IdentityEntry, func() (string, error) {
		id := uuid.NewString()
		log.Info("generated identity", zap.String("identity", id))
		return id, nil
	})
}

// CacheKey returns the AES-256 key protecting locally cached
// conversations, generated on first use.
func CacheKey(ctx context.Context, store SecureStore) ([]byte, error) {
	raw, err := loadOrCreateEntry(ctx, store, CacheKeyEntry, func() (string, error) {
		key, err := encryption.NewKey()
		if err != nil {
			return "", err
		}
		defer encryption.Wipe(key)
		return base64.StdEncoding.EncodeToString(key), nil
	})
	if err != nil {
		return nil, err
	}

	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(key) != encryption.KeySize {
		return nil, fmt.Errorf("%w: stored cache key is malformed", ErrKeyStoreUnavailable)
	}
	return key, nil
}

func loadOrCreateEntry(ctx context.Context, store SecureStore, name string, generate func() (string, error)) (string, error) {
	v, err := store.Get(ctx, name)
	if err == nil && v != "" {
		return v, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", unavailable("read "+name, err)
	}

	v, err = generate()
	if err != nil {
		return "", fmt.Errorf("%w: generate %s: %v", ErrKeyStoreUnavailable, name, err)
	}
	if err := store.Set(ctx, name, v); err != nil {
		return "", unavailable("persist "+name, err)
	}
	return v, nil
}
