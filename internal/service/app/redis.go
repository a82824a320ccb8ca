package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"snapsafe/internal/cryptographic/encryption"
	"snapsafe/internal/model"
	"snapsafe/internal/service/redis"
	"time"
)

const DefaultCacheTTL = 7 * 24 * time.Hour

var errCacheCorrupt = errors.New("thread cache entry is corrupt")

// ThreadCache keeps decrypted conversations in Redis so that drained
// messages survive a client restart. The relay deletes envelopes once
// delivered, this is the only copy. Snapshots are sealed with AES-256-GCM
// under a device-local key before they leave the process.
type ThreadCache struct {
	redisService *redis.RedisService
	key          []byte
	ttl          time.Duration
}

func NewThreadCache(redisService *redis.RedisService, key []byte, ttl time.Duration) *ThreadCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ThreadCache{
		redisService: redisService,
		key:          key,
		ttl:          ttl,
	}
}

func threadsKey(identity string) string {
	return fmt.Sprintf("threads:%s", identity)
}

func (c *ThreadCache) SaveThreads(ctx context.Context, identity string, threads []*model.Thread) error {
	data, err := json.Marshal(threads)
	if err != nil {
		return err
	}
	defer encryption.Wipe(data)

	nonce, err := encryption.NewNonce()
	if err != nil {
		return err
	}

	// The redis key is bound as associated data so a snapshot cannot be
	// replayed under another identity.
	key := threadsKey(identity)
	ct, err := encryption.AEADEncrypt(c.key, nonce, data, []byte(key))
	if err != nil {
		return err
	}

	return c.redisService.Set(ctx, key, append(nonce, ct...), c.ttl)
}

// LoadThreads returns nil without error when nothing is cached.
func (c *ThreadCache) LoadThreads(ctx context.Context, identity string) ([]*model.Thread, error) {
	key := threadsKey(identity)
	v, err := c.redisService.Get(ctx, key)
	if redis.IsNil(err) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	if len(v) < encryption.NonceSize {
		return nil, errCacheCorrupt
	}
	data, err := encryption.AEADDecrypt(c.key, []byte(v[:encryption.NonceSize]), []byte(v[encryption.NonceSize:]), []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errCacheCorrupt, err)
	}
	defer encryption.Wipe(data)

	var threads []*model.Thread
	err = json.Unmarshal(data, &threads)
	if err != nil {
		return nil, err
	}

	return threads, nil
}
