package keystore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string]string
	getErr  error
	setErr  error
	sets    int
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]string)}
}

func (m *memStore) Get(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.entries[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.sets++
	m.entries[name] = value
	return nil
}

func TestLoadOrCreate_GeneratesAndPersists(t *testing.T) {
	store := newMemStore()
	ks := New(store)
	ctx := context.Background()

	assert.Nil(t, ks.KeyPair())

	pair, err := ks.LoadOrCreate(ctx)
	require.NoError(t, err)
	require.NotNil(t, pair.Private)
	assert.True(t, pair.Public.Equal(&pair.Private.PublicKey))
	assert.Equal(t, 2048, pair.Public.N.BitLen())
	assert.Contains(t, store.entries, PrivateKeyEntry)
	assert.Contains(t, store.entries, PublicKeyEntry)
	assert.JSONEq(t, store.entries[PublicKeyEntry], string(pair.PublicJWK))
	assert.Same(t, pair, ks.KeyPair())
}

func TestLoadOrCreate_Idempotent(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	first, err := New(store).LoadOrCreate(ctx)
	require.NoError(t, err)
	setsAfterCreate := store.sets

	// A fresh KeyStore over the same storage must load, not regenerate.
	second, err := New(store).LoadOrCreate(ctx)
	require.NoError(t, err)

	assert.True(t, first.Private.Equal(second.Private))
	assert.Equal(t, setsAfterCreate, store.sets)
}

func TestLoadOrCreate_StorageUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("read error", func(t *testing.T) {
		store := newMemStore()
		store.getErr = errors.New("keychain locked")

		_, err := New(store).LoadOrCreate(ctx)
		assert.ErrorIs(t, err, ErrKeyStoreUnavailable)
	})

	t.Run("write error", func(t *testing.T) {
		store := newMemStore()
		store.setErr = errors.New("disk full")
		ks := New(store)

		pair, err := ks.LoadOrCreate(ctx)
		assert.ErrorIs(t, err, ErrKeyStoreUnavailable)
		assert.Nil(t, pair)
		assert.Nil(t, ks.KeyPair(), "an unpersisted key must not be cached")
	})
}

func TestLoadOrCreate_CorruptEntry(t *testing.T) {
	store := newMemStore()
	store.entries[PrivateKeyEntry] = "{not json"
	store.entries[PublicKeyEntry] = "{}"

	_, err := New(store).LoadOrCreate(context.Background())
	assert.ErrorIs(t, err, ErrKeyStoreUnavailable)
	assert.Equal(t, 0, store.sets, "corrupt keys must not be silently replaced")
}

func TestLoadOrCreate_MismatchedHalves(t *testing.T) {
	ctx := context.Background()
	a := newMemStore()
	b := newMemStore()
	_, err := New(a).LoadOrCreate(ctx)
	require.NoError(t, err)
	_, err = New(b).LoadOrCreate(ctx)
	require.NoError(t, err)

	mixed := newMemStore()
	mixed.entries[PrivateKeyEntry] = a.entries[PrivateKeyEntry]
	mixed.entries[PublicKeyEntry] = b.entries[PublicKeyEntry]

	_, err = New(mixed).LoadOrCreate(ctx)
	assert.ErrorIs(t, err, ErrKeyStoreUnavailable)
}

func TestLoadOrCreate_RestoresMissingPublicHalf(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	first, err := New(store).LoadOrCreate(ctx)
	require.NoError(t, err)

	delete(store.entries, PublicKeyEntry)
	sets := store.sets

	pair, err := New(store).LoadOrCreate(ctx)
	require.NoError(t, err)
	assert.True(t, pair.Private.Equal(first.Private), "private key must be kept")
	assert.True(t, pair.Public.Equal(first.Public))
	assert.Equal(t, sets+1, store.sets, "only the public half is written")
	assert.JSONEq(t, string(first.PublicJWK), store.entries[PublicKeyEntry])
}

func TestIdentity_GeneratedOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	id, err := Identity(ctx, store, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	again, err := Identity(ctx, store, "")
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestIdentity_ConfiguredWins(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	_, err := Identity(ctx, store, "")
	require.NoError(t, err)

	id, err := Identity(ctx, store, "+15550100")
	require.NoError(t, err)
	assert.Equal(t, "+15550100", id)

	// remembered for the next run without a flag
	id, err = Identity(ctx, store, "")
	require.NoError(t, err)
	assert.Equal(t, "+15550100", id)
}

func TestIdentity_StoreUnavailable(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("disk gone")

	_, err := Identity(context.Background(), store, "")
	assert.ErrorIs(t, err, ErrKeyStoreUnavailable)
}

func TestCacheKey(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	key, err := CacheKey(ctx, store)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	again, err := CacheKey(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	store.entries[CacheKeyEntry] = "c2hvcnQ="
	_, err = CacheKey(ctx, store)
	assert.ErrorIs(t, err, ErrKeyStoreUnavailable)
}
