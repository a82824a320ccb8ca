package app

import (
	"context"
	"crypto/rsa"
	"sync"
	"testing"

	"snapsafe/internal/cryptographic/oaep"
	"snapsafe/internal/keystore"
	"snapsafe/internal/model"
	"snapsafe/internal/protocol/envelope"

	"github.com/stretchr/testify/require"
)

var (
	keysOnce sync.Once
	keys     [2]*rsa.PrivateKey
)

// testKeys returns two RSA keys shared by the whole package's tests.
func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keysOnce.Do(func() {
		for i := range keys {
			k, err := oaep.GenerateKey(oaep.DefaultBits)
			if err != nil {
				panic(err)
			}
			keys[i] = k
		}
	})
	return keys[0], keys[1]
}

func seal(t *testing.T, from, to string, pub *rsa.PublicKey, p model.Payload, createdAtMs int64) *model.Envelope {
	t.Helper()
	sealed, err := envelope.Seal(p.Bytes(), pub)
	require.NoError(t, err)
	return &model.Envelope{
		SenderID:    from,
		RecipientID: to,
		Sealed:      *sealed,
		Kind:        p.Kind(),
		CreatedAt:   model.FromUnixMillis(createdAtMs),
	}
}

type memStore struct {
	mu      sync.Mutex
	entries map[string]string
	err     error
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]string)}
}

func (m *memStore) Get(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.entries[name]
	if !ok {
		return "", keystore.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries[name] = value
	return nil
}
