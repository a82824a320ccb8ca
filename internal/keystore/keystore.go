// Package keystore owns the client's long-lived RSA-OAEP identity keypair.
//
// A KeyStore goes through init -> ready exactly once per session: the first
// successful LoadOrCreate caches the pair and every later call returns it
// unchanged. The private half is only ever written to the SecureStore.
package keystore

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"snapsafe/internal/cryptographic/jwk"
	"snapsafe/internal/cryptographic/oaep"
	"snapsafe/internal/utils/log"

	"go.uber.org/zap"
)

const (
	PrivateKeyEntry = "rsa-private-jwk"
	PublicKeyEntry  = "rsa-public-jwk"
)

var (
	// ErrKeyStoreUnavailable means no usable keypair can be produced. It is
	// fatal for the session: no envelope can be sealed for or opened by us.
	ErrKeyStoreUnavailable = errors.New("key store unavailable")

	// ErrNotFound is returned by a SecureStore for a missing entry.
	ErrNotFound = errors.New("secure store: entry not found")
)

// SecureStore is the device-local secret storage the keypair lives in.
type SecureStore interface {
	Get(ctx context.Context, name string) (string, error)
	Set(ctx context.Context, name, value string) error
}

type KeyPair struct {
	Public    *rsa.PublicKey
	Private   *rsa.PrivateKey
	PublicJWK json.RawMessage
}

type KeyStore struct {
	store SecureStore
	bits  int

	mu   sync.Mutex
	pair *KeyPair
}

func New(store SecureStore) *KeyStore {
	return &KeyStore{
		store: store,
		bits:  oaep.DefaultBits,
	}
}

// LoadOrCreate returns the persisted keypair, generating and persisting a
// new one on first use.
func (k *KeyStore) LoadOrCreate(ctx context.Context) (*KeyPair, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.pair != nil {
		return k.pair, nil
	}

	pair, err := k.load(ctx)
	if errors.Is(err, ErrNotFound) {
		pair, err = k.create(ctx)
	}
	if err != nil {
		return nil, err
	}

	k.pair = pair
	return pair, nil
}

// KeyPair returns the cached pair or nil before LoadOrCreate succeeded.
func (k *KeyStore) KeyPair() *KeyPair {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pair
}

func (k *KeyStore) load(ctx context.Context) (*KeyPair, error) {
	rawPriv, err := k.store.Get(ctx, PrivateKeyEntry)
	if err != nil {
		return nil, unavailable("read private key", err)
	}
	priv, err := jwk.ParsePrivate([]byte(rawPriv))
	if err != nil {
		return nil, fmt.Errorf("%w: stored private key: %v", ErrKeyStoreUnavailable, err)
	}

	rawPub, err := k.store.Get(ctx, PublicKeyEntry)
	if errors.Is(err, ErrNotFound) {
		return k.restorePublic(ctx, priv)
	}
	if err != nil {
		return nil, unavailable("read public key", err)
	}

	pub, err := jwk.ParsePublic([]byte(rawPub))
	if err != nil {
		return nil, fmt.Errorf("%w: stored public key: %v", ErrKeyStoreUnavailable, err)
	}
	if !priv.PublicKey.Equal(pub) {
		return nil, fmt.Errorf("%w: stored key halves do not match", ErrKeyStoreUnavailable)
	}

	log.Debug("loaded identity keypair")
	return &KeyPair{Public: pub, Private: priv, PublicJWK: json.RawMessage(rawPub)}, nil
}

// restorePublic rewrites a lost public entry from the private key, which
// keeps the identity's key instead of replacing it.
func (k *KeyStore) restorePublic(ctx context.Context, priv *rsa.PrivateKey) (*KeyPair, error) {
	log.Warn("public key entry missing, restoring it from the private key")

	pubJWK, err := jwk.MarshalPublic(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	if err := k.store.Set(ctx, PublicKeyEntry, string(pubJWK)); err != nil {
		return nil, fmt.Errorf("%w: persist public key: %v", ErrKeyStoreUnavailable, err)
	}
	return &KeyPair{Public: &priv.PublicKey, Private: priv, PublicJWK: pubJWK}, nil
}

func (k *KeyStore) create(ctx context.Context) (*KeyPair, error) {
	log.Info("generating identity keypair", zap.Int("bits", k.bits))

	priv, err := oaep.GenerateKey(k.bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}

	privJWK, err := jwk.MarshalPrivate(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	pubJWK, err := jwk.MarshalPublic(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}

	if err := k.store.Set(ctx, PrivateKeyEntry, string(privJWK)); err != nil {
		return nil, fmt.Errorf("%w: persist private key: %v", ErrKeyStoreUnavailable, err)
	}
	if err := k.store.Set(ctx, PublicKeyEntry, string(pubJWK)); err != nil {
		return nil, fmt.Errorf("%w: persist public key: %v", ErrKeyStoreUnavailable, err)
	}

	return &KeyPair{Public: &priv.PublicKey, Private: priv, PublicJWK: pubJWK}, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrKeyStoreUnavailable, op, err)
}
