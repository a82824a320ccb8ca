// Package jwk converts RSA-OAEP identity keys to and from the JSON Web Key
// objects exchanged with the directory and kept in the local secure store.
package jwk

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"

	"snapsafe/internal/cryptographic/oaep"

	jose "github.com/go-jose/go-jose/v4"
)

// Algorithm is the JWK "alg" for RSA-OAEP with SHA-256.
const Algorithm = "RSA-OAEP-256"

var ErrInvalidKey = errors.New("invalid JWK")

func MarshalPublic(pub *rsa.PublicKey) (json.RawMessage, error) {
	k := jose.JSONWebKey{Key: pub, Algorithm: Algorithm, Use: "enc"}
	return k.MarshalJSON()
}

func MarshalPrivate(priv *rsa.PrivateKey) (json.RawMessage, error) {
	k := jose.JSONWebKey{Key: priv, Algorithm: Algorithm, Use: "enc"}
	return k.MarshalJSON()
}

// ParsePublic accepts only RSA public keys of at least oaep.MinBits. A
// private JWK is rejected so it can never be published by mistake.
func ParsePublic(raw []byte) (*rsa.PublicKey, error) {
	var k jose.JSONWebKey
	if err := k.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	pub, ok := k.Key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: want RSA public key, got %T", ErrInvalidKey, k.Key)
	}
	if pub.N.BitLen() < oaep.MinBits {
		return nil, fmt.Errorf("%w: modulus %d bits, want at least %d", ErrInvalidKey, pub.N.BitLen(), oaep.MinBits)
	}
	return pub, nil
}

func ParsePrivate(raw []byte) (*rsa.PrivateKey, error) {
	var k jose.JSONWebKey
	if err := k.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	priv, ok := k.Key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: want RSA private key, got %T", ErrInvalidKey, k.Key)
	}
	return priv, nil
}
