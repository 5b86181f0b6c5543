// Package keys implements the Ed25519 trust layer: key generation, public
// key stores with memory and file backends, and the signed payload envelope
// wrapping every sensitive message.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Key is an Ed25519 key pair as it appears in config files. The private
// part is the base64-encoded 32-byte seed; the public part is the
// base64-encoded public key, kept alongside so it can be handed to other
// parties without touching the seed.
type Key struct {
	ID         string `yaml:"id"`
	PrivateKey string `yaml:"private_key"`
	PublicKey  string `yaml:"public_key,omitempty"`
}

// Generate creates a fresh key pair named id.
func Generate(id string) (Key, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Key{}, fmt.Errorf("generating key %s: %w", id, err)
	}
	return Key{
		ID:         id,
		PrivateKey: base64.StdEncoding.EncodeToString(priv.Seed()),
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
	}, nil
}

// Signer decodes the private seed into a usable signing key.
func (k Key) Signer() (ed25519.PrivateKey, error) {
	seed, err := base64.StdEncoding.DecodeString(k.PrivateKey)
	if err != nil {
		return nil, &KeyEncodingError{ID: k.ID, Err: err}
	}
	if len(seed) != ed25519.SeedSize {
		return nil, &KeyEncodingError{ID: k.ID, Err: fmt.Errorf("seed is %d bytes, want %d", len(seed), ed25519.SeedSize)}
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Public returns the raw public key bytes. It prefers the stored public
// part and falls back to deriving it from the seed.
func (k Key) Public() ([]byte, error) {
	if k.PublicKey != "" {
		pub, err := base64.StdEncoding.DecodeString(k.PublicKey)
		if err != nil {
			return nil, &KeyEncodingError{ID: k.ID, Err: err}
		}
		return pub, nil
	}
	priv, err := k.Signer()
	if err != nil {
		return nil, err
	}
	return priv.Public().(ed25519.PublicKey), nil
}
