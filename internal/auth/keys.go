package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// KeyPair holds the ED25519 key pair used for JWT signing.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeyPair generates a new ED25519 key pair for JWT signing.
func GenerateKeyPair() (*KeyPair, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ED25519 keys: %w", err)
	}

	return &KeyPair{
		PublicKey:  pubKey,
		PrivateKey: privKey,
	}, nil
}

// KeyPairFromSeed derives the key pair from a base64 encoded 32-byte seed. An
// empty seed generates a fresh pair, so tokens do not survive a restart.
func KeyPairFromSeed(encoded string) (*KeyPair, error) {
	if encoded == "" {
		return GenerateKeyPair()
	}

	seed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signing key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid signing key size: got %d, want %d", len(seed), ed25519.SeedSize)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{
		PublicKey:  priv.Public().(ed25519.PublicKey),
		PrivateKey: priv,
	}, nil
}

// TokenConfig returns a token configuration signing with this pair
func (kp *KeyPair) TokenConfig(issuer string) *TokenConfig {
	return &TokenConfig{
		Issuer:       issuer,
		TTL:          DefaultTokenTTL,
		SigningKey:   kp.PrivateKey,
		VerifyingKey: kp.PublicKey,
	}
}
