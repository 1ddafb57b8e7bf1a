// Package keypair holds the peer's Ed25519 identity: signing, verification,
// and peer-id derivation.
package keypair

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multihash"
)

// KeyPair wraps an Ed25519 key pair belonging to one peer.
type KeyPair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
	peerID  string
}

// Generate produces a fresh random Ed25519 identity.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return fromKeys(pub, priv)
}

// FromSeed deterministically derives a KeyPair from a 32-byte Ed25519 seed.
// Used by tests and by operators who want a stable peer id across restarts.
func FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keypair seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return fromKeys(pub, priv)
}

func fromKeys(pub ed25519.PublicKey, priv ed25519.PrivateKey) (*KeyPair, error) {
	peerID, err := peerIDFromPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &KeyPair{public: pub, private: priv, peerID: peerID}, nil
}

// peerIDFromPublicKey computes a base58 identity-multihash of the raw
// public key, the standard "base58 multihash" PeerId shape.
func peerIDFromPublicKey(pub ed25519.PublicKey) (string, error) {
	mh, err := multihash.Sum(pub, multihash.IDENTITY, -1)
	if err != nil {
		return "", fmt.Errorf("derive peer id: %w", err)
	}
	return base58.Encode(mh), nil
}

// PeerID returns the base58 multihash identity of this peer.
func (k *KeyPair) PeerID() string { return k.peerID }

// PublicKey returns the raw Ed25519 public key.
func (k *KeyPair) PublicKey() ed25519.PublicKey { return k.public }

// SignBytes signs an arbitrary byte buffer.
func (k *KeyPair) SignBytes(data []byte) []byte {
	return ed25519.Sign(k.private, data)
}

// Verify checks a signature against a given public key.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	return ed25519.Verify(pub, data, sig)
}

// ToEd25519PrivateKey returns the raw 32-byte seed, consumed by AVM to prove
// identity when invoking.
func (k *KeyPair) ToEd25519PrivateKey() []byte {
	seed := make([]byte, ed25519.SeedSize)
	copy(seed, k.private.Seed())
	return seed
}

// PrivateKeyBytes returns the full 64-byte Ed25519 private key (seed and
// public key), the form libp2p's crypto.UnmarshalEd25519PrivateKey expects
// when deriving a transport identity from this peer's key material.
func (k *KeyPair) PrivateKeyBytes() []byte {
	out := make([]byte, len(k.private))
	copy(out, k.private)
	return out
}
