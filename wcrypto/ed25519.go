package wcrypto

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

var _ PubKey = Ed25519PubKey{}

type Ed25519PubKey ed25519.PublicKey

// NewEd25519PubKey returns an Ed25519PubKey from its raw bytes.
func NewEd25519PubKey(b []byte) (Ed25519PubKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf(
			"expected %d ed25519 public key bytes, got %d",
			ed25519.PublicKeySize, len(b),
		)
	}

	return Ed25519PubKey(bytes.Clone(b)), nil
}

func (e Ed25519PubKey) PubKeyBytes() []byte {
	return []byte(e)
}

func (e Ed25519PubKey) Verify(msg, sig []byte) bool {
	if len(e) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(e), msg, sig)
}

func (e Ed25519PubKey) Equal(other PubKey) bool {
	o, ok := other.(Ed25519PubKey)
	if !ok {
		return false
	}

	return ed25519.PublicKey(e).Equal(ed25519.PublicKey(o))
}

func (e Ed25519PubKey) PEM() string {
	s, err := MarshalPublicKeyPEM(ed25519.PublicKey(e))
	if err != nil {
		// Only reachable with a malformed key.
		panic(fmt.Errorf("BUG: failed to marshal ed25519 public key: %w", err))
	}
	return s
}

var _ Signer = Ed25519Signer{}

type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  Ed25519PubKey
}

func NewEd25519Signer(priv ed25519.PrivateKey) Ed25519Signer {
	return Ed25519Signer{
		priv: priv,
		pub:  Ed25519PubKey(priv.Public().(ed25519.PublicKey)),
	}
}

// GenerateEd25519Signer returns a signer backed by a new random key.
func GenerateEd25519Signer() (Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Ed25519Signer{}, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}
	return NewEd25519Signer(priv), nil
}

func (s Ed25519Signer) PubKey() PubKey {
	return s.pub
}

func (s Ed25519Signer) Sign(_ context.Context, input []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, input), nil
}

// PrivateKey exposes the raw key, for callers that must hand it
// to another library (for example, as a libp2p host identity).
func (s Ed25519Signer) PrivateKey() ed25519.PrivateKey {
	return s.priv
}
