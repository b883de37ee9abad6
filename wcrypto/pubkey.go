package wcrypto

import "context"

// PubKey is the public half of a signing key.
type PubKey interface {
	PubKeyBytes() []byte

	Equal(other PubKey) bool

	Verify(msg, sig []byte) bool

	// PEM returns the PEM text of the key,
	// which is the representation certificates are issued over.
	PEM() string
}

// Signer produces signatures verifiable by its PubKey.
type Signer interface {
	PubKey() PubKey

	Sign(ctx context.Context, input []byte) ([]byte, error)
}
