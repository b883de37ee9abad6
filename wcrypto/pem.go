package wcrypto

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	pemTypePublic  = "PUBLIC KEY"
	pemTypePrivate = "PRIVATE KEY"
)

// ErrNoPEMBlock is returned when the input contains no PEM block.
var ErrNoPEMBlock = errors.New("no PEM block found")

// MarshalPublicKeyPEM returns the PKIX PEM text of pub.
func MarshalPublicKeyPEM(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypePublic, Bytes: der})), nil
}

// MarshalPrivateKeyPEM returns the PKCS #8 PEM text of priv.
func MarshalPrivateKeyPEM(priv ed25519.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypePrivate, Bytes: der})), nil
}

// ParsePublicKeyPEM parses an Ed25519 public key from PEM text.
func ParsePublicKeyPEM(b []byte) (Ed25519PubKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, ErrNoPEMBlock
	}
	if block.Type != pemTypePublic {
		return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}

	k, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	pub, ok := k.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key has type %T, want ed25519", k)
	}

	return Ed25519PubKey(pub), nil
}

// ParsePrivateKeyPEM parses an Ed25519 private key from PEM text
// and returns a signer for it.
func ParsePrivateKeyPEM(b []byte) (Ed25519Signer, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return Ed25519Signer{}, ErrNoPEMBlock
	}
	if block.Type != pemTypePrivate {
		return Ed25519Signer{}, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}

	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return Ed25519Signer{}, fmt.Errorf("failed to parse private key: %w", err)
	}

	priv, ok := k.(ed25519.PrivateKey)
	if !ok {
		return Ed25519Signer{}, fmt.Errorf("private key has type %T, want ed25519", k)
	}

	return NewEd25519Signer(priv), nil
}
