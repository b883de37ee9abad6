package wauth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weakchain/weak/wcrypto"
	"github.com/weakchain/weak/wenvelope"
)

// CryptoConfig is the configuration for [NewCryptoManager].
type CryptoConfig struct {
	// PEM text of the node's Ed25519 secret key. Required.
	SecretKeyPEM []byte

	// The address other nodes use to reach this node.
	Address string

	// Certificate of this node, issued by the CA. May be empty.
	Cert []byte

	// PEM text of the CA public key.
	// When empty, every peer is trusted (open membership).
	CAPubKeyPEM []byte
}

var _ MessageManager = (*CryptoManager)(nil)

// CryptoManager signs outgoing payloads and verifies incoming ones.
type CryptoManager struct {
	signer wcrypto.Ed25519Signer

	// Nil in open-membership mode.
	ca wcrypto.PubKey

	identity []byte
}

// NewCryptoManager validates cfg and returns a ready CryptoManager.
//
// It fails if the secret key or CA key cannot be parsed,
// if the node certificate does not verify against the CA key,
// or if the resulting identity does not fit in an envelope.
func NewCryptoManager(log *slog.Logger, cfg CryptoConfig) (*CryptoManager, error) {
	signer, err := wcrypto.ParsePrivateKeyPEM(cfg.SecretKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load node secret key: %w", err)
	}

	m := &CryptoManager{signer: signer}

	pubPEM := signer.PubKey().PEM()

	if len(cfg.CAPubKeyPEM) > 0 {
		ca, err := wcrypto.ParsePublicKeyPEM(cfg.CAPubKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load CA public key: %w", err)
		}
		m.ca = ca

		if len(cfg.Cert) > 0 {
			if !wcrypto.VerifyCert(ca, pubPEM, cfg.Cert) {
				return nil, errors.New("node certificate was not issued by the configured CA for this key")
			}
		} else {
			log.Warn("Running in permissioned mode without a node certificate; peers will reject this node")
		}
	} else {
		log.Info("No CA key configured; trusting every peer identity")
	}

	id, err := Identity{
		PubKeyPEM: pubPEM,
		Address:   cfg.Address,
		Cert:      cfg.Cert,
	}.Endpoint()
	if err != nil {
		return nil, err
	}
	if len(id) > wenvelope.MaxFromSize {
		return nil, fmt.Errorf(
			"node identity is %d bytes, limit is %d; use a shorter address",
			len(id), wenvelope.MaxFromSize,
		)
	}
	m.identity = []byte(id)

	return m, nil
}

func (m *CryptoManager) Prepare(payload []byte) []byte {
	sig := ed25519.Sign(m.signer.PrivateKey(), payload)
	return wenvelope.AppendEncoded(nil, m.identity, sig, payload)
}

func (m *CryptoManager) Open(wire []byte) (string, []byte, bool) {
	d, ok := wenvelope.Decode(wire)
	if !ok {
		return "", nil, false
	}

	peer, ok := ParseEndpoint(string(d.From))
	if !ok {
		return "", nil, false
	}

	// An untrusted key's signature is worthless, so check the certificate first.
	if m.ca != nil && !wcrypto.VerifyCert(m.ca, peer.PubKeyPEM, peer.Cert) {
		return "", nil, false
	}

	pub, err := wcrypto.ParsePublicKeyPEM([]byte(peer.PubKeyPEM))
	if err != nil {
		return "", nil, false
	}

	if !pub.Verify(d.Data, d.Sig) {
		return "", nil, false
	}

	return string(d.From), d.Data, true
}

func (m *CryptoManager) LocalIdentity() string {
	return string(m.identity)
}

// PubKey returns the public key of the node.
func (m *CryptoManager) PubKey() wcrypto.PubKey {
	return m.signer.PubKey()
}

// Signer returns the node's signer.
func (m *CryptoManager) Signer() wcrypto.Ed25519Signer {
	return m.signer
}
