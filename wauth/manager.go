package wauth

import (
	"fmt"

	"github.com/weakchain/weak/wenvelope"
)

// MessageManager is the capability transports use to authenticate traffic.
type MessageManager interface {
	// Prepare returns the wire bytes carrying payload,
	// stamped with the local identity and, if applicable, a signature.
	Prepare(payload []byte) []byte

	// Open decodes wire bytes produced by a peer's Prepare.
	// The ok result is false if the envelope is malformed,
	// the sender is not trusted, or the signature is invalid.
	// The returned payload may alias wire.
	Open(wire []byte) (from string, payload []byte, ok bool)

	// LocalIdentity returns the endpoint string of this node.
	LocalIdentity() string
}

var _ MessageManager = (*TrivialManager)(nil)

// TrivialManager stamps messages with an identity and performs no verification.
// It is meant for tests and development networks only.
type TrivialManager struct {
	id []byte
}

// NewTrivialManager returns a TrivialManager claiming the identity id.
func NewTrivialManager(id string) (*TrivialManager, error) {
	if _, err := wenvelope.New([]byte(id), nil, nil); err != nil {
		return nil, fmt.Errorf("invalid identity: %w", err)
	}
	return &TrivialManager{id: []byte(id)}, nil
}

func (m *TrivialManager) Prepare(payload []byte) []byte {
	return wenvelope.AppendEncoded(nil, m.id, nil, payload)
}

func (m *TrivialManager) Open(wire []byte) (string, []byte, bool) {
	d, ok := wenvelope.Decode(wire)
	if !ok {
		return "", nil, false
	}
	return string(d.From), d.Data, true
}

func (m *TrivialManager) LocalIdentity() string {
	return string(m.id)
}
