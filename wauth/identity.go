package wauth

import (
	"fmt"

	"github.com/weakchain/weak/wenvelope"
)

// MockPubKey is the public key placeholder in endpoints of nodes
// running without cryptography.
const MockPubKey = "<mock-pk>"

// Identity is the decoded form of an endpoint string.
type Identity struct {
	// PEM text of the node public key, or MockPubKey.
	PubKeyPEM string

	// Transport-specific address, e.g. "host:port" for HTTP.
	Address string

	// CA signature over PubKeyPEM. Empty in open-membership networks.
	Cert []byte
}

// Endpoint returns the encoded endpoint string of id.
func (id Identity) Endpoint() (string, error) {
	e, err := wenvelope.EncodeTriple(id.PubKeyPEM, id.Address, string(id.Cert))
	if err != nil {
		return "", fmt.Errorf("failed to encode endpoint for %q: %w", id.Address, err)
	}
	return e, nil
}

// ParseEndpoint decodes an endpoint string.
func ParseEndpoint(endpoint string) (Identity, bool) {
	pk, addr, cert, ok := wenvelope.DecodeTriple(endpoint)
	if !ok {
		return Identity{}, false
	}

	id := Identity{PubKeyPEM: pk, Address: addr}
	if cert != "" {
		id.Cert = []byte(cert)
	}
	return id, true
}

// MockEndpoint returns the endpoint of a crypto-less node listening at addr.
// It panics if addr is longer than an envelope field allows.
func MockEndpoint(addr string) string {
	e, err := Identity{PubKeyPEM: MockPubKey, Address: addr}.Endpoint()
	if err != nil {
		panic(err)
	}
	return e
}

// AddressOf returns the address part of endpoint,
// or endpoint itself when it is not an encoded identity.
// It is intended for log output.
func AddressOf(endpoint string) string {
	id, ok := ParseEndpoint(endpoint)
	if !ok || id.Address == "" {
		return endpoint
	}
	return id.Address
}
