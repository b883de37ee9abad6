package wauth

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/weakchain/weak/wcrypto"
)

// PeerInfo is the crypto material of a known peer.
type PeerInfo struct {
	Address   string
	PubKeyPEM string
	Cert      []byte
}

// Endpoint returns the endpoint string the peer claims on the wire.
func (p PeerInfo) Endpoint() (string, error) {
	return Identity{PubKeyPEM: p.PubKeyPEM, Address: p.Address, Cert: p.Cert}.Endpoint()
}

type peerFileEntry struct {
	PubKeyPEMFile string `json:"pk_pem_file"`
	CertFile      string `json:"cert_file"`
}

// LoadPeers parses a peer description, keyed by address:
//
//	{
//	  "localhost:7777": {"pk_pem_file": "./N0-pk.pem", "cert_file": "./N0-cert.sig"},
//	  "localhost:7778": {"pk_pem_file": "./N1-pk.pem", "cert_file": "./N1-cert.sig"}
//	}
//
// If src begins with '@', the remainder is the path of a file holding the JSON;
// otherwise src is the JSON itself.
// An empty cert_file means the peer has no certificate.
// Public keys are stored in canonical PEM form,
// whatever line endings or surrounding whitespace the file has.
//
// Every address in required must be present in the result.
func LoadPeers(src string, required ...string) (map[string]PeerInfo, error) {
	raw := []byte(src)
	if path, ok := strings.CutPrefix(src, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read peer file: %w", err)
		}
		raw = b
	}

	var entries map[string]peerFileEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse peer JSON: %w", err)
	}

	out := make(map[string]PeerInfo, len(entries))
	for addr, e := range entries {
		pkPEM, err := os.ReadFile(e.PubKeyPEMFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key of peer %s: %w", addr, err)
		}
		// Re-encode, so the endpoint matches the text the peer claims for itself.
		pk, err := wcrypto.ParsePublicKeyPEM(pkPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load public key of peer %s: %w", addr, err)
		}

		p := PeerInfo{Address: addr, PubKeyPEM: pk.PEM()}
		if e.CertFile != "" {
			cert, err := os.ReadFile(e.CertFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read certificate of peer %s: %w", addr, err)
			}
			p.Cert = cert
		}

		out[addr] = p
	}

	for _, addr := range required {
		if _, ok := out[addr]; !ok {
			return nil, fmt.Errorf("required peer %s is missing from peer description", addr)
		}
	}

	return out, nil
}
