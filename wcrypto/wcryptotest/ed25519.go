package wcryptotest

import (
	"crypto/ed25519"
	"encoding/binary"
	"sync"

	"github.com/weakchain/weak/wcrypto"
)

var (
	detMu      sync.Mutex
	detSigners []wcrypto.Ed25519Signer
)

// DeterministicEd25519Signers returns n signers whose keys are derived
// from their index, so repeated test runs see the same identities.
// Generated signers are cached across calls.
func DeterministicEd25519Signers(n int) []wcrypto.Ed25519Signer {
	detMu.Lock()
	defer detMu.Unlock()

	for i := len(detSigners); i < n; i++ {
		var seed [ed25519.SeedSize]byte
		copy(seed[:], "weak-deterministic-")
		binary.BigEndian.PutUint32(seed[ed25519.SeedSize-4:], uint32(i))
		detSigners = append(detSigners, wcrypto.NewEd25519Signer(ed25519.NewKeyFromSeed(seed[:])))
	}

	out := make([]wcrypto.Ed25519Signer, n)
	copy(out, detSigners[:n])
	return out
}
