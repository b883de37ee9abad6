package wchain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Hash is a Keccak-256 digest.
// Its text form is 0x-prefixed lowercase hex.
type Hash [32]byte

// Keccak256 returns the legacy Keccak-256 digest of the concatenated inputs.
func Keccak256(data ...[]byte) Hash {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		_, _ = d.Write(b)
	}
	var h Hash
	d.Sum(h[:0])
	return h
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	return decodeHex(h[:], string(b), "hash")
}

// ParseHash parses the text form of a Hash. The 0x prefix is optional.
func ParseHash(s string) (Hash, error) {
	var h Hash
	err := h.UnmarshalText([]byte(s))
	return h, err
}

// Address identifies a transaction sender or recipient.
type Address [20]byte

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(b []byte) error {
	return decodeHex(a[:], string(b), "address")
}

func decodeHex(dst []byte, s, what string) error {
	s = strings.TrimPrefix(s, "0x")
	if hex.DecodedLen(len(s)) != len(dst) {
		return fmt.Errorf("%s must be %d hex characters, got %d", what, 2*len(dst), len(s))
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return fmt.Errorf("invalid %s: %w", what, err)
	}
	return nil
}
