package wchain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Tx is a transaction as far as replication is concerned.
// Signature checks and execution semantics belong to other layers.
type Tx struct {
	From  Address `json:"from"`
	To    Address `json:"to"`
	Data  HexData `json:"data"`
	Nonce uint64  `json:"nonce"`
}

// Hash identifies a transaction by sender and nonce:
// Keccak-256 over the 20-byte sender followed by the big-endian nonce.
func (t Tx) Hash() Hash {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], t.Nonce)
	return Keccak256(t.From[:], nonce[:])
}

// HexData is a byte string with a 0x-hex text form.
type HexData []byte

func (d HexData) MarshalText() ([]byte, error) {
	return []byte("0x" + hex.EncodeToString(d)), nil
}

func (d *HexData) UnmarshalText(b []byte) error {
	s := strings.TrimPrefix(string(b), "0x")
	out, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex data: %w", err)
	}
	*d = out
	return nil
}
