package wchain

// BlockForConsensus is the block representation agreed on by consensus.
// It carries transaction hashes; the transactions are resolved from the pool
// when the block is executed.
type BlockForConsensus struct {
	Number     uint64 `json:"number"`
	ParentHash Hash   `json:"parentHash"`
	TxHashes   []Hash `json:"txhs"`
}

// Hash chains the transaction hashes onto the parent hash:
// starting from h = ParentHash, each tx hash updates h to Keccak256(txh || h).
// A block without transactions hashes to its parent hash.
func (b BlockForConsensus) Hash() Hash {
	h := b.ParentHash
	for _, txh := range b.TxHashes {
		h = Keccak256(txh[:], h[:])
	}
	return h
}

// Block is a committed block with its transactions resolved.
type Block struct {
	Number     uint64 `json:"number"`
	ParentHash Hash   `json:"parentHash"`
	Hash       Hash   `json:"hash"`
	Txs        []Tx   `json:"txs"`
}
