package wchain

import (
	"sync"
)

// DefaultMaxTxsPerBatch is the [TxPool] batch size when none is configured.
const DefaultMaxTxsPerBatch = 2

// TxPool holds transactions that are replicated but not yet in a block.
//
// A transaction hash is accepted at most once over the pool's lifetime,
// so a transaction that was already committed cannot be added again.
type TxPool struct {
	maxBatch int

	mu      sync.Mutex
	pending []Hash
	txs     map[Hash]Tx
	seen    map[Hash]struct{}
}

// NewTxPool returns an empty pool whose PendingHashes
// returns at most maxBatch hashes.
// A non-positive maxBatch means DefaultMaxTxsPerBatch.
func NewTxPool(maxBatch int) *TxPool {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxTxsPerBatch
	}
	return &TxPool{
		maxBatch: maxBatch,
		txs:      make(map[Hash]Tx),
		seen:     make(map[Hash]struct{}),
	}
}

// Add adds tx, reporting false if its hash was seen before.
func (p *TxPool) Add(tx Tx) bool {
	h := tx.Hash()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.seen[h]; ok {
		return false
	}
	p.seen[h] = struct{}{}
	p.txs[h] = tx
	p.pending = append(p.pending, h)
	return true
}

// PendingHashes returns the hashes of up to the batch size
// of the oldest pending transactions.
// It does not remove them; committing a block does.
func (p *TxPool) PendingHashes() []Hash {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := min(len(p.pending), p.maxBatch)
	if n == 0 {
		return nil
	}
	out := make([]Hash, n)
	copy(out, p.pending[:n])
	return out
}

// Get returns the pending transaction with hash h.
func (p *TxPool) Get(h Hash) (Tx, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.txs[h]
	return tx, ok
}

// Remove drops the given hashes from the pending set.
// They stay in the seen set.
func (p *TxPool) Remove(hashes []Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	drop := make(map[Hash]struct{}, len(hashes))
	for _, h := range hashes {
		if _, ok := p.txs[h]; ok {
			drop[h] = struct{}{}
			delete(p.txs, h)
		}
	}
	if len(drop) == 0 {
		return
	}

	kept := p.pending[:0]
	for _, h := range p.pending {
		if _, ok := drop[h]; !ok {
			kept = append(kept, h)
		}
	}
	clear(p.pending[len(kept):])
	p.pending = kept
}

// Len returns the number of pending transactions.
func (p *TxPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
