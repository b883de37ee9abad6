package wchain

import "sync"

// Ledger is the in-memory sequence of committed blocks.
type Ledger struct {
	mu     sync.RWMutex
	blocks []Block
}

// Commit appends b.
func (l *Ledger) Commit(b Block) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocks = append(l.blocks, b)
}

// Blocks returns a copy of the committed blocks in commit order.
func (l *Ledger) Blocks() []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Block(nil), l.blocks...)
}

// Tip returns the number and hash a new block should build on:
// zero values for an empty ledger,
// otherwise one past the latest block's number and its hash.
func (l *Ledger) Tip() (next uint64, parent Hash) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.blocks) == 0 {
		return 0, Hash{}
	}
	last := l.blocks[len(l.blocks)-1]
	return last.Number + 1, last.Hash
}
