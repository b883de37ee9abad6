package wchain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weakchain/weak/internal/wlog"
)

// Executor applies chain commands to a pool and ledger.
// It is the consensus Executable of a chain node.
type Executor struct {
	log    *slog.Logger
	pool   *TxPool
	ledger *Ledger
}

func NewExecutor(log *slog.Logger, pool *TxPool, ledger *Ledger) *Executor {
	return &Executor{log: log, pool: pool, ledger: ledger}
}

// Result strings of Execute.
const (
	ResultOK             = "OK"
	ResultSomeTxsDropped = "Some txs were rejected"
	ResultAllTxsDropped  = "All txs rejected"
)

// Execute applies cmd and returns a short status text.
// Malformed or failing commands are logged and otherwise ignored.
func (e *Executor) Execute(_ context.Context, cmd []byte) []byte {
	c, err := ParseCommand(cmd)
	if err != nil {
		return e.complain(cmd, err.Error())
	}

	switch c.Kind {
	case CmdExecuteBlock:
		return e.executeBlock(cmd, c.Block)
	case CmdAddTxs:
		return e.addTxs(cmd, c.Txs)
	default:
		panic(fmt.Errorf("BUG: ParseCommand returned unhandled kind %q", c.Kind))
	}
}

func (e *Executor) executeBlock(cmd []byte, b BlockForConsensus) []byte {
	txs := make([]Tx, len(b.TxHashes))
	for i, h := range b.TxHashes {
		tx, ok := e.pool.Get(h)
		if !ok {
			return e.complain(cmd, fmt.Sprintf("tx %s of block %d not found in pool", h, b.Number))
		}
		txs[i] = tx
	}

	blk := Block{
		Number:     b.Number,
		ParentHash: b.ParentHash,
		Hash:       b.Hash(),
		Txs:        txs,
	}
	e.ledger.Commit(blk)
	e.pool.Remove(b.TxHashes)

	e.log.Info(
		"Committed block",
		"number", blk.Number,
		"hash", blk.Hash,
		"n_txs", len(txs),
	)
	return []byte(ResultOK)
}

func (e *Executor) addTxs(cmd []byte, txs []Tx) []byte {
	added := 0
	for _, tx := range txs {
		if e.pool.Add(tx) {
			added++
		} else {
			e.log.Debug("Rejected duplicate tx", "hash", tx.Hash(), "nonce", tx.Nonce)
		}
	}

	switch {
	case added == 0:
		return e.complain(cmd, ResultAllTxsDropped)
	case added < len(txs):
		e.log.Info("Added txs to pool", "added", added, "rejected", len(txs)-added)
		return []byte(ResultSomeTxsDropped)
	default:
		e.log.Debug("Added txs to pool", "added", added)
		return []byte(ResultOK)
	}
}

func (e *Executor) complain(cmd []byte, reason string) []byte {
	e.log.Warn("Ignoring command", "reason", reason, "cmd", wlog.Abbrev(cmd))
	return []byte(reason)
}
