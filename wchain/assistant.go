package wchain

import (
	"context"
	"fmt"
	"log/slog"
)

// Consensus is the part of the consensus layer the chain relies on.
type Consensus interface {
	HandleExecute(ctx context.Context, from string, cmd []byte) ([]byte, error)
	IsPrimary() bool
}

// Sender names used for locally produced commands.
// They are never valid endpoints, so on a subordinate
// such commands are always relayed to the primary.
const (
	SenderSealer = "SEALER"
	SenderClient = "CLIENT"
)

// Assistant turns chain operations into consensus commands.
type Assistant struct {
	log *slog.Logger
	c   Consensus
}

func NewAssistant(log *slog.Logger, c Consensus) *Assistant {
	return &Assistant{log: log, c: c}
}

// PostBlock submits b for execution across the cluster
// and reports whether consensus accepted it.
func (a *Assistant) PostBlock(ctx context.Context, b BlockForConsensus) bool {
	if _, err := a.c.HandleExecute(ctx, SenderSealer, EncodeExecuteBlock(b)); err != nil {
		a.log.Warn("Failed to post block", "number", b.Number, "err", err)
		return false
	}
	return true
}

// IsPrimary reports whether the local node is the primary.
func (a *Assistant) IsPrimary() bool {
	return a.c.IsPrimary()
}

// AddTxs replicates txs into every node's pool.
func (a *Assistant) AddTxs(ctx context.Context, txs []Tx) error {
	if _, err := a.c.HandleExecute(ctx, SenderClient, EncodeAddTxs(txs)); err != nil {
		return fmt.Errorf("failed to add %d txs: %w", len(txs), err)
	}
	return nil
}
