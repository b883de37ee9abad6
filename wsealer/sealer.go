// Package wsealer contains the block sealer,
// which periodically turns pending transactions into blocks
// while the local node is the primary.
package wsealer

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/weakchain/weak/internal/wmetrics"
	"github.com/weakchain/weak/wchain"
)

// TxHashSource supplies the hashes of transactions waiting for a block.
// [*wchain.TxPool] satisfies TxHashSource.
type TxHashSource interface {
	PendingHashes() []wchain.Hash
}

// BlockSink accepts sealed blocks.
// [*wchain.Assistant] satisfies BlockSink.
type BlockSink interface {
	PostBlock(ctx context.Context, b wchain.BlockForConsensus) bool
	IsPrimary() bool
}

// Config is the configuration for a [Sealer].
type Config struct {
	// Time to sleep between sealing attempts.
	Interval time.Duration

	// Number and parent hash of the first block to seal.
	NextNumber uint64
	ParentHash wchain.Hash

	Source TxHashSource
	Sink   BlockSink

	// Optional.
	Metrics *wmetrics.Sealer
}

// DefaultConfig returns a Config with the default interval.
// Source and Sink must still be set.
func DefaultConfig() Config {
	return Config{Interval: 2 * time.Second}
}

// Sealer runs the sealing loop in its own goroutine.
type Sealer struct {
	log *slog.Logger

	interval time.Duration
	source   TxHashSource
	sink     BlockSink
	metrics  *wmetrics.Sealer

	running atomic.Bool

	// Only accessed by the loop goroutine.
	next   uint64
	parent wchain.Hash

	done chan struct{}
}

// New starts a Sealer.
// The sealer runs until ctx is canceled or Stop is called.
func New(ctx context.Context, log *slog.Logger, cfg Config) *Sealer {
	if cfg.Source == nil || cfg.Sink == nil {
		panic(errors.New("BUG: wsealer.Config requires Source and Sink"))
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}

	s := &Sealer{
		log: log,

		interval: cfg.Interval,
		source:   cfg.Source,
		sink:     cfg.Sink,
		metrics:  cfg.Metrics,

		next:   cfg.NextNumber,
		parent: cfg.ParentHash,

		done: make(chan struct{}),
	}
	s.running.Store(true)

	go s.run(ctx)
	return s
}

// Stop asks the loop to exit.
// The current sleep, and a sealing attempt following it, still complete.
func (s *Sealer) Stop() {
	s.running.Store(false)
}

// Wait blocks until the loop has exited.
func (s *Sealer) Wait() {
	<-s.done
}

func (s *Sealer) run(ctx context.Context) {
	defer close(s.done)

	t := time.NewTimer(s.interval)
	defer t.Stop()

	for s.running.Load() {
		select {
		case <-ctx.Done():
			s.log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
			return
		case <-t.C:
		}

		s.tick(ctx)
		t.Reset(s.interval)
	}

	s.log.Info("Stopped")
}

func (s *Sealer) tick(ctx context.Context) {
	if !s.sink.IsPrimary() {
		s.metrics.Idle()
		return
	}

	hashes := s.source.PendingHashes()
	if len(hashes) == 0 {
		s.metrics.Idle()
		return
	}

	b := wchain.BlockForConsensus{
		Number:     s.next,
		ParentHash: s.parent,
		TxHashes:   hashes,
	}
	ok := s.sink.PostBlock(ctx, b)
	if !ok {
		s.log.Warn("Block was not accepted; advancing anyway", "number", b.Number)
	}

	s.advance(b)
	s.metrics.Sealed(len(hashes), ok, s.next)

	s.log.Debug(
		"Sealed block",
		"number", b.Number,
		"n_txs", len(hashes),
		"accepted", ok,
	)
}

// advance moves the sealer past b.
// It runs whether or not b was accepted,
// so a rejected block leaves a gap in the numbering
// and the next block names b as its parent.
func (s *Sealer) advance(b wchain.BlockForConsensus) {
	s.next = b.Number + 1
	s.parent = b.Hash()
}

// Next returns the number and parent hash of the next block
// the sealer would produce.
// It must only be called after Wait returns.
func (s *Sealer) Next() (uint64, wchain.Hash) {
	return s.next, s.parent
}
