package wchain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/weakchain/weak/internal/wtest"
	"github.com/weakchain/weak/wchain"
	"github.com/weakchain/weak/wconsensus"
	"github.com/weakchain/weak/wnet/wnettest"
)

func newExecutor(t *testing.T) (*wchain.Executor, *wchain.TxPool, *wchain.Ledger) {
	t.Helper()
	pool := wchain.NewTxPool(2)
	ledger := new(wchain.Ledger)
	return wchain.NewExecutor(wtest.NewLogger(t), pool, ledger), pool, ledger
}

func TestExecutor_addThenExecute(t *testing.T) {
	t.Parallel()

	e, pool, ledger := newExecutor(t)
	ctx := context.Background()

	txs := []wchain.Tx{
		{From: addr(1), To: addr(2), Data: []byte("a"), Nonce: 0},
		{From: addr(1), To: addr(2), Data: []byte("b"), Nonce: 1},
		{From: addr(1), To: addr(2), Data: []byte("c"), Nonce: 2},
	}
	require.Equal(t, wchain.ResultOK, string(e.Execute(ctx, wchain.EncodeAddTxs(txs))))
	require.Equal(t, 3, pool.Len())

	b := wchain.BlockForConsensus{Number: 0, TxHashes: pool.PendingHashes()}
	require.Equal(t, wchain.ResultOK, string(e.Execute(ctx, wchain.EncodeExecuteBlock(b))))

	blocks := ledger.Blocks()
	require.Len(t, blocks, 1)
	require.Equal(t, b.Hash(), blocks[0].Hash)
	require.Equal(t, uint64(0), blocks[0].Number)
	require.Len(t, blocks[0].Txs, 2)
	require.Equal(t, txs[0].Hash(), blocks[0].Txs[0].Hash())
	require.Equal(t, txs[1].Hash(), blocks[0].Txs[1].Hash())

	require.Equal(t, []wchain.Hash{txs[2].Hash()}, pool.PendingHashes())
}

func TestExecutor_duplicates(t *testing.T) {
	t.Parallel()

	e, pool, _ := newExecutor(t)
	ctx := context.Background()

	a := wchain.Tx{From: addr(1), Nonce: 0}
	b := wchain.Tx{From: addr(1), Nonce: 1}

	require.Equal(t, wchain.ResultOK, string(e.Execute(ctx, wchain.EncodeAddTxs([]wchain.Tx{a}))))
	require.Equal(t, wchain.ResultSomeTxsDropped, string(e.Execute(ctx, wchain.EncodeAddTxs([]wchain.Tx{a, b}))))
	require.Equal(t, wchain.ResultAllTxsDropped, string(e.Execute(ctx, wchain.EncodeAddTxs([]wchain.Tx{a, b}))))
	require.Equal(t, 2, pool.Len())
}

func TestExecutor_ignoresBadCommands(t *testing.T) {
	t.Parallel()

	e, pool, ledger := newExecutor(t)
	ctx := context.Background()

	// Block naming a transaction that never reached the pool.
	missing := wchain.BlockForConsensus{TxHashes: []wchain.Hash{wchain.Keccak256([]byte("nope"))}}
	res := e.Execute(ctx, wchain.EncodeExecuteBlock(missing))
	require.Contains(t, string(res), "not found")

	res = e.Execute(ctx, []byte("zzz"))
	require.Contains(t, string(res), "unknown command")

	res = e.Execute(ctx, nil)
	require.Equal(t, wchain.ErrEmptyCommand.Error(), string(res))

	res = e.Execute(ctx, []byte("t[{"))
	require.Contains(t, string(res), "failed to parse txs")

	require.Empty(t, ledger.Blocks())
	require.Zero(t, pool.Len())
}

type mockConsensus struct {
	mock.Mock
}

func (m *mockConsensus) HandleExecute(ctx context.Context, from string, cmd []byte) ([]byte, error) {
	args := m.Called(ctx, from, cmd)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *mockConsensus) IsPrimary() bool {
	return m.Called().Bool(0)
}

func TestAssistant_mock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := new(mockConsensus)
	a := wchain.NewAssistant(wtest.NewLogger(t), c)

	b := wchain.BlockForConsensus{Number: 3}
	c.On("HandleExecute", ctx, wchain.SenderSealer, wchain.EncodeExecuteBlock(b)).
		Return([]byte("ok"), nil).Once()
	require.True(t, a.PostBlock(ctx, b))

	c.On("HandleExecute", ctx, wchain.SenderSealer, mock.Anything).
		Return(nil, wconsensus.ErrForwardFailed).Once()
	require.False(t, a.PostBlock(ctx, wchain.BlockForConsensus{Number: 4}))

	txs := []wchain.Tx{{From: addr(5), Nonce: 1}}
	c.On("HandleExecute", ctx, wchain.SenderClient, wchain.EncodeAddTxs(txs)).
		Return([]byte("ok"), nil).Once()
	require.NoError(t, a.AddTxs(ctx, txs))

	c.On("HandleExecute", ctx, wchain.SenderClient, mock.Anything).
		Return(nil, errors.New("boom")).Once()
	require.ErrorContains(t, a.AddTxs(ctx, txs), "boom")

	c.On("IsPrimary").Return(true).Once()
	require.True(t, a.IsPrimary())

	c.AssertExpectations(t)
}

type chainNode struct {
	Pool      *wchain.TxPool
	Ledger    *wchain.Ledger
	Assistant *wchain.Assistant
}

func startChainNode(
	t *testing.T, ctx context.Context, hub *wnettest.Hub, addr, primary string,
) (chainNode, string) {
	t.Helper()

	n, err := hub.NewMockNode(addr)
	require.NoError(t, err)

	log := wtest.NewLogger(t).With("node", addr)
	pool := wchain.NewTxPool(2)
	ledger := new(wchain.Ledger)

	r, err := wconsensus.New(ctx, log, wconsensus.Config{
		Network:    n,
		Executable: wchain.NewExecutor(log, pool, ledger),
		Primary:    primary,
	})
	require.NoError(t, err)
	t.Cleanup(r.Wait)

	return chainNode{
		Pool:      pool,
		Ledger:    ledger,
		Assistant: wchain.NewAssistant(log, r),
	}, n.LocalEndpoint()
}

func TestAssistant_replicated(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := wnettest.NewHub()
	p, primary := startChainNode(t, ctx, hub, "primary:7777", "")
	s, _ := startChainNode(t, ctx, hub, "sub:7778", primary)

	require.True(t, p.Assistant.IsPrimary())
	require.False(t, s.Assistant.IsPrimary())

	// A client on the subordinate submits; the command is relayed and replicated.
	txs := []wchain.Tx{{From: addr(1), Nonce: 0}, {From: addr(1), Nonce: 1}}
	require.NoError(t, s.Assistant.AddTxs(ctx, txs))
	require.Equal(t, 2, p.Pool.Len())
	require.Equal(t, 2, s.Pool.Len())

	next, parent := p.Ledger.Tip()
	b := wchain.BlockForConsensus{Number: next, ParentHash: parent, TxHashes: p.Pool.PendingHashes()}
	require.True(t, p.Assistant.PostBlock(ctx, b))

	require.Equal(t, p.Ledger.Blocks(), s.Ledger.Blocks())
	require.Len(t, s.Ledger.Blocks(), 1)
	require.Zero(t, s.Pool.Len())

	// A late joiner catches up through replay.
	late, _ := startChainNode(t, ctx, hub, "late:7779", primary)
	require.Equal(t, p.Ledger.Blocks(), late.Ledger.Blocks())
	require.Zero(t, late.Pool.Len())
}
