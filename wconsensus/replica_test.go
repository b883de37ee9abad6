package wconsensus_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"github.com/weakchain/weak/internal/wmetrics"
	"github.com/weakchain/weak/internal/wtest"
	"github.com/weakchain/weak/wauth"
	"github.com/weakchain/weak/wconsensus"
	"github.com/weakchain/weak/wconsensus/wconsensustest"
	"github.com/weakchain/weak/wnet"
	"github.com/weakchain/weak/wnet/wnettest"
)

type fixture struct {
	t   *testing.T
	ctx context.Context
	hub *wnettest.Hub

	primaryNode *wnettest.Node
	primaryExec *wconsensustest.RecordingExecutable
	primary     *wconsensus.PrimaryReplica
}

func newFixture(t *testing.T, m *wmetrics.Consensus) *fixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{
		t:   t,
		ctx: ctx,
		hub: wnettest.NewHub(),

		primaryExec: new(wconsensustest.RecordingExecutable),
	}

	n, err := f.hub.NewMockNode("primary:7777")
	require.NoError(t, err)
	f.primaryNode = n

	p, err := wconsensus.New(ctx, wtest.NewLogger(t).With("node", "primary"), wconsensus.Config{
		Network:    n,
		Executable: f.primaryExec,
		Metrics:    m,
	})
	require.NoError(t, err)
	t.Cleanup(p.Wait)
	f.primary = p

	return f
}

type subordinate struct {
	Node    *wnettest.Node
	Exec    *wconsensustest.RecordingExecutable
	Replica *wconsensus.PrimaryReplica
}

func (f *fixture) addSubordinate(addr string) subordinate {
	f.t.Helper()

	n, err := f.hub.NewMockNode(addr)
	require.NoError(f.t, err)

	exec := new(wconsensustest.RecordingExecutable)
	r, err := wconsensus.New(f.ctx, wtest.NewLogger(f.t).With("node", addr), wconsensus.Config{
		Network:    n,
		Executable: exec,
		Primary:    f.primaryNode.LocalEndpoint(),
	})
	require.NoError(f.t, err)
	f.t.Cleanup(r.Wait)

	return subordinate{Node: n, Exec: exec, Replica: r}
}

func (f *fixture) execute(cmd string) wconsensus.Ack {
	f.t.Helper()

	resp, err := f.primary.HandleExecute(f.ctx, wauth.MockEndpoint("client:1"), []byte(cmd))
	require.NoError(f.t, err)

	var ack wconsensus.Ack
	require.NoError(f.t, json.Unmarshal(resp, &ack))
	return ack
}

func TestPrimaryReplica_roles(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	sub := f.addSubordinate("sub:1")

	require.True(t, f.primary.IsPrimary())
	require.False(t, sub.Replica.IsPrimary())
}

func TestPrimaryReplica_executeAlone(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	ack := f.execute("c1")
	require.Empty(t, ack.Members)
	require.NotEmpty(t, ack.Msg)

	require.Equal(t, []string{"c1"}, f.primaryExec.Commands())

	h, err := f.primary.History(f.ctx)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("c1")}, h)
}

func TestPrimaryReplica_joinReplay(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	f.execute("c1")
	f.execute("c2")
	f.execute("c3")

	sub := f.addSubordinate("sub:1")
	require.Equal(t, []string{"c1", "c2", "c3"}, sub.Exec.Commands())

	ack := f.execute("c4")
	require.Equal(t, []string{"sub:1"}, ack.Members)
	require.Equal(t, []string{"c1", "c2", "c3", "c4"}, sub.Exec.Commands())
	require.Equal(t, f.primaryExec.Commands(), sub.Exec.Commands())

	members, err := f.primary.Members(f.ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"sub:1"}, members)

	// History lives only on the primary.
	h, err := sub.Replica.History(f.ctx)
	require.NoError(t, err)
	require.Empty(t, h)
}

// signalingNetwork reports when its execute handler is entered,
// before the handler runs.
type signalingNetwork struct {
	wnet.Network
	executeEntered chan struct{}
}

func (n signalingNetwork) Listen(route string, h wnet.Handler) {
	if route != wnet.RouteExecute {
		n.Network.Listen(route, h)
		return
	}
	n.Network.Listen(route, func(ctx context.Context, from string, data []byte) ([]byte, error) {
		n.executeEntered <- struct{}{}
		return h(ctx, from, data)
	})
}

// gatedExecutable blocks its first Execute call until released.
type gatedExecutable struct {
	wconsensustest.RecordingExecutable

	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (e *gatedExecutable) Execute(ctx context.Context, cmd []byte) []byte {
	e.once.Do(func() {
		close(e.entered)
		<-e.release
	})
	return e.RecordingExecutable.Execute(ctx, cmd)
}

func TestPrimaryReplica_replayPrecedesBroadcast(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.execute("old")

	node, err := f.hub.NewMockNode("sub:1")
	require.NoError(t, err)
	net := signalingNetwork{Network: node, executeEntered: make(chan struct{}, 1)}

	exec := &gatedExecutable{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}

	subReady := make(chan *wconsensus.PrimaryReplica, 1)
	go func() {
		r, err := wconsensus.New(f.ctx, wtest.NewLogger(t), wconsensus.Config{
			Network:    net,
			Executable: exec,
			Primary:    f.primaryNode.LocalEndpoint(),
		})
		if err != nil {
			t.Errorf("subordinate failed to start: %v", err)
			return
		}
		subReady <- r
	}()

	// The subordinate has joined and is replaying "old".
	<-exec.entered

	type result struct {
		resp []byte
		err  error
	}
	results := make(chan result, 1)
	go func() {
		resp, err := f.primary.HandleExecute(f.ctx, wauth.MockEndpoint("client:1"), []byte("new"))
		results <- result{resp: resp, err: err}
	}()

	// The broadcast of "new" reached the subordinate during replay.
	<-net.executeEntered
	close(exec.release)

	res := <-results
	require.NoError(t, res.err)
	var ack wconsensus.Ack
	require.NoError(t, json.Unmarshal(res.resp, &ack))
	require.Equal(t, []string{"sub:1"}, ack.Members)

	r := <-subReady
	t.Cleanup(r.Wait)

	require.Equal(t, []string{"old", "new"}, exec.Commands())
}

func TestPrimaryReplica_broadcastPruning(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := wmetrics.NewConsensus(reg)
	f := newFixture(t, m)

	a := f.addSubordinate("a:1")
	b := f.addSubordinate("b:1")

	ack := f.execute("c1")
	require.Equal(t, []string{"a:1", "b:1"}, ack.Members)

	// B stops answering.
	b.Node.Clear()

	ack = f.execute("c2")
	require.Equal(t, []string{"a:1"}, ack.Members)

	members, err := f.primary.Members(f.ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a:1"}, members)

	require.Equal(t, []string{"c1", "c2"}, a.Exec.Commands())
	require.Equal(t, []string{"c1"}, b.Exec.Commands())

	// Pruned members are not contacted again.
	f.execute("c3")
	require.Equal(t, []string{"c1"}, b.Exec.Commands())

	var out dto.Metric
	require.NoError(t, m.MembersPruned.Write(&out))
	require.Equal(t, 1.0, out.Counter.GetValue())
	require.NoError(t, m.Members.Write(&out))
	require.Equal(t, 1.0, out.Gauge.GetValue())
}

func TestPrimaryReplica_relayFromSubordinate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	sub := f.addSubordinate("sub:1")

	client, err := f.hub.NewMockNode("client:1")
	require.NoError(t, err)

	resp, err := client.Send(f.ctx, sub.Node.LocalEndpoint(), wnet.RouteExecute, []byte("tx"))
	require.NoError(t, err)

	var ack wconsensus.Ack
	require.NoError(t, json.Unmarshal(resp, &ack))
	require.Equal(t, []string{"sub:1"}, ack.Members)

	// Executed once on each node: the relay itself does not execute.
	require.Equal(t, []string{"tx"}, f.primaryExec.Commands())
	require.Equal(t, []string{"tx"}, sub.Exec.Commands())
}

func TestPrimaryReplica_forwardFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	sub := f.addSubordinate("sub:1")

	f.hub.Remove(f.primaryNode.LocalEndpoint())

	_, err := sub.Replica.HandleExecute(f.ctx, wauth.MockEndpoint("client:1"), []byte("tx"))
	require.ErrorIs(t, err, wconsensus.ErrForwardFailed)
	require.ErrorIs(t, err, wnet.ErrUnknownEndpoint)

	// Over the network, the failure reaches the client as a handler error.
	client, err := f.hub.NewMockNode("client:1")
	require.NoError(t, err)
	_, err = client.Send(f.ctx, sub.Node.LocalEndpoint(), wnet.RouteExecute, []byte("tx"))
	require.ErrorIs(t, err, wnet.ErrHandler)

	require.Empty(t, sub.Exec.Commands())
}

func TestPrimaryReplica_joinFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hub := wnettest.NewHub()

	node, err := hub.NewMockNode("sub:1")
	require.NoError(t, err)

	_, err = wconsensus.New(ctx, wtest.NewLogger(t), wconsensus.Config{
		Network:    node,
		Executable: new(wconsensustest.RecordingExecutable),
		Primary:    wauth.MockEndpoint("nobody:1"),
	})
	require.ErrorIs(t, err, wconsensus.ErrJoinFailed)

	// The failed node does not leave a handler behind.
	client, err := hub.NewMockNode("client:1")
	require.NoError(t, err)
	_, err = client.Send(ctx, node.LocalEndpoint(), wnet.RouteExecute, []byte("x"))
	require.ErrorIs(t, err, wnet.ErrNoRoute)

	// A primary that answers join with garbage is also a failed join.
	bad, err := hub.NewMockNode("bad:1")
	require.NoError(t, err)
	bad.Listen(wnet.RouteJoin, func(context.Context, string, []byte) ([]byte, error) {
		return []byte("not json"), nil
	})
	_, err = wconsensus.New(ctx, wtest.NewLogger(t), wconsensus.Config{
		Network:    node,
		Executable: new(wconsensustest.RecordingExecutable),
		Primary:    bad.LocalEndpoint(),
	})
	require.ErrorIs(t, err, wconsensus.ErrJoinFailed)
}

func TestPrimaryReplica_duplicateJoinsAreKept(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	node, err := f.hub.NewMockNode("sub:1")
	require.NoError(t, err)

	exec := new(wconsensustest.RecordingExecutable)
	for range 2 {
		r, err := wconsensus.New(f.ctx, wtest.NewLogger(t), wconsensus.Config{
			Network:    node,
			Executable: exec,
			Primary:    f.primaryNode.LocalEndpoint(),
		})
		require.NoError(t, err)
		t.Cleanup(r.Wait)
	}

	members, err := f.primary.Members(f.ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"sub:1", "sub:1"}, members)

	// The duplicated member receives the broadcast once per join.
	ack := f.execute("c1")
	require.Equal(t, []string{"sub:1", "sub:1"}, ack.Members)
	require.Equal(t, []string{"c1", "c1"}, exec.Commands())
}

func TestPrimaryReplica_stopped(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	hub := wnettest.NewHub()
	node, err := hub.NewMockNode("primary:1")
	require.NoError(t, err)

	p, err := wconsensus.New(ctx, wtest.NewLogger(t), wconsensus.Config{
		Network:    node,
		Executable: new(wconsensustest.RecordingExecutable),
	})
	require.NoError(t, err)

	cancel()
	p.Wait()

	_, err = p.HandleExecute(context.Background(), wauth.MockEndpoint("c:1"), []byte("x"))
	require.ErrorIs(t, err, wconsensus.ErrStopped)

	_, err = p.Members(context.Background())
	require.ErrorIs(t, err, wconsensus.ErrStopped)
}
