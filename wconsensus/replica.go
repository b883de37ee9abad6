package wconsensus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bits-and-blooms/bitset"
	"github.com/weakchain/weak/internal/wchan"
	"github.com/weakchain/weak/internal/wlog"
	"github.com/weakchain/weak/internal/wmetrics"
	"github.com/weakchain/weak/wauth"
	"github.com/weakchain/weak/wnet"
)

// Config is the configuration for [New].
type Config struct {
	// Transport of the local node. Required.
	Network wnet.Network

	// Applies committed commands. Required.
	Executable Executable

	// Endpoint of the primary.
	// Empty means the local node is the primary.
	Primary string

	// Optional.
	Metrics *wmetrics.Consensus
}

// PrimaryReplica is one node's instance of the replication protocol.
//
// All state changes happen on a single kernel goroutine,
// so join handling, command execution, and broadcasts
// never interleave with each other.
type PrimaryReplica struct {
	log *slog.Logger

	net     wnet.Network
	exec    Executable
	primary string
	metrics *wmetrics.Consensus

	// Lifetime of the kernel; requests are abandoned when it ends.
	ctx context.Context

	joinRequests     chan joinRequest
	executeRequests  chan executeRequest
	snapshotRequests chan snapshotRequest

	done chan struct{}
}

type joinRequest struct {
	From string
	Resp chan []byte
}

type executeRequest struct {
	From string
	Cmd  []byte
	Resp chan executeResult
}

type executeResult struct {
	Reply []byte
	Err   error
}

type snapshotRequest struct {
	Resp chan snapshot
}

type snapshot struct {
	Members []string
	History [][]byte
}

// kernelState is owned by the kernel goroutine.
type kernelState struct {
	// Endpoints of joined subordinates, in join order.
	// Only used on the primary.
	members []string

	// Every command committed on the primary, in order.
	// History is replayed in full to joiners; there is no snapshotting.
	history [][]byte
}

// New starts a replica.
//
// If cfg.Primary is empty, the replica is the primary
// and registers the join and execute routes on cfg.Network.
//
// Otherwise the replica is a subordinate.
// It registers the execute route, joins the primary,
// and replays the returned command history through cfg.Executable
// before New returns.
// Commands broadcast by the primary during the replay
// are executed after it, in order.
// If joining fails, New clears cfg.Network and returns an error wrapping [ErrJoinFailed].
//
// The replica stops when ctx is canceled.
func New(ctx context.Context, log *slog.Logger, cfg Config) (*PrimaryReplica, error) {
	if cfg.Network == nil {
		panic(errors.New("BUG: wconsensus.Config.Network must not be nil"))
	}
	if cfg.Executable == nil {
		panic(errors.New("BUG: wconsensus.Config.Executable must not be nil"))
	}

	r := &PrimaryReplica{
		log: log,

		net:     cfg.Network,
		exec:    cfg.Executable,
		primary: cfg.Primary,
		metrics: cfg.Metrics,

		ctx: ctx,

		joinRequests:     make(chan joinRequest),
		executeRequests:  make(chan executeRequest),
		snapshotRequests: make(chan snapshotRequest),

		done: make(chan struct{}),
	}

	if r.IsPrimary() {
		r.net.Listen(wnet.RouteJoin, r.handleJoin)
		r.net.Listen(wnet.RouteExecute, r.HandleExecute)
		log.Info("Started as primary", "endpoint", wauth.AddressOf(r.net.LocalEndpoint()))

		go r.kernel(ctx)
		return r, nil
	}

	// Register before joining, so that a broadcast racing the join reply
	// waits for the kernel instead of failing and getting this node pruned.
	r.net.Listen(wnet.RouteExecute, r.HandleExecute)

	if err := r.join(ctx); err != nil {
		r.net.Clear()
		return nil, err
	}

	go r.kernel(ctx)
	return r, nil
}

// join sends the join request to the primary and replays the returned history.
func (r *PrimaryReplica) join(ctx context.Context) error {
	resp, err := r.net.Send(ctx, r.primary, wnet.RouteJoin, nil)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrJoinFailed, wauth.AddressOf(r.primary), err)
	}

	var ticket JoinTicket
	if err := json.Unmarshal(resp, &ticket); err != nil {
		return fmt.Errorf("%w %s: malformed join ticket: %w", ErrJoinFailed, wauth.AddressOf(r.primary), err)
	}

	r.log.Info(
		"Joined primary",
		"primary", wauth.AddressOf(r.primary),
		"msg", ticket.Msg,
		"n_history", len(ticket.CommandHistory),
	)

	for _, cmd := range ticket.CommandHistory {
		r.execute(ctx, cmd)
	}

	return nil
}

// Wait blocks until the kernel goroutine has stopped.
func (r *PrimaryReplica) Wait() {
	<-r.done
}

// IsPrimary reports whether the local node is the primary.
func (r *PrimaryReplica) IsPrimary() bool {
	return r.primary == ""
}

// Members returns the addresses of the current members.
// It is always empty on a subordinate.
func (r *PrimaryReplica) Members(ctx context.Context) ([]string, error) {
	s, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(s.Members))
	for i, m := range s.Members {
		out[i] = wauth.AddressOf(m)
	}
	return out, nil
}

// History returns a copy of the committed command history.
// It is always empty on a subordinate.
func (r *PrimaryReplica) History(ctx context.Context) ([][]byte, error) {
	s, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.History, nil
}

func (r *PrimaryReplica) snapshot(ctx context.Context) (snapshot, error) {
	ctx, cancel := r.bindLifetime(ctx)
	defer cancel()

	req := snapshotRequest{Resp: make(chan snapshot, 1)}
	s, ok := wchan.ReqResp(ctx, r.log, r.snapshotRequests, req, req.Resp, "snapshot")
	if !ok {
		return snapshot{}, r.stoppedErr(ctx)
	}
	return s, nil
}

// HandleExecute is the execute route handler,
// also called directly by local producers of commands.
//
// On the primary, cmd is committed and broadcast,
// and the reply is a JSON [Ack] naming the remaining members.
//
// On a subordinate, a command from the primary is executed locally.
// Any other command is relayed to the primary and the primary's reply is returned as is;
// a failed relay returns an error wrapping [ErrForwardFailed].
func (r *PrimaryReplica) HandleExecute(ctx context.Context, from string, cmd []byte) ([]byte, error) {
	if !r.IsPrimary() && from != r.primary {
		return r.forward(ctx, from, cmd)
	}

	ctx, cancel := r.bindLifetime(ctx)
	defer cancel()

	req := executeRequest{
		From: from,
		Cmd:  cmd,
		Resp: make(chan executeResult, 1),
	}
	res, ok := wchan.ReqResp(ctx, r.log, r.executeRequests, req, req.Resp, "HandleExecute")
	if !ok {
		return nil, r.stoppedErr(ctx)
	}
	return res.Reply, res.Err
}

// forward relays cmd to the primary.
// It does not run on the kernel, since the primary broadcasts the command
// back to this node before replying.
func (r *PrimaryReplica) forward(ctx context.Context, from string, cmd []byte) ([]byte, error) {
	r.log.Debug(
		"Relaying command to primary",
		"from", wauth.AddressOf(from),
		"cmd", wlog.Abbrev(cmd),
	)

	resp, err := r.net.Send(ctx, r.primary, wnet.RouteExecute, cmd)
	if err != nil {
		r.log.Warn(
			"Failed to relay command to primary",
			"primary", wauth.AddressOf(r.primary),
			"err", err,
		)
		return nil, fmt.Errorf("%w %s: %w", ErrForwardFailed, wauth.AddressOf(r.primary), err)
	}

	r.metrics.Relayed()
	return resp, nil
}

func (r *PrimaryReplica) handleJoin(ctx context.Context, from string, _ []byte) ([]byte, error) {
	ctx, cancel := r.bindLifetime(ctx)
	defer cancel()

	req := joinRequest{From: from, Resp: make(chan []byte, 1)}
	resp, ok := wchan.ReqResp(ctx, r.log, r.joinRequests, req, req.Resp, "handleJoin")
	if !ok {
		return nil, r.stoppedErr(ctx)
	}
	return resp, nil
}

// bindLifetime returns a context that is also canceled
// when the replica's own context ends,
// so callers never wait on a kernel that has exited.
func (r *PrimaryReplica) bindLifetime(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(r.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (r *PrimaryReplica) stoppedErr(ctx context.Context) error {
	if r.ctx.Err() != nil {
		return ErrStopped
	}
	return context.Cause(ctx)
}

func (r *PrimaryReplica) kernel(ctx context.Context) {
	defer close(r.done)

	var s kernelState

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
			return

		case req := <-r.joinRequests:
			req.Resp <- r.handleJoinRequest(&s, req.From)

		case req := <-r.executeRequests:
			req.Resp <- r.handleExecuteRequest(ctx, &s, req.From, req.Cmd)

		case req := <-r.snapshotRequests:
			history := make([][]byte, len(s.history))
			copy(history, s.history)
			req.Resp <- snapshot{
				Members: append([]string(nil), s.members...),
				History: history,
			}
		}
	}
}

func (r *PrimaryReplica) handleJoinRequest(s *kernelState, from string) []byte {
	if !r.IsPrimary() {
		panic(errors.New("BUG: join request reached a subordinate kernel"))
	}

	s.members = admitMember(s.members, from)
	r.metrics.Joined(len(s.members))

	r.log.Info(
		"Member joined",
		"member", wauth.AddressOf(from),
		"n_members", len(s.members),
		"n_history", len(s.history),
	)

	b, err := json.Marshal(JoinTicket{
		Msg:            welcomeMsg,
		CommandHistory: s.history,
	})
	if err != nil {
		panic(fmt.Errorf("BUG: failed to marshal join ticket: %w", err))
	}
	return b
}

func (r *PrimaryReplica) handleExecuteRequest(
	ctx context.Context, s *kernelState, from string, cmd []byte,
) executeResult {
	if !r.IsPrimary() {
		// Only commands from the primary reach a subordinate kernel.
		r.execute(ctx, cmd)
		return executeResult{Reply: mustMarshalAck(Ack{Msg: subordinateAckMsg})}
	}

	s.history = append(s.history, bytes.Clone(cmd))
	r.execute(ctx, cmd)

	failed := r.broadcast(ctx, s.members, cmd)
	if n := failed.Count(); n > 0 {
		s.members = pruneMembers(s.members, failed)
		r.metrics.Pruned(int(n), len(s.members))
	}

	members := make([]string, len(s.members))
	for i, m := range s.members {
		members[i] = wauth.AddressOf(m)
	}

	r.log.Debug(
		"Committed command",
		"from", wauth.AddressOf(from),
		"cmd", wlog.Abbrev(cmd),
		"height", len(s.history),
		"n_members", len(members),
	)

	return executeResult{Reply: mustMarshalAck(Ack{Msg: executedMsg, Members: members})}
}

func (r *PrimaryReplica) execute(ctx context.Context, cmd []byte) {
	res := r.exec.Execute(ctx, cmd)
	r.metrics.Executed()
	r.log.Debug("Executed command", "cmd", wlog.Abbrev(cmd), "result", wlog.Abbrev(res))
}

// broadcast sends cmd to each member in order
// and returns the set of member indices whose send failed.
func (r *PrimaryReplica) broadcast(ctx context.Context, members []string, cmd []byte) *bitset.BitSet {
	failed := bitset.New(uint(len(members)))
	for i, m := range members {
		if _, err := r.net.Send(ctx, m, wnet.RouteExecute, cmd); err != nil {
			r.log.Info(
				"Removing member after failed broadcast",
				"member", wauth.AddressOf(m),
				"err", err,
			)
			failed.Set(uint(i))
		}
	}
	return failed
}

// admitMember adds a joining endpoint to the membership.
// Repeated joins from one endpoint are not deduplicated,
// so such a member receives each broadcast once per join.
func admitMember(members []string, endpoint string) []string {
	return append(members, endpoint)
}

// pruneMembers returns members without the indices set in failed,
// preserving order.
func pruneMembers(members []string, failed *bitset.BitSet) []string {
	out := members[:0]
	for i, m := range members {
		if !failed.Test(uint(i)) {
			out = append(out, m)
		}
	}
	clear(members[len(out):])
	return out
}

func mustMarshalAck(a Ack) []byte {
	b, err := json.Marshal(a)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to marshal ack: %w", err))
	}
	return b
}
