// Package wmetrics defines the Prometheus collectors of a weak node.
//
// Every constructor registers its collectors with the given Registerer,
// so a process can expose several nodes on separate registries
// and tests can use a fresh prometheus.NewRegistry.
//
// All methods are safe to call on a nil receiver, which records nothing.
package wmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "weak"

// Consensus holds the collectors of a primary-replica consensus instance.
type Consensus struct {
	CommandsExecuted prometheus.Counter
	MembersJoined    prometheus.Counter
	MembersPruned    prometheus.Counter
	Members          prometheus.Gauge
	CommandsRelayed  prometheus.Counter
}

func NewConsensus(reg prometheus.Registerer) *Consensus {
	f := promauto.With(reg)
	const sub = "consensus"
	return &Consensus{
		CommandsExecuted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "commands_executed_total",
			Help: "Commands applied to local state, including join replay.",
		}),
		MembersJoined: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "members_joined_total",
			Help: "Join requests accepted by the primary.",
		}),
		MembersPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "members_pruned_total",
			Help: "Members removed after a failed broadcast.",
		}),
		Members: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "members",
			Help: "Current size of the primary's membership set.",
		}),
		CommandsRelayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "commands_relayed_total",
			Help: "Commands a subordinate forwarded to the primary.",
		}),
	}
}

func (m *Consensus) Executed() {
	if m != nil {
		m.CommandsExecuted.Inc()
	}
}

func (m *Consensus) Joined(size int) {
	if m != nil {
		m.MembersJoined.Inc()
		m.Members.Set(float64(size))
	}
}

func (m *Consensus) Pruned(n, size int) {
	if m != nil {
		m.MembersPruned.Add(float64(n))
		m.Members.Set(float64(size))
	}
}

func (m *Consensus) Relayed() {
	if m != nil {
		m.CommandsRelayed.Inc()
	}
}

// Sealer holds the collectors of a block sealer.
type Sealer struct {
	BlocksSealed prometheus.Counter
	TxsSealed    prometheus.Counter
	IdleTicks    prometheus.Counter
	FailedPosts  prometheus.Counter
	NextNumber   prometheus.Gauge
}

func NewSealer(reg prometheus.Registerer) *Sealer {
	f := promauto.With(reg)
	const sub = "sealer"
	return &Sealer{
		BlocksSealed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "blocks_sealed_total",
			Help: "Blocks submitted to consensus.",
		}),
		TxsSealed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "txs_sealed_total",
			Help: "Transaction hashes included in submitted blocks.",
		}),
		IdleTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "idle_ticks_total",
			Help: "Intervals that produced no block, because the node was not primary or had no pending work.",
		}),
		FailedPosts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "failed_posts_total",
			Help: "Blocks whose submission to consensus reported failure.",
		}),
		NextNumber: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "next_block_number",
			Help: "Number the next sealed block will carry.",
		}),
	}
}

func (m *Sealer) Sealed(nTxs int, ok bool, next uint64) {
	if m == nil {
		return
	}
	m.BlocksSealed.Inc()
	m.TxsSealed.Add(float64(nTxs))
	if !ok {
		m.FailedPosts.Inc()
	}
	m.NextNumber.Set(float64(next))
}

func (m *Sealer) Idle() {
	if m != nil {
		m.IdleTicks.Inc()
	}
}

// Transport holds the collectors of a network transport.
// Both vectors are labeled by route and result.
type Transport struct {
	Sent     *prometheus.CounterVec
	Received *prometheus.CounterVec
}

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// RouteUnknown is the route label of inbound requests
// for routes with no registered handler.
// Those names come from the remote side and are never used as labels.
const RouteUnknown = "unknown"

// NewTransport registers transport collectors.
// The kind argument ("http", "libp2p", ...) becomes a constant label.
func NewTransport(reg prometheus.Registerer, kind string) *Transport {
	f := promauto.With(reg)
	const sub = "transport"
	labels := prometheus.Labels{"transport": kind}
	return &Transport{
		Sent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name:        "sent_total",
			Help:        "Outbound requests by route and result.",
			ConstLabels: labels,
		}, []string{"route", "result"}),
		Received: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name:        "received_total",
			Help:        "Inbound requests by route and result.",
			ConstLabels: labels,
		}, []string{"route", "result"}),
	}
}

func (m *Transport) ObserveSend(route string, err error) {
	if m != nil {
		m.Sent.WithLabelValues(route, result(err)).Inc()
	}
}

func (m *Transport) ObserveReceive(route string, err error) {
	if m != nil {
		m.Received.WithLabelValues(route, result(err)).Inc()
	}
}

// ObserveUnknownRoute counts an inbound request for an unregistered route.
func (m *Transport) ObserveUnknownRoute() {
	if m != nil {
		m.Received.WithLabelValues(RouteUnknown, ResultError).Inc()
	}
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
