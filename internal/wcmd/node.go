package wcmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/weakchain/weak/internal/wmetrics"
	"github.com/weakchain/weak/wauth"
	"github.com/weakchain/weak/wchain"
	"github.com/weakchain/weak/wconsensus"
	"github.com/weakchain/weak/wcrypto"
	"github.com/weakchain/weak/wnet"
	"github.com/weakchain/weak/wnet/whttp"
	"github.com/weakchain/weak/wnet/wlibp2p"
	"github.com/weakchain/weak/wsealer"
)

// Transport names accepted by --transport.
const (
	transportHTTP   = "http"
	transportLibp2p = "libp2p"
)

// nodeConfig is everything needed to start a node,
// with key material already read from disk.
type nodeConfig struct {
	Transport string

	// Listen address: host:port or unix:/path for http,
	// a multiaddr for libp2p.
	Listen string

	// Address peers use to reach the node. Defaults to the bound listen address.
	Advertise string

	// Address of the primary. Empty for the primary itself.
	Connect string

	WithoutCrypto bool
	SecretKeyPEM  []byte
	Cert          []byte
	CAPubKeyPEM   []byte

	// Peer description for wauth.LoadPeers.
	// Required to connect to a primary when crypto is enabled.
	Peers string

	SealInterval   time.Duration
	MaxTxsPerBatch int

	// Optional.
	Registry prometheus.Registerer
}

// network is a wnet.Network whose shutdown can be awaited.
type network interface {
	wnet.Network
	Wait()
}

// node is a running chain node.
type node struct {
	Pool   *wchain.TxPool
	Ledger *wchain.Ledger

	Replica *wconsensus.PrimaryReplica

	net    network
	sealer *wsealer.Sealer

	cancel context.CancelFunc
}

// Endpoint returns the endpoint peers address the node by.
func (n *node) Endpoint() string {
	return n.net.LocalEndpoint()
}

// Stop shuts the node down without waiting.
func (n *node) Stop() {
	n.cancel()
}

// Wait blocks until every component of the node has stopped.
func (n *node) Wait() {
	n.sealer.Wait()
	n.Replica.Wait()
	n.net.Wait()
}

// startNode starts the transport, joins or starts the cluster,
// and starts the sealer.
// The node runs until ctx is canceled or Stop is called.
func startNode(ctx context.Context, log *slog.Logger, cfg nodeConfig) (*node, error) {
	ctx, cancel := context.WithCancel(ctx)

	nw, err := openNetwork(ctx, log.With("sys", "net"), cfg, wmetrics.NewTransport(cfg.Registry, cfg.Transport))
	if err != nil {
		cancel()
		return nil, err
	}

	fail := func(err error) (*node, error) {
		cancel()
		nw.Wait()
		return nil, err
	}

	primary, err := resolveEndpoint(cfg, cfg.Connect)
	if err != nil {
		return fail(err)
	}

	pool := wchain.NewTxPool(cfg.MaxTxsPerBatch)
	ledger := new(wchain.Ledger)

	r, err := wconsensus.New(ctx, log.With("sys", "consensus"), wconsensus.Config{
		Network:    nw,
		Executable: wchain.NewExecutor(log.With("sys", "chain"), pool, ledger),
		Primary:    primary,
		Metrics:    wmetrics.NewConsensus(cfg.Registry),
	})
	if err != nil {
		return fail(err)
	}

	// The ledger already holds any replayed blocks.
	next, parent := ledger.Tip()

	sc := wsealer.DefaultConfig()
	if cfg.SealInterval > 0 {
		sc.Interval = cfg.SealInterval
	}
	sc.NextNumber = next
	sc.ParentHash = parent
	sc.Source = pool
	sc.Sink = wchain.NewAssistant(log.With("sys", "assistant"), r)
	sc.Metrics = wmetrics.NewSealer(cfg.Registry)
	s := wsealer.New(ctx, log.With("sys", "sealer"), sc)

	log.Info(
		"Node started",
		"endpoint", wauth.AddressOf(nw.LocalEndpoint()),
		"primary", r.IsPrimary(),
		"next_block", next,
	)

	return &node{
		Pool:    pool,
		Ledger:  ledger,
		Replica: r,
		net:     nw,
		sealer:  s,

		cancel: cancel,
	}, nil
}

func openNetwork(
	ctx context.Context, log *slog.Logger, cfg nodeConfig, m *wmetrics.Transport,
) (network, error) {
	switch cfg.Transport {
	case transportHTTP, "":
		ln, err := whttp.Listen(cfg.Listen)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
		}

		addr := cfg.Advertise
		if addr == "" {
			addr = listenerAddress(ln)
		}
		mm, err := newManager(log, cfg, addr)
		if err != nil {
			_ = ln.Close()
			return nil, err
		}

		hc := whttp.DefaultConfig()
		hc.Listener = ln
		hc.Manager = mm
		hc.Metrics = m
		return whttp.New(ctx, log, hc), nil

	case transportLibp2p:
		lc := wlibp2p.DefaultConfig()
		if cfg.Listen != "" {
			lc.ListenAddrs = []string{cfg.Listen}
		}
		lc.AdvertiseAddr = cfg.Advertise
		lc.Metrics = m
		if !cfg.WithoutCrypto {
			signer, err := wcrypto.ParsePrivateKeyPEM(cfg.SecretKeyPEM)
			if err != nil {
				return nil, fmt.Errorf("failed to load node secret key: %w", err)
			}
			lc.HostKey = signer.PrivateKey()
		}
		lc.NewManager = func(addr string) (wauth.MessageManager, error) {
			return newManager(log, cfg, addr)
		}
		n, err := wlibp2p.New(ctx, log, lc)
		if err != nil {
			return nil, err
		}
		return n, nil

	default:
		return nil, fmt.Errorf(
			"unknown transport %q, valid values are %q and %q",
			cfg.Transport, transportHTTP, transportLibp2p,
		)
	}
}

func listenerAddress(ln net.Listener) string {
	a := ln.Addr()
	if a.Network() == "unix" {
		return "unix:" + a.String()
	}
	return a.String()
}

func newManager(log *slog.Logger, cfg nodeConfig, addr string) (wauth.MessageManager, error) {
	if cfg.WithoutCrypto {
		return wauth.NewTrivialManager(wauth.MockEndpoint(addr))
	}
	return wauth.NewCryptoManager(log, wauth.CryptoConfig{
		SecretKeyPEM: cfg.SecretKeyPEM,
		Address:      addr,
		Cert:         cfg.Cert,
		CAPubKeyPEM:  cfg.CAPubKeyPEM,
	})
}

// resolveEndpoint returns the endpoint of the peer at addr.
// With crypto enabled, the endpoint embeds the peer's key and certificate,
// which are looked up in the peer description.
func resolveEndpoint(cfg nodeConfig, addr string) (string, error) {
	if addr == "" {
		return "", nil
	}
	if cfg.WithoutCrypto {
		return wauth.MockEndpoint(addr), nil
	}
	if cfg.Peers == "" {
		return "", errors.New("a peer description (--peers) is required to reach other nodes with crypto enabled")
	}

	peers, err := wauth.LoadPeers(cfg.Peers, addr)
	if err != nil {
		return "", err
	}
	return peers[addr].Endpoint()
}
