// Package wlibp2p is a [wnet.Network] over libp2p streams.
//
// Each request opens one stream on [ProtocolID].
// The sender writes a frame of
//
//	route length (1 byte) | route | wire envelope
//
// and closes its write side.
// The receiver answers with a status byte followed by the reply
// (or the error text, for a failed handler) and closes the stream.
//
// The address in a peer endpoint is a multiaddr.
// If it has no /p2p component, the peer ID is derived
// from the public key in the endpoint,
// which requires the peer's host to use its node key as libp2p identity.
// Omitting the component keeps certified identities within the envelope size limit.
package wlibp2p

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"github.com/weakchain/weak/internal/wlog"
	"github.com/weakchain/weak/internal/wmetrics"
	"github.com/weakchain/weak/wauth"
	"github.com/weakchain/weak/wcrypto"
	"github.com/weakchain/weak/wnet"
)

// ProtocolID is the libp2p protocol of every request stream.
const ProtocolID protocol.ID = "/weak/p2p/1.0.0"

// MaxMessageSize bounds request and reply frames.
const MaxMessageSize = 64 << 20

// Reply status bytes.
const (
	statusOK byte = iota
	statusNoRoute
	statusRejected
	statusHandlerError
	statusBadRequest
)

// Config is the configuration for [New].
type Config struct {
	// Multiaddrs to listen on, e.g. "/ip4/127.0.0.1/tcp/0".
	ListenAddrs []string

	// Address to advertise in the local endpoint.
	// Defaults to the first listen address of the host,
	// which must then be dialable by peers.
	AdvertiseAddr string

	// Identity of the libp2p host.
	// When set, the advertised address carries no /p2p component,
	// so the message manager must claim the same key.
	// When nil, a random key is generated
	// and the advertised address includes the peer ID.
	HostKey ed25519.PrivateKey

	// Builds the message manager once the advertised address is known. Required.
	NewManager func(addr string) (wauth.MessageManager, error)

	// Bound on a single Send when ctx has no earlier deadline.
	RequestTimeout time.Duration

	// Optional.
	Metrics *wmetrics.Transport
}

// DefaultConfig returns a Config listening on a random loopback TCP port.
// Callers must still set NewManager.
func DefaultConfig() Config {
	return Config{
		ListenAddrs:    []string{"/ip4/127.0.0.1/tcp/0"},
		RequestTimeout: 10 * time.Second,
	}
}

var _ wnet.Network = (*Network)(nil)

// Network sends and serves requests through a libp2p host.
type Network struct {
	wnet.HandlerMap

	log     *slog.Logger
	h       host.Host
	mm      wauth.MessageManager
	metrics *wmetrics.Transport
	timeout time.Duration

	// Root context of inbound handlers.
	ctx context.Context

	done chan struct{}
}

// New starts a libp2p host and begins serving [ProtocolID].
// The host is closed when ctx is canceled; use [Network.Wait]
// to block until that has completed.
func New(ctx context.Context, log *slog.Logger, cfg Config) (*Network, error) {
	if cfg.NewManager == nil {
		panic(errors.New("BUG: wlibp2p.Config.NewManager must not be nil"))
	}

	var priv libp2pcrypto.PrivKey
	if cfg.HostKey != nil {
		k, err := libp2pcrypto.UnmarshalEd25519PrivateKey(cfg.HostKey)
		if err != nil {
			return nil, fmt.Errorf("failed to convert host key: %w", err)
		}
		priv = k
	} else {
		k, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate host key: %w", err)
		}
		priv = k
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start libp2p host: %w", err)
	}

	addr, err := advertiseAddr(h, cfg)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	mm, err := cfg.NewManager(addr)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("failed to build message manager: %w", err)
	}

	n := &Network{
		log:     log.With("peer_id", h.ID().String()),
		h:       h,
		mm:      mm,
		metrics: cfg.Metrics,
		timeout: cfg.RequestTimeout,

		ctx: ctx,

		done: make(chan struct{}),
	}

	h.SetStreamHandler(ProtocolID, n.handleStream)

	go n.waitForShutdown(ctx)

	return n, nil
}

func advertiseAddr(h host.Host, cfg Config) (string, error) {
	var addr multiaddr.Multiaddr
	if cfg.AdvertiseAddr != "" {
		a, err := multiaddr.NewMultiaddr(cfg.AdvertiseAddr)
		if err != nil {
			return "", fmt.Errorf("invalid advertise address: %w", err)
		}
		addr = a
	} else {
		las := h.Network().ListenAddresses()
		if len(las) == 0 {
			return "", errors.New("libp2p host has no listen addresses")
		}
		addr = las[0]
	}

	if cfg.HostKey != nil {
		return addr.String(), nil
	}

	p2p, err := multiaddr.NewMultiaddr("/p2p/" + h.ID().String())
	if err != nil {
		return "", fmt.Errorf("failed to build peer multiaddr: %w", err)
	}
	return addr.Encapsulate(p2p).String(), nil
}

func (n *Network) waitForShutdown(ctx context.Context) {
	defer close(n.done)

	<-ctx.Done()
	n.h.RemoveStreamHandler(ProtocolID)
	if err := n.h.Close(); err != nil {
		n.log.Info("Error closing libp2p host", "err", err)
	}
}

// Wait blocks until the host has been closed.
func (n *Network) Wait() {
	<-n.done
}

func (n *Network) LocalEndpoint() string {
	return n.mm.LocalIdentity()
}

// Host exposes the underlying libp2p host.
func (n *Network) Host() host.Host {
	return n.h
}

func (n *Network) handleStream(s network.Stream) {
	defer s.Close()

	if n.timeout > 0 {
		_ = s.SetDeadline(time.Now().Add(n.timeout))
	}

	frame, err := io.ReadAll(io.LimitReader(s, MaxMessageSize))
	if err != nil {
		n.log.Debug("Failed to read request", "remote", s.Conn().RemotePeer(), "err", err)
		_ = s.Reset()
		return
	}

	status, body := n.dispatch(frame)
	if _, err := s.Write(append([]byte{status}, body...)); err != nil {
		n.log.Debug("Failed to write reply", "remote", s.Conn().RemotePeer(), "err", err)
	}
}

// dispatch runs the handler addressed by frame
// and returns the reply status and body.
func (n *Network) dispatch(frame []byte) (byte, []byte) {
	route, wire, ok := decodeRequest(frame)
	if !ok {
		return statusBadRequest, []byte("malformed request frame")
	}

	h, ok := n.Lookup(route)
	if !ok {
		n.metrics.ObserveUnknownRoute()
		return statusNoRoute, nil
	}

	from, payload, ok := n.mm.Open(wire)
	if !ok {
		n.metrics.ObserveReceive(route, wnet.ErrRejected)
		return statusRejected, nil
	}

	resp, err := h(n.ctx, from, payload)
	n.metrics.ObserveReceive(route, err)
	if err != nil {
		n.log.Debug(
			"Handler failed",
			"route", route, "from", wauth.AddressOf(from),
			"data", wlog.Abbrev(payload), "err", err,
		)
		return statusHandlerError, []byte(err.Error())
	}
	return statusOK, resp
}

func (n *Network) Send(ctx context.Context, endpoint, route string, data []byte) ([]byte, error) {
	resp, err := n.send(ctx, endpoint, route, data)
	n.metrics.ObserveSend(route, err)
	return resp, err
}

func (n *Network) send(ctx context.Context, endpoint, route string, data []byte) ([]byte, error) {
	if len(route) == 0 || len(route) > 255 {
		return nil, fmt.Errorf("route name length %d out of range [1, 255]", len(route))
	}

	info, err := addrInfo(endpoint)
	if err != nil {
		return nil, err
	}

	frame := encodeRequest(route, n.mm.Prepare(data))

	if info.ID == n.h.ID() {
		// libp2p refuses to dial itself.
		status, body := n.dispatch(frame)
		return replyResult(status, body, route, info.ID)
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	if err := n.h.Connect(ctx, info); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", info.ID, err)
	}

	s, err := n.h.NewStream(ctx, info.ID, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream to %s: %w", info.ID, err)
	}
	defer s.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(dl)
	}

	n.log.Debug("Sending", "to", info.ID, "route", route, "data", wlog.Abbrev(data))

	if _, err := s.Write(frame); err != nil {
		_ = s.Reset()
		return nil, fmt.Errorf("failed to write request to %s: %w", info.ID, err)
	}
	if err := s.CloseWrite(); err != nil {
		_ = s.Reset()
		return nil, fmt.Errorf("failed to close write side to %s: %w", info.ID, err)
	}

	reply, err := io.ReadAll(io.LimitReader(s, MaxMessageSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read reply from %s: %w", info.ID, err)
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("empty reply from %s", info.ID)
	}

	return replyResult(reply[0], reply[1:], route, info.ID)
}

func replyResult(status byte, body []byte, route string, id peer.ID) ([]byte, error) {
	switch status {
	case statusOK:
		return body, nil
	case statusNoRoute:
		return nil, fmt.Errorf("%w: %s at %s", wnet.ErrNoRoute, route, id)
	case statusRejected:
		return nil, fmt.Errorf("%w: %s", wnet.ErrRejected, id)
	case statusHandlerError:
		return nil, fmt.Errorf("%w: %s: %s", wnet.ErrHandler, id, body)
	default:
		return nil, fmt.Errorf("peer %s returned status %d: %s", id, status, body)
	}
}

// addrInfo resolves the libp2p dial information of endpoint.
func addrInfo(endpoint string) (peer.AddrInfo, error) {
	id, ok := wauth.ParseEndpoint(endpoint)
	if !ok || id.Address == "" {
		return peer.AddrInfo{}, fmt.Errorf("%w: cannot parse endpoint", wnet.ErrUnknownEndpoint)
	}

	ma, err := multiaddr.NewMultiaddr(id.Address)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("%w: invalid multiaddr %q: %v", wnet.ErrUnknownEndpoint, id.Address, err)
	}

	tpt, pid := peer.SplitAddr(ma)
	if pid == "" {
		pid, err = peerIDFromPEM(id.PubKeyPEM)
		if err != nil {
			return peer.AddrInfo{}, fmt.Errorf(
				"%w: address %q has no peer ID and %v", wnet.ErrUnknownEndpoint, id.Address, err,
			)
		}
	}

	info := peer.AddrInfo{ID: pid}
	if tpt != nil {
		info.Addrs = []multiaddr.Multiaddr{tpt}
	}
	return info, nil
}

func peerIDFromPEM(pubPEM string) (peer.ID, error) {
	pub, err := wcrypto.ParsePublicKeyPEM([]byte(pubPEM))
	if err != nil {
		return "", fmt.Errorf("the endpoint key is unusable: %w", err)
	}

	lpub, err := libp2pcrypto.UnmarshalEd25519PublicKey(pub.PubKeyBytes())
	if err != nil {
		return "", fmt.Errorf("failed to convert endpoint key: %w", err)
	}

	return peer.IDFromPublicKey(lpub)
}

func encodeRequest(route string, wire []byte) []byte {
	out := make([]byte, 0, 1+len(route)+len(wire))
	out = append(out, byte(len(route)))
	out = append(out, route...)
	return append(out, wire...)
}

func decodeRequest(frame []byte) (route string, wire []byte, ok bool) {
	if len(frame) < 1 {
		return "", nil, false
	}
	n := int(frame[0])
	if n == 0 || len(frame) < 1+n {
		return "", nil, false
	}
	return string(frame[1 : 1+n]), frame[1+n:], true
}
