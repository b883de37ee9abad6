// Package whttp is a [wnet.Network] over HTTP.
//
// Every route is served at POST /p2p/{route}.
// The request body is the sender's wire envelope
// and a 200 response body is the handler's reply.
//
// Addresses are either "host:port" for TCP
// or "unix:/path/to.sock" for a unix domain socket.
package whttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/tv42/httpunix"
	"github.com/weakchain/weak/internal/wlog"
	"github.com/weakchain/weak/internal/wmetrics"
	"github.com/weakchain/weak/wauth"
	"github.com/weakchain/weak/wnet"
)

const (
	// PathPrefix is the URL path prefix of every route.
	PathPrefix = "/p2p/"

	// RequestIDHeader carries a per-request ID,
	// logged on both sides to correlate a send with its handling.
	RequestIDHeader = "X-Weak-Request-Id"

	// MaxBodySize bounds the request and response bodies.
	MaxBodySize = 64 << 20

	unixPrefix = "unix:"
)

// Config is the configuration for [New].
type Config struct {
	// Listener the server accepts peer requests on. Required.
	// See [Listen] for building one from an address.
	Listener net.Listener

	// Authenticates inbound and stamps outbound messages. Required.
	Manager wauth.MessageManager

	// Bound on a single Send, including reading the reply.
	RequestTimeout time.Duration

	// Optional.
	Metrics *wmetrics.Transport
}

// DefaultConfig returns a Config with default timeouts.
// Callers must still set Listener and Manager.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 10 * time.Second,
	}
}

// Listen opens a listener for addr, which may carry the "unix:" prefix.
func Listen(addr string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(addr, unixPrefix); ok {
		return net.Listen("unix", path)
	}
	return net.Listen("tcp", addr)
}

var _ wnet.Network = (*Network)(nil)

// Network serves registered routes and sends to peers over HTTP.
type Network struct {
	wnet.HandlerMap

	log     *slog.Logger
	mm      wauth.MessageManager
	metrics *wmetrics.Transport

	transport *http.Transport
	client    *http.Client

	unix     *httpunix.Transport
	unixMu   sync.Mutex
	unixLocs map[string]string // Socket path to httpunix location.

	done chan struct{}
}

// New starts serving on cfg.Listener.
// The server shuts down when ctx is canceled; use [Network.Wait]
// to block until it has stopped.
func New(ctx context.Context, log *slog.Logger, cfg Config) *Network {
	if cfg.Listener == nil {
		panic(errors.New("BUG: whttp.Config.Listener must not be nil"))
	}
	if cfg.Manager == nil {
		panic(errors.New("BUG: whttp.Config.Manager must not be nil"))
	}

	unix := &httpunix.Transport{
		DialTimeout:           cfg.RequestTimeout,
		RequestTimeout:        cfg.RequestTimeout,
		ResponseHeaderTimeout: cfg.RequestTimeout,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.RegisterProtocol(httpunix.Scheme, unix)

	n := &Network{
		log:     log,
		mm:      cfg.Manager,
		metrics: cfg.Metrics,

		transport: transport,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},

		unix:     unix,
		unixLocs: make(map[string]string),

		done: make(chan struct{}),
	}

	srv := &http.Server{
		Handler: n.newMux(),

		ReadHeaderTimeout: 5 * time.Second,

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go n.serve(cfg.Listener, srv)
	go n.waitForShutdown(ctx, srv)

	return n
}

// Wait blocks until the server has stopped.
func (n *Network) Wait() {
	<-n.done
}

func (n *Network) LocalEndpoint() string {
	return n.mm.LocalIdentity()
}

func (n *Network) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-n.done:
		return
	case <-ctx.Done():
		_ = srv.Close()
		n.transport.CloseIdleConnections()
	}
}

func (n *Network) serve(ln net.Listener, srv *http.Server) {
	defer close(n.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			n.log.Info("HTTP peer server shutting down")
		} else {
			n.log.Info("HTTP peer server shutting down due to error", "err", err)
		}
	}
}

func (n *Network) newMux() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc(PathPrefix+"{route}", n.handleRoute).Methods(http.MethodPost)

	return r
}

func (n *Network) handleRoute(w http.ResponseWriter, req *http.Request) {
	route := mux.Vars(req)["route"]
	log := n.log.With("route", route, "req_id", req.Header.Get(RequestIDHeader))

	h, ok := n.Lookup(route)
	if !ok {
		n.metrics.ObserveUnknownRoute()
		http.Error(w, wnet.ErrNoRoute.Error(), http.StatusNotFound)
		return
	}

	wire, err := io.ReadAll(http.MaxBytesReader(w, req.Body, MaxBodySize))
	if err != nil {
		n.metrics.ObserveReceive(route, err)
		http.Error(w, fmt.Sprintf("failed to read body: %v", err), http.StatusBadRequest)
		return
	}

	from, payload, ok := n.mm.Open(wire)
	if !ok {
		n.metrics.ObserveReceive(route, wnet.ErrRejected)
		log.Debug("Rejected inbound message", "remote", req.RemoteAddr)
		http.Error(w, wnet.ErrRejected.Error(), http.StatusForbidden)
		return
	}

	resp, err := h(req.Context(), from, payload)
	n.metrics.ObserveReceive(route, err)
	if err != nil {
		log.Debug(
			"Handler failed",
			"from", wauth.AddressOf(from),
			"data", wlog.Abbrev(payload),
			"err", err,
		)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(resp); err != nil {
		log.Debug("Failed to write reply", "err", err)
	}
}

func (n *Network) Send(ctx context.Context, endpoint, route string, data []byte) ([]byte, error) {
	resp, err := n.send(ctx, endpoint, route, data)
	n.metrics.ObserveSend(route, err)
	return resp, err
}

func (n *Network) send(ctx context.Context, endpoint, route string, data []byte) ([]byte, error) {
	peer, ok := wauth.ParseEndpoint(endpoint)
	if !ok || peer.Address == "" {
		return nil, fmt.Errorf("%w: cannot parse endpoint", wnet.ErrUnknownEndpoint)
	}

	reqID := uuid.NewString()
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, n.routeURL(peer.Address, route), bytes.NewReader(n.mm.Prepare(data)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build request to %s: %w", peer.Address, err)
	}
	req.Header.Set(RequestIDHeader, reqID)
	req.Header.Set("Content-Type", "application/octet-stream")

	n.log.Debug(
		"Sending",
		"to", peer.Address, "route", route, "req_id", reqID,
		"data", wlog.Abbrev(data),
	)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send to %s: %w", peer.Address, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read reply from %s: %w", peer.Address, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s at %s", wnet.ErrNoRoute, route, peer.Address)
	case http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", wnet.ErrRejected, peer.Address)
	default:
		return nil, fmt.Errorf(
			"%w: %s (status %d): %s",
			wnet.ErrHandler, peer.Address, resp.StatusCode, strings.TrimSpace(string(body)),
		)
	}
}

func (n *Network) routeURL(addr, route string) string {
	host := addr
	scheme := "http"
	if path, ok := strings.CutPrefix(addr, unixPrefix); ok {
		scheme = httpunix.Scheme
		host = n.unixLocation(path)
	}
	return scheme + "://" + host + PathPrefix + url.PathEscape(route)
}

// unixLocation returns the httpunix location name for a socket path,
// registering it on first use.
func (n *Network) unixLocation(path string) string {
	n.unixMu.Lock()
	defer n.unixMu.Unlock()

	if loc, ok := n.unixLocs[path]; ok {
		return loc
	}

	// Location names end up as URL hosts, so they cannot be the raw path.
	loc := fmt.Sprintf("sock%d", len(n.unixLocs))
	n.unix.RegisterLocation(loc, path)
	n.unixLocs[path] = loc
	return loc
}
