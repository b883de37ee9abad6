// Package wnettest contains an in-memory [wnet.Network]
// and a compliance suite for concrete transports.
package wnettest

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/weakchain/weak/wauth"
	"github.com/weakchain/weak/wnet"
)

// Hub is a registry of in-memory nodes that can reach each other.
// Nodes on different hubs are isolated,
// so tests create their own Hub instead of sharing state.
type Hub struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

func NewHub() *Hub {
	return &Hub{nodes: make(map[string]*Node)}
}

// NewNode adds a node identified by m.LocalIdentity().
// Outgoing messages are stamped with m.Prepare
// and incoming ones are authenticated with m.Open.
func (h *Hub) NewNode(m wauth.MessageManager) (*Node, error) {
	e := m.LocalIdentity()

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.nodes[e]; ok {
		return nil, fmt.Errorf("endpoint %q already registered on hub", wauth.AddressOf(e))
	}

	n := &Node{hub: h, mm: m}
	h.nodes[e] = n
	return n, nil
}

// NewMockNode is shorthand for a node with a [wauth.TrivialManager]
// identified by [wauth.MockEndpoint](addr).
func (h *Hub) NewMockNode(addr string) (*Node, error) {
	m, err := wauth.NewTrivialManager(wauth.MockEndpoint(addr))
	if err != nil {
		return nil, err
	}
	return h.NewNode(m)
}

// Remove makes endpoint unreachable.
// Unlike [Node.Clear], sends to a removed node fail with [wnet.ErrUnknownEndpoint].
func (h *Hub) Remove(endpoint string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nodes, endpoint)
}

func (h *Hub) lookup(endpoint string) (*Node, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n, ok := h.nodes[endpoint]
	return n, ok
}

var _ wnet.Network = (*Node)(nil)

// Node is one participant on a [Hub].
// Handlers run on the sender's goroutine,
// with no hub lock held.
type Node struct {
	wnet.HandlerMap

	hub *Hub
	mm  wauth.MessageManager
}

func (n *Node) LocalEndpoint() string {
	return n.mm.LocalIdentity()
}

func (n *Node) Send(ctx context.Context, endpoint, route string, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst, ok := n.hub.lookup(endpoint)
	if !ok {
		return nil, fmt.Errorf("%w: %s", wnet.ErrUnknownEndpoint, wauth.AddressOf(endpoint))
	}

	return dst.receive(ctx, route, n.mm.Prepare(data))
}

func (n *Node) receive(ctx context.Context, route string, wire []byte) ([]byte, error) {
	h, ok := n.Lookup(route)
	if !ok {
		return nil, fmt.Errorf("%w: %s", wnet.ErrNoRoute, route)
	}

	from, payload, ok := n.mm.Open(wire)
	if !ok {
		return nil, wnet.ErrRejected
	}

	resp, err := h(ctx, from, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wnet.ErrHandler, err)
	}

	// Replies must not alias handler memory.
	return bytes.Clone(resp), nil
}
