// Package wnet defines the request/response transport contract
// shared by the consensus layer and its concrete transports.
//
// A message is addressed by a peer endpoint and a route name.
// The receiving side dispatches it to the [Handler] registered for the route
// and the handler's reply travels back to the sender.
//
// Authentication is the transport's concern:
// by the time a Handler runs, the sender identity has been established
// through the node's message manager.
package wnet

import (
	"context"
	"errors"
)

// Route names used by the consensus layer.
const (
	RouteJoin    = "join"
	RouteExecute = "execute"
)

var (
	// ErrNoRoute indicates the receiving node has no handler for the route.
	ErrNoRoute = errors.New("no handler registered for route")

	// ErrUnknownEndpoint indicates the endpoint is not reachable
	// through the network, for example an unknown in-memory node.
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrRejected indicates the receiver could not authenticate the message.
	ErrRejected = errors.New("message rejected by receiver")

	// ErrHandler wraps the error text a remote handler returned.
	ErrHandler = errors.New("remote handler failed")
)

// Handler handles one inbound message.
// The from argument is the authenticated endpoint of the sender.
// A nil error sends the returned bytes back as the reply.
type Handler func(ctx context.Context, from string, data []byte) ([]byte, error)

// Network is one node's view of the transport.
type Network interface {
	// Listen registers h for route, replacing any previous handler.
	Listen(route string, h Handler)

	// Send delivers data to route on the node at endpoint
	// and returns the reply.
	// Any non-nil error means no reply is available.
	Send(ctx context.Context, endpoint, route string, data []byte) ([]byte, error)

	// LocalEndpoint returns the endpoint peers use to reach this node.
	LocalEndpoint() string

	// Clear removes every handler registered on this node,
	// so that it stops answering while remaining addressable.
	Clear()
}
