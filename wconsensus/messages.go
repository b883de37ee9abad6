package wconsensus

import (
	"context"
	"errors"
)

// Executable applies committed commands to local state.
type Executable interface {
	// Execute applies cmd.
	// The result is informational only;
	// implementations log and absorb their own failures.
	Execute(ctx context.Context, cmd []byte) []byte
}

var (
	// ErrJoinFailed is returned by [New] when a subordinate
	// cannot join the primary.
	ErrJoinFailed = errors.New("failed to join primary")

	// ErrForwardFailed is returned when a subordinate
	// cannot relay a command to the primary.
	ErrForwardFailed = errors.New("failed to forward command to primary")

	// ErrStopped is returned for requests that arrive
	// after the replica's context was canceled.
	ErrStopped = errors.New("consensus replica stopped")
)

// JoinTicket is the primary's reply to a join request.
type JoinTicket struct {
	Msg string `json:"msg"`

	// Every command committed so far, in commit order.
	CommandHistory [][]byte `json:"command_history"`
}

// Ack is the reply to an executed command.
type Ack struct {
	Msg string `json:"msg"`

	// Addresses of the primary's members after the broadcast.
	// Empty in acknowledgements from subordinates.
	Members []string `json:"members,omitempty"`
}

const (
	welcomeMsg        = "Welcome, you are in"
	executedMsg       = "Executed and broadcast"
	subordinateAckMsg = "Executed by subordinate"
)
