// Package wconsensustest contains test collaborators for wconsensus.
package wconsensustest

import (
	"bytes"
	"context"
	"sync"

	"github.com/weakchain/weak/wconsensus"
)

var _ wconsensus.Executable = (*RecordingExecutable)(nil)

// RecordingExecutable records every executed command in order.
// Its zero value is ready to use.
type RecordingExecutable struct {
	mu   sync.Mutex
	cmds [][]byte
}

// Execute records cmd and returns it unchanged.
func (e *RecordingExecutable) Execute(_ context.Context, cmd []byte) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cmds = append(e.cmds, bytes.Clone(cmd))
	return cmd
}

// Commands returns the executed commands as strings, for easy comparison.
func (e *RecordingExecutable) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, len(e.cmds))
	for i, c := range e.cmds {
		out[i] = string(c)
	}
	return out
}
