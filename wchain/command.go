package wchain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command switch bytes.
const (
	CmdExecuteBlock byte = 'b'
	CmdAddTxs       byte = 't'
)

// ErrEmptyCommand is returned by [ParseCommand] for an empty command.
var ErrEmptyCommand = errors.New("empty command")

// EncodeExecuteBlock returns the EXECUTE_BLK command for b.
func EncodeExecuteBlock(b BlockForConsensus) []byte {
	arg, err := json.Marshal(b)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to marshal block: %w", err))
	}
	return append([]byte{CmdExecuteBlock}, arg...)
}

// EncodeAddTxs returns the ADD_TXS command for txs.
func EncodeAddTxs(txs []Tx) []byte {
	arg, err := json.Marshal(txs)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to marshal txs: %w", err))
	}
	return append([]byte{CmdAddTxs}, arg...)
}

// Command is a parsed chain command.
// Exactly one of Block or Txs is set, matching Kind.
type Command struct {
	Kind  byte
	Block BlockForConsensus
	Txs   []Tx
}

// ParseCommand decodes a command produced by [EncodeExecuteBlock] or [EncodeAddTxs].
func ParseCommand(cmd []byte) (Command, error) {
	if len(cmd) == 0 {
		return Command{}, ErrEmptyCommand
	}

	c := Command{Kind: cmd[0]}
	arg := cmd[1:]
	switch c.Kind {
	case CmdExecuteBlock:
		if err := json.Unmarshal(arg, &c.Block); err != nil {
			return Command{}, fmt.Errorf("failed to parse block: %w", err)
		}
	case CmdAddTxs:
		if err := json.Unmarshal(arg, &c.Txs); err != nil {
			return Command{}, fmt.Errorf("failed to parse txs: %w", err)
		}
	default:
		return Command{}, fmt.Errorf(
			"unknown command prefix %q, valid values are %q and %q",
			c.Kind, CmdExecuteBlock, CmdAddTxs,
		)
	}
	return c, nil
}
