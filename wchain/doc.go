// Package wchain bridges the blockchain data model and the consensus layer.
//
// Blocks travel through consensus as a [BlockForConsensus],
// which carries transaction hashes rather than transactions.
// Transactions themselves are replicated ahead of time
// through ADD_TXS commands into every node's [TxPool],
// and an EXECUTE_BLK command resolves the hashes against the pool
// before committing the block to the [Ledger].
//
// Commands are a one-byte switch followed by a JSON argument;
// see [EncodeAddTxs] and [EncodeExecuteBlock].
package wchain
