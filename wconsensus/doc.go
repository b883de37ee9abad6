// Package wconsensus contains a single-primary replication protocol.
//
// Exactly one node per run is the primary, fixed at start-up.
// The primary orders every command: it appends the command to its history,
// executes it locally, and then broadcasts it to every member that joined.
// Members that fail to accept a broadcast are dropped from membership.
//
// Every other node is a subordinate.
// A subordinate joins the primary at start-up,
// replays the command history it receives in the join reply,
// and from then on executes commands broadcast by the primary.
// Commands a subordinate receives from anyone else
// are relayed to the primary, and the primary's reply is passed back.
//
// There is no leader election, no Byzantine fault tolerance,
// and no retry: a subordinate that cannot join or relay fails the operation.
package wconsensus
