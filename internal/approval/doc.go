// ABOUTME: Package documentation for the tool approval gate
// ABOUTME: Explains how approval state is carried in agent memory

// Package approval gates agent tool calls behind human decisions.
//
// # Flow
//
// An agent that wants to run a tool calls [Gate.Check] with its memory. If
// the memory holds a session approval for that tool in the same chat the call
// runs at once. Otherwise the gate publishes a message carrying an approval
// block and the caller records the request in the agent's memory.
//
// A human answers with a [Record] encoded as a tool-role message. [Gate.Resolve]
// matches it to the request, publishes a tool-approval event, and returns the
// entry to record in memory.
//
// # Scope
//
// "once" lets the single waiting call run. "session" is stored in memory and
// satisfies later calls of the same tool in the same chat. Starting a new chat
// or clearing the agent's memory revokes it, since the record is gone from
// what Check scans.
//
// # Restarts
//
// Pending requests are also tracked in process, but a decision for a request
// the gate has never seen is still accepted when the undecided request message
// is found in memory.
package approval
