// Package event defines the records that flow through a world's event bus.
//
// # Overview
//
// Every observable thing that happens inside a world is an Event: a chat
// message, a streaming delta from an agent, a tool execution, a lifecycle
// notice. Events carry a typed Payload whose shape is fixed by the event
// Type:
//
//	message  MessagePayload  content from a human, agent, or the world
//	world    WorldPayload    lifecycle notices (chat created, agent added)
//	sse      SSEPayload      streaming start/chunk/end/error deltas
//	system   SystemPayload   operator-facing notices and errors
//	tool     ToolPayload     tool start/result/error/progress and approvals
//
// # Sequencing
//
// Seq is zero until the event has been written to the event log, which
// assigns a strictly increasing number per (world, chat) partition. Events
// with a nil ChatID live in their own partition.
//
// # Validation
//
// Validate checks a payload against an embedded JSON Schema before it is
// published. DecodePayload does the same for raw JSON arriving from HTTP
// clients or a remote broker, so malformed input is rejected before it is
// unmarshalled into Go types.
//
// # Meta
//
// Meta is a free-form annotation map. Well-known keys are exported as
// constants (MetaSender, MetaOwners, ...). Values may have been through a
// JSON round trip, so use the Meta accessors rather than type-asserting.
package event
