// Package bus implements the per-world event bus.
//
// # Overview
//
// Every loaded world owns one Bus. There is no process-wide bus: callers get a
// world's bus from its world.Subscription.
//
// # Publish Pipeline
//
// Publish runs these steps in order on the caller's goroutine:
//
//  1. Validate the payload against its event type's schema
//  2. Stamp id, timestamp, chat, sender, and message addressing annotations
//  3. Persist through the store.EventLog, which assigns seq
//  4. Deliver synchronously through the Provider
//
// A validation failure stops the pipeline and is returned. A persistence
// failure is logged and counted, delivery still happens, and the event is
// left out of GetHistory.
//
// # Topics
//
//	messages  event.TypeMessage
//	world     event.TypeWorld
//	sse       event.TypeSSE
//	system    event.TypeSystem
//	tool      event.TypeTool
//
// # Providers
//
//   - LocalProvider: in-process fan-out in subscription order
//   - KafkaProvider: local fan-out plus a Kafka topic per world and bus topic,
//     with this instance's own echoes filtered out
//
// Filters are applied by the bus after delivery, never by the provider.
package bus
