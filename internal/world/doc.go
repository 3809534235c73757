// ABOUTME: Package documentation for world actors and the registry
// ABOUTME: Describes load coalescing, reference counting, and unload ordering

// Package world owns the runtime state of loaded worlds.
//
// # Actors
//
// Each loaded world is governed by one actor: a goroutine that receives
// operations over a channel and runs them one at a time. Reference counts,
// the loaded flag, agents, chats, the world's bus, and its approval gate are
// only touched from that goroutine.
//
// # Lifecycle
//
// [Registry.Subscribe] creates the actor if needed and asks it to subscribe.
// The first subscribe loads the world through a [Loader]; concurrent callers
// queue behind it on the actor and find the world already loaded, so a world
// is never loaded twice. [Subscription.Unsubscribe] decrements the count.
// The last unsubscribe runs the registered cleanups in reverse order, closes
// the bus, marks the world unloaded, and stops the actor, all before it
// returns. A subscribe racing that final release retries on a fresh actor.
//
// # Operations
//
// Subscriptions expose the world's operations: sending messages with
// addressing and thread metadata, managing agents and chats, deleting
// messages, and gating tool calls through approvals. Lookups of missing
// agents or chats report false rather than failing. Storage failures are
// returned and also published as system events so operators see them.
//
// Bus handlers run synchronously on the publisher's goroutine, which for
// world operations is the actor itself. Cleanup callbacks also run on the
// actor, during the final release. Neither may call back into a
// Subscription, including Unsubscribe, or the actor deadlocks.
package world
