// Package addressing decides who a world message belongs to.
//
// Mentions are the only addressing primitive. A mention is an @name token at
// the start of the message or of one of its lines:
//
//	@a2 status?            -> directed at a2
//	thanks @a2             -> not a mention
//
// Rules:
//
//   - Human and world senders broadcast. Every agent owns the message.
//   - An agent that mentions another known agent sends an incoming message.
//     Only the sender and the first resolvable mention own it, and it is
//     recorded in memory without being rebroadcast.
//   - Any other agent message broadcasts.
//
// Nothing here returns an error; unknown names degrade to broadcast.
package addressing
