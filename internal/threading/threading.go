// ABOUTME: Reply-chain resolution over an agent's message history
// ABOUTME: Bounded walk with a visited set and a hard depth ceiling

package threading

import (
	"github.com/2389/agentworld/internal/event"
	"github.com/2389/agentworld/internal/store"
)

// MaxDepth caps how many reply hops a walk will follow.
const MaxDepth = 100

// Metadata describes where a message sits in its reply thread.
type Metadata struct {
	RootID  string // "" when the message is not a reply
	Depth   int
	IsReply bool
}

// Resolve walks msg's reply links back through prior to find the thread root.
//
// The walk stops when an ancestor has no parent, when an id repeats, when an
// ancestor is missing from prior, or after MaxDepth hops. In every case the
// root is the last id visited and Depth counts the hops taken, so a dangling
// or cyclic chain still yields a usable answer.
func Resolve(msg store.ConversationMessage, prior []store.ConversationMessage) Metadata {
	if msg.ReplyToMessageID == "" {
		return Metadata{}
	}

	byID := index(prior)
	visited := map[string]bool{}
	if msg.MessageID != "" {
		visited[msg.MessageID] = true
	}

	md := Metadata{IsReply: true}
	cur := msg.ReplyToMessageID
	for cur != "" && md.Depth < MaxDepth {
		if visited[cur] {
			break
		}
		visited[cur] = true
		md.Depth++
		md.RootID = cur

		parent, ok := byID[cur]
		if !ok {
			break
		}
		cur = parent.ReplyToMessageID
	}
	return md
}

// WouldCycle reports whether recording messageID as a reply to replyTo would
// close a loop in the reply graph formed by prior.
func WouldCycle(messageID, replyTo string, prior []store.ConversationMessage) bool {
	if replyTo == "" || messageID == "" {
		return false
	}
	if replyTo == messageID {
		return true
	}

	byID := index(prior)
	visited := map[string]bool{}
	cur := replyTo
	for hops := 0; cur != "" && hops < MaxDepth; hops++ {
		if cur == messageID {
			return true
		}
		if visited[cur] {
			return false
		}
		visited[cur] = true
		parent, ok := byID[cur]
		if !ok {
			return false
		}
		cur = parent.ReplyToMessageID
	}
	return false
}

// Meta returns the thread annotations stamped onto a message event.
func (m Metadata) Meta() event.Meta {
	out := event.Meta{
		event.MetaIsReply:     m.IsReply,
		event.MetaThreadDepth: m.Depth,
	}
	if m.RootID != "" {
		out[event.MetaThreadRootID] = m.RootID
	}
	return out
}

// index maps message ids to messages. The first occurrence wins, since
// forwarded copies of one message share its id.
func index(prior []store.ConversationMessage) map[string]store.ConversationMessage {
	byID := make(map[string]store.ConversationMessage, len(prior))
	for _, m := range prior {
		if m.MessageID == "" {
			continue
		}
		if _, seen := byID[m.MessageID]; !seen {
			byID[m.MessageID] = m
		}
	}
	return byID
}
