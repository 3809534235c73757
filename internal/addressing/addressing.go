// ABOUTME: Mention-based addressing for world messages
// ABOUTME: Computes owners, recipient, direction, and memory-only classification

package addressing

import (
	"regexp"
	"strings"

	"github.com/2389/agentworld/internal/event"
)

// Direction classifies how a message travels through a world.
type Direction string

const (
	// Broadcast messages reach every agent in the world.
	Broadcast Direction = "broadcast"
	// Incoming messages are directed at one agent by another.
	Incoming Direction = "incoming"
)

// Agent is the part of an agent the addressing rules look at.
type Agent struct {
	ID   string
	Name string
}

// Message is the part of a message the addressing rules look at.
type Message struct {
	Sender  string
	Content string
}

// Addressing bundles every addressing decision for one message.
type Addressing struct {
	Owners      []string
	Recipient   string // "" when the message has no resolvable mention
	Direction   Direction
	MemoryOnly  bool
	CrossAgent  bool
	SenderType  event.SenderType
	Mentions    []string
	SelfMention bool
}

// mentionPattern matches an @name token at the start of the content or of a
// line, after optional whitespace.
var mentionPattern = regexp.MustCompile(`(?m)^[ \t]*@([A-Za-z0-9_][A-Za-z0-9_.-]*)`)

// Mentions returns the paragraph-leading @name tokens in content, in order,
// without the @ and with trailing punctuation trimmed.
func Mentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimRight(m[1], ".-")
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// findAgent resolves a name case-insensitively against agent ids and names.
func findAgent(agents []Agent, name string) (Agent, bool) {
	for _, a := range agents {
		if strings.EqualFold(a.ID, name) || (a.Name != "" && strings.EqualFold(a.Name, name)) {
			return a, true
		}
	}
	return Agent{}, false
}

// senderAgent resolves the sender to one of the world's agents.
func senderAgent(agents []Agent, sender string) (Agent, bool) {
	if event.SenderTypeOf(sender) != event.SenderAgent {
		return Agent{}, false
	}
	return findAgent(agents, sender)
}

// resolvedMention returns the first mention that names a known agent other
// than the sender.
func resolvedMention(agents []Agent, msg Message) (Agent, bool) {
	self, isAgent := senderAgent(agents, msg.Sender)
	for _, name := range Mentions(msg.Content) {
		a, ok := findAgent(agents, name)
		if !ok {
			continue
		}
		if isAgent && a.ID == self.ID {
			continue
		}
		return a, true
	}
	return Agent{}, false
}

func allIDs(agents []Agent) []string {
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	return ids
}

// OwnerAgentIDs returns the agents whose memory a message belongs to.
// Human and world senders broadcast to every agent. An agent sender with a
// resolvable mention owns the message jointly with the mentioned agent; any
// other agent message falls back to broadcast. An agent mentioning itself is
// not a resolvable mention, so "@a1 ..." from a1 broadcasts unless a later
// mention names another agent.
func OwnerAgentIDs(agents []Agent, msg Message) []string {
	if event.SenderTypeOf(msg.Sender) != event.SenderAgent {
		return allIDs(agents)
	}
	target, ok := resolvedMention(agents, msg)
	if !ok {
		return allIDs(agents)
	}
	sender := msg.Sender
	if self, found := findAgent(agents, msg.Sender); found {
		sender = self.ID
	}
	return []string{sender, target.ID}
}

// RecipientAgentID returns the id of the first resolvable mention, or "".
func RecipientAgentID(agents []Agent, msg Message) string {
	if a, ok := resolvedMention(agents, msg); ok {
		return a.ID
	}
	return ""
}

// MessageDirection is Incoming only for an agent sender with a resolvable
// mention.
func MessageDirection(agents []Agent, msg Message) Direction {
	if event.SenderTypeOf(msg.Sender) != event.SenderAgent {
		return Broadcast
	}
	if _, ok := resolvedMention(agents, msg); ok {
		return Incoming
	}
	return Broadcast
}

// IsMemoryOnly reports whether the message is recorded in its owners' memory
// without being rebroadcast to the world.
func IsMemoryOnly(agents []Agent, msg Message) bool {
	return MessageDirection(agents, msg) == Incoming
}

// IsCrossAgentMessage reports whether the message is directed from one agent
// to another.
func IsCrossAgentMessage(agents []Agent, msg Message) bool {
	return MessageDirection(agents, msg) == Incoming
}

// Resolve computes every addressing decision for msg in one pass.
func Resolve(agents []Agent, msg Message) Addressing {
	st := event.SenderTypeOf(msg.Sender)
	a := Addressing{
		SenderType: st,
		Mentions:   Mentions(msg.Content),
		Direction:  Broadcast,
		Owners:     allIDs(agents),
	}

	if st == event.SenderAgent {
		if self, ok := findAgent(agents, msg.Sender); ok {
			for _, name := range a.Mentions {
				if m, found := findAgent(agents, name); found && m.ID == self.ID {
					a.SelfMention = true
					break
				}
			}
		}
	}

	target, ok := resolvedMention(agents, msg)
	if !ok {
		return a
	}
	a.Recipient = target.ID
	if st != event.SenderAgent {
		return a
	}

	a.Owners = OwnerAgentIDs(agents, msg)
	a.Direction = Incoming
	a.MemoryOnly = true
	a.CrossAgent = true
	return a
}

// Meta returns the addressing annotations stamped onto a message event.
func (a Addressing) Meta() event.Meta {
	m := event.Meta{
		event.MetaOwners:     a.Owners,
		event.MetaDirection:  string(a.Direction),
		event.MetaMemoryOnly: a.MemoryOnly,
	}
	if a.Recipient != "" {
		m[event.MetaRecipient] = a.Recipient
	}
	return m
}
