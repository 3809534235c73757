// ABOUTME: Event record and JSON encoding for the per-world event stream
// ABOUTME: Payload is a tagged union keyed by the event type

package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of event and fixes the shape of its payload.
type Type string

const (
	TypeMessage Type = "message"
	TypeWorld   Type = "world"
	TypeSSE     Type = "sse"
	TypeSystem  Type = "system"
	TypeTool    Type = "tool"
)

// Types lists every event type in a stable order.
var Types = []Type{TypeMessage, TypeWorld, TypeSSE, TypeSystem, TypeTool}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeMessage, TypeWorld, TypeSSE, TypeSystem, TypeTool:
		return true
	}
	return false
}

// Payload is the type-specific body of an event.
type Payload interface {
	EventType() Type
}

// Event is an immutable record on a world's event stream.
type Event struct {
	ID        string    `json:"id"`
	WorldID   string    `json:"worldId"`
	ChatID    *string   `json:"chatId"`
	Type      Type      `json:"type"`
	Seq       int64     `json:"seq"`
	Payload   Payload   `json:"payload"`
	Meta      Meta      `json:"meta,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatKey returns the chat id or "" when the event is outside any chat.
func (e *Event) ChatKey() string {
	if e.ChatID == nil {
		return ""
	}
	return *e.ChatID
}

// Clone returns a shallow copy with its own Meta map.
func (e *Event) Clone() *Event {
	c := *e
	c.Meta = e.Meta.Clone()
	if e.ChatID != nil {
		id := *e.ChatID
		c.ChatID = &id
	}
	return &c
}

// UnmarshalJSON decodes the payload into the concrete type selected by the
// event's type field.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	var raw struct {
		alias
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*e = Event(raw.alias)
	if len(raw.Payload) == 0 || string(raw.Payload) == "null" {
		return fmt.Errorf("event %s: missing payload", e.ID)
	}

	p, err := unmarshalPayload(e.Type, raw.Payload)
	if err != nil {
		return fmt.Errorf("event %s: %w", e.ID, err)
	}
	e.Payload = p
	return nil
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
