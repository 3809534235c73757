// ABOUTME: Free-form event annotations with well-known keys
// ABOUTME: Accessors tolerate values that went through a JSON round trip

package event

import (
	"strings"
)

// Well-known meta keys.
const (
	MetaSender               = "sender"
	MetaSenderType           = "senderType"
	MetaAgentID              = "agentId"
	MetaTriggeredByMessageID = "triggeredByMessageId"
	MetaExecutionDuration    = "executionDuration"
	MetaResultSize           = "resultSize"
	MetaWasApproved          = "wasApproved"
	MetaOwners               = "owners"
	MetaRecipient            = "recipient"
	MetaDirection            = "direction"
	MetaMemoryOnly           = "memoryOnly"
	MetaThreadRootID         = "threadRootId"
	MetaThreadDepth          = "threadDepth"
	MetaIsReply              = "isReply"
)

// Meta holds free-form annotations on an event.
type Meta map[string]any

// Clone returns a shallow copy of m.
func (m Meta) Clone() Meta {
	if m == nil {
		return nil
	}
	c := make(Meta, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// String returns the value for key if it is a string.
func (m Meta) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Bool returns the value for key if it is a bool.
func (m Meta) Bool(key string) bool {
	b, _ := m[key].(bool)
	return b
}

// Int returns the value for key as an int64. JSON numbers decode as float64.
func (m Meta) Int(key string) int64 {
	switch v := m[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

// Strings returns the value for key as a string slice.
func (m Meta) Strings(key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// HasOwner reports whether agentID is among the event's owners.
func (m Meta) HasOwner(agentID string) bool {
	for _, id := range m.Strings(MetaOwners) {
		if strings.EqualFold(id, agentID) {
			return true
		}
	}
	return false
}
