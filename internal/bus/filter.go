// ABOUTME: Client-side event filter applied after delivery
// ABOUTME: Matches on type set, agent or sender identity, chat, and a since timestamp

package bus

import (
	"strings"
	"time"

	"github.com/2389/agentworld/internal/event"
)

// Filter selects events. Zero-valued fields match everything.
type Filter struct {
	Types   []event.Type
	AgentID string // matches the acting agent or any owner
	Sender  string
	ChatID  *string // nil matches every chat
	Since   time.Time
}

// Match reports whether e passes every set field of f.
func (f *Filter) Match(e *event.Event) bool {
	if f == nil {
		return true
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.AgentID != "" {
		acting := e.Meta.String(event.MetaAgentID)
		if !strings.EqualFold(acting, f.AgentID) && !e.Meta.HasOwner(f.AgentID) {
			return false
		}
	}
	if f.Sender != "" && !strings.EqualFold(e.Meta.String(event.MetaSender), f.Sender) {
		return false
	}
	if f.ChatID != nil && e.ChatKey() != *f.ChatID {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}
