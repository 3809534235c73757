// ABOUTME: Approval decisions encoded as tool-role conversation messages
// ABOUTME: Encode, decode, and scan helpers over an agent's memory

package approval

import (
	"encoding/json"
	"strings"

	"github.com/2389/agentworld/internal/store"
)

// Decisions.
const (
	DecisionApprove = "approve"
	DecisionDeny    = "deny"
)

// Scopes.
const (
	ScopeOnce    = "once"
	ScopeSession = "session"
)

// Options offered on an approval request.
const (
	OptionDeny           = "deny"
	OptionApproveOnce    = "approve_once"
	OptionApproveSession = "approve_session"
)

// Options lists the choices offered on every approval request.
var Options = []string{OptionDeny, OptionApproveOnce, OptionApproveSession}

// Record is the decoded content of an approval decision message.
type Record struct {
	Decision  string         `json:"decision"`
	Scope     string         `json:"scope,omitempty"`
	ToolName  string         `json:"toolName"`
	ToolArgs  map[string]any `json:"toolArgs,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
}

// Valid reports whether r has a known decision and, for approvals, a known scope.
func (r Record) Valid() bool {
	if r.ToolName == "" {
		return false
	}
	switch r.Decision {
	case DecisionDeny:
		return true
	case DecisionApprove:
		return r.Scope == ScopeOnce || r.Scope == ScopeSession
	}
	return false
}

// IsSessionApproval reports whether r approves every later call of its tool.
func (r Record) IsSessionApproval() bool {
	return r.Decision == DecisionApprove && r.Scope == ScopeSession
}

// RecordFromOption builds a record from one of the offered option strings.
func RecordFromOption(option, toolName, requestID string) (Record, bool) {
	r := Record{ToolName: toolName, RequestID: requestID}
	switch option {
	case OptionDeny:
		r.Decision = DecisionDeny
	case OptionApproveOnce:
		r.Decision, r.Scope = DecisionApprove, ScopeOnce
	case OptionApproveSession:
		r.Decision, r.Scope = DecisionApprove, ScopeSession
	default:
		return Record{}, false
	}
	return r, true
}

// EncodeRecord renders r as message content.
func EncodeRecord(r Record) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeRecord parses message content as an approval record.
func DecodeRecord(content string) (Record, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "{") {
		return Record{}, false
	}
	var r Record
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return Record{}, false
	}
	if !r.Valid() {
		return Record{}, false
	}
	return r, true
}

// IsApprovalRecord reports whether m is a tool-role approval decision.
func IsApprovalRecord(m store.ConversationMessage) bool {
	if m.Role != store.RoleTool {
		return false
	}
	_, ok := DecodeRecord(m.Content)
	return ok
}

// FindSessionApproval scans memory oldest-first for a session approval of
// toolName recorded in chatID.
func FindSessionApproval(memory []store.ConversationMessage, toolName, chatID string) (Record, bool) {
	for _, m := range memory {
		if m.Role != store.RoleTool || m.ChatID != chatID {
			continue
		}
		r, ok := DecodeRecord(m.Content)
		if !ok {
			continue
		}
		if r.IsSessionApproval() && r.ToolName == toolName {
			return r, true
		}
	}
	return Record{}, false
}

// FindRequest looks for the approval request message with id requestID and
// reports whether it is still undecided in memory.
func FindRequest(memory []store.ConversationMessage, requestID string) (store.ConversationMessage, bool) {
	var (
		req   store.ConversationMessage
		found bool
	)
	for _, m := range memory {
		if m.MessageID == requestID && m.Role == store.RoleAssistant {
			req, found = m, true
			continue
		}
		if m.Role == store.RoleTool {
			if r, ok := DecodeRecord(m.Content); ok && r.RequestID == requestID {
				return store.ConversationMessage{}, false
			}
		}
	}
	return req, found
}
