// ABOUTME: Concrete payload types for each event type
// ABOUTME: Message, world, sse, system, and tool payload shapes

package event

import (
	"encoding/json"
	"fmt"
)

// MessagePayload is a chat message from a human, an agent, or the world.
type MessagePayload struct {
	Content          string         `json:"content"`
	Sender           string         `json:"sender"`
	MessageID        string         `json:"messageId,omitempty"`
	ReplyToMessageID string         `json:"replyToMessageId,omitempty"`
	Role             string         `json:"role,omitempty"`
	Approval         *ApprovalBlock `json:"approval,omitempty"`
}

func (MessagePayload) EventType() Type { return TypeMessage }

// ApprovalBlock is attached to a message asking a human to approve a tool call.
type ApprovalBlock struct {
	RequestID string         `json:"requestId"`
	ToolName  string         `json:"toolName"`
	ToolArgs  map[string]any `json:"toolArgs,omitempty"`
	Options   []string       `json:"options"`
}

// WorldPayload describes a change to the world itself.
type WorldPayload struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

func (WorldPayload) EventType() Type { return TypeWorld }

// World payload kinds.
const (
	WorldChatCreated  = "chat-created"
	WorldChatReused   = "chat-reused"
	WorldChatRestored = "chat-restored"
	WorldChatDeleted  = "chat-deleted"
	WorldAgentAdded   = "agent-added"
	WorldAgentRemoved = "agent-removed"
	WorldMemoryClear  = "memory-cleared"
	WorldMessagesCut  = "messages-deleted"
)

// SSE delta kinds.
const (
	SSEStart = "start"
	SSEChunk = "chunk"
	SSEEnd   = "end"
	SSEError = "error"
)

// SSEPayload is a streaming delta from an agent's in-flight response.
type SSEPayload struct {
	Type      string `json:"type"`
	AgentName string `json:"agentName,omitempty"`
	Content   string `json:"content,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (SSEPayload) EventType() Type { return TypeSSE }

// SystemPayload is an operator-facing notice.
type SystemPayload struct {
	Kind    string         `json:"kind,omitempty"`
	Content string         `json:"content"`
	Data    map[string]any `json:"data,omitempty"`
}

func (SystemPayload) EventType() Type { return TypeSystem }

// Tool payload kinds.
const (
	ToolStart    = "tool-start"
	ToolResult   = "tool-result"
	ToolError    = "tool-error"
	ToolProgress = "tool-progress"
	ToolApproval = "tool-approval"
)

// ToolPayload reports tool execution and approval decisions.
type ToolPayload struct {
	Kind       string         `json:"kind"`
	ToolName   string         `json:"toolName"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	AgentName  string         `json:"agentName,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func (ToolPayload) EventType() Type { return TypeTool }

// unmarshalPayload decodes raw JSON into the payload type for t.
func unmarshalPayload(t Type, raw json.RawMessage) (Payload, error) {
	switch t {
	case TypeMessage:
		var p MessagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding message payload: %w", err)
		}
		return p, nil
	case TypeWorld:
		var p WorldPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding world payload: %w", err)
		}
		return p, nil
	case TypeSSE:
		var p SSEPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding sse payload: %w", err)
		}
		return p, nil
	case TypeSystem:
		var p SystemPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding system payload: %w", err)
		}
		return p, nil
	case TypeTool:
		var p ToolPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding tool payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}

// Normalize returns p with pointer payloads dereferenced, so callers can
// type-switch on value types only.
func Normalize(p Payload) Payload {
	switch v := p.(type) {
	case *MessagePayload:
		if v != nil {
			return *v
		}
	case *WorldPayload:
		if v != nil {
			return *v
		}
	case *SSEPayload:
		if v != nil {
			return *v
		}
	case *SystemPayload:
		if v != nil {
			return *v
		}
	case *ToolPayload:
		if v != nil {
			return *v
		}
	default:
		return p
	}
	return nil
}
