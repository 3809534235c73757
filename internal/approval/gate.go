// ABOUTME: Tool approval gate for agents acting inside a world
// ABOUTME: Checks memory for session approvals, publishes requests, and resolves decisions

package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agentworld/internal/addressing"
	"github.com/2389/agentworld/internal/bus"
	"github.com/2389/agentworld/internal/event"
	"github.com/2389/agentworld/internal/metrics"
	"github.com/2389/agentworld/internal/store"
)

var (
	// ErrNoPendingRequest is returned when a decision names a request that is
	// neither pending nor undecided in memory.
	ErrNoPendingRequest = errors.New("no pending approval request")

	// ErrInvalidDecision is returned when a reply is not a well-formed decision.
	ErrInvalidDecision = errors.New("invalid approval decision")
)

// State is the outcome of an approval check or decision.
type State string

const (
	StateUnchecked        State = "unchecked"
	StateApproved         State = "approved"
	StateDenied           State = "denied"
	StateAwaitingDecision State = "awaiting_decision"
)

// Publisher is the part of a world bus the gate needs.
type Publisher interface {
	Publish(ctx context.Context, topic bus.Topic, payload event.Payload, opts ...bus.PublishOption) (*event.Event, error)
}

// ToolCall is an agent's request to run a tool.
type ToolCall struct {
	ID       string
	ToolName string
	Args     map[string]any
	AgentID  string
	ChatID   string
}

// Request is an approval request waiting for a human decision.
type Request struct {
	ID        string
	Call      ToolCall
	CreatedAt time.Time
}

// Outcome describes what the caller should do next.
type Outcome struct {
	State     State
	RequestID string
	// Execute is true when the tool call may run now.
	Execute bool
	// Call is the tool call the outcome applies to.
	Call ToolCall
	// Notice is a message for the agent when a call was denied.
	Notice string
	// Event is the event published for this step, if any.
	Event *event.Event
	// Append is the entry the caller records in the agent's memory, if any.
	Append *store.ConversationMessage
}

// Gate tracks pending approval requests for one world. Approval state that
// must outlive the process lives in agent memory; the pending map is only a
// fast path.
type Gate struct {
	pub    Publisher
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*Request
}

// NewGate creates a gate that publishes through pub.
func NewGate(pub Publisher, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		pub:     pub,
		logger:  logger.With("component", "approval"),
		pending: make(map[string]*Request),
	}
}

// Check decides whether call may run. memory is the calling agent's memory.
// A session approval for the same tool in the same chat approves immediately;
// otherwise a request message is published and the outcome awaits a decision.
func (g *Gate) Check(ctx context.Context, call ToolCall, memory []store.ConversationMessage) (*Outcome, error) {
	if call.ToolName == "" {
		return nil, fmt.Errorf("tool call has no tool name")
	}

	if _, ok := FindSessionApproval(memory, call.ToolName, call.ChatID); ok {
		metrics.ApprovalChecks.WithLabelValues(string(StateApproved)).Inc()
		g.logger.Debug("tool approved for session",
			"agent_id", call.AgentID,
			"tool", call.ToolName,
			"chat_id", call.ChatID)
		return &Outcome{State: StateApproved, Execute: true, Call: call}, nil
	}

	req := &Request{ID: uuid.New().String(), Call: call, CreatedAt: time.Now()}
	payload := event.MessagePayload{
		Content:   fmt.Sprintf("Approval required to run %s", call.ToolName),
		Sender:    call.AgentID,
		MessageID: req.ID,
		Role:      store.RoleAssistant,
		Approval: &event.ApprovalBlock{
			RequestID: req.ID,
			ToolName:  call.ToolName,
			ToolArgs:  call.Args,
			Options:   Options,
		},
	}

	// Only the requesting agent records the request, so it owns the event
	// alone and no other agent is handed it.
	e, err := g.pub.Publish(ctx, bus.TopicMessages, payload,
		bus.WithChatID(call.ChatID),
		bus.WithMeta(event.Meta{
			event.MetaAgentID:    call.AgentID,
			event.MetaOwners:     []string{call.AgentID},
			event.MetaDirection:  string(addressing.Incoming),
			event.MetaMemoryOnly: true,
		}))
	if err != nil {
		g.notify(ctx, call.ChatID, fmt.Sprintf("Failed to request approval for %s: %v", call.ToolName, err))
		return nil, fmt.Errorf("publishing approval request: %w", err)
	}

	g.mu.Lock()
	g.pending[req.ID] = req
	g.mu.Unlock()

	metrics.ApprovalChecks.WithLabelValues(string(StateAwaitingDecision)).Inc()
	g.logger.Info("approval requested",
		"request_id", req.ID,
		"agent_id", call.AgentID,
		"tool", call.ToolName)

	return &Outcome{
		State:     StateAwaitingDecision,
		RequestID: req.ID,
		Call:      call,
		Event:     e,
		Append: &store.ConversationMessage{
			Role:       store.RoleAssistant,
			Content:    payload.Content,
			MessageID:  req.ID,
			ChatID:     call.ChatID,
			AgentID:    call.AgentID,
			Sender:     call.AgentID,
			ToolCallID: call.ID,
			ToolName:   call.ToolName,
			ToolArgs:   call.Args,
			CreatedAt:  req.CreatedAt,
		},
	}, nil
}

// Resolve applies a human decision to one of agentID's requests. reply
// carries an encoded Record; memory is agentID's memory before the reply is
// recorded. Requests that are no longer pending in this process are
// rediscovered from memory. A request made by another agent is reported as
// ErrNoPendingRequest and stays pending.
func (g *Gate) Resolve(ctx context.Context, agentID string, reply store.ConversationMessage, memory []store.ConversationMessage) (*Outcome, error) {
	rec, ok := DecodeRecord(reply.Content)
	if !ok || rec.RequestID == "" {
		g.notify(ctx, reply.ChatID, "Ignored a malformed approval decision")
		return nil, ErrInvalidDecision
	}

	call, found := g.lookup(rec.RequestID)
	if !found {
		msg, ok := FindRequest(memory, rec.RequestID)
		if !ok {
			g.notify(ctx, reply.ChatID, fmt.Sprintf("No pending approval request %s", rec.RequestID))
			return nil, fmt.Errorf("%w: %s", ErrNoPendingRequest, rec.RequestID)
		}
		call = ToolCall{
			ID:       msg.ToolCallID,
			ToolName: msg.ToolName,
			Args:     msg.ToolArgs,
			AgentID:  msg.AgentID,
			ChatID:   msg.ChatID,
		}
		if call.AgentID == "" {
			call.AgentID = agentID
		}
	}
	if call.AgentID != agentID {
		g.notify(ctx, call.ChatID, fmt.Sprintf("Approval request %s does not belong to %s", rec.RequestID, agentID))
		return nil, fmt.Errorf("%w: %s for agent %s", ErrNoPendingRequest, rec.RequestID, agentID)
	}
	if rec.ToolName != call.ToolName {
		g.notify(ctx, call.ChatID, fmt.Sprintf("Approval decision names %s but request %s is for %s",
			rec.ToolName, rec.RequestID, call.ToolName))
		return nil, fmt.Errorf("%w: tool mismatch", ErrInvalidDecision)
	}
	if rec.ToolArgs == nil {
		rec.ToolArgs = call.Args
	}

	g.mu.Lock()
	delete(g.pending, rec.RequestID)
	g.mu.Unlock()

	out := &Outcome{RequestID: rec.RequestID, Call: call}
	approved := rec.Decision == DecisionApprove
	if approved {
		out.State = StateApproved
		out.Execute = true
	} else {
		out.State = StateDenied
		out.Notice = fmt.Sprintf("The user denied permission to run %s. Do not retry it; tell the user the action was cancelled.", call.ToolName)
	}

	content, err := EncodeRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding approval record: %w", err)
	}
	messageID := reply.MessageID
	if messageID == "" {
		messageID = uuid.New().String()
	}
	sender := reply.Sender
	if sender == "" {
		sender = "human"
	}
	out.Append = &store.ConversationMessage{
		Role:             store.RoleTool,
		Content:          content,
		MessageID:        messageID,
		ReplyToMessageID: rec.RequestID,
		ChatID:           call.ChatID,
		AgentID:          call.AgentID,
		Sender:           sender,
		ToolCallID:       call.ID,
		CreatedAt:        time.Now(),
	}

	result := rec.Decision
	if rec.Scope != "" {
		result += ":" + rec.Scope
	}
	e, err := g.pub.Publish(ctx, bus.TopicTool, event.ToolPayload{
		Kind:       event.ToolApproval,
		ToolName:   call.ToolName,
		ToolCallID: call.ID,
		AgentName:  call.AgentID,
		Args:       call.Args,
		Result:     result,
	},
		bus.WithChatID(call.ChatID),
		bus.WithMeta(event.Meta{
			event.MetaWasApproved:          approved,
			event.MetaTriggeredByMessageID: rec.RequestID,
		}))
	if err != nil {
		g.logger.Error("failed to publish approval decision", "request_id", rec.RequestID, "error", err)
	}
	out.Event = e

	metrics.ApprovalChecks.WithLabelValues(string(out.State)).Inc()
	g.logger.Info("approval resolved",
		"request_id", rec.RequestID,
		"tool", call.ToolName,
		"decision", rec.Decision,
		"scope", rec.Scope)
	return out, nil
}

// Pending returns the requests still waiting for a decision, optionally for
// one agent only.
func (g *Gate) Pending(agentID string) []Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Request, 0, len(g.pending))
	for _, r := range g.pending {
		if agentID == "" || r.Call.AgentID == agentID {
			out = append(out, *r)
		}
	}
	return out
}

// Forget drops pending requests from agentID, used when its memory is cleared.
func (g *Gate) Forget(agentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, r := range g.pending {
		if r.Call.AgentID == agentID {
			delete(g.pending, id)
		}
	}
}

// Clear drops every pending request.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = make(map[string]*Request)
}

func (g *Gate) lookup(requestID string) (ToolCall, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.pending[requestID]
	if !ok {
		return ToolCall{}, false
	}
	return r.Call, true
}

func (g *Gate) notify(ctx context.Context, chatID, content string) {
	_, err := g.pub.Publish(ctx, bus.TopicSystem, event.SystemPayload{
		Kind:    "approval-error",
		Content: content,
	}, bus.WithChatID(chatID))
	if err != nil {
		g.logger.Warn("failed to publish approval notice", "error", err)
	}
}
