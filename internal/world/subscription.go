// ABOUTME: Subscription handle onto a loaded world
// ABOUTME: Every mutating operation runs on the world's actor goroutine

package world

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agentworld/internal/addressing"
	"github.com/2389/agentworld/internal/approval"
	"github.com/2389/agentworld/internal/bus"
	"github.com/2389/agentworld/internal/event"
	"github.com/2389/agentworld/internal/store"
	"github.com/2389/agentworld/internal/threading"
)

// Subscription holds a reference on a loaded world. Release it with
// Unsubscribe.
//
// Bus handlers fired by SendMessage, CheckTool and the other world operations
// run on the actor goroutine, and so do OnCleanup callbacks. None of them may
// call a Subscription method, Unsubscribe included: the call waits on the
// actor that is running it and deadlocks.
type Subscription struct {
	a        *actor
	id       string
	bus      *bus.Bus
	once     sync.Once
	released atomic.Bool
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string { return s.id }

// WorldID returns the subscribed world.
func (s *Subscription) WorldID() string { return s.a.worldID }

// Bus returns the world's event bus.
func (s *Subscription) Bus() *bus.Bus { return s.bus }

// Unsubscribe releases the reference. The last release unloads the world
// before returning. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.released.Store(true)
		s.a.release(s.id)
	})
}

// OnCleanup registers fn to run once when the world unloads. fn runs on the
// actor goroutine during the final Unsubscribe and must not call back into
// any Subscription.
func (s *Subscription) OnCleanup(fn func()) error {
	return s.do(func() error {
		s.a.cleanups = append(s.a.cleanups, fn)
		return nil
	})
}

func (s *Subscription) do(fn func() error) error {
	if s.released.Load() {
		return ErrWorldNotLoaded
	}
	err := s.a.do(func() error {
		if !s.a.loaded {
			return ErrWorldNotLoaded
		}
		return fn()
	})
	if err == errActorStopped {
		return ErrWorldNotLoaded
	}
	return err
}

// World returns a copy of the world record.
func (s *Subscription) World(ctx context.Context) (*store.World, error) {
	var out *store.World
	err := s.do(func() error {
		w := *s.a.world
		if w.CurrentChatID != nil {
			w.CurrentChatID = event.StringPtr(*w.CurrentChatID)
		}
		out = &w
		return nil
	})
	return out, err
}

// Agents returns copies of the world's agents ordered by creation.
func (s *Subscription) Agents(ctx context.Context) ([]*store.Agent, error) {
	var out []*store.Agent
	err := s.do(func() error {
		for _, ag := range sortedAgents(s.a.agents) {
			c := ag.Clone()
			if last, ok := s.a.activity.lastActive(ag.ID); ok && (c.LastActive == nil || last.After(*c.LastActive)) {
				c.LastActive = &last
			}
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

// Agent returns a copy of one agent, or nil if it does not exist.
func (s *Subscription) Agent(ctx context.Context, agentID string) (*store.Agent, error) {
	var out *store.Agent
	err := s.do(func() error {
		if ag := s.a.findAgent(agentID); ag != nil {
			out = ag.Clone()
		}
		return nil
	})
	return out, err
}

// Chats returns copies of the world's chats, most recently updated first.
func (s *Subscription) Chats(ctx context.Context) ([]*store.Chat, error) {
	var out []*store.Chat
	err := s.do(func() error {
		for _, c := range sortedChats(s.a.chats) {
			cp := *c
			out = append(out, &cp)
		}
		return nil
	})
	return out, err
}

// AgentSpec describes an agent to create.
type AgentSpec struct {
	ID           string
	Name         string
	Type         string
	Provider     string
	Model        string
	SystemPrompt string
}

// CreateAgent adds an agent to the world. An empty ID is derived from the name.
func (s *Subscription) CreateAgent(ctx context.Context, spec AgentSpec) (*store.Agent, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	id := spec.ID
	if id == "" {
		id = slugify(spec.Name)
	}
	if id == "" {
		return nil, fmt.Errorf("agent name %q yields an empty id", spec.Name)
	}

	var out *store.Agent
	err := s.do(func() error {
		if _, ok := s.a.agents[id]; ok {
			return fmt.Errorf("%w: %s", ErrAgentExists, id)
		}
		ag := &store.Agent{
			ID:           id,
			WorldID:      s.a.worldID,
			Name:         spec.Name,
			Type:         spec.Type,
			Provider:     spec.Provider,
			Model:        spec.Model,
			SystemPrompt: spec.SystemPrompt,
			CreatedAt:    time.Now(),
		}
		if err := s.a.reg.cfg.Store.SaveAgent(ctx, s.a.worldID, ag); err != nil {
			s.a.notify(ctx, "create agent", err)
			return fmt.Errorf("saving agent: %w", err)
		}
		s.a.agents[id] = ag
		s.a.bus.SetRoster(s.a.roster())
		s.a.publishWorld(ctx, event.WorldAgentAdded, fmt.Sprintf("Agent %s joined", ag.Name), map[string]any{"agentId": id})
		out = ag.Clone()
		return nil
	})
	return out, err
}

// DeleteAgent removes an agent. It reports false if the agent does not exist.
func (s *Subscription) DeleteAgent(ctx context.Context, agentID string) (bool, error) {
	var removed bool
	err := s.do(func() error {
		ag := s.a.findAgent(agentID)
		if ag == nil {
			return nil
		}
		if err := s.a.reg.cfg.Store.DeleteAgent(ctx, s.a.worldID, ag.ID); err != nil {
			s.a.notify(ctx, "delete agent", err)
			return fmt.Errorf("deleting agent: %w", err)
		}
		delete(s.a.agents, ag.ID)
		s.a.gate.Forget(ag.ID)
		s.a.bus.SetRoster(s.a.roster())
		s.a.publishWorld(ctx, event.WorldAgentRemoved, fmt.Sprintf("Agent %s left", ag.Name), map[string]any{"agentId": ag.ID})
		removed = true
		return nil
	})
	return removed, err
}

// ClearAgentMemory empties an agent's memory, revoking every approval it
// held. It reports false if the agent does not exist.
func (s *Subscription) ClearAgentMemory(ctx context.Context, agentID string) (bool, error) {
	var cleared bool
	err := s.do(func() error {
		ag := s.a.findAgent(agentID)
		if ag == nil {
			return nil
		}
		updated := ag.Clone()
		updated.Memory = nil
		if err := s.a.reg.cfg.Store.SaveAgent(ctx, s.a.worldID, updated); err != nil {
			s.a.notify(ctx, "clear memory", err)
			return fmt.Errorf("saving agent: %w", err)
		}
		s.a.agents[ag.ID] = updated
		s.a.gate.Forget(ag.ID)
		s.a.publishWorld(ctx, event.WorldMemoryClear, fmt.Sprintf("Memory of %s cleared", ag.Name), map[string]any{"agentId": ag.ID})
		cleared = true
		return nil
	})
	return cleared, err
}

// Message is a message to send into the world.
type Message struct {
	Sender           string
	Content          string
	MessageID        string  // generated when empty
	ReplyToMessageID string  // dropped if it would form a cycle
	ChatID           *string // nil means the current chat
}

// SendMessage records msg in the memory of every agent that owns it and then
// publishes it. Human messages and undirected agent messages reach every
// agent; an agent message opening with a mention of another agent is
// memory-only for the sender and that recipient.
func (s *Subscription) SendMessage(ctx context.Context, msg Message) (*event.Event, error) {
	if msg.Sender == "" {
		return nil, fmt.Errorf("message sender is required")
	}

	var out *event.Event
	err := s.do(func() error {
		a := s.a
		chatID := a.world.CurrentChatID
		if msg.ChatID != nil {
			chatID = msg.ChatID
			if *chatID == "" {
				chatID = nil
			}
		}
		chatKey := ""
		if chatID != nil {
			chatKey = *chatID
			if _, ok := a.chats[chatKey]; !ok {
				return fmt.Errorf("chat %s: %w", chatKey, store.ErrNotFound)
			}
		}

		messageID := msg.MessageID
		if messageID == "" {
			messageID = uuid.New().String()
		}

		prior := a.chatMessages(chatKey)
		replyTo := msg.ReplyToMessageID
		if replyTo != "" && threading.WouldCycle(messageID, replyTo, prior) {
			a.logger.Warn("dropping cyclic reply", "message_id", messageID, "reply_to", replyTo)
			replyTo = ""
		}
		now := time.Now()
		entry := store.ConversationMessage{
			Content:          msg.Content,
			MessageID:        messageID,
			ReplyToMessageID: replyTo,
			ChatID:           chatKey,
			Sender:           msg.Sender,
			CreatedAt:        now,
		}
		thread := threading.Resolve(entry, prior)

		roster := a.roster()
		addr := addressing.Resolve(roster, addressing.Message{Sender: msg.Sender, Content: msg.Content})
		senderID := ""
		if addr.SenderType == event.SenderAgent {
			if ag := a.findAgent(msg.Sender); ag != nil {
				senderID = ag.ID
			}
		}

		updated := make([]*store.Agent, 0, len(addr.Owners))
		for _, ownerID := range addr.Owners {
			ag, ok := a.agents[ownerID]
			if !ok {
				continue
			}
			c := ag.Clone()
			m := entry
			m.AgentID = c.ID
			if c.ID == senderID {
				m.Role = store.RoleAssistant
				c.LastActive = &now
			} else {
				m.Role = store.RoleUser
			}
			c.Memory = append(c.Memory, m)
			updated = append(updated, c)
		}
		for _, c := range updated {
			if err := a.reg.cfg.Store.SaveAgent(ctx, a.worldID, c); err != nil {
				a.notify(ctx, "record message", err)
				return fmt.Errorf("saving memory of %s: %w", c.ID, err)
			}
		}
		for _, c := range updated {
			a.agents[c.ID] = c
		}

		if chatID != nil {
			chat := *a.chats[chatKey]
			chat.MessageCount++
			chat.UpdatedAt = now
			if chat.Name == store.DefaultChatName && addr.SenderType == event.SenderHuman {
				if title := deriveChatTitle(msg.Content); title != "" {
					chat.Name = title
				}
			}
			if err := a.reg.cfg.Store.SaveChatData(ctx, &chat); err != nil {
				a.notify(ctx, "update chat", err)
				return fmt.Errorf("saving chat: %w", err)
			}
			a.chats[chatKey] = &chat
		}

		role := store.RoleUser
		if senderID != "" {
			role = store.RoleAssistant
		}
		e, err := a.bus.Publish(ctx, bus.TopicMessages, event.MessagePayload{
			Content:          msg.Content,
			Sender:           msg.Sender,
			MessageID:        messageID,
			ReplyToMessageID: replyTo,
			Role:             role,
		}, bus.WithChatID(chatKey), bus.WithMeta(thread.Meta()), bus.WithCreatedAt(now))
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

// NewChat starts a session. A reusable current chat is kept and refreshed in
// place; otherwise a fresh chat becomes current.
func (s *Subscription) NewChat(ctx context.Context) (*store.Chat, error) {
	var out *store.Chat
	err := s.do(func() error {
		a := s.a
		if cur := a.currentChat(); cur != nil && cur.IsReusable() {
			chat := *cur
			chat.UpdatedAt = time.Now()
			if err := a.reg.cfg.Store.SaveChatData(ctx, &chat); err != nil {
				a.notify(ctx, "new chat", err)
				return fmt.Errorf("saving chat: %w", err)
			}
			a.chats[chat.ID] = &chat
			if err := a.revokeApprovals(ctx, chat.ID); err != nil {
				return err
			}
			a.publishWorld(ctx, event.WorldChatReused, "Reusing current chat", map[string]any{"chatId": chat.ID})
			cp := chat
			out = &cp
			return nil
		}

		chat := &store.Chat{
			ID:      uuid.New().String(),
			WorldID: a.worldID,
			Name:    store.DefaultChatName,
		}
		if err := a.reg.cfg.Store.SaveChatData(ctx, chat); err != nil {
			a.notify(ctx, "new chat", err)
			return fmt.Errorf("saving chat: %w", err)
		}
		a.chats[chat.ID] = chat
		if err := a.setCurrentChat(ctx, &chat.ID); err != nil {
			return err
		}
		a.publishWorld(ctx, event.WorldChatCreated, "New chat started", map[string]any{"chatId": chat.ID})
		cp := *chat
		out = &cp
		return nil
	})
	return out, err
}

// RestoreChat makes an existing chat current. It reports false if the chat
// does not exist.
func (s *Subscription) RestoreChat(ctx context.Context, chatID string) (bool, error) {
	var ok bool
	err := s.do(func() error {
		a := s.a
		if _, exists := a.chats[chatID]; !exists {
			return nil
		}
		id := chatID
		if err := a.setCurrentChat(ctx, &id); err != nil {
			return err
		}
		a.publishWorld(ctx, event.WorldChatRestored, "Chat restored", map[string]any{"chatId": chatID})
		ok = true
		return nil
	})
	return ok, err
}

// DeleteChat removes a chat, its event partition, and its entries in every
// agent's memory. When the current chat is deleted the most recently updated
// remaining chat becomes current, or none if there is none. It reports false
// if the chat does not exist.
func (s *Subscription) DeleteChat(ctx context.Context, chatID string) (bool, error) {
	var ok bool
	err := s.do(func() error {
		a := s.a
		if _, exists := a.chats[chatID]; !exists {
			return nil
		}
		if err := a.reg.cfg.Store.DeleteChatData(ctx, a.worldID, chatID); err != nil {
			a.notify(ctx, "delete chat", err)
			return fmt.Errorf("deleting chat: %w", err)
		}
		delete(a.chats, chatID)

		for id, ag := range a.agents {
			kept := make([]store.ConversationMessage, 0, len(ag.Memory))
			for _, m := range ag.Memory {
				if m.ChatID != chatID {
					kept = append(kept, m)
				}
			}
			if len(kept) == len(ag.Memory) {
				continue
			}
			c := ag.Clone()
			c.Memory = kept
			if err := a.reg.cfg.Store.SaveAgent(ctx, a.worldID, c); err != nil {
				a.notify(ctx, "delete chat", err)
				return fmt.Errorf("saving memory of %s: %w", id, err)
			}
			a.agents[id] = c
		}

		if cur := a.world.CurrentChatID; cur != nil && *cur == chatID {
			var next *string
			if chats := sortedChats(a.chats); len(chats) > 0 {
				next = event.StringPtr(chats[0].ID)
			}
			if err := a.setCurrentChat(ctx, next); err != nil {
				return err
			}
		}

		data := map[string]any{"chatId": chatID}
		if cur := a.world.CurrentChatID; cur != nil {
			data["currentChatId"] = *cur
		}
		a.publishWorld(ctx, event.WorldChatDeleted, "Chat deleted", data)
		ok = true
		return nil
	})
	return ok, err
}

// DeleteMessage removes the message and every later entry of the same chat
// from each agent's memory. It returns how many entries were removed.
func (s *Subscription) DeleteMessage(ctx context.Context, chatID, messageID string) (int, error) {
	var removed int
	err := s.do(func() error {
		a := s.a
		cut := make(map[string]bool)
		for id, ag := range a.agents {
			idx := -1
			for i, m := range ag.Memory {
				if m.ChatID == chatID && m.MessageID == messageID {
					idx = i
					break
				}
			}
			if idx < 0 {
				continue
			}
			kept := append([]store.ConversationMessage(nil), ag.Memory[:idx]...)
			for _, m := range ag.Memory[idx:] {
				if m.ChatID != chatID {
					kept = append(kept, m)
					continue
				}
				if m.Role == store.RoleUser || m.Role == store.RoleAssistant {
					cut[m.MessageID] = true
				}
				removed++
			}
			c := ag.Clone()
			c.Memory = kept
			if err := a.reg.cfg.Store.SaveAgent(ctx, a.worldID, c); err != nil {
				a.notify(ctx, "delete message", err)
				return fmt.Errorf("saving memory of %s: %w", id, err)
			}
			a.agents[id] = c
		}
		if removed == 0 {
			return nil
		}

		if chat, ok := a.chats[chatID]; ok {
			c := *chat
			c.MessageCount -= len(cut)
			if c.MessageCount < 0 {
				c.MessageCount = 0
			}
			c.UpdatedAt = time.Now()
			if err := a.reg.cfg.Store.SaveChatData(ctx, &c); err != nil {
				a.logger.Warn("failed to update chat count", "chat_id", chatID, "error", err)
			} else {
				a.chats[chatID] = &c
			}
		}
		a.publishWorld(ctx, event.WorldMessagesCut, "Messages deleted", map[string]any{
			"chatId":    chatID,
			"messageId": messageID,
			"removed":   removed,
		})
		return nil
	})
	return removed, err
}

// CheckTool runs an agent's tool call through the approval gate and records
// any approval request in the agent's memory. An empty ChatID means the
// current chat.
func (s *Subscription) CheckTool(ctx context.Context, call approval.ToolCall) (*approval.Outcome, error) {
	var out *approval.Outcome
	err := s.do(func() error {
		a := s.a
		ag := a.findAgent(call.AgentID)
		if ag == nil {
			return fmt.Errorf("agent %s: %w", call.AgentID, store.ErrNotFound)
		}
		call.AgentID = ag.ID
		if call.ChatID == "" && a.world.CurrentChatID != nil {
			call.ChatID = *a.world.CurrentChatID
		}
		o, err := a.gate.Check(ctx, call, ag.Memory)
		if err != nil {
			return err
		}
		if err := a.appendMemory(ctx, ag, o.Append); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// ResolveApproval applies a human's decision to one of agentID's pending
// approval requests and records it in the agent's memory.
func (s *Subscription) ResolveApproval(ctx context.Context, agentID string, reply store.ConversationMessage) (*approval.Outcome, error) {
	var out *approval.Outcome
	err := s.do(func() error {
		a := s.a
		ag := a.findAgent(agentID)
		if ag == nil {
			return fmt.Errorf("agent %s: %w", agentID, store.ErrNotFound)
		}
		o, err := a.gate.Resolve(ctx, ag.ID, reply, ag.Memory)
		if err != nil {
			return err
		}
		if err := a.appendMemory(ctx, ag, o.Append); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// PendingApprovals lists approval requests still waiting for a decision.
func (s *Subscription) PendingApprovals(ctx context.Context, agentID string) ([]approval.Request, error) {
	var out []approval.Request
	err := s.do(func() error {
		out = s.a.gate.Pending(agentID)
		return nil
	})
	return out, err
}

func (a *actor) appendMemory(ctx context.Context, ag *store.Agent, m *store.ConversationMessage) error {
	if m == nil {
		return nil
	}
	c := ag.Clone()
	c.Memory = append(c.Memory, *m)
	if err := a.reg.cfg.Store.SaveAgent(ctx, a.worldID, c); err != nil {
		a.notify(ctx, "record approval", err)
		return fmt.Errorf("saving memory of %s: %w", ag.ID, err)
	}
	a.agents[ag.ID] = c
	return nil
}

// revokeApprovals drops approval records filed under chatID so a reused
// session starts without them.
func (a *actor) revokeApprovals(ctx context.Context, chatID string) error {
	for id, ag := range a.agents {
		kept := make([]store.ConversationMessage, 0, len(ag.Memory))
		for _, m := range ag.Memory {
			if m.ChatID == chatID && approval.IsApprovalRecord(m) {
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == len(ag.Memory) {
			continue
		}
		c := ag.Clone()
		c.Memory = kept
		if err := a.reg.cfg.Store.SaveAgent(ctx, a.worldID, c); err != nil {
			a.notify(ctx, "new chat", err)
			return fmt.Errorf("saving memory of %s: %w", id, err)
		}
		a.agents[id] = c
	}
	a.gate.Clear()
	return nil
}

func (a *actor) findAgent(idOrName string) *store.Agent {
	if ag, ok := a.agents[idOrName]; ok {
		return ag
	}
	for _, ag := range sortedAgents(a.agents) {
		if equalFold(ag.ID, idOrName) || equalFold(ag.Name, idOrName) {
			return ag
		}
	}
	return nil
}

func (a *actor) currentChat() *store.Chat {
	if a.world.CurrentChatID == nil {
		return nil
	}
	return a.chats[*a.world.CurrentChatID]
}

func (a *actor) setCurrentChat(ctx context.Context, chatID *string) error {
	w := *a.world
	w.CurrentChatID = chatID
	if err := a.reg.cfg.Store.SaveWorld(ctx, &w); err != nil {
		a.notify(ctx, "switch chat", err)
		return fmt.Errorf("saving world: %w", err)
	}
	a.world = &w
	a.bus.SetCurrentChat(chatID)
	return nil
}

// chatMessages gathers one copy of every message recorded in a chat across
// all agents, oldest first.
func (a *actor) chatMessages(chatID string) []store.ConversationMessage {
	seen := make(map[string]bool)
	var out []store.ConversationMessage
	for _, ag := range sortedAgents(a.agents) {
		for _, m := range ag.Memory {
			if m.ChatID != chatID || m.MessageID == "" || seen[m.MessageID] {
				continue
			}
			seen[m.MessageID] = true
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (a *actor) publishWorld(ctx context.Context, kind, message string, data map[string]any) {
	_, err := a.bus.Publish(ctx, bus.TopicWorld, event.WorldPayload{Kind: kind, Message: message, Data: data})
	if err != nil {
		a.logger.Warn("failed to publish world event", "kind", kind, "error", err)
	}
}
