// ABOUTME: Builds a chat transcript from every agent's memory
// ABOUTME: Deduplicates forwarded copies and orders entries chronologically

package export

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/2389/agentworld/internal/event"
	"github.com/2389/agentworld/internal/store"
)

// Source is the storage the exporter reads.
type Source interface {
	LoadWorld(ctx context.Context, id string) (*store.World, error)
	LoadChatData(ctx context.Context, worldID, chatID string) (*store.Chat, error)
	ListAgents(ctx context.Context, worldID string) ([]*store.Agent, error)
}

// Entry is one message in a transcript.
type Entry struct {
	MessageID        string
	ReplyToMessageID string
	Role             string
	Sender           string
	SenderType       event.SenderType
	Content          string
	CreatedAt        time.Time
}

// Transcript is a chat rendered from agent memory.
type Transcript struct {
	WorldID    string
	WorldName  string
	ChatID     string
	ChatName   string
	Entries    []Entry
	ExportedAt time.Time
}

// Build collects the chat's messages from every agent's memory. Copies of
// one message share a message id and appear once; entries without an id are
// matched on content, timestamp, and role instead.
func Build(ctx context.Context, src Source, worldID, chatID string) (*Transcript, error) {
	w, err := src.LoadWorld(ctx, worldID)
	if err != nil {
		return nil, fmt.Errorf("loading world: %w", err)
	}
	chat, err := src.LoadChatData(ctx, worldID, chatID)
	if err != nil {
		return nil, fmt.Errorf("loading chat: %w", err)
	}
	agents, err := src.ListAgents(ctx, worldID)
	if err != nil {
		return nil, fmt.Errorf("loading agents: %w", err)
	}

	t := &Transcript{
		WorldID:    w.ID,
		WorldName:  w.Name,
		ChatID:     chat.ID,
		ChatName:   chat.Name,
		ExportedAt: time.Now(),
	}

	var memory []store.ConversationMessage
	for _, a := range agents {
		for _, m := range a.Memory {
			if m.ChatID == chatID {
				memory = append(memory, m)
			}
		}
	}
	t.Entries = Dedupe(memory)
	return t, nil
}

// Dedupe merges copies of the same message and sorts the result by time.
// When copies disagree on role, the sender's own copy wins.
func Dedupe(memory []store.ConversationMessage) []Entry {
	index := make(map[string]int)
	var out []Entry
	for _, m := range memory {
		key := dedupeKey(m)
		if i, ok := index[key]; ok {
			if m.Role == store.RoleAssistant && m.MessageID != "" {
				out[i].Role = m.Role
			}
			continue
		}
		index[key] = len(out)
		out = append(out, Entry{
			MessageID:        m.MessageID,
			ReplyToMessageID: m.ReplyToMessageID,
			Role:             m.Role,
			Sender:           m.Sender,
			SenderType:       event.SenderTypeOf(m.Sender),
			Content:          m.Content,
			CreatedAt:        m.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func dedupeKey(m store.ConversationMessage) string {
	if m.MessageID != "" {
		return "id:" + m.MessageID
	}
	return fmt.Sprintf("raw:%s|%d|%s", m.Content, m.CreatedAt.UnixNano(), m.Role)
}
