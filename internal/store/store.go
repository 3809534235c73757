// ABOUTME: Store interface and data types for agentworld persistence
// ABOUTME: Defines World, Agent, Chat, ConversationMessage and the event log contract

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/agentworld/internal/event"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateWorld is returned when creating a world whose id is taken
var ErrDuplicateWorld = errors.New("world already exists")

// DefaultChatName is the placeholder name for a chat that has not been titled.
const DefaultChatName = "New Chat"

// Conversation roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// World is a named container of agents, chats, and its own event partition.
type World struct {
	ID            string
	Name          string
	Description   string
	CurrentChatID *string // nil means no active chat session
	TurnLimit     int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Agent is a participant in a world together with its conversation memory.
type Agent struct {
	ID           string
	WorldID      string
	Name         string
	Type         string
	Provider     string
	Model        string
	SystemPrompt string
	LLMCallCount int
	LastActive   *time.Time
	CreatedAt    time.Time
	Memory       []ConversationMessage
}

// Clone returns a deep copy of the agent, including its memory.
func (a *Agent) Clone() *Agent {
	c := *a
	if a.Memory != nil {
		c.Memory = make([]ConversationMessage, len(a.Memory))
		copy(c.Memory, a.Memory)
	}
	if a.LastActive != nil {
		t := *a.LastActive
		c.LastActive = &t
	}
	return &c
}

// ConversationMessage is one entry in an agent's memory. MessageID is shared by
// every copy of the same logical message across agents.
type ConversationMessage struct {
	Role             string
	Content          string
	MessageID        string
	ReplyToMessageID string // set only on genuine replies, kept on forwarded copies
	ChatID           string
	AgentID          string
	Sender           string
	ToolCallID       string
	// ToolName and ToolArgs describe the call an approval request is for.
	ToolName         string
	ToolArgs         map[string]any
	CreatedAt        time.Time
}

// Chat is session metadata within a world.
type Chat struct {
	ID           string
	WorldID      string
	Name         string
	Description  string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsReusable reports whether starting a new session may reuse this chat in
// place instead of creating a fresh one.
func (c *Chat) IsReusable() bool {
	return c.Name == DefaultChatName || c.MessageCount == 0
}

// EventQuery filters an event partition read.
type EventQuery struct {
	Types    []event.Type // empty means all types
	SinceSeq int64        // only events with seq > SinceSeq
	Limit    int          // <= 0 means no limit
}

// WorldStore persists worlds.
type WorldStore interface {
	// CreateWorld inserts a new world and fails with ErrDuplicateWorld if the id is taken.
	CreateWorld(ctx context.Context, w *World) error
	SaveWorld(ctx context.Context, w *World) error
	LoadWorld(ctx context.Context, id string) (*World, error)
	DeleteWorld(ctx context.Context, id string) error
	ListWorlds(ctx context.Context) ([]*World, error)
}

// AgentStore persists agents and their memory lists.
type AgentStore interface {
	SaveAgent(ctx context.Context, worldID string, a *Agent) error
	LoadAgent(ctx context.Context, worldID, agentID string) (*Agent, error)
	DeleteAgent(ctx context.Context, worldID, agentID string) error
	ListAgents(ctx context.Context, worldID string) ([]*Agent, error)
}

// ChatStore persists chat metadata.
type ChatStore interface {
	SaveChatData(ctx context.Context, c *Chat) error
	LoadChatData(ctx context.Context, worldID, chatID string) (*Chat, error)
	DeleteChatData(ctx context.Context, worldID, chatID string) error
	ListChats(ctx context.Context, worldID string) ([]*Chat, error)
}

// EventLog is the append-only per-(world, chat) sequenced event store.
type EventLog interface {
	// SaveEvent assigns the next seq for the event's partition and persists it.
	// On success e.Seq holds the assigned number.
	SaveEvent(ctx context.Context, e *event.Event) error
	// GetEventsByWorldAndChat returns events of one partition in seq order.
	GetEventsByWorldAndChat(ctx context.Context, worldID string, chatID *string, q EventQuery) ([]*event.Event, error)
	// GetEvent returns one event by id from any partition of the world.
	GetEvent(ctx context.Context, worldID, id string) (*event.Event, error)
	// DeleteEventsByWorldAndChat drops a whole partition and returns the count removed.
	DeleteEventsByWorldAndChat(ctx context.Context, worldID string, chatID *string) (int64, error)
}

// Store is the full persistence contract.
type Store interface {
	WorldStore
	AgentStore
	ChatStore
	EventLog
	Close() error
}
