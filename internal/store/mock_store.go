// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/2389/agentworld/internal/event"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	worlds map[string]*World                    // keyed by world ID
	agents map[string]map[string]*Agent         // worldID -> agentID
	chats  map[string]map[string]*Chat          // worldID -> chatID
	events map[string]map[string][]*event.Event // worldID -> chat key

	// SaveEventErr, when set, is returned by SaveEvent instead of persisting.
	SaveEventErr error
	// SaveAgentErr, when set, is returned by SaveAgent.
	SaveAgentErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		worlds: make(map[string]*World),
		agents: make(map[string]map[string]*Agent),
		chats:  make(map[string]map[string]*Chat),
		events: make(map[string]map[string][]*event.Event),
	}
}

// SaveWorld stores a copy of the world.
func (m *MockStore) SaveWorld(ctx context.Context, w *World) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	c := *w
	if w.CurrentChatID != nil {
		id := *w.CurrentChatID
		c.CurrentChatID = &id
	}
	m.worlds[w.ID] = &c
	return nil
}

// CreateWorld stores a new world, returning ErrDuplicateWorld if the id exists.
func (m *MockStore) CreateWorld(ctx context.Context, w *World) error {
	m.mu.RLock()
	_, exists := m.worlds[w.ID]
	m.mu.RUnlock()
	if exists {
		return ErrDuplicateWorld
	}
	return m.SaveWorld(ctx, w)
}

// LoadWorld retrieves a world by ID.
func (m *MockStore) LoadWorld(ctx context.Context, id string) (*World, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.worlds[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *w
	if w.CurrentChatID != nil {
		cid := *w.CurrentChatID
		c.CurrentChatID = &cid
	}
	return &c, nil
}

// DeleteWorld removes a world and everything it owns.
func (m *MockStore) DeleteWorld(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.worlds[id]; !ok {
		return ErrNotFound
	}
	delete(m.worlds, id)
	delete(m.agents, id)
	delete(m.chats, id)
	delete(m.events, id)
	return nil
}

// ListWorlds returns all worlds ordered by name.
func (m *MockStore) ListWorlds(ctx context.Context) ([]*World, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*World, 0, len(m.worlds))
	for _, w := range m.worlds {
		c := *w
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveAgent stores a deep copy of the agent.
func (m *MockStore) SaveAgent(ctx context.Context, worldID string, a *Agent) error {
	if m.SaveAgentErr != nil {
		return m.SaveAgentErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.worlds[worldID]; !ok {
		return fmt.Errorf("saving agent %s: world %s: %w", a.ID, worldID, ErrNotFound)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.WorldID = worldID

	if m.agents[worldID] == nil {
		m.agents[worldID] = make(map[string]*Agent)
	}
	m.agents[worldID][a.ID] = a.Clone()
	return nil
}

// LoadAgent retrieves an agent and its memory.
func (m *MockStore) LoadAgent(ctx context.Context, worldID, agentID string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[worldID][agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// DeleteAgent removes an agent.
func (m *MockStore) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[worldID][agentID]; !ok {
		return ErrNotFound
	}
	delete(m.agents[worldID], agentID)
	return nil
}

// ListAgents returns a world's agents in creation order.
func (m *MockStore) ListAgents(ctx context.Context, worldID string) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Agent, 0, len(m.agents[worldID]))
	for _, a := range m.agents[worldID] {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SaveChatData stores a copy of the chat.
func (m *MockStore) SaveChatData(ctx context.Context, c *Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.worlds[c.WorldID]; !ok {
		return fmt.Errorf("saving chat %s: world %s: %w", c.ID, c.WorldID, ErrNotFound)
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	if m.chats[c.WorldID] == nil {
		m.chats[c.WorldID] = make(map[string]*Chat)
	}
	cp := *c
	m.chats[c.WorldID][c.ID] = &cp
	return nil
}

// LoadChatData retrieves chat metadata.
func (m *MockStore) LoadChatData(ctx context.Context, worldID, chatID string) (*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.chats[worldID][chatID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// DeleteChatData removes chat metadata and the chat's events.
func (m *MockStore) DeleteChatData(ctx context.Context, worldID, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[worldID][chatID]; !ok {
		return ErrNotFound
	}
	delete(m.chats[worldID], chatID)
	delete(m.events[worldID], chatID)
	return nil
}

// ListChats returns a world's chats, most recently updated first.
func (m *MockStore) ListChats(ctx context.Context, worldID string) ([]*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Chat, 0, len(m.chats[worldID]))
	for _, c := range m.chats[worldID] {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// SaveEvent appends the event with the next seq for its partition.
func (m *MockStore) SaveEvent(ctx context.Context, e *event.Event) error {
	if m.SaveEventErr != nil {
		return m.SaveEventErr
	}
	if e.ChatID != nil && *e.ChatID == "" {
		e.ChatID = nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := chatKey(e.ChatID)
	if m.events[e.WorldID] == nil {
		m.events[e.WorldID] = make(map[string][]*event.Event)
	}
	partition := m.events[e.WorldID][key]
	for _, existing := range partition {
		if existing.ID == e.ID {
			return fmt.Errorf("inserting event %s: duplicate id", e.ID)
		}
	}

	var seq int64 = 1
	if n := len(partition); n > 0 {
		seq = partition[n-1].Seq + 1
	}
	e.Seq = seq
	m.events[e.WorldID][key] = append(partition, e.Clone())
	return nil
}

// GetEventsByWorldAndChat returns events of one partition in seq order.
func (m *MockStore) GetEventsByWorldAndChat(ctx context.Context, worldID string, chatID *string, q EventQuery) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*event.Event
	for _, e := range m.events[worldID][chatKey(chatID)] {
		if e.Seq <= q.SinceSeq {
			continue
		}
		if len(q.Types) > 0 && !containsType(q.Types, e.Type) {
			continue
		}
		out = append(out, e.Clone())
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// GetEvent finds an event by id in any partition of the world.
func (m *MockStore) GetEvent(ctx context.Context, worldID, id string) (*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, partition := range m.events[worldID] {
		for _, e := range partition {
			if e.ID == id {
				return e.Clone(), nil
			}
		}
	}
	return nil, ErrNotFound
}

// DeleteEventsByWorldAndChat removes a partition.
func (m *MockStore) DeleteEventsByWorldAndChat(ctx context.Context, worldID string, chatID *string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := chatKey(chatID)
	n := int64(len(m.events[worldID][key]))
	delete(m.events[worldID], key)
	return n, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

func containsType(types []event.Type, t event.Type) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// ErrMockFailure is a convenience error for tests that inject failures.
var ErrMockFailure = errors.New("mock store failure")
