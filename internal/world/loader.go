// ABOUTME: Loads a world's persisted state when its actor first materializes
// ABOUTME: StoreLoader reads the world, its agents, and its chats from storage

package world

import (
	"context"
	"fmt"

	"github.com/2389/agentworld/internal/store"
)

// State is everything an actor holds for a loaded world.
type State struct {
	World  *store.World
	Agents map[string]*store.Agent
	Chats  map[string]*store.Chat
}

// Loader materializes a world from persistent storage.
type Loader interface {
	Load(ctx context.Context, worldID string) (*State, error)
}

// StoreLoader loads worlds through the storage collaborator.
type StoreLoader struct {
	Store store.Store
}

// Load reads the world record, its agents with their memory, and its chats.
// It returns store.ErrNotFound for an unknown world.
func (l StoreLoader) Load(ctx context.Context, worldID string) (*State, error) {
	w, err := l.Store.LoadWorld(ctx, worldID)
	if err != nil {
		return nil, fmt.Errorf("loading world %s: %w", worldID, err)
	}

	agents, err := l.Store.ListAgents(ctx, worldID)
	if err != nil {
		return nil, fmt.Errorf("loading agents: %w", err)
	}
	chats, err := l.Store.ListChats(ctx, worldID)
	if err != nil {
		return nil, fmt.Errorf("loading chats: %w", err)
	}

	st := &State{
		World:  w,
		Agents: make(map[string]*store.Agent, len(agents)),
		Chats:  make(map[string]*store.Chat, len(chats)),
	}
	for _, a := range agents {
		st.Agents[a.ID] = a
	}
	for _, c := range chats {
		st.Chats[c.ID] = c
	}
	return st, nil
}
