// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLiteStore
// ABOUTME: Runs the same scenarios against both implementations

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories lists every Store implementation that must agree on semantics.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store { return setupTestStore(t) },
		"mock":   func(t *testing.T) Store { return NewMockStore() },
	}
}

func TestStoreParity_EventSequencing(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			a := newMessageEvent("w1", strPtr("c1"), "one")
			b := newMessageEvent("w1", strPtr("c1"), "two")
			n := newMessageEvent("w1", nil, "null chat")
			require.NoError(t, s.SaveEvent(ctx, a))
			require.NoError(t, s.SaveEvent(ctx, b))
			require.NoError(t, s.SaveEvent(ctx, n))

			assert.Equal(t, int64(1), a.Seq)
			assert.Equal(t, int64(2), b.Seq)
			assert.Equal(t, int64(1), n.Seq)

			events, err := s.GetEventsByWorldAndChat(ctx, "w1", strPtr("c1"), EventQuery{SinceSeq: 1})
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, b.ID, events[0].ID)

			got, err := s.GetEvent(ctx, "w1", n.ID)
			require.NoError(t, err)
			assert.Nil(t, got.ChatID)
			_, err = s.GetEvent(ctx, "w1", "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			dup := newMessageEvent("w1", strPtr("c1"), "dup")
			dup.ID = a.ID
			assert.Error(t, s.SaveEvent(ctx, dup))
		})
	}
}

func TestStoreParity_NotFound(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			_, err := s.LoadWorld(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.LoadAgent(ctx, "nope", "a")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.LoadChatData(ctx, "nope", "c")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.DeleteWorld(ctx, "nope"), ErrNotFound)
			assert.ErrorIs(t, s.SaveAgent(ctx, "nope", &Agent{ID: "a"}), ErrNotFound)
			assert.ErrorIs(t, s.SaveChatData(ctx, &Chat{ID: "c", WorldID: "nope"}), ErrNotFound)
		})
	}
}

func TestStoreParity_DeleteWorldCascade(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			seedWorld(t, s, "w1")

			require.NoError(t, s.SaveAgent(ctx, "w1", &Agent{ID: "a1", Name: "a1"}))
			require.NoError(t, s.SaveEvent(ctx, newMessageEvent("w1", strPtr("c1"), "x")))
			require.NoError(t, s.DeleteWorld(ctx, "w1"))

			agents, err := s.ListAgents(ctx, "w1")
			require.NoError(t, err)
			assert.Empty(t, agents)
			events, err := s.GetEventsByWorldAndChat(ctx, "w1", strPtr("c1"), EventQuery{})
			require.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestMockStore_InjectedFailures(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()
	seedWorld(t, s, "w1")

	s.SaveEventErr = ErrMockFailure
	assert.ErrorIs(t, s.SaveEvent(ctx, newMessageEvent("w1", nil, "x")), ErrMockFailure)

	s.SaveAgentErr = ErrMockFailure
	assert.ErrorIs(t, s.SaveAgent(ctx, "w1", &Agent{ID: "a1"}), ErrMockFailure)
}

func TestMockStore_LoadReturnsCopies(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()
	seedWorld(t, s, "w1")

	require.NoError(t, s.SaveAgent(ctx, "w1", &Agent{ID: "a1", Memory: []ConversationMessage{{Role: RoleUser, Content: "hi"}}}))

	a, err := s.LoadAgent(ctx, "w1", "a1")
	require.NoError(t, err)
	a.Memory[0].Content = "mutated"

	again, err := s.LoadAgent(ctx, "w1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "hi", again.Memory[0].Content)
}
