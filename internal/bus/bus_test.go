// ABOUTME: Tests for the world bus publish pipeline
// ABOUTME: Covers validation, stamping, persistence failures, history, stats, and streams

package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentworld/internal/addressing"
	"github.com/2389/agentworld/internal/event"
	"github.com/2389/agentworld/internal/metrics"
	"github.com/2389/agentworld/internal/store"
)

var testRoster = []addressing.Agent{{ID: "a1", Name: "Alpha"}, {ID: "a2", Name: "Beta"}, {ID: "a3", Name: "Gamma"}}

func newTestBus(t *testing.T, log store.EventLog) *Bus {
	t.Helper()
	b := New(Config{WorldID: "w1", Log: log, Persist: log != nil})
	b.SetRoster(testRoster)
	b.SetCurrentChat(event.StringPtr("c1"))
	t.Cleanup(func() { b.Close() })
	return b
}

// collector records delivered events.
type collector struct {
	mu     sync.Mutex
	events []*event.Event
}

func (c *collector) handle(e *event.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collector) all() []*event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*event.Event(nil), c.events...)
}

func TestPublish_HumanMessageReachesEveryone(t *testing.T) {
	log := store.NewMockStore()
	b := newTestBus(t, log)
	ctx := context.Background()

	received := map[string]*collector{}
	for _, a := range testRoster {
		c := &collector{}
		received[a.ID] = c
		b.SubscribeToAgent(a.ID, c.handle)
	}

	e, err := b.Publish(ctx, TopicMessages, event.MessagePayload{Content: "Hello", Sender: "human", MessageID: "m1"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), e.Seq)
	assert.Equal(t, "c1", e.ChatKey())
	assert.Equal(t, "human", e.Meta.String(event.MetaSenderType))
	assert.Equal(t, []string{"a1", "a2", "a3"}, e.Meta.Strings(event.MetaOwners))
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())

	for id, c := range received {
		assert.Len(t, c.all(), 1, id)
	}
}

func TestPublish_DirectedAgentMessage(t *testing.T) {
	b := newTestBus(t, store.NewMockStore())
	ctx := context.Background()

	got := map[string]*collector{}
	for _, a := range testRoster {
		c := &collector{}
		got[a.ID] = c
		b.SubscribeToAgent(a.ID, c.handle)
	}

	e, err := b.Publish(ctx, TopicMessages, event.MessagePayload{Content: "@a2 status?", Sender: "a1"})
	require.NoError(t, err)

	assert.Equal(t, "agent", e.Meta.String(event.MetaSenderType))
	assert.Equal(t, "a1", e.Meta.String(event.MetaAgentID))
	assert.Equal(t, "a2", e.Meta.String(event.MetaRecipient))
	assert.Equal(t, "incoming", e.Meta.String(event.MetaDirection))
	assert.True(t, e.Meta.Bool(event.MetaMemoryOnly))

	assert.Empty(t, got["a1"].all(), "sender does not receive its own message")
	assert.Len(t, got["a2"].all(), 1)
	assert.Empty(t, got["a3"].all(), "memory-only message is not rebroadcast")
}

func TestPublish_InvalidPayloadRejected(t *testing.T) {
	log := store.NewMockStore()
	b := newTestBus(t, log)
	ctx := context.Background()

	c := &collector{}
	b.Subscribe(TopicSSE, c.handle, nil)

	before := testutil.ToFloat64(metrics.ValidationFailures.WithLabelValues("sse"))
	_, err := b.Publish(ctx, TopicSSE, event.SSEPayload{Type: "bogus"})
	require.Error(t, err)
	assert.True(t, event.IsValidationError(err))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ValidationFailures.WithLabelValues("sse")))

	_, err = b.Publish(ctx, TopicMessages, event.MessagePayload{Content: "x", Sender: ""})
	assert.True(t, event.IsValidationError(err))

	_, err = b.Publish(ctx, TopicMessages, event.SystemPayload{Content: "wrong topic"})
	assert.True(t, event.IsValidationError(err))

	assert.Empty(t, c.all())
	assert.Empty(t, b.GetHistory(nil))
	events, err := log.GetEventsByWorldAndChat(ctx, "w1", event.StringPtr("c1"), store.EventQuery{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPublish_PersistenceFailureStillDelivers(t *testing.T) {
	log := store.NewMockStore()
	log.SaveEventErr = store.ErrMockFailure
	b := newTestBus(t, log)
	ctx := context.Background()

	c := &collector{}
	b.Subscribe(TopicMessages, c.handle, nil)

	before := testutil.ToFloat64(metrics.PersistFailures)
	e, err := b.Publish(ctx, TopicMessages, event.MessagePayload{Content: "hi", Sender: "human"})
	require.NoError(t, err, "persistence failures are not returned")
	require.NotNil(t, e)

	assert.Len(t, c.all(), 1, "live subscribers still receive the event")
	assert.Empty(t, b.GetHistory(nil), "unpersisted event is absent from history")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.PersistFailures))

	events, err := log.GetEventsByWorldAndChat(ctx, "w1", event.StringPtr("c1"), store.EventQuery{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPublish_PersistenceDisabled(t *testing.T) {
	b := newTestBus(t, nil)

	e, err := b.Publish(context.Background(), TopicSystem, event.SystemPayload{Content: "notice"})
	require.NoError(t, err)
	assert.Zero(t, e.Seq)
	assert.Len(t, b.GetHistory(nil), 1)
}

func TestPublish_ChatDefaulting(t *testing.T) {
	log := store.NewMockStore()
	b := newTestBus(t, log)
	ctx := context.Background()

	tool, err := b.Publish(ctx, TopicTool, event.ToolPayload{Kind: event.ToolStart, ToolName: "shell", AgentName: "a1"})
	require.NoError(t, err)
	assert.Equal(t, "c1", tool.ChatKey())

	sys, err := b.Publish(ctx, TopicSystem, event.SystemPayload{Content: "x"})
	require.NoError(t, err)
	assert.Nil(t, sys.ChatID, "system events stay outside chats unless named")

	explicit, err := b.Publish(ctx, TopicTool, event.ToolPayload{Kind: event.ToolStart, ToolName: "shell"}, WithChatID("c9"))
	require.NoError(t, err)
	assert.Equal(t, "c9", explicit.ChatKey())

	// Changing the current chat does not rewrite events already persisted
	b.SetCurrentChat(event.StringPtr("c2"))
	events, err := log.GetEventsByWorldAndChat(ctx, "w1", event.StringPtr("c1"), store.EventQuery{Types: []event.Type{event.TypeTool}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, tool.ID, events[0].ID)
}

func TestPublish_OptionsOverride(t *testing.T) {
	b := newTestBus(t, store.NewMockStore())
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	e, err := b.Publish(context.Background(), TopicMessages,
		&event.MessagePayload{Content: "hi", Sender: "human"},
		WithID("fixed"),
		WithCreatedAt(at),
		WithMeta(event.Meta{event.MetaTriggeredByMessageID: "m0"}),
	)
	require.NoError(t, err)
	assert.Equal(t, "fixed", e.ID)
	assert.True(t, at.Equal(e.CreatedAt))
	assert.Equal(t, "m0", e.Meta.String(event.MetaTriggeredByMessageID))
	_, isValue := e.Payload.(event.MessagePayload)
	assert.True(t, isValue, "pointer payloads are normalized")
}

func TestSubscribe_Filter(t *testing.T) {
	b := newTestBus(t, nil)
	ctx := context.Background()

	c := &collector{}
	b.Subscribe(TopicMessages, c.handle, &Filter{Sender: "a2"})

	_, err := b.Publish(ctx, TopicMessages, event.MessagePayload{Content: "one", Sender: "a1"})
	require.NoError(t, err)
	_, err = b.Publish(ctx, TopicMessages, event.MessagePayload{Content: "two", Sender: "a2"})
	require.NoError(t, err)

	require.Len(t, c.all(), 1)
	assert.Equal(t, "two", c.all()[0].Payload.(event.MessagePayload).Content)
}

func TestUnsubscribe(t *testing.T) {
	b := newTestBus(t, nil)
	c := &collector{}
	unsub := b.Subscribe(TopicWorld, c.handle, nil)

	_, err := b.Publish(context.Background(), TopicWorld, event.WorldPayload{Kind: event.WorldChatCreated})
	require.NoError(t, err)
	unsub()
	unsub()
	_, err = b.Publish(context.Background(), TopicWorld, event.WorldPayload{Kind: event.WorldChatDeleted})
	require.NoError(t, err)

	assert.Len(t, c.all(), 1)
}

func TestHistoryStatsAndClear(t *testing.T) {
	b := newTestBus(t, store.NewMockStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Publish(ctx, TopicMessages, event.MessagePayload{Content: "m", Sender: "human"})
		require.NoError(t, err)
	}
	_, err := b.Publish(ctx, TopicSSE, event.SSEPayload{Type: event.SSEStart, AgentName: "a1"})
	require.NoError(t, err)

	stats := b.GetStats()
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(3), stats.PerTopic[TopicMessages])
	assert.Equal(t, int64(1), stats.PerTopic[TopicSSE])

	sse := b.GetHistory(&Filter{Types: []event.Type{event.TypeSSE}})
	assert.Len(t, sse, 1)
	assert.Len(t, b.GetHistory(&Filter{AgentID: "a1"}), 4, "a1 owns the broadcasts and sent the sse")

	b.ClearHistory()
	assert.Empty(t, b.GetHistory(nil))
	assert.Equal(t, int64(4), b.GetStats().Total)
}

func TestHistoryLimit(t *testing.T) {
	b := New(Config{WorldID: "w1", HistoryLimit: 2})
	defer b.Close()

	for _, content := range []string{"a", "b", "c"} {
		_, err := b.Publish(context.Background(), TopicSystem, event.SystemPayload{Content: content})
		require.NoError(t, err)
	}

	h := b.GetHistory(nil)
	require.Len(t, h, 2)
	assert.Equal(t, "b", h[0].Payload.(event.SystemPayload).Content)
}

func TestPublish_ConcurrentSeqIsGapFree(t *testing.T) {
	log := store.NewMockStore()
	b := newTestBus(t, log)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Publish(ctx, TopicMessages, event.MessagePayload{Content: "x", Sender: "human"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	events, err := log.GetEventsByWorldAndChat(ctx, "w1", event.StringPtr("c1"), store.EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 100)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}

func TestStream(t *testing.T) {
	b := newTestBus(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Stream(ctx, nil, TopicSystem)
	require.NoError(t, err)

	_, err = b.Publish(context.Background(), TopicSystem, event.SystemPayload{Content: "one"})
	require.NoError(t, err)
	_, err = b.Publish(context.Background(), TopicWorld, event.WorldPayload{Kind: event.WorldChatCreated})
	require.NoError(t, err)

	select {
	case e := <-ch:
		assert.Equal(t, event.TypeSystem, e.Type)
	case <-time.After(time.Second):
		t.Fatal("stream did not receive event")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestStream_DropsWhenFull(t *testing.T) {
	b := newTestBus(t, nil)

	ch, err := b.Stream(context.Background(), nil, TopicSystem)
	require.NoError(t, err)

	for i := 0; i < streamBufferSize+10; i++ {
		_, err := b.Publish(context.Background(), TopicSystem, event.SystemPayload{Content: "x"})
		require.NoError(t, err, "publish never blocks on a slow stream")
	}
	assert.Len(t, ch, streamBufferSize)
}

func TestClose(t *testing.T) {
	b := New(Config{WorldID: "w1"})
	ch, err := b.Stream(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, ok := <-ch
	assert.False(t, ok, "streams close with the bus")

	_, err = b.Publish(context.Background(), TopicSystem, event.SystemPayload{Content: "late"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = b.Stream(context.Background(), nil)
	assert.ErrorIs(t, err, ErrClosed)
}
