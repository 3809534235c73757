// ABOUTME: Per-world event bus: validate, stamp, persist, then deliver
// ABOUTME: Keeps in-memory history of persisted events and per-topic stats

package bus

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agentworld/internal/addressing"
	"github.com/2389/agentworld/internal/event"
	"github.com/2389/agentworld/internal/metrics"
	"github.com/2389/agentworld/internal/store"
)

// DefaultHistoryLimit bounds in-memory history when no limit is configured.
const DefaultHistoryLimit = 1000

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("bus closed")

// Config configures a world bus.
type Config struct {
	WorldID      string
	Provider     Provider       // nil means a LocalProvider
	Log          store.EventLog // nil disables persistence
	Persist      bool
	HistoryLimit int
	Logger       *slog.Logger
}

// Stats counts events published on a bus.
type Stats struct {
	PerTopic map[Topic]int64
	Total    int64
}

// Bus is the event channel of one world. It is safe for concurrent use.
type Bus struct {
	worldID      string
	provider     Provider
	log          store.EventLog
	persist      bool
	historyLimit int
	logger       *slog.Logger

	mu      sync.RWMutex
	history []*event.Event
	stats   map[Topic]int64
	total   int64
	closed  bool
	streams map[string]*stream

	ctxMu       sync.RWMutex
	currentChat *string
	roster      []addressing.Agent
}

// New creates a bus for one world.
func New(cfg Config) *Bus {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	provider := cfg.Provider
	if provider == nil {
		provider = NewLocalProvider(logger)
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	return &Bus{
		worldID:      cfg.WorldID,
		provider:     provider,
		log:          cfg.Log,
		persist:      cfg.Persist && cfg.Log != nil,
		historyLimit: limit,
		logger:       logger.With("component", "bus", "world_id", cfg.WorldID),
		stats:        make(map[Topic]int64),
		streams:      make(map[string]*stream),
	}
}

// WorldID returns the world this bus belongs to.
func (b *Bus) WorldID() string {
	return b.worldID
}

// SetCurrentChat sets the chat that message, sse, and tool events default to.
func (b *Bus) SetCurrentChat(chatID *string) {
	b.ctxMu.Lock()
	defer b.ctxMu.Unlock()
	if chatID == nil || *chatID == "" {
		b.currentChat = nil
		return
	}
	id := *chatID
	b.currentChat = &id
}

// CurrentChat returns the chat events currently default to.
func (b *Bus) CurrentChat() *string {
	b.ctxMu.RLock()
	defer b.ctxMu.RUnlock()
	if b.currentChat == nil {
		return nil
	}
	id := *b.currentChat
	return &id
}

// SetRoster sets the agents that message addressing resolves mentions against.
func (b *Bus) SetRoster(agents []addressing.Agent) {
	b.ctxMu.Lock()
	defer b.ctxMu.Unlock()
	b.roster = append([]addressing.Agent(nil), agents...)
}

func (b *Bus) snapshot() (*string, []addressing.Agent) {
	b.ctxMu.RLock()
	defer b.ctxMu.RUnlock()
	return b.currentChat, b.roster
}

// PublishOption customizes a single publish.
type PublishOption func(*publishOptions)

type publishOptions struct {
	id        string
	chatID    *string
	chatSet   bool
	meta      event.Meta
	createdAt time.Time
}

// WithChatID files the event under chatID. An empty string files it outside
// any chat.
func WithChatID(chatID string) PublishOption {
	return func(o *publishOptions) {
		o.chatSet = true
		o.chatID = event.StringPtr(chatID)
	}
}

// WithMeta merges annotations into the event's meta. Keys set here take
// precedence over the ones the bus stamps.
func WithMeta(m event.Meta) PublishOption {
	return func(o *publishOptions) {
		if o.meta == nil {
			o.meta = event.Meta{}
		}
		for k, v := range m {
			o.meta[k] = v
		}
	}
}

// WithID sets the event id instead of generating one.
func WithID(id string) PublishOption {
	return func(o *publishOptions) { o.id = id }
}

// WithCreatedAt sets the event timestamp instead of using the current time.
func WithCreatedAt(t time.Time) PublishOption {
	return func(o *publishOptions) { o.createdAt = t }
}

// Publish validates payload, stamps it into an event, persists it, and
// delivers it to subscribers of topic.
//
// Validation failures are returned and nothing is persisted or delivered.
// A persistence failure is logged and counted but not returned: the event is
// still delivered, and it is left out of history so callers can tell it will
// not be replayable.
func (b *Bus) Publish(ctx context.Context, topic Topic, payload event.Payload, opts ...PublishOption) (*event.Event, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	payload = event.Normalize(payload)
	if payload != nil && payload.EventType() != topic.EventType() {
		metrics.ValidationFailures.WithLabelValues(string(topic.EventType())).Inc()
		return nil, &event.ValidationError{
			Type:   topic.EventType(),
			Reason: "payload type " + string(payload.EventType()) + " does not belong on topic " + string(topic),
		}
	}
	if err := event.Validate(payload); err != nil {
		metrics.ValidationFailures.WithLabelValues(string(topic.EventType())).Inc()
		return nil, err
	}

	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}

	e := b.stamp(topic, payload, o)

	persisted := false
	if b.persist {
		if err := b.log.SaveEvent(ctx, e); err != nil {
			metrics.PersistFailures.Inc()
			b.logger.Error("failed to persist event",
				"event_id", e.ID,
				"type", e.Type,
				"chat_id", e.ChatKey(),
				"error", err)
		} else {
			persisted = true
		}
	}

	b.provider.Deliver(ctx, topic, e)

	b.mu.Lock()
	if persisted || !b.persist {
		b.history = append(b.history, e)
		if over := len(b.history) - b.historyLimit; over > 0 {
			b.history = append([]*event.Event(nil), b.history[over:]...)
		}
	}
	b.stats[topic]++
	b.total++
	b.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(string(topic)).Inc()
	return e, nil
}

// stamp builds the event record: id, timestamp, chat, sender, and for
// messages the addressing annotations.
func (b *Bus) stamp(topic Topic, payload event.Payload, o publishOptions) *event.Event {
	currentChat, roster := b.snapshot()

	e := &event.Event{
		ID:        o.id,
		WorldID:   b.worldID,
		Type:      topic.EventType(),
		Payload:   payload,
		Meta:      event.Meta{},
		CreatedAt: o.createdAt,
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	switch {
	case o.chatSet:
		e.ChatID = o.chatID
	case defaultsToCurrentChat(e.Type) && currentChat != nil:
		id := *currentChat
		e.ChatID = &id
	}

	sender := senderOf(payload)
	senderType := event.SenderTypeOf(sender)
	e.Meta[event.MetaSender] = sender
	e.Meta[event.MetaSenderType] = string(senderType)
	if senderType == event.SenderAgent {
		e.Meta[event.MetaAgentID] = agentIDOf(roster, sender)
	}

	if mp, ok := payload.(event.MessagePayload); ok {
		addr := addressing.Resolve(roster, addressing.Message{Sender: mp.Sender, Content: mp.Content})
		for k, v := range addr.Meta() {
			e.Meta[k] = v
		}
	}

	for k, v := range o.meta {
		e.Meta[k] = v
	}
	return e
}

// defaultsToCurrentChat lists the event types that belong to the active chat
// when the publisher does not name one.
func defaultsToCurrentChat(t event.Type) bool {
	switch t {
	case event.TypeMessage, event.TypeSSE, event.TypeTool:
		return true
	}
	return false
}

func senderOf(p event.Payload) string {
	var sender string
	switch v := p.(type) {
	case event.MessagePayload:
		sender = v.Sender
	case event.SSEPayload:
		sender = v.AgentName
	case event.ToolPayload:
		sender = v.AgentName
	}
	if sender == "" {
		return "world"
	}
	return sender
}

func agentIDOf(roster []addressing.Agent, sender string) string {
	for _, a := range roster {
		if strings.EqualFold(a.ID, sender) || strings.EqualFold(a.Name, sender) {
			return a.ID
		}
	}
	return sender
}

// Subscribe registers h for topic. When f is non-nil, only matching events
// reach h. The returned function is idempotent.
func (b *Bus) Subscribe(topic Topic, h Handler, f *Filter) func() {
	if f == nil {
		return b.provider.Subscribe(topic, h)
	}
	return b.provider.Subscribe(topic, func(e *event.Event) {
		if f.Match(e) {
			h(e)
		}
	})
}

// SubscribeToAgent delivers message events owned by agentID that the agent
// did not send itself.
func (b *Bus) SubscribeToAgent(agentID string, h Handler) func() {
	return b.provider.Subscribe(TopicMessages, func(e *event.Event) {
		if !e.Meta.HasOwner(agentID) {
			return
		}
		if strings.EqualFold(e.Meta.String(event.MetaAgentID), agentID) ||
			strings.EqualFold(e.Meta.String(event.MetaSender), agentID) {
			return
		}
		h(e)
	})
}

// GetHistory returns recorded events in publish order, optionally filtered.
func (b *Bus) GetHistory(f *Filter) []*event.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*event.Event, 0, len(b.history))
	for _, e := range b.history {
		if f == nil || f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// GetStats returns publish counts per topic and in total.
func (b *Bus) GetStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	per := make(map[Topic]int64, len(b.stats))
	for t, n := range b.stats {
		per[t] = n
	}
	return Stats{PerTopic: per, Total: b.total}
}

// ClearHistory drops the in-memory history. The event log is untouched.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}

// Close closes every open stream and the provider. Later publishes fail
// with ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	streams := b.streams
	b.streams = make(map[string]*stream)
	b.mu.Unlock()

	for _, s := range streams {
		s.close()
	}
	b.logger.Debug("bus closed")
	return b.provider.Close()
}
