// ABOUTME: Delivery provider seam for world buses and the in-process provider
// ABOUTME: LocalProvider fans events out synchronously in subscription order

package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/agentworld/internal/event"
)

// Topic names a bus channel. Each topic carries exactly one event type.
type Topic string

const (
	TopicMessages Topic = "messages"
	TopicWorld    Topic = "world"
	TopicSSE      Topic = "sse"
	TopicSystem   Topic = "system"
	TopicTool     Topic = "tool"
)

// Topics lists every topic in a stable order.
var Topics = []Topic{TopicMessages, TopicWorld, TopicSSE, TopicSystem, TopicTool}

// EventType returns the event type carried on t.
func (t Topic) EventType() event.Type {
	if t == TopicMessages {
		return event.TypeMessage
	}
	return event.Type(t)
}

// TopicFor returns the topic that carries events of type et.
func TopicFor(et event.Type) Topic {
	if et == event.TypeMessage {
		return TopicMessages
	}
	return Topic(et)
}

// ParseTopic validates a topic name.
func ParseTopic(s string) (Topic, error) {
	for _, t := range Topics {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown topic %q", s)
}

// Handler receives delivered events. Handlers must treat events as read-only.
type Handler func(e *event.Event)

// Provider delivers published events to subscribers. Delivery is synchronous:
// Deliver returns after every local handler has run.
type Provider interface {
	Deliver(ctx context.Context, topic Topic, e *event.Event)
	Subscribe(topic Topic, h Handler) (unsubscribe func())
	Close() error
}

// ProviderFactory creates the provider for one world's bus.
type ProviderFactory func(worldID string) (Provider, error)

// LocalFactory returns a factory producing in-process providers.
func LocalFactory(logger *slog.Logger) ProviderFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(worldID string) (Provider, error) {
		return NewLocalProvider(logger.With("world_id", worldID)), nil
	}
}

type localSub struct {
	id string
	h  Handler
}

// LocalProvider is an in-process provider. Handlers run on the publishing
// goroutine, in the order they subscribed.
type LocalProvider struct {
	mu     sync.RWMutex
	subs   map[Topic][]localSub
	logger *slog.Logger
}

// NewLocalProvider creates a provider. Pass nil logger for default.
func NewLocalProvider(logger *slog.Logger) *LocalProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalProvider{
		subs:   make(map[Topic][]localSub),
		logger: logger.With("component", "bus.local"),
	}
}

// Subscribe registers h for topic. The returned function is idempotent.
func (p *LocalProvider) Subscribe(topic Topic, h Handler) func() {
	sub := localSub{id: uuid.New().String(), h: h}

	p.mu.Lock()
	p.subs[topic] = append(p.subs[topic], sub)
	p.mu.Unlock()

	p.logger.Debug("subscriber added", "topic", topic, "sub_id", sub.id)

	var once sync.Once
	return func() {
		once.Do(func() { p.remove(topic, sub.id) })
	}
}

func (p *LocalProvider) remove(topic Topic, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subs[topic]
	for i, s := range subs {
		if s.id == id {
			// Copy so in-flight Deliver snapshots are unaffected
			next := make([]localSub, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			p.subs[topic] = next
			break
		}
	}
	if len(p.subs[topic]) == 0 {
		delete(p.subs, topic)
	}
	p.logger.Debug("subscriber removed", "topic", topic, "sub_id", id)
}

// Deliver runs every handler subscribed to topic. A panicking handler is
// logged and does not stop delivery to the rest.
func (p *LocalProvider) Deliver(ctx context.Context, topic Topic, e *event.Event) {
	p.mu.RLock()
	subs := p.subs[topic]
	p.mu.RUnlock()

	for _, s := range subs {
		p.call(s, topic, e)
	}
}

func (p *LocalProvider) call(s localSub, topic Topic, e *event.Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("subscriber panicked",
				"topic", topic,
				"sub_id", s.id,
				"event_id", e.ID,
				"panic", r)
		}
	}()
	s.h(e)
}

// Count returns the number of handlers on topic.
func (p *LocalProvider) Count(topic Topic) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs[topic])
}

// Close drops every subscription.
func (p *LocalProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = make(map[Topic][]localSub)
	return nil
}
