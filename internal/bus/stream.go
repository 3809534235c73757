// ABOUTME: Buffered channel subscriptions for HTTP and websocket listeners
// ABOUTME: Slow consumers drop events instead of blocking publishers

package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/agentworld/internal/event"
)

// streamBufferSize is the channel buffer for each stream.
const streamBufferSize = 64

type stream struct {
	id     string
	mu     sync.Mutex
	ch     chan *event.Event
	closed bool
	done   chan struct{}
	unsubs []func()
}

func (s *stream) send(e *event.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

func (s *stream) close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
		close(s.done)
	}
}

// Stream returns a channel receiving events on the given topics (every topic
// when none are given). The channel is closed when ctx is cancelled or the
// bus closes. Events are dropped for a stream whose buffer is full.
func (b *Bus) Stream(ctx context.Context, f *Filter, topics ...Topic) (<-chan *event.Event, error) {
	if len(topics) == 0 {
		topics = Topics
	}

	s := &stream{
		id:   uuid.New().String(),
		ch:   make(chan *event.Event, streamBufferSize),
		done: make(chan struct{}),
	}
	for _, topic := range topics {
		s.unsubs = append(s.unsubs, b.Subscribe(topic, func(e *event.Event) {
			if !s.send(e) {
				b.logger.Debug("dropped event for slow stream",
					"stream_id", s.id,
					"event_id", e.ID)
			}
		}, f))
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.close()
		return nil, ErrClosed
	}
	b.streams[s.id] = s
	b.mu.Unlock()

	b.logger.Debug("stream opened", "stream_id", s.id, "topics", topics)

	// Auto-cleanup on context cancellation
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
			return
		}
		b.mu.Lock()
		delete(b.streams, s.id)
		b.mu.Unlock()
		s.close()
		b.logger.Debug("stream closed", "stream_id", s.id)
	}()

	return s.ch, nil
}
