// ABOUTME: Tests for the Kafka provider using in-memory writer and reader twins
// ABOUTME: Covers topic naming, origin headers, echo suppression, and remote delivery

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentworld/internal/event"
)

// memWriter records produced messages.
type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func (w *memWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

// chanReader is a reader backed by a Go channel.
type chanReader struct {
	topic string
	ch    chan kafka.Message
}

func (r *chanReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.ch:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *chanReader) Close() error { return nil }

type kafkaHarness struct {
	provider *KafkaProvider
	writer   *memWriter
	readers  map[string]*chanReader
	groups   []string
}

func newKafkaHarness(t *testing.T, instanceID string) *kafkaHarness {
	t.Helper()
	h := &kafkaHarness{writer: &memWriter{}, readers: map[string]*chanReader{}}
	var mu sync.Mutex
	readerFor := func(topic, groupID string) MessageReader {
		mu.Lock()
		defer mu.Unlock()
		r := &chanReader{topic: topic, ch: make(chan kafka.Message, 8)}
		h.readers[topic] = r
		h.groups = append(h.groups, groupID)
		return r
	}
	h.provider = newKafkaProvider("w1", KafkaConfig{
		TopicPrefix:   "test",
		ConsumerGroup: "grp",
		InstanceID:    instanceID,
	}, h.writer, readerFor, nil)
	t.Cleanup(func() { h.provider.Close() })
	return h
}

func remoteMessage(t *testing.T, topic string, origin string, e *event.Event) kafka.Message {
	t.Helper()
	data, err := json.Marshal(e)
	require.NoError(t, err)
	return kafka.Message{
		Topic:   topic,
		Value:   data,
		Headers: []kafka.Header{{Key: originHeader, Value: []byte(origin)}},
	}
}

func TestKafkaProvider_ReadersPerTopic(t *testing.T) {
	h := newKafkaHarness(t, "inst-1")

	assert.Len(t, h.readers, len(Topics))
	assert.Contains(t, h.readers, "test.w1.messages")
	assert.Contains(t, h.readers, "test.w1.sse")
	for _, g := range h.groups {
		assert.Equal(t, "grp-inst-1", g)
	}
}

func TestKafkaProvider_DeliverProducesWithOrigin(t *testing.T) {
	h := newKafkaHarness(t, "inst-1")

	var local []*event.Event
	h.provider.Subscribe(TopicMessages, func(e *event.Event) { local = append(local, e) })

	e := &event.Event{
		ID:      "e1",
		WorldID: "w1",
		ChatID:  event.StringPtr("c1"),
		Type:    event.TypeMessage,
		Payload: event.MessagePayload{Content: "hi", Sender: "human"},
	}
	h.provider.Deliver(context.Background(), TopicMessages, e)

	require.Len(t, local, 1)
	msgs := h.writer.written()
	require.Len(t, msgs, 1)
	assert.Equal(t, "test.w1.messages", msgs[0].Topic)
	assert.Equal(t, []byte("c1"), msgs[0].Key)
	require.Len(t, msgs[0].Headers, 1)
	assert.Equal(t, "inst-1", string(msgs[0].Headers[0].Value))

	var decoded event.Event
	require.NoError(t, json.Unmarshal(msgs[0].Value, &decoded))
	assert.Equal(t, e.Payload, decoded.Payload)
}

func TestKafkaProvider_WriteFailureStillDeliversLocally(t *testing.T) {
	h := newKafkaHarness(t, "inst-1")
	h.writer.err = errors.New("broker down")

	got := 0
	h.provider.Subscribe(TopicSystem, func(*event.Event) { got++ })
	h.provider.Deliver(context.Background(), TopicSystem, &event.Event{
		ID: "e1", WorldID: "w1", Type: event.TypeSystem, Payload: event.SystemPayload{Content: "x"},
	})

	assert.Equal(t, 1, got)
}

func TestKafkaProvider_RemoteEventDelivered(t *testing.T) {
	h := newKafkaHarness(t, "inst-1")

	received := make(chan *event.Event, 1)
	h.provider.Subscribe(TopicMessages, func(e *event.Event) { received <- e })

	remote := &event.Event{
		ID:        "remote-1",
		WorldID:   "w1",
		ChatID:    event.StringPtr("c1"),
		Type:      event.TypeMessage,
		Seq:       7,
		Payload:   event.MessagePayload{Content: "from elsewhere", Sender: "human"},
		CreatedAt: time.Now().UTC(),
	}
	h.readers["test.w1.messages"].ch <- remoteMessage(t, "test.w1.messages", "inst-2", remote)

	select {
	case e := <-received:
		assert.Equal(t, "remote-1", e.ID)
		assert.Equal(t, int64(7), e.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("remote event not delivered")
	}
}

func TestKafkaProvider_DropsOwnEchoAndDuplicates(t *testing.T) {
	h := newKafkaHarness(t, "inst-1")

	var mu sync.Mutex
	var ids []string
	h.provider.Subscribe(TopicSystem, func(e *event.Event) {
		mu.Lock()
		ids = append(ids, e.ID)
		mu.Unlock()
	})

	local := &event.Event{ID: "local-1", WorldID: "w1", Type: event.TypeSystem, Payload: event.SystemPayload{Content: "x"}}
	h.provider.Deliver(context.Background(), TopicSystem, local)

	r := h.readers["test.w1.system"]
	// Own origin header
	r.ch <- remoteMessage(t, "test.w1.system", "inst-1", local)
	// Same id relayed by another instance
	r.ch <- remoteMessage(t, "test.w1.system", "inst-2", local)
	// Wrong world
	r.ch <- remoteMessage(t, "test.w1.system", "inst-2", &event.Event{ID: "x", WorldID: "w2", Type: event.TypeSystem, Payload: event.SystemPayload{Content: "x"}})
	// A genuinely new event, twice
	fresh := &event.Event{ID: "remote-2", WorldID: "w1", Type: event.TypeSystem, Payload: event.SystemPayload{Content: "y"}}
	r.ch <- remoteMessage(t, "test.w1.system", "inst-2", fresh)
	r.ch <- remoteMessage(t, "test.w1.system", "inst-3", fresh)

	require.Eventually(t, func() bool {
		return len(r.ch) == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ids) == 2
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"local-1", "remote-2"}, ids)
}

func TestKafkaProvider_BusIntegration(t *testing.T) {
	h := newKafkaHarness(t, "inst-1")
	b := New(Config{WorldID: "w1", Provider: h.provider})
	defer b.Close()

	_, err := b.Publish(context.Background(), TopicWorld, event.WorldPayload{Kind: event.WorldChatCreated})
	require.NoError(t, err)

	msgs := h.writer.written()
	require.Len(t, msgs, 1)
	assert.Equal(t, "test.w1.world", msgs[0].Topic)
}

func TestNewKafkaProvider_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaProvider("w1", KafkaConfig{}, nil)
	assert.Error(t, err)
}
