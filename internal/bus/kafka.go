// ABOUTME: Broker-backed provider that mirrors world events through Kafka
// ABOUTME: Local fan-out on publish, remote events consumed per topic, echoes dropped

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/2389/agentworld/internal/dedupe"
	"github.com/2389/agentworld/internal/event"
	"github.com/2389/agentworld/internal/metrics"
)

// originHeader carries the publishing instance id on every produced message.
const originHeader = "agentworld-origin"

// readRetryDelay is the pause after a failed broker read.
const readRetryDelay = 500 * time.Millisecond

// KafkaConfig configures the Kafka provider.
type KafkaConfig struct {
	Brokers       []string
	TopicPrefix   string
	ConsumerGroup string
	InstanceID    string // defaults to a random id
	DedupeTTL     time.Duration
}

// MessageWriter is the part of kafka.Writer the provider uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is the part of kafka.Reader the provider uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaProvider delivers locally like LocalProvider and also publishes each
// event to a broker topic named <prefix>.<world>.<topic>. Events consumed
// from those topics that another instance produced are delivered to local
// subscribers. Remote events are live only; they are not written to this
// instance's event log.
type KafkaProvider struct {
	local   *LocalProvider
	worldID string
	cfg     KafkaConfig
	writer  MessageWriter
	readers []MessageReader
	seen    *dedupe.Cache
	logger  *slog.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// KafkaFactory returns a factory producing Kafka providers.
func KafkaFactory(cfg KafkaConfig, logger *slog.Logger) ProviderFactory {
	return func(worldID string) (Provider, error) {
		return NewKafkaProvider(worldID, cfg, logger)
	}
}

// NewKafkaProvider connects a provider for one world to the configured brokers.
func NewKafkaProvider(worldID string, cfg KafkaConfig, logger *slog.Logger) (*KafkaProvider, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka provider: no brokers configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	readerFor := func(topic, groupID string) MessageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}

	return newKafkaProvider(worldID, cfg, writer, readerFor, logger), nil
}

// newKafkaProvider wires a provider from an explicit writer and reader
// constructor and starts one consumer goroutine per topic.
func newKafkaProvider(worldID string, cfg KafkaConfig, writer MessageWriter, readerFor func(topic, groupID string) MessageReader, logger *slog.Logger) *KafkaProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.New().String()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "agentworld"
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "agentworld"
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &KafkaProvider{
		local:   NewLocalProvider(logger),
		worldID: worldID,
		cfg:     cfg,
		writer:  writer,
		seen:    dedupe.New(cfg.DedupeTTL, dedupe.DefaultMaxSize),
		logger:  logger.With("component", "bus.kafka", "world_id", worldID),
		cancel:  cancel,
	}

	// Every instance needs every event, so each gets its own consumer group.
	groupID := cfg.ConsumerGroup + "-" + cfg.InstanceID
	for _, topic := range Topics {
		r := readerFor(p.brokerTopic(topic), groupID)
		p.readers = append(p.readers, r)
		p.wg.Add(1)
		go p.consume(ctx, topic, r)
	}
	return p
}

// brokerTopic returns the Kafka topic name for a bus topic of this world.
func (p *KafkaProvider) brokerTopic(topic Topic) string {
	return strings.Join([]string{p.cfg.TopicPrefix, p.worldID, string(topic)}, ".")
}

// Subscribe registers a local handler.
func (p *KafkaProvider) Subscribe(topic Topic, h Handler) func() {
	return p.local.Subscribe(topic, h)
}

// Deliver runs local handlers, then produces the event to the broker. A
// broker failure is logged; local delivery has already happened.
func (p *KafkaProvider) Deliver(ctx context.Context, topic Topic, e *event.Event) {
	p.seen.Mark(e.ID)
	p.local.Deliver(ctx, topic, e)

	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("failed to encode event for broker", "event_id", e.ID, "error", err)
		return
	}

	msg := kafka.Message{
		Topic:   p.brokerTopic(topic),
		Key:     []byte(e.ChatKey()),
		Value:   data,
		Headers: []kafka.Header{{Key: originHeader, Value: []byte(p.cfg.InstanceID)}},
		Time:    e.CreatedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("failed to produce event", "event_id", e.ID, "topic", msg.Topic, "error", err)
	}
}

func (p *KafkaProvider) consume(ctx context.Context, topic Topic, r MessageReader) {
	defer p.wg.Done()

	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("read error", "topic", topic, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}
		p.handleRemote(ctx, topic, msg)
	}
}

// handleRemote delivers a consumed message unless it is this instance's own
// echo, a redelivery, or not a valid event for the topic.
func (p *KafkaProvider) handleRemote(ctx context.Context, topic Topic, msg kafka.Message) {
	for _, h := range msg.Headers {
		if h.Key == originHeader && string(h.Value) == p.cfg.InstanceID {
			metrics.RemoteEvents.WithLabelValues("echo").Inc()
			return
		}
	}

	var e event.Event
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		metrics.RemoteEvents.WithLabelValues("invalid").Inc()
		p.logger.Warn("dropping undecodable remote event", "topic", topic, "error", err)
		return
	}
	if e.Type != topic.EventType() || e.WorldID != p.worldID {
		metrics.RemoteEvents.WithLabelValues("invalid").Inc()
		p.logger.Warn("dropping misrouted remote event", "topic", topic, "event_id", e.ID, "type", e.Type)
		return
	}
	if err := event.Validate(e.Payload); err != nil {
		metrics.RemoteEvents.WithLabelValues("invalid").Inc()
		p.logger.Warn("dropping invalid remote event", "event_id", e.ID, "error", err)
		return
	}
	if p.seen.CheckAndMark(e.ID) {
		metrics.RemoteEvents.WithLabelValues("echo").Inc()
		return
	}

	metrics.RemoteEvents.WithLabelValues("delivered").Inc()
	p.local.Deliver(ctx, topic, &e)
}

// Close stops the consumers and closes the broker connections.
func (p *KafkaProvider) Close() error {
	var firstErr error
	p.closeOnce.Do(func() {
		p.cancel()
		for _, r := range p.readers {
			if err := r.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		p.wg.Wait()
		if err := p.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.seen.Close()
		p.local.Close()
	})
	return firstErr
}
