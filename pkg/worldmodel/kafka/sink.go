// Package kafka publishes world-model events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/worldmodel"
)

// DefaultTopic is the topic used when none is configured.
const DefaultTopic = "substrate.insights"

// Sink implements worldmodel.Sink over a Kafka topic.
type Sink struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// Config holds configuration for the Kafka sink.
type Config struct {
	// Brokers is the list of bootstrap broker addresses. Required.
	Brokers []string

	// Topic is the destination topic. Defaults to DefaultTopic if empty.
	Topic string
}

// NewSink creates a Kafka-backed world-model sink.
func NewSink(c Config, logger *zap.Logger) (*Sink, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}

	topic := c.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	// Keyed by packet id so all events for a packet land on one partition
	// in order.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}

	logger.Info("kafka world-model sink initialized",
		zap.Strings("brokers", c.Brokers),
		zap.String("topic", topic),
	)

	return &Sink{writer: writer, logger: logger}, nil
}

// PublishInsights writes the event as a JSON message keyed by packet id.
func (s *Sink) PublishInsights(ctx context.Context, event *worldmodel.InsightsDerivedEvent) error {
	if event == nil {
		return worldmodel.ErrNilInsightsEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event %s: %w", event.EventID, err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Packet.PacketID),
		Value: payload,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing event %s: %w", event.EventID, err)
	}

	s.logger.Debug("published insights event",
		zap.String("event_id", event.EventID),
		zap.String("packet_id", event.Packet.PacketID),
		zap.Int("facts", len(event.Facts)),
	)

	return nil
}

// Close flushes and closes the underlying writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}

var _ worldmodel.Sink = (*Sink)(nil)
