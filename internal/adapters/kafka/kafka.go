package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"streamguard/internal/models"

	"github.com/IBM/sarama"
)

// NewSyncProducer builds a synchronous producer for the moderation audit
// topic. Flagged messages must not be lost, hence WaitForAll acks.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V2_0_0_0
	config.ClientID = "streamguard"

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return producer, nil
}

// FlaggedEvent is the audit record published for every message the moderation
// layer blocks. A downstream moderation console consumes these to surface
// flagged messages to stream owners.
type FlaggedEvent struct {
	Message   *models.ChatMessage `json:"message"`
	Reason    string              `json:"reason"`
	FlaggedAt time.Time           `json:"flaggedAt"`
}

// AuditProducer publishes flagged-message events, partitioned by stream so a
// consumer sees one stream's flags in order.
type AuditProducer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewAuditProducer(producer sarama.SyncProducer, topic string) *AuditProducer {
	return &AuditProducer{producer: producer, topic: topic}
}

// PublishFlagged emits one audit event. The context is accepted for interface
// symmetry; sarama's sync producer handles its own timeouts.
func (p *AuditProducer) PublishFlagged(_ context.Context, msg *models.ChatMessage, reason string) error {
	event := FlaggedEvent{
		Message:   msg,
		Reason:    reason,
		FlaggedAt: time.Now(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode flagged event: %w", err)
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(uint64(msg.StreamID), 10)),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return fmt.Errorf("publish flagged event: %w", err)
	}

	return nil
}

// Close releases the underlying producer.
func (p *AuditProducer) Close() error {
	return p.producer.Close()
}
