package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"qms/doctor-queue/internal/hub"
	"qms/doctor-queue/internal/models"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"
)

// Envelope is the wire form shared by every transport sink.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func encode(event models.QueueEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return json.Marshal(Envelope{Type: event.Type, Payload: payload, CreatedAt: event.EmittedAt})
}

// HubSink pushes events to the SockJS clients subscribed to the key.
type HubSink struct {
	hub *hub.Hub
}

func NewHubSink(h *hub.Hub) *HubSink {
	return &HubSink{hub: h}
}

func (s *HubSink) Name() string { return "hub" }

func (s *HubSink) Deliver(_ context.Context, event models.QueueEvent) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	s.hub.Broadcast(payload, hub.Subscription{DoctorID: event.DoctorID, Date: event.Date}, event.Version)
	return nil
}

// RedisSink publishes on <prefix>:<doctor_id>:<date> for other instances and
// display boards.
type RedisSink struct {
	client *redis.Client
	prefix string
}

func NewRedisSink(client *redis.Client, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "queue"
	}
	return &RedisSink{client: client, prefix: prefix}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Channel(key models.QueueKey) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, key.DoctorID, key.Date)
}

func (s *RedisSink) Deliver(ctx context.Context, event models.QueueEvent) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.Channel(event.Key()), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

type KafkaConfig struct {
	Brokers      []string
	RetryMax     int
	RequiredAcks int
}

func NewKafkaProducer(cfg KafkaConfig) (sarama.SyncProducer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	saramaCfg.Producer.Retry.Max = cfg.RetryMax
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaSink writes events keyed by doctor so a doctor's events share a
// partition and keep their order.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaSink(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(_ context.Context, event models.QueueEvent) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	message := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(event.DoctorID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_id"), Value: []byte(event.EventID)},
			{Key: []byte("version"), Value: []byte(fmt.Sprintf("%d", event.Version))},
		},
	}
	if _, _, err := s.producer.SendMessage(message); err != nil {
		return fmt.Errorf("failed to send kafka message: %w", err)
	}
	return nil
}

// EventSaver persists committed events.
type EventSaver interface {
	SaveEvent(ctx context.Context, event models.QueueEvent) error
}

// JournalSink records events durably so a restarted process can hydrate.
type JournalSink struct {
	saver EventSaver
}

func NewJournalSink(saver EventSaver) *JournalSink {
	return &JournalSink{saver: saver}
}

func (s *JournalSink) Name() string { return "journal" }

func (s *JournalSink) Deliver(ctx context.Context, event models.QueueEvent) error {
	return s.saver.SaveEvent(ctx, event)
}
