package eventing

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"ledger-platform/internal/platform/logging"
)

// KafkaConfig configures the sarama producer, generalized from the
// teacher's internal/infrastructure/messaging/kafka/config.go.
type KafkaConfig struct {
	Brokers           []string
	ClientID          string
	EnableIdempotence bool
	CompressionType   string
	RequiredAcks      string
	MaxRetries        int
	RetryBackoff      time.Duration
}

// DefaultKafkaConfig mirrors the teacher's environment defaults.
func DefaultKafkaConfig(brokers []string, clientID string) KafkaConfig {
	return KafkaConfig{
		Brokers:           brokers,
		ClientID:          clientID,
		EnableIdempotence: false,
		CompressionType:   "snappy",
		RequiredAcks:      "all",
		MaxRetries:        5,
		RetryBackoff:      100 * time.Millisecond,
	}
}

func (c KafkaConfig) toSaramaConfig() (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = c.EnableIdempotence
	cfg.Producer.Retry.Max = c.MaxRetries
	cfg.Producer.Retry.Backoff = c.RetryBackoff

	if !c.EnableIdempotence {
		cfg.Net.MaxOpenRequests = 10
	} else {
		cfg.Net.MaxOpenRequests = 1
	}

	cfg.ChannelBufferSize = 100000
	cfg.Producer.Flush.MaxMessages = 10000
	cfg.Producer.Flush.Frequency = 500 * time.Millisecond
	cfg.Producer.Flush.Messages = 1000

	switch strings.ToLower(c.RequiredAcks) {
	case "all", "-1":
		cfg.Producer.RequiredAcks = sarama.WaitForAll
	case "1":
		cfg.Producer.RequiredAcks = sarama.WaitForLocal
	case "0":
		cfg.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("eventing: invalid required acks %q", c.RequiredAcks)
	}

	switch strings.ToLower(c.CompressionType) {
	case "none":
		cfg.Producer.Compression = sarama.CompressionNone
	case "gzip":
		cfg.Producer.Compression = sarama.CompressionGZIP
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionSnappy
	}

	cfg.ClientID = c.ClientID
	cfg.Version = sarama.V3_0_0_0
	return cfg, nil
}

// Publisher publishes ledger domain events to Kafka.
type Publisher interface {
	PublishBalanceOperation(event BalanceOperationEvent) error
	PublishTransaction(topic string, event TransactionEvent) error
	Close() error
	IsHealthy() bool
}

// KafkaPublisher implements Publisher over a sarama.SyncProducer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	mu       sync.RWMutex
	closed   bool
}

// NewKafkaPublisher dials brokers and returns a ready KafkaPublisher.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	saramaCfg, err := cfg.toSaramaConfig()
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("eventing: failed to create kafka producer: %w", err)
	}
	logging.Info("kafka publisher initialized", map[string]interface{}{"brokers": cfg.Brokers})
	return &KafkaPublisher{producer: producer}, nil
}

func (p *KafkaPublisher) publish(topic, key string, event interface{}) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("eventing: publisher is closed")
	}
	p.mu.RUnlock()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventing: failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	_, _, err = p.producer.SendMessage(msg)
	if err != nil {
		logging.Warn("failed to publish event", map[string]interface{}{"topic": topic, "key": key, "error": err.Error()})
		return fmt.Errorf("eventing: failed to send message: %w", err)
	}
	return nil
}

// PublishBalanceOperation publishes a balance-operation outcome event.
func (p *KafkaPublisher) PublishBalanceOperation(event BalanceOperationEvent) error {
	topic := TopicBalanceOperationApplied
	if event.Status == "REJECTED" {
		topic = TopicBalanceOperationRejected
	}
	return p.publish(topic, event.AccountID, event)
}

// PublishTransaction publishes a transaction lifecycle event to the given topic.
func (p *KafkaPublisher) PublishTransaction(topic string, event TransactionEvent) error {
	return p.publish(topic, event.TransactionID, event)
}

// Close closes the underlying producer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}

// IsHealthy reports whether the publisher is still open.
func (p *KafkaPublisher) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

// NoOpPublisher discards every event; used when Kafka is disabled or
// unreachable, matching the teacher's graceful-degradation fallback.
type NoOpPublisher struct{}

func (NoOpPublisher) PublishBalanceOperation(BalanceOperationEvent) error { return nil }
func (NoOpPublisher) PublishTransaction(string, TransactionEvent) error  { return nil }
func (NoOpPublisher) Close() error                                       { return nil }
func (NoOpPublisher) IsHealthy() bool                                    { return true }
