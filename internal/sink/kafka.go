package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	apperrors "github.com/telepipe/telepipe/internal/errors"
	"github.com/telepipe/telepipe/internal/kafka"
	"github.com/telepipe/telepipe/pkg/buffer"
	"github.com/telepipe/telepipe/pkg/event"
	"github.com/telepipe/telepipe/pkg/sink"
)

// Ensure implementation satisfies interface at compile time.
var _ sink.Sink = (*KafkaSink)(nil)

const (
	defaultProduceAttempts = 3
	defaultProduceBackoff  = 250 * time.Millisecond
	maxProduceBackoff      = 8 * time.Second
)

// KafkaSinkConfig configures one Kafka sink.
type KafkaSinkConfig struct {
	Name         string
	Brokers      []string
	Topic        string
	RequiredAcks string // all, leader, none
	Security     kafka.SecurityConfig
	DLQ          kafka.DLQConfig

	// RetryBackoff is the initial delay between delivery attempts. It
	// doubles per attempt up to a fixed ceiling.
	RetryBackoff time.Duration
}

// KafkaSink produces buffered records to a Kafka topic. Each record is
// acknowledged only after the broker confirms the write. A record that
// exhausts its delivery attempts goes to the dead letter topic; reaching
// the DLQ counts as handled, failing to reach it leaves the record
// unacknowledged for redelivery.
type KafkaSink struct {
	name        string
	topic       string
	producer    sarama.SyncProducer
	dlq         *kafka.DLQPublisher
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
	metrics     MetricsCollector
}

// NewKafkaSink creates a Kafka sink and its dead letter publisher.
func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger, metrics MetricsCollector) (*KafkaSink, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("kafka sink: name must be set")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink %s: brokers must be set", cfg.Name)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink %s: topic must be set", cfg.Name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = parseRequiredAcks(cfg.RequiredAcks)
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Retry.Backoff = 100 * time.Millisecond

	if err := kafka.ConfigureSecurity(saramaConfig, cfg.Security, logger); err != nil {
		return nil, fmt.Errorf("kafka sink %s: %w", cfg.Name, err)
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("kafka sink %s: failed to create producer: %w", cfg.Name, err)
	}

	dlq, err := kafka.NewDLQPublisher(cfg.Brokers, cfg.Security, cfg.DLQ, logger, cfg.Name)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("kafka sink %s: %w", cfg.Name, err)
	}

	maxAttempts := cfg.DLQ.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = defaultProduceAttempts
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultProduceBackoff
	}

	logger.Info("kafka sink created",
		zap.String("sink", cfg.Name),
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.String("required_acks", cfg.RequiredAcks),
		zap.Bool("dlq_enabled", cfg.DLQ.Enabled),
	)

	return &KafkaSink{
		name:        cfg.Name,
		topic:       cfg.Topic,
		producer:    producer,
		dlq:         dlq,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// Name returns the configured sink name.
func (s *KafkaSink) Name() string {
	return s.name
}

// Run drains q, producing each record to the topic in dequeue order.
func (s *KafkaSink) Run(ctx context.Context, q buffer.Queue) error {
	s.logger.Info("kafka sink started", zap.String("sink", s.name))

	for {
		rec, err := q.Dequeue(ctx)
		switch {
		case err == nil:
			if err := s.deliver(ctx, rec, q); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}

		case errors.Is(err, context.Canceled), errors.Is(err, buffer.ErrClosed):
			return nil

		default:
			return fmt.Errorf("kafka sink %s: dequeue: %w", s.name, err)
		}
	}
}

// Close closes the producer and the DLQ publisher.
func (s *KafkaSink) Close() error {
	dlqErr := s.dlq.Close()
	if err := s.producer.Close(); err != nil {
		return err
	}
	return dlqErr
}

// deliver produces one record, retrying with backoff. After the attempt
// budget it falls through to the dead letter topic.
func (s *KafkaSink) deliver(ctx context.Context, rec event.Record, q buffer.Queue) error {
	startTime := time.Now()
	backoff := s.backoff

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		msg := &sarama.ProducerMessage{
			Topic: s.topic,
			Key:   sarama.StringEncoder(fmt.Sprintf("%d", rec.Sequence)),
			Value: sarama.ByteEncoder(rec.Payload),
		}

		partition, offset, err := s.producer.SendMessage(msg)
		if err == nil {
			q.Ack(rec.Sequence)

			s.logger.Debug("record produced",
				zap.String("sink", s.name),
				zap.String("topic", s.topic),
				zap.Int32("partition", partition),
				zap.Int64("offset", offset),
				zap.Uint64("sequence", uint64(rec.Sequence)),
			)

			if s.metrics != nil {
				s.metrics.IncSinkDeliveries(s.name, "success")
				s.metrics.ObserveSinkDeliveryDuration(s.name, time.Since(startTime).Seconds())
			}
			return nil
		}

		lastErr = err
		s.logger.Warn("produce failed",
			zap.String("sink", s.name),
			zap.String("topic", s.topic),
			zap.Uint64("sequence", uint64(rec.Sequence)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt < s.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxProduceBackoff {
				backoff = maxProduceBackoff
			}
		}
	}

	return s.deadLetter(ctx, rec, q, lastErr)
}

// deadLetter routes a record that exhausted its delivery attempts. A
// successful DLQ publish acknowledges the record; anything else leaves it
// unacknowledged and fails the route.
func (s *KafkaSink) deadLetter(ctx context.Context, rec event.Record, q buffer.Queue, cause error) error {
	if !s.dlq.Enabled() {
		if s.metrics != nil {
			s.metrics.IncSinkDeliveries(s.name, "error")
		}
		return &apperrors.DeliveryError{Sink: s.name, Sequence: rec.Sequence, Err: cause}
	}

	if err := s.dlq.Publish(ctx, rec, s.topic, cause.Error(), s.maxAttempts); err != nil {
		if s.metrics != nil {
			s.metrics.IncSinkDeliveries(s.name, "dlq_error")
		}
		return &apperrors.DeliveryError{Sink: s.name, Sequence: rec.Sequence, Err: err}
	}

	q.Ack(rec.Sequence)
	if s.metrics != nil {
		s.metrics.IncSinkDeliveries(s.name, "dlq")
	}
	return nil
}

// parseRequiredAcks maps the config value to Sarama's constant. Unknown
// values fall back to waiting for all in-sync replicas.
func parseRequiredAcks(acks string) sarama.RequiredAcks {
	switch acks {
	case "none":
		return sarama.NoResponse
	case "leader":
		return sarama.WaitForLocal
	case "all", "":
		return sarama.WaitForAll
	default:
		return sarama.WaitForAll
	}
}
