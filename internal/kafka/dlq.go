package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	apperrors "github.com/telepipe/telepipe/internal/errors"
	"github.com/telepipe/telepipe/pkg/event"
)

// DLQEvent is the envelope published to the dead letter topic. The payload
// is carried as a string because pipeline payloads are opaque bytes that
// need not be valid JSON.
type DLQEvent struct {
	Payload          string    `json:"payload"`
	OriginalTopic    string    `json:"original_topic"`
	Sequence         uint64    `json:"sequence"`
	FailureReason    string    `json:"failure_reason"`
	FailureTimestamp time.Time `json:"failure_timestamp"`
	RetryCount       int       `json:"retry_count"`
	PipelineID       string    `json:"pipeline_id"`
}

// DLQConfig contains dead letter queue configuration.
type DLQConfig struct {
	Enabled     bool
	TopicSuffix string
	MaxRetries  int
}

// DLQPublisher publishes records that exhausted their delivery retries to a
// dead letter topic named <original topic><suffix>.
type DLQPublisher struct {
	producer   sarama.SyncProducer
	config     DLQConfig
	logger     *zap.Logger
	pipelineID string
	mu         sync.RWMutex
	closed     bool
}

// NewDLQPublisher creates a new DLQ publisher. When the DLQ is disabled the
// publisher opens no connection and Publish becomes a no-op.
func NewDLQPublisher(
	brokers []string,
	security SecurityConfig,
	cfg DLQConfig,
	logger *zap.Logger,
	pipelineID string,
) (*DLQPublisher, error) {
	if !cfg.Enabled {
		logger.Info("DLQ is disabled")
		return &DLQPublisher{
			config:     cfg,
			logger:     logger,
			pipelineID: pipelineID,
		}, nil
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	if err := ConfigureSecurity(saramaConfig, security, logger); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	producer, err := sarama.NewSyncProducer(brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("DLQ publisher created",
		zap.Strings("brokers", brokers),
		zap.String("topic_suffix", cfg.TopicSuffix),
	)

	return &DLQPublisher{
		producer:   producer,
		config:     cfg,
		logger:     logger,
		pipelineID: pipelineID,
	}, nil
}

// Enabled reports whether dead letter publishing is configured.
func (p *DLQPublisher) Enabled() bool {
	return p.config.Enabled
}

// Publish sends a failed record to the dead letter topic derived from
// originalTopic. A nil return means the record is handled and may be
// acknowledged.
func (p *DLQPublisher) Publish(
	ctx context.Context,
	rec event.Record,
	originalTopic string,
	reason string,
	retryCount int,
) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.config.Enabled {
		p.logger.Debug("DLQ disabled, skipping publish")
		return nil
	}

	if p.closed {
		return apperrors.ErrSinkClosed
	}

	dlqTopic := originalTopic + p.config.TopicSuffix

	dlqEvent := DLQEvent{
		Payload:          string(rec.Payload),
		OriginalTopic:    originalTopic,
		Sequence:         uint64(rec.Sequence),
		FailureReason:    reason,
		FailureTimestamp: time.Now().UTC(),
		RetryCount:       retryCount,
		PipelineID:       p.pipelineID,
	}

	dlqData, err := json.Marshal(dlqEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: dlqTopic,
		Key:   sarama.StringEncoder(fmt.Sprintf("%d", rec.Sequence)),
		Value: sarama.ByteEncoder(dlqData),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("failure_reason"),
				Value: []byte(reason),
			},
			{
				Key:   []byte("original_topic"),
				Value: []byte(originalTopic),
			},
			{
				Key:   []byte("pipeline_id"),
				Value: []byte(p.pipelineID),
			},
		},
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("failed to publish to DLQ",
			zap.Error(err),
			zap.String("dlq_topic", dlqTopic),
			zap.Uint64("sequence", uint64(rec.Sequence)),
		)
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}

	p.logger.Info("published record to DLQ",
		zap.String("dlq_topic", dlqTopic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.Uint64("sequence", uint64(rec.Sequence)),
		zap.String("reason", reason),
	)

	return nil
}

// Close closes the DLQ publisher.
func (p *DLQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Error("error closing DLQ producer", zap.Error(err))
			return err
		}
	}

	p.logger.Info("DLQ publisher closed")
	return nil
}
