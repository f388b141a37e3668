package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	apperrors "github.com/telepipe/telepipe/internal/errors"
	"github.com/telepipe/telepipe/internal/kafka"
	"github.com/telepipe/telepipe/pkg/buffer"
	"github.com/telepipe/telepipe/pkg/source"
)

// Ensure implementation satisfies interface at compile time.
var _ source.Source = (*KafkaSource)(nil)

// KafkaSourceConfig configures one Kafka consumer source.
type KafkaSourceConfig struct {
	Name            string
	Brokers         []string
	Topics          []string
	GroupID         string
	AutoOffsetReset string // earliest or latest
	Security        kafka.SecurityConfig
}

// KafkaSource consumes records from Kafka topics through a consumer group
// and feeds them into the pipeline. An offset is marked only after the
// record has been accepted by the buffers, so a crash before admission
// redelivers the record on restart.
type KafkaSource struct {
	cfg           KafkaSourceConfig
	consumerGroup sarama.ConsumerGroup
	logger        *zap.Logger
	metrics       MetricsCollector
	mu            sync.Mutex
	closed        bool
}

// NewKafkaSource creates a consumer group source.
func NewKafkaSource(cfg KafkaSourceConfig, logger *zap.Logger, metrics MetricsCollector) (*KafkaSource, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("kafka source: name is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka source %s: at least one broker is required", cfg.Name)
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("kafka source %s: at least one topic is required", cfg.Name)
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka source %s: group id is required", cfg.Name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	saramaConfig.Consumer.Offsets.Initial = offsetInitial(cfg.AutoOffsetReset)
	// Marked offsets are committed in the background once the records
	// are in the buffers.
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
	saramaConfig.Consumer.Group.Session.Timeout = 10 * time.Second
	saramaConfig.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	// Admission can block on a full buffer, so allow long processing
	// before the group considers this member dead.
	saramaConfig.Consumer.MaxProcessingTime = 5 * time.Minute
	saramaConfig.Consumer.Return.Errors = true

	if err := kafka.ConfigureSecurity(saramaConfig, cfg.Security, logger); err != nil {
		return nil, fmt.Errorf("kafka source %s: %w", cfg.Name, err)
	}

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("kafka source %s: failed to create consumer group: %w", cfg.Name, err)
	}

	logger.Info("kafka source created",
		zap.String("source", cfg.Name),
		zap.Strings("brokers", cfg.Brokers),
		zap.Strings("topics", cfg.Topics),
		zap.String("group_id", cfg.GroupID),
	)

	return &KafkaSource{
		cfg:           cfg,
		consumerGroup: consumerGroup,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Name returns the configured source name.
func (s *KafkaSource) Name() string {
	return s.cfg.Name
}

// Run joins the consumer group and consumes until ctx is canceled.
// Consume returns on every rebalance, so it is called in a loop.
func (s *KafkaSource) Run(ctx context.Context, emit source.EmitFunc) error {
	handler := &claimHandler{source: s, emit: emit}

	for {
		if err := s.consumerGroup.Consume(ctx, s.cfg.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("kafka source %s: consume: %w", s.cfg.Name, err)
		}
		if ctx.Err() != nil {
			s.logger.Info("kafka source context cancelled", zap.String("source", s.cfg.Name))
			return nil
		}
	}
}

// Close closes the consumer group and releases resources.
func (s *KafkaSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Info("closing kafka source", zap.String("source", s.cfg.Name))
	if err := s.consumerGroup.Close(); err != nil {
		s.logger.Error("error closing consumer group",
			zap.String("source", s.cfg.Name),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// claimHandler implements sarama.ConsumerGroupHandler.
type claimHandler struct {
	source    *KafkaSource
	emit      source.EmitFunc
	readyOnce sync.Once
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *claimHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.readyOnce.Do(func() {
		h.source.logger.Info("kafka source joined consumer group",
			zap.String("source", h.source.cfg.Name),
			zap.String("member_id", session.MemberID()),
		)
	})

	h.source.logger.Info("consumer group session setup",
		zap.String("source", h.source.cfg.Name),
		zap.Int32("generation_id", session.GenerationID()),
		zap.Any("claims", session.Claims()),
	)
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines
// have exited.
func (h *claimHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.source.logger.Info("consumer group session cleanup",
		zap.String("source", h.source.cfg.Name),
		zap.String("member_id", session.MemberID()),
	)
	return nil
}

// ConsumeClaim feeds messages from one partition into the pipeline.
func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	h.source.logger.Info("started consuming partition",
		zap.String("source", h.source.cfg.Name),
		zap.String("topic", claim.Topic()),
		zap.Int32("partition", claim.Partition()),
		zap.Int64("initial_offset", claim.InitialOffset()),
	)

	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			if err := h.handle(session, message); err != nil {
				return err
			}

		case <-session.Context().Done():
			h.source.logger.Info("session context done, stopping partition consumption",
				zap.String("source", h.source.cfg.Name),
				zap.String("topic", claim.Topic()),
				zap.Int32("partition", claim.Partition()),
			)
			return nil
		}
	}
}

// handle admits one message into the pipeline and marks its offset.
// Rejected payloads are skipped and their offsets marked, otherwise an
// oversized or invalid record would be redelivered forever.
func (h *claimHandler) handle(session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage) error {
	ctx := session.Context()

	err := h.emit(ctx, message.Value)
	if err == nil {
		session.MarkMessage(message, "")
		if h.source.metrics != nil {
			h.source.metrics.IncSourceRecords(h.source.cfg.Name, "consumed")
		}
		return nil
	}

	if ctx.Err() != nil || errors.Is(err, buffer.ErrClosed) || errors.Is(err, apperrors.ErrPipelineClosed) {
		return nil
	}

	h.source.logger.Warn("payload rejected, skipping record",
		zap.String("source", h.source.cfg.Name),
		zap.String("topic", message.Topic),
		zap.Int32("partition", message.Partition),
		zap.Int64("offset", message.Offset),
		zap.Error(err),
	)
	session.MarkMessage(message, "")
	if h.source.metrics != nil {
		h.source.metrics.IncSourceRecords(h.source.cfg.Name, "rejected")
	}
	return nil
}

// offsetInitial converts the offset reset policy to Sarama's constant.
func offsetInitial(autoOffsetReset string) int64 {
	switch autoOffsetReset {
	case "earliest":
		return sarama.OffsetOldest
	case "latest":
		return sarama.OffsetNewest
	default:
		return sarama.OffsetNewest
	}
}
