package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/telepipe/telepipe/internal/encoder"
	"github.com/telepipe/telepipe/pkg/buffer"
	"github.com/telepipe/telepipe/pkg/event"
	"github.com/telepipe/telepipe/pkg/sink"
)

// Ensure implementation satisfies interface at compile time.
var _ sink.Sink = (*ArchiveSink)(nil)

// finalFlushTimeout bounds the best-effort flush on shutdown.
const finalFlushTimeout = 10 * time.Second

// ArchiveSinkConfig configures one archive sink.
type ArchiveSinkConfig struct {
	Name        string
	Backend     string
	Format      event.ArchiveFormat
	Compression string
	StagingDir  string
	Rotation    PolicyConfig
}

// ArchiveSink drains a buffer into archive files. Records accumulate in an
// in-memory batch until the rotation policy closes it; the batch is then
// encoded into a staging file, uploaded through the backend and every record
// in it acknowledged. Records are never acknowledged before their file is
// durably stored, so a crash between dequeue and upload redelivers them.
type ArchiveSink struct {
	name           string
	backend        string
	format         event.ArchiveFormat
	encoderFactory *encoder.Factory
	policy         sink.RotationPolicy
	router         sink.Router
	uploader       sink.Uploader
	stagingDir     string
	maxAge         time.Duration
	logger         *zap.Logger
	metrics        MetricsCollector

	// Batch state, owned by the Run goroutine.
	batch      []event.Record
	batchBytes int64
	firstWrite time.Time
	lastWrite  time.Time
}

// NewArchiveSink creates an archive sink that uploads through uploader.
func NewArchiveSink(cfg ArchiveSinkConfig, uploader sink.Uploader, logger *zap.Logger, metrics MetricsCollector) (*ArchiveSink, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("archive sink: name must be set")
	}
	if uploader == nil {
		return nil, fmt.Errorf("archive sink %s: uploader must be set", cfg.Name)
	}

	// Default to the format-specific compression if not specified
	compression := cfg.Compression
	if compression == "" {
		compression = encoder.DefaultCompression(cfg.Format)
	}
	encoderFactory := encoder.NewFactory(cfg.Format, compression)

	// Validate encoder can be created
	if _, err := encoderFactory.CreateEncoder(); err != nil {
		return nil, fmt.Errorf("archive sink %s: %w", cfg.Name, err)
	}

	stagingDir := cfg.StagingDir
	if stagingDir == "" {
		stagingDir = os.TempDir()
	}
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("archive sink %s: failed to create staging dir: %w", cfg.Name, err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("archive sink created",
		zap.String("sink", cfg.Name),
		zap.String("backend", cfg.Backend),
		zap.String("format", string(cfg.Format)),
		zap.String("compression", compression),
		zap.String("staging_dir", stagingDir),
	)

	return &ArchiveSink{
		name:           cfg.Name,
		backend:        cfg.Backend,
		format:         cfg.Format,
		encoderFactory: encoderFactory,
		policy:         NewCompositePolicy(cfg.Rotation),
		router:         NewTimeRouter(),
		uploader:       uploader,
		stagingDir:     stagingDir,
		maxAge:         cfg.Rotation.MaxAge,
		logger:         logger,
		metrics:        metrics,
	}, nil
}

// Name returns the configured sink name.
func (s *ArchiveSink) Name() string {
	return s.name
}

// Run drains q until ctx is canceled or the buffer fails. Whatever is
// batched at cancellation is flushed best-effort before returning.
func (s *ArchiveSink) Run(ctx context.Context, q buffer.Queue) error {
	s.logger.Info("archive sink started", zap.String("sink", s.name))

	for {
		// Bound the wait so an age-limited batch rotates even when the
		// stream goes idle.
		dctx := ctx
		var cancel context.CancelFunc
		if len(s.batch) > 0 && s.maxAge > 0 {
			dctx, cancel = context.WithDeadline(ctx, s.firstWrite.Add(s.maxAge))
		}

		rec, err := q.Dequeue(dctx)
		if cancel != nil {
			cancel()
		}

		switch {
		case err == nil:
			s.append(rec)
			if s.policy.ShouldRotate(s.stats()) {
				if err := s.flush(ctx, q); err != nil {
					return err
				}
			}

		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if err := s.flush(ctx, q); err != nil {
				return err
			}

		case errors.Is(err, context.Canceled), errors.Is(err, buffer.ErrClosed):
			s.finalFlush(q)
			return nil

		default:
			return fmt.Errorf("archive sink %s: dequeue: %w", s.name, err)
		}
	}
}

// Close closes the uploader.
func (s *ArchiveSink) Close() error {
	return s.uploader.Close()
}

func (s *ArchiveSink) append(rec event.Record) {
	now := time.Now()
	if len(s.batch) == 0 {
		s.firstWrite = now
	}
	s.lastWrite = now
	s.batch = append(s.batch, rec)
	s.batchBytes += int64(rec.Size())
}

func (s *ArchiveSink) stats() event.BatchStats {
	return event.BatchStats{
		RecordCount:    len(s.batch),
		SizeBytes:      s.batchBytes,
		FirstWriteTime: s.firstWrite,
		LastWriteTime:  s.lastWrite,
	}
}

// flush encodes the current batch into a staging file, uploads it and
// acknowledges every record in it. The batch survives a failed flush and
// is retried with the next rotation.
func (s *ArchiveSink) flush(ctx context.Context, q buffer.Queue) error {
	if len(s.batch) == 0 {
		return nil
	}

	startTime := time.Now()

	enc, err := s.encoderFactory.CreateEncoder()
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncStorageErrors(s.backend, "encoder_create")
		}
		return fmt.Errorf("archive sink %s: %w", s.name, err)
	}

	closedAt := time.Now()
	key := s.router.Route(s.name, closedAt.Unix(), enc.FileExtension())
	stagingPath := filepath.Join(s.stagingDir,
		fmt.Sprintf("%s-%d%s", s.name, closedAt.UnixNano(), enc.FileExtension()))

	stats, err := enc.Encode(stagingPath, s.batch)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncStorageErrors(s.backend, "encode")
			s.metrics.IncArchiveFilesWritten(s.name, string(s.format), "error")
		}
		os.Remove(stagingPath)
		return fmt.Errorf("archive sink %s: encode: %w", s.name, err)
	}
	defer os.Remove(stagingPath)

	if _, err := s.uploader.Upload(ctx, stagingPath, key); err != nil {
		if s.metrics != nil {
			s.metrics.IncArchiveFilesWritten(s.name, string(s.format), "error")
		}
		return fmt.Errorf("archive sink %s: upload: %w", s.name, err)
	}

	// The file is durable; only now do the records count as delivered.
	for _, rec := range s.batch {
		q.Ack(rec.Sequence)
	}

	duration := time.Since(startTime)

	s.logger.Info("archive file uploaded",
		zap.String("sink", s.name),
		zap.String("key", key),
		zap.Int("record_count", stats.RecordCount),
		zap.Int64("file_size", stats.SizeBytes),
		zap.Int64("duration_ms", duration.Milliseconds()),
	)

	if s.metrics != nil {
		s.metrics.IncArchiveFilesWritten(s.name, string(s.format), "success")
		s.metrics.ObserveArchiveFileSize(s.name, string(s.format), float64(stats.SizeBytes))
		s.metrics.ObserveSinkDeliveryDuration(s.name, duration.Seconds())
	}

	s.batch = nil
	s.batchBytes = 0
	s.firstWrite = time.Time{}
	s.lastWrite = time.Time{}

	return nil
}

// finalFlush uploads the remaining batch on shutdown. Failures are logged,
// not returned: unacknowledged records stay in durable buffers for the
// next run.
func (s *ArchiveSink) finalFlush(q buffer.Queue) {
	if len(s.batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()

	if err := s.flush(ctx, q); err != nil {
		s.logger.Warn("final archive flush failed",
			zap.String("sink", s.name),
			zap.Int("record_count", len(s.batch)),
			zap.Error(err),
		)
	}
}
