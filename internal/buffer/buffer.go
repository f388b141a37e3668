package buffer

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/telepipe/telepipe/pkg/buffer"
)

// Type selects which backend backs a sink's buffer.
type Type string

const (
	// TypeMemory holds records in process memory. Fast, lost on exit.
	TypeMemory Type = "memory"

	// TypeDisk persists records to segment files until acknowledged.
	TypeDisk Type = "disk"
)

// Config selects and sizes the backend for one sink's buffer.
type Config struct {
	Type   Type
	Memory MemoryConfig
	Disk   DiskConfig
}

// MetricsCollector receives buffer instrumentation. Implementations must be
// safe for concurrent use. The buffer label is the owning sink's name.
type MetricsCollector interface {
	BufferEnqueued(buffer string, bytes int)
	BufferDequeued(buffer string)
	BufferAcked(buffer string)
	BufferDropped(buffer string)
	BufferSegmentsDeleted(buffer string, count int)
	SetBufferUsage(buffer string, records int, sizeBytes int64)
	SetBufferWatermark(buffer string, watermark uint64)
	SetBufferSegments(buffer string, segments int)
	ObserveBufferFlush(buffer string, d time.Duration)
}

// New builds the configured backend for the sink named name. An empty type
// selects the memory backend. The returned queue accepts concurrent
// producers; exactly one goroutine may call Dequeue.
func New(name string, cfg Config, logger *zap.Logger, metrics MetricsCollector) (buffer.Queue, error) {
	switch cfg.Type {
	case TypeMemory, "":
		return NewMemory(name, cfg.Memory, logger, metrics)
	case TypeDisk:
		return OpenDisk(name, cfg.Disk, logger, metrics)
	default:
		return nil, fmt.Errorf("buffer %q: unknown type %q", name, cfg.Type)
	}
}
