package buffer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/telepipe/telepipe/pkg/buffer"
	"github.com/telepipe/telepipe/pkg/event"
)

// OverflowPolicy selects what Enqueue does when a memory queue is full.
type OverflowPolicy string

const (
	// OverflowBlock suspends the producer until space frees up.
	OverflowBlock OverflowPolicy = "block"

	// OverflowDropNewest rejects the incoming record immediately.
	OverflowDropNewest OverflowPolicy = "drop_newest"
)

// MemoryConfig sizes a memory queue. Exactly one of MaxEvents or MaxBytes
// must be set.
type MemoryConfig struct {
	MaxEvents int
	MaxBytes  int64
	WhenFull  OverflowPolicy
}

// Ensure implementation satisfies interface at compile time.
var _ buffer.Queue = (*MemoryQueue)(nil)

// MemoryQueue is the non-durable backend: a bounded FIFO held in memory.
// Records leave the queue at dequeue; acknowledgments only move the
// watermark. Close discards whatever is still queued.
type MemoryQueue struct {
	name    string
	cfg     MemoryConfig
	logger  *zap.Logger
	metrics MetricsCollector

	mu        sync.Mutex
	records   []event.Record
	head      int
	sizeBytes int64
	nextSeq   event.SequenceNumber
	dropped   uint64
	closed    bool

	acker *Acker
	space *gate
	data  *gate
}

// NewMemory creates a memory queue named name for metrics and logs.
func NewMemory(name string, cfg MemoryConfig, logger *zap.Logger, metrics MetricsCollector) (*MemoryQueue, error) {
	if cfg.MaxEvents <= 0 && cfg.MaxBytes <= 0 {
		return nil, fmt.Errorf("memory buffer %q: one of max_events or max_bytes must be set", name)
	}
	if cfg.MaxEvents > 0 && cfg.MaxBytes > 0 {
		return nil, fmt.Errorf("memory buffer %q: max_events and max_bytes are mutually exclusive", name)
	}
	switch cfg.WhenFull {
	case "":
		cfg.WhenFull = OverflowBlock
	case OverflowBlock, OverflowDropNewest:
	default:
		return nil, fmt.Errorf("memory buffer %q: unknown overflow policy %q", name, cfg.WhenFull)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &MemoryQueue{
		name:    name,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		nextSeq: 1,
		space:   newGate(),
		data:    newGate(),
	}
	q.acker = NewAcker(0, q.onWatermarkAdvance)
	return q, nil
}

// Enqueue appends a payload. At capacity it either suspends until a dequeue
// frees space (block policy) or fails with ErrFull (drop_newest policy).
func (q *MemoryQueue) Enqueue(ctx context.Context, payload []byte) (event.SequenceNumber, error) {
	size := int64(len(payload))
	if q.cfg.MaxBytes > 0 && size > q.cfg.MaxBytes {
		return 0, fmt.Errorf("%w: payload of %d bytes exceeds max_bytes %d",
			buffer.ErrTooLarge, size, q.cfg.MaxBytes)
	}

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return 0, buffer.ErrClosed
		}

		if q.fitsLocked(size) {
			seq := q.nextSeq
			q.nextSeq++
			q.records = append(q.records, event.Record{Sequence: seq, Payload: payload})
			q.sizeBytes += size
			count, bytes := q.lenLocked(), q.sizeBytes
			q.mu.Unlock()

			q.data.broadcast()
			if q.metrics != nil {
				q.metrics.BufferEnqueued(q.name, int(size))
				q.metrics.SetBufferUsage(q.name, count, bytes)
			}
			return seq, nil
		}

		if q.cfg.WhenFull == OverflowDropNewest {
			q.dropped++
			q.mu.Unlock()
			if q.metrics != nil {
				q.metrics.BufferDropped(q.name)
			}
			return 0, fmt.Errorf("%w: %s", buffer.ErrFull, q.capacityReason())
		}

		ch := q.space.wait()
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ch:
		}
	}
}

// Dequeue removes and returns the oldest record, suspending while the
// queue is empty.
func (q *MemoryQueue) Dequeue(ctx context.Context) (event.Record, error) {
	for {
		q.mu.Lock()
		if q.lenLocked() > 0 {
			rec := q.records[q.head]
			q.records[q.head] = event.Record{}
			q.head++
			q.compactLocked()
			q.sizeBytes -= int64(rec.Size())
			count, bytes := q.lenLocked(), q.sizeBytes
			q.mu.Unlock()

			q.space.broadcast()
			if q.metrics != nil {
				q.metrics.BufferDequeued(q.name)
				q.metrics.SetBufferUsage(q.name, count, bytes)
			}
			return rec, nil
		}
		if q.closed {
			q.mu.Unlock()
			return event.Record{}, buffer.ErrClosed
		}

		ch := q.data.wait()
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return event.Record{}, ctx.Err()
		case <-ch:
		}
	}
}

// Ack moves the watermark. The memory backend reclaims space at dequeue,
// so acknowledgment only feeds observability.
func (q *MemoryQueue) Ack(seq event.SequenceNumber) {
	q.acker.Ack(seq)
	if q.metrics != nil {
		q.metrics.BufferAcked(q.name)
	}
}

// Len returns the number of queued records.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// SizeBytes returns the queued payload bytes.
func (q *MemoryQueue) SizeBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sizeBytes
}

// Watermark returns the acknowledgment watermark.
func (q *MemoryQueue) Watermark() event.SequenceNumber {
	return q.acker.Watermark()
}

// Dropped returns the number of records rejected by the drop_newest policy.
func (q *MemoryQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close discards queued records and wakes all waiters with ErrClosed.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	discarded := q.lenLocked()
	q.records = nil
	q.head = 0
	q.sizeBytes = 0
	q.mu.Unlock()

	q.space.broadcast()
	q.data.broadcast()
	if q.metrics != nil {
		q.metrics.SetBufferUsage(q.name, 0, 0)
	}

	if discarded > 0 {
		q.logger.Info("memory buffer closed with records discarded",
			zap.String("buffer", q.name),
			zap.Int("discarded", discarded))
	}
	return nil
}

func (q *MemoryQueue) fitsLocked(size int64) bool {
	if q.cfg.MaxEvents > 0 && q.lenLocked() >= q.cfg.MaxEvents {
		return false
	}
	if q.cfg.MaxBytes > 0 && q.sizeBytes+size > q.cfg.MaxBytes {
		return false
	}
	return true
}

func (q *MemoryQueue) lenLocked() int {
	return len(q.records) - q.head
}

// compactLocked drops consumed slots once they dominate the backing array.
func (q *MemoryQueue) compactLocked() {
	if q.head > 32 && q.head >= len(q.records)/2 {
		q.records = append(q.records[:0:0], q.records[q.head:]...)
		q.head = 0
	}
}

func (q *MemoryQueue) capacityReason() string {
	if q.cfg.MaxEvents > 0 {
		return fmt.Sprintf("max_events (%d) reached", q.cfg.MaxEvents)
	}
	return fmt.Sprintf("max_bytes (%d) would be exceeded", q.cfg.MaxBytes)
}

func (q *MemoryQueue) onWatermarkAdvance(wm event.SequenceNumber) {
	if q.metrics != nil {
		q.metrics.SetBufferWatermark(q.name, uint64(wm))
	}
}
