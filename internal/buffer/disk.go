package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/telepipe/telepipe/internal/codec"
	"github.com/telepipe/telepipe/internal/retry"
	"github.com/telepipe/telepipe/internal/segment"
	"github.com/telepipe/telepipe/pkg/buffer"
	"github.com/telepipe/telepipe/pkg/event"
)

// DiskConfig sizes a disk queue.
type DiskConfig struct {
	// Dir is the buffer directory, exclusive to this queue.
	Dir string

	// MaxSizeBytes bounds the total bytes retained on disk across all
	// segments. Producers suspend when an append would exceed it.
	MaxSizeBytes int64

	// MaxSegmentBytes caps individual segment files. Zero selects
	// segment.DefaultMaxSegmentBytes.
	MaxSegmentBytes int64

	// FlushEveryRecords batches flushes: appended frames become readable
	// and durable after this many unflushed records accumulate. Zero
	// flushes after every record.
	FlushEveryRecords int

	// FlushInterval additionally flushes on a timer when positive, so a
	// short batch tail does not sit unflushed.
	FlushInterval time.Duration

	// Retry governs transient I/O failures on the write path. Zero value
	// selects retry.DefaultPolicy.
	Retry retry.Policy
}

// segRange maps one sealed segment file to the sequences it holds.
type segRange struct {
	id    uint32
	first event.SequenceNumber
	count int64
	bytes int64
}

func (r segRange) acked(watermark event.SequenceNumber) bool {
	if r.count == 0 {
		return true
	}
	last := r.first + event.SequenceNumber(r.count) - 1
	return last <= watermark
}

// Ensure implementation satisfies interface at compile time.
var _ buffer.Queue = (*DiskQueue)(nil)

// DiskQueue is the durable backend: records live in checksummed segment
// files until acknowledged. Dequeue does not remove anything; records are
// redelivered after a restart until the acknowledgment watermark passes
// them, and whole segments are deleted once fully acknowledged.
type DiskQueue struct {
	name       string
	cfg        DiskConfig
	flushEvery int
	logger     *zap.Logger
	metrics    MetricsCollector
	store      *segment.Store
	acker      *Acker
	retry      retry.Policy

	// Producer-side state. The write cursor in the store and the sequence
	// counter move together under wmu.
	wmu      sync.Mutex
	nextSeq  event.SequenceNumber
	pending  int
	sealed   []segRange
	curID    uint32
	curFirst event.SequenceNumber
	curCount int64
	curBytes int64

	sizeBytes atomic.Int64
	records   atomic.Int64

	// Consumer-side state, owned by the single dequeuing goroutine.
	readPos segment.Position
	readSeq event.SequenceNumber

	stateMu sync.Mutex
	failed  error
	closed  bool

	metaMu sync.Mutex

	space *gate
	data  *gate

	flushStop chan struct{}
	flushWG   sync.WaitGroup
}

// OpenDisk opens or creates the disk queue in cfg.Dir and recovers any
// records a previous process left behind. Records at or below the persisted
// watermark stay deleted from the reader's view; everything after it will
// be delivered again.
func OpenDisk(name string, cfg DiskConfig, logger *zap.Logger, metrics MetricsCollector) (*DiskQueue, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("disk buffer %q: dir must be set", name)
	}
	if cfg.MaxSizeBytes <= 0 {
		return nil, fmt.Errorf("disk buffer %q: max size must be positive", name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	flushEvery := cfg.FlushEveryRecords
	if flushEvery <= 0 {
		flushEvery = 1
	}
	pol := cfg.Retry
	if pol.MaxAttempts == 0 {
		pol = retry.DefaultPolicy()
	}

	store, err := segment.Open(segment.Config{Dir: cfg.Dir, MaxSegmentBytes: cfg.MaxSegmentBytes}, logger)
	if err != nil {
		return nil, err
	}

	q := &DiskQueue{
		name:       name,
		cfg:        cfg,
		flushEvery: flushEvery,
		logger:     logger,
		metrics:    metrics,
		store:      store,
		retry:      pol,
		space:      newGate(),
		data:       newGate(),
	}

	watermark, err := q.rebuild()
	if err != nil {
		store.Close()
		return nil, err
	}
	q.acker = NewAcker(watermark, q.onWatermarkAdvance)

	q.sizeBytes.Store(store.TotalBytes())
	q.records.Store(store.TotalRecords())

	if err := q.seekReader(watermark); err != nil {
		store.Close()
		return nil, err
	}

	// Finish any deletion a crash interrupted between the meta save and
	// the segment removal.
	q.reclaim(watermark)

	if err := q.persistMeta(); err != nil {
		store.Close()
		return nil, err
	}

	if cfg.FlushInterval > 0 {
		q.flushStop = make(chan struct{})
		q.flushWG.Add(1)
		go q.flushLoop()
	}

	if q.metrics != nil {
		q.metrics.SetBufferUsage(q.name, int(q.records.Load()), q.sizeBytes.Load())
		q.metrics.SetBufferWatermark(q.name, uint64(watermark))
		q.metrics.SetBufferSegments(q.name, len(q.sealed)+1)
	}
	logger.Info("disk buffer opened",
		zap.String("buffer", q.name),
		zap.String("dir", cfg.Dir),
		zap.Int64("records", q.records.Load()),
		zap.Int64("bytes", q.sizeBytes.Load()),
		zap.Uint64("watermark", uint64(watermark)),
		zap.Uint64("next_sequence", uint64(q.nextSeq)))
	return q, nil
}

// rebuild derives the sequence ranges of the recovered segments. The meta
// file anchors the first retained segment to its original first sequence;
// newer segments extend cumulatively from there, so numbering survives both
// deleted predecessors and segments created after the last meta save. With
// no usable anchor the retained records are renumbered from one and the
// watermark resets, which redelivers everything.
func (q *DiskQueue) rebuild() (event.SequenceNumber, error) {
	stats := q.store.Segments()

	base := event.SequenceNumber(1)
	watermark := event.SequenceNumber(0)
	meta, err := segment.LoadMeta(q.cfg.Dir)
	switch {
	case err == nil:
		if first, ok := meta.FirstSequenceOf(stats[0].ID); ok {
			base = event.SequenceNumber(first)
			if base == 0 {
				base = 1
			}
			watermark = event.SequenceNumber(meta.Watermark)
		} else {
			q.logger.Warn("meta does not cover the oldest segment, renumbering retained records",
				zap.String("buffer", q.name),
				zap.Uint32("oldest_segment", stats[0].ID))
		}
	case errors.Is(err, segment.ErrNoMeta):
		if q.store.TotalRecords() > 0 {
			q.logger.Warn("meta file missing, renumbering retained records and redelivering all of them",
				zap.String("buffer", q.name),
				zap.Int64("records", q.store.TotalRecords()),
				zap.Error(err))
		}
	default:
		return 0, err
	}

	seq := base
	for i, st := range stats {
		if i == len(stats)-1 {
			q.curID = st.ID
			q.curCount = st.Records
			q.curBytes = st.Size
			if st.Records > 0 {
				q.curFirst = seq
			}
		} else {
			q.sealed = append(q.sealed, segRange{id: st.ID, first: seq, count: st.Records, bytes: st.Size})
		}
		seq += event.SequenceNumber(st.Records)
	}
	q.nextSeq = seq

	if watermark > q.nextSeq-1 {
		q.logger.Warn("meta watermark beyond retained records, clamping",
			zap.String("buffer", q.name),
			zap.Uint64("watermark", uint64(watermark)),
			zap.Uint64("next_sequence", uint64(q.nextSeq)))
		watermark = q.nextSeq - 1
	}
	if watermark+1 < base {
		watermark = base - 1
	}

	if err == nil {
		wp := q.store.WritePosition()
		if meta.WriteSegment != wp.Segment || meta.WriteOffset != wp.Offset {
			q.logger.Warn("meta write cursor differs from replayed segments, replay wins",
				zap.String("buffer", q.name),
				zap.Uint32("meta_segment", meta.WriteSegment),
				zap.Int64("meta_offset", meta.WriteOffset),
				zap.Uint32("segment", wp.Segment),
				zap.Int64("offset", wp.Offset))
		}
	}
	return watermark, nil
}

// seekReader positions the read cursor on the first unacknowledged record.
func (q *DiskQueue) seekReader(watermark event.SequenceNumber) error {
	q.readSeq = watermark + 1
	q.readPos = segment.Position{}

	first := q.firstRetained()
	for seq := first; seq < q.readSeq; seq++ {
		_, next, err := q.store.ReadAt(q.readPos)
		if err != nil {
			return fmt.Errorf("skip acknowledged record %d: %w", seq, err)
		}
		q.readPos = next
	}
	return nil
}

func (q *DiskQueue) firstRetained() event.SequenceNumber {
	for _, r := range q.sealed {
		if r.count > 0 {
			return r.first
		}
	}
	if q.curCount > 0 {
		return q.curFirst
	}
	return q.nextSeq
}

// Enqueue appends payload to the current segment and returns its sequence.
// It suspends while the retained bytes budget is exhausted, resuming when
// acknowledgments free a segment. A payload whose frame alone exceeds the
// budget fails immediately with ErrTooLarge.
func (q *DiskQueue) Enqueue(ctx context.Context, payload []byte) (event.SequenceNumber, error) {
	fsize := codec.FrameSize(len(payload))
	if fsize > q.cfg.MaxSizeBytes {
		return 0, fmt.Errorf("%w: frame of %d bytes exceeds max size %d",
			buffer.ErrTooLarge, fsize, q.cfg.MaxSizeBytes)
	}

	for {
		if err := q.terminalError(); err != nil {
			return 0, err
		}

		q.wmu.Lock()
		if q.sizeBytes.Load()+fsize > q.cfg.MaxSizeBytes {
			ch := q.space.wait()
			q.wmu.Unlock()
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-ch:
			}
			continue
		}

		var pos segment.Position
		err := q.retry.Do(ctx, func() error {
			var aerr error
			pos, aerr = q.store.Append(payload)
			return aerr
		})
		if err != nil {
			q.wmu.Unlock()
			return 0, q.fail(err)
		}

		seq := q.nextSeq
		q.nextSeq++
		q.trackAppendLocked(pos, seq, fsize)
		q.sizeBytes.Add(fsize)
		q.records.Add(1)

		q.pending++
		var flushErr error
		if q.pending >= q.flushEvery {
			flushErr = q.flushLocked(ctx)
		}
		count := int(q.records.Load())
		bytes := q.sizeBytes.Load()
		q.wmu.Unlock()

		if flushErr != nil {
			return 0, q.fail(flushErr)
		}
		q.data.broadcast()
		if q.metrics != nil {
			q.metrics.BufferEnqueued(q.name, len(payload))
			q.metrics.SetBufferUsage(q.name, count, bytes)
		}
		return seq, nil
	}
}

// trackAppendLocked keeps the sequence ranges in step with the store's
// segment rolls. Callers hold wmu.
func (q *DiskQueue) trackAppendLocked(pos segment.Position, seq event.SequenceNumber, fsize int64) {
	if pos.Segment != q.curID {
		q.sealed = append(q.sealed, segRange{id: q.curID, first: q.curFirst, count: q.curCount, bytes: q.curBytes})
		q.curID = pos.Segment
		q.curCount = 0
		q.curBytes = 0
		if q.metrics != nil {
			q.metrics.SetBufferSegments(q.name, len(q.sealed)+1)
		}
	}
	if q.curCount == 0 {
		q.curFirst = seq
	}
	q.curCount++
	q.curBytes += fsize
}

// flushLocked publishes and syncs buffered appends. Callers hold wmu.
func (q *DiskQueue) flushLocked(ctx context.Context) error {
	start := time.Now()
	if err := q.retry.Do(ctx, q.store.Sync); err != nil {
		return err
	}
	q.pending = 0
	if q.metrics != nil {
		q.metrics.ObserveBufferFlush(q.name, time.Since(start))
	}
	return nil
}

// flushIfPending flushes outside the append cadence. It reports whether the
// caller should re-check for readable data.
func (q *DiskQueue) flushIfPending(ctx context.Context) bool {
	q.wmu.Lock()
	defer q.wmu.Unlock()
	if q.pending == 0 {
		return false
	}
	if err := q.flushLocked(ctx); err != nil {
		q.fail(err)
	}
	return true
}

func (q *DiskQueue) flushLoop() {
	defer q.flushWG.Done()
	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.flushStop:
			return
		case <-ticker.C:
			if q.flushIfPending(context.Background()) {
				q.data.broadcast()
			}
		}
	}
}

// Dequeue returns the record at the read cursor, suspending while no
// flushed record is available. When appends are sitting unflushed it
// flushes them itself rather than waiting out the timer.
func (q *DiskQueue) Dequeue(ctx context.Context) (event.Record, error) {
	for {
		if err := q.terminalError(); err != nil {
			return event.Record{}, err
		}

		ch := q.data.wait()
		payload, next, err := q.store.ReadAt(q.readPos)
		switch {
		case err == nil:
			rec := event.Record{Sequence: q.readSeq, Payload: payload}
			q.readPos = next
			q.readSeq++
			if q.metrics != nil {
				q.metrics.BufferDequeued(q.name)
			}
			return rec, nil
		case errors.Is(err, segment.ErrEndOfData):
			if q.flushIfPending(ctx) {
				continue
			}
			select {
			case <-ctx.Done():
				return event.Record{}, ctx.Err()
			case <-ch:
			}
		case errors.Is(err, buffer.ErrClosed):
			return event.Record{}, buffer.ErrClosed
		default:
			return event.Record{}, q.fail(err)
		}
	}
}

// Ack marks seq and every sequence below it as delivered. Fully
// acknowledged segments are deleted once the watermark passes them.
func (q *DiskQueue) Ack(seq event.SequenceNumber) {
	q.acker.Ack(seq)
	if q.metrics != nil {
		q.metrics.BufferAcked(q.name)
	}
}

// onWatermarkAdvance persists the watermark before deleting anything, so a
// crash between the two only leaves already-acknowledged segments behind
// for the next open to reclaim.
func (q *DiskQueue) onWatermarkAdvance(watermark event.SequenceNumber) {
	if q.metrics != nil {
		q.metrics.SetBufferWatermark(q.name, uint64(watermark))
	}
	if err := q.persistMeta(); err != nil {
		q.logger.Warn("failed to persist buffer meta",
			zap.String("buffer", q.name), zap.Error(err))
		return
	}
	q.reclaim(watermark)
}

// reclaim deletes sealed segments whose records are all at or below the
// watermark, then refreshes the meta so numbering stays anchored.
func (q *DiskQueue) reclaim(watermark event.SequenceNumber) {
	var freedBytes, freedRecords int64
	deleted := 0

	q.wmu.Lock()
	for len(q.sealed) > 0 {
		r := q.sealed[0]
		if !r.acked(watermark) {
			break
		}
		if err := q.store.Remove(r.id); err != nil {
			q.logger.Error("failed to remove acknowledged segment",
				zap.String("buffer", q.name),
				zap.Uint32("segment", r.id),
				zap.Error(err))
			break
		}
		freedBytes += r.bytes
		freedRecords += r.count
		q.sealed = q.sealed[1:]
		deleted++
	}
	segments := len(q.sealed) + 1
	q.wmu.Unlock()

	if deleted == 0 {
		return
	}
	q.sizeBytes.Add(-freedBytes)
	q.records.Add(-freedRecords)
	if err := q.persistMeta(); err != nil {
		q.logger.Warn("failed to persist buffer meta after reclaim",
			zap.String("buffer", q.name), zap.Error(err))
	}
	q.space.broadcast()
	if q.metrics != nil {
		q.metrics.BufferSegmentsDeleted(q.name, deleted)
		q.metrics.SetBufferSegments(q.name, segments)
		q.metrics.SetBufferUsage(q.name, int(q.records.Load()), q.sizeBytes.Load())
	}
	q.logger.Debug("reclaimed acknowledged segments",
		zap.String("buffer", q.name),
		zap.Int("segments", deleted),
		zap.Int64("bytes", freedBytes),
		zap.Int64("records", freedRecords))
}

// persistMeta snapshots the sequence anchors and watermark to the meta
// file. Failures are reported but not fatal: stale meta costs redelivery,
// never data.
func (q *DiskQueue) persistMeta() error {
	q.wmu.Lock()
	segs := make([]segment.MetaSegment, 0, len(q.sealed)+1)
	for _, r := range q.sealed {
		segs = append(segs, segment.MetaSegment{ID: r.id, FirstSequence: uint64(r.first)})
	}
	first := q.nextSeq
	if q.curCount > 0 {
		first = q.curFirst
	}
	segs = append(segs, segment.MetaSegment{ID: q.curID, FirstSequence: uint64(first)})
	q.wmu.Unlock()

	wp := q.store.WritePosition()
	m := segment.Meta{
		Watermark:    uint64(q.acker.Watermark()),
		WriteSegment: wp.Segment,
		WriteOffset:  wp.Offset,
		Segments:     segs,
	}

	q.metaMu.Lock()
	defer q.metaMu.Unlock()
	return segment.SaveMeta(q.cfg.Dir, m)
}

// Len reports the records retained on disk, including dequeued records
// whose acknowledgment is still outstanding.
func (q *DiskQueue) Len() int {
	return int(q.records.Load())
}

// SizeBytes reports the framed bytes retained on disk.
func (q *DiskQueue) SizeBytes() int64 {
	return q.sizeBytes.Load()
}

// Watermark reports the highest contiguously acknowledged sequence.
func (q *DiskQueue) Watermark() event.SequenceNumber {
	return q.acker.Watermark()
}

// terminalError reports the state that ends all queue operations, if any.
func (q *DiskQueue) terminalError() error {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	if q.failed != nil {
		return q.failed
	}
	if q.closed {
		return buffer.ErrClosed
	}
	return nil
}

// fail records err as the queue's terminal state and wakes every waiter.
// Cancellation and shutdown pass through without poisoning the queue.
func (q *DiskQueue) fail(err error) error {
	if errors.Is(err, buffer.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	q.stateMu.Lock()
	if q.failed == nil && !q.closed {
		q.failed = err
		q.logger.Error("disk buffer entering failed state",
			zap.String("buffer", q.name), zap.Error(err))
	}
	q.stateMu.Unlock()
	q.space.broadcast()
	q.data.broadcast()
	return err
}

// Close flushes buffered appends, persists the meta and closes the store.
// Retained records stay on disk for the next open. Suspended Enqueue and
// Dequeue calls wake with ErrClosed.
func (q *DiskQueue) Close() error {
	q.stateMu.Lock()
	if q.closed {
		q.stateMu.Unlock()
		return nil
	}
	q.closed = true
	q.stateMu.Unlock()

	if q.flushStop != nil {
		close(q.flushStop)
		q.flushWG.Wait()
	}

	var firstErr error
	q.wmu.Lock()
	if q.pending > 0 {
		if err := q.store.Sync(); err != nil {
			firstErr = err
			q.logger.Error("failed to flush buffer on close",
				zap.String("buffer", q.name), zap.Error(err))
		} else {
			q.pending = 0
		}
	}
	q.wmu.Unlock()

	if err := q.persistMeta(); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		q.logger.Warn("failed to persist buffer meta on close",
			zap.String("buffer", q.name), zap.Error(err))
	}
	if err := q.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	q.space.broadcast()
	q.data.broadcast()
	q.logger.Info("disk buffer closed",
		zap.String("buffer", q.name),
		zap.Int64("records", q.records.Load()),
		zap.Int64("bytes", q.sizeBytes.Load()),
		zap.Uint64("watermark", uint64(q.acker.Watermark())))
	return firstErr
}
