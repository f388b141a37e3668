// Package buffer implements the queue backends that decouple sources from sinks.
//
// Each configured sink owns one queue instance, selected and sized from
// configuration. Producers enqueue opaque payloads, a single consumer
// dequeues them in order, and acknowledgments flow back per record once a
// sink has durably handed it off.
//
// # Backends
//
// Two backends implement the same contract:
//
//	q, err := buffer.New("archive", cfg, logger, metrics)
//
//   - Memory: a bounded in-memory FIFO. Fast, lost on restart. Capacity is
//     a record count or a byte budget; overflow either blocks the producer
//     or rejects the newest record, by policy.
//   - Disk: frames appended to capped segment files under one directory,
//     with a persisted total-size budget. Survives restarts; records that
//     were never acknowledged are redelivered after recovery.
//
// # Enqueue / Dequeue / Ack
//
// The three operations share sequence numbers as their currency:
//
//	seq, err := q.Enqueue(ctx, payload) // backpressure happens here
//	rec, err := q.Dequeue(ctx)          // suspends while empty
//	q.Ack(rec.Sequence)                 // after durable delivery
//
// Acknowledgments may arrive out of order. The acker advances a watermark
// over the contiguous acknowledged prefix; the disk backend deletes a
// segment only once the watermark covers every record in it.
//
// # Suspension
//
// Blocked enqueues wait for space, blocked dequeues wait for data. Both are
// event-driven wakeups (space reclaimed, data flushed, shutdown), never
// polling. Close wakes all waiters with ErrClosed.
package buffer
