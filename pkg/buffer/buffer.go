// Package buffer defines the queue contract that decouples sources from sinks.
//
// Every configured sink owns one buffer instance. Producers enqueue payloads,
// a single consumer dequeues them for delivery and acknowledges each record
// once it has been durably handed off downstream. Backends differ in
// durability: the memory backend trades data loss on restart for speed, the
// disk backend persists records and redelivers unacknowledged ones after a
// crash.
package buffer

import (
	"context"
	"errors"

	"github.com/telepipe/telepipe/pkg/event"
)

// Sentinel errors returned by Queue implementations. Callers match them
// with errors.Is; implementations may wrap them with context.
var (
	// ErrFull reports that a record was rejected because the buffer is at
	// capacity and the configured policy does not block.
	ErrFull = errors.New("buffer full")

	// ErrClosed reports that the buffer has been closed. Suspended calls
	// are woken with this error.
	ErrClosed = errors.New("buffer closed")

	// ErrCorrupted reports unrecoverable on-disk corruption. Once
	// returned, every later operation on the instance fails the same way.
	ErrCorrupted = errors.New("buffer corrupted")

	// ErrTooLarge reports a record that can never fit the buffer's total
	// capacity, regardless of how much space is reclaimed.
	ErrTooLarge = errors.New("record exceeds buffer capacity")
)

// Queue is the contract all buffer backends implement.
// All implementations are safe for concurrent producers, but at most one
// consumer goroutine may call Dequeue.
type Queue interface {
	// Enqueue appends a payload and returns the sequence number assigned
	// to it. Depending on backend and policy it may suspend until space is
	// available (woken by ctx cancellation, space reclamation or Close),
	// fail fast with ErrFull, or fail with ErrTooLarge when the payload
	// can never fit.
	Enqueue(ctx context.Context, payload []byte) (event.SequenceNumber, error)

	// Dequeue returns the next record in sequence order. It suspends while
	// the buffer is empty and is woken by an enqueue, ctx cancellation or
	// Close. A dequeued record is not forgotten until acknowledged; disk
	// backends redeliver unacknowledged records after a restart.
	Dequeue(ctx context.Context) (event.Record, error)

	// Ack marks a record as durably delivered. Acknowledgements may arrive
	// in any order; duplicates are ignored. Space is reclaimed once the
	// contiguous acknowledged prefix covers it.
	Ack(seq event.SequenceNumber)

	// Len returns the number of records currently retained.
	Len() int

	// SizeBytes returns the retained payload footprint in bytes. Disk
	// backends report framed (on-disk) bytes.
	SizeBytes() int64

	// Watermark returns the highest sequence number below which every
	// record has been acknowledged.
	Watermark() event.SequenceNumber

	// Close releases the backend. Suspended calls wake with ErrClosed.
	// Disk backends flush and keep unacknowledged records for the next
	// open; memory backends discard them.
	Close() error
}
