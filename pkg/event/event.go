// Package event defines the record types that flow through pipeline buffers.
//
// This package contains the public API shared by sources, buffers and sinks.
// Payloads are opaque byte slices; the pipeline never inspects them.
package event

import "time"

// SequenceNumber identifies a record within a single buffer instance.
// Numbers are assigned in strictly increasing order at enqueue time and
// restart from the persisted base after recovery.
type SequenceNumber uint64

// Record is a payload together with the sequence number its buffer
// assigned to it. The payload must not be mutated after enqueue.
type Record struct {
	Sequence SequenceNumber
	Payload  []byte
}

// Size returns the payload size in bytes.
func (r Record) Size() int {
	return len(r.Payload)
}

// BatchStats describes a batch of records staged for delivery.
type BatchStats struct {
	RecordCount    int
	SizeBytes      int64
	FirstWriteTime time.Time
	LastWriteTime  time.Time
}

// ArchiveFormat represents the archive file format.
type ArchiveFormat string

const (
	FormatNDJSON  ArchiveFormat = "ndjson"
	FormatAvro    ArchiveFormat = "avro"
	FormatParquet ArchiveFormat = "parquet"
)

// Validator validates payloads before they are admitted into a buffer.
type Validator interface {
	// Validate checks whether a payload may be enqueued.
	Validate(payload []byte) error
}
