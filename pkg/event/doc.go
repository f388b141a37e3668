// Package event defines the record types that flow through pipeline buffers.
//
// Sources hand payload bytes to a buffer, the buffer assigns a sequence
// number, and sinks acknowledge sequence numbers after delivery. This package
// holds the types shared across those three stages.
//
// # Records
//
// Record pairs an opaque payload with the sequence number its buffer assigned:
//
//	rec := event.Record{
//	    Sequence: 42,
//	    Payload:  []byte(`{"message":"GET /index.html 200"}`),
//	}
//
// Sequence numbers are per buffer instance, strictly increasing, and never
// reused while the instance lives. After a restart a disk-backed buffer
// resumes numbering from its persisted base.
//
// # Batches
//
// BatchStats describes records staged for delivery by a sink. Rotation
// policies inspect it to decide when a batch is closed:
//
//	stats := event.BatchStats{
//	    RecordCount: 1200,
//	    SizeBytes:   5 << 20,
//	}
//
// # Archive formats
//
// The package names the supported archive file formats:
//
//	event.FormatNDJSON   // newline-delimited JSON, optionally compressed
//	event.FormatAvro     // Avro object container files
//	event.FormatParquet  // columnar format for analytics
package event
