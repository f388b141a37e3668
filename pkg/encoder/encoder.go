// Package encoder defines interfaces for encoding record batches to archive file formats.
package encoder

import "github.com/telepipe/telepipe/pkg/event"

// Encoder encodes records to a specific archive format.
type Encoder interface {
	// Encode writes records to a file and returns batch statistics.
	Encode(filePath string, records []event.Record) (*event.BatchStats, error)

	// Format returns the archive format this encoder produces.
	Format() event.ArchiveFormat

	// FileExtension returns the file extension (e.g., ".ndjson.gz", ".parquet").
	FileExtension() string
}
