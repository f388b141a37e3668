// Package encoder implements archive file format encoders.
package encoder

import (
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/telepipe/telepipe/pkg/encoder"
	"github.com/telepipe/telepipe/pkg/event"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*ParquetEncoder)(nil)

// TelemetryParquet represents the Parquet schema for archived telemetry.
// Uses native Parquet types for Athena compatibility, including
// TIMESTAMP_MICROS for the archive timestamp.
type TelemetryParquet struct {
	Sequence   int64     `parquet:"sequence"`
	ArchivedAt time.Time `parquet:"archived_at,timestamp(microsecond)"`
	Payload    string    `parquet:"payload"`
}

// ParquetEncoder implements encoder.Encoder for Apache Parquet columnar format.
// Uses the parquet-go library for full Athena/Hive compatibility with proper
// metadata. Supports multiple compression codecs: SNAPPY (default), GZIP, LZ4, ZSTD.
type ParquetEncoder struct {
	compressionName string
}

// NewParquetEncoder creates a new Parquet encoder with specified compression.
func NewParquetEncoder(compression string) *ParquetEncoder {
	return &ParquetEncoder{
		compressionName: compression,
	}
}

// compressionCodec converts string compression name to parquet WriterOption.
func compressionCodec(compression string) parquet.WriterOption {
	switch compression {
	case "snappy", "SNAPPY":
		return parquet.Compression(&parquet.Snappy)
	case "gzip", "GZIP":
		return parquet.Compression(&parquet.Gzip)
	case "lz4", "LZ4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd", "ZSTD":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed", "UNCOMPRESSED", "none", "NONE":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// Encode writes records to a Parquet file.
func (e *ParquetEncoder) Encode(filePath string, records []event.Record) (*event.BatchStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	// Create output file
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	// Convert records to the Parquet schema
	archivedAt := time.Now().UTC()
	parquetRecords := make([]TelemetryParquet, len(records))
	for i, record := range records {
		parquetRecords[i] = TelemetryParquet{
			Sequence:   int64(record.Sequence),
			ArchivedAt: archivedAt,
			Payload:    string(record.Payload),
		}
	}

	// Create schema from struct
	schema := parquet.SchemaOf(new(TelemetryParquet))

	// Write Parquet file with compression
	writer := parquet.NewGenericWriter[TelemetryParquet](
		file,
		schema,
		compressionCodec(e.compressionName),
		parquet.CreatedBy("telepipe", "1.0", "0"),
	)

	// Write all records
	if _, err := writer.Write(parquetRecords); err != nil {
		writer.Close()
		file.Close()
		return nil, fmt.Errorf("failed to write records: %w", err)
	}

	// Flush and close writer
	if err := writer.Close(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	// Close file before getting stats to ensure all data is flushed
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	stats := &event.BatchStats{
		RecordCount:    len(records),
		SizeBytes:      fileInfo.Size(),
		FirstWriteTime: time.Now(),
		LastWriteTime:  time.Now(),
	}

	return stats, nil
}

// Format returns the archive format.
func (e *ParquetEncoder) Format() event.ArchiveFormat {
	return event.FormatParquet
}

// FileExtension returns the file extension.
func (e *ParquetEncoder) FileExtension() string {
	return ".parquet"
}
