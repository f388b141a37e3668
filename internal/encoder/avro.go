// Package encoder implements archive file format encoders.
package encoder

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/linkedin/goavro/v2"

	"github.com/telepipe/telepipe/pkg/encoder"
	"github.com/telepipe/telepipe/pkg/event"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*AvroEncoder)(nil)

// AvroEncoder implements encoder.Encoder for Apache Avro binary format.
// It supports optional gzip compression and produces OCF (Object Container
// File) output compatible with Apache Spark and other Avro readers.
type AvroEncoder struct {
	codec       *goavro.Codec
	compression string
}

// NewAvroEncoder creates a new Avro encoder with specified compression.
func NewAvroEncoder(compression string) (*AvroEncoder, error) {
	schema := avroSchema()
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	return &AvroEncoder{
		codec:       codec,
		compression: compression,
	}, nil
}

// avroSchema returns the Avro schema for archived telemetry records.
func avroSchema() string {
	return `{
		"type": "record",
		"name": "TelemetryRecord",
		"namespace": "io.telepipe",
		"fields": [
			{"name": "sequence", "type": "long"},
			{"name": "archived_at", "type": "string"},
			{"name": "payload", "type": "string"}
		]
	}`
}

// Encode writes records to an Avro file.
func (e *AvroEncoder) Encode(filePath string, records []event.Record) (*event.BatchStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	// Create output file
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	var writer io.Writer = file
	var gzipWriter *gzip.Writer

	// Apply compression if specified
	if e.compression == "gzip" || e.compression == "GZIP" {
		gzipWriter = gzip.NewWriter(file)
		writer = gzipWriter
		defer gzipWriter.Close()
	}

	// Create OCF writer (Object Container File)
	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:     writer,
		Codec: e.codec,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OCF writer: %w", err)
	}

	// Convert and write records
	archivedAt := time.Now().UTC()
	for _, record := range records {
		if err := ocfWriter.Append([]interface{}{e.convertToAvroMap(record, archivedAt)}); err != nil {
			return nil, fmt.Errorf("failed to write record: %w", err)
		}
	}

	// Ensure all data is flushed
	if gzipWriter != nil {
		if err := gzipWriter.Close(); err != nil {
			return nil, fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}

	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	// Get file info
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

// convertToAvroMap converts a Record to its Avro map representation.
func (e *AvroEncoder) convertToAvroMap(record event.Record, archivedAt time.Time) map[string]interface{} {
	return map[string]interface{}{
		"sequence":    int64(record.Sequence),
		"archived_at": archivedAt.Format(time.RFC3339Nano),
		"payload":     string(record.Payload),
	}
}

// EncodeToBytes encodes records to bytes (useful for testing).
func (e *AvroEncoder) EncodeToBytes(records []event.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	var buf bytes.Buffer
	var writer io.Writer = &buf

	// Apply compression if specified
	var gzipWriter *gzip.Writer
	if e.compression == "gzip" || e.compression == "GZIP" {
		gzipWriter = gzip.NewWriter(&buf)
		writer = gzipWriter
	}

	// Create OCF writer
	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:     writer,
		Codec: e.codec,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OCF writer: %w", err)
	}

	// Convert and write records
	archivedAt := time.Now().UTC()
	for _, record := range records {
		if err := ocfWriter.Append([]interface{}{e.convertToAvroMap(record, archivedAt)}); err != nil {
			return nil, fmt.Errorf("failed to write record: %w", err)
		}
	}

	if gzipWriter != nil {
		if err := gzipWriter.Close(); err != nil {
			return nil, fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// Format returns the archive format.
func (e *AvroEncoder) Format() event.ArchiveFormat {
	return event.FormatAvro
}

// FileExtension returns the file extension.
func (e *AvroEncoder) FileExtension() string {
	if e.compression == "gzip" || e.compression == "GZIP" {
		return ".avro.gz"
	}
	return ".avro"
}
