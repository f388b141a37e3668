// Package encoder implements archive file format encoders.
package encoder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"

	"github.com/telepipe/telepipe/pkg/encoder"
	"github.com/telepipe/telepipe/pkg/event"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*NDJSONEncoder)(nil)

// NDJSONEncoder implements encoder.Encoder for newline-delimited JSON.
// Payloads that already are JSON documents are written verbatim, one per
// line; anything else is wrapped under a "message" key. Supports optional
// gzip or lz4 compression of the whole file.
type NDJSONEncoder struct {
	compression string
}

// NewNDJSONEncoder creates a new NDJSON encoder with specified compression.
func NewNDJSONEncoder(compression string) *NDJSONEncoder {
	return &NDJSONEncoder{
		compression: compression,
	}
}

// Encode writes records to an NDJSON file.
func (e *NDJSONEncoder) Encode(filePath string, records []event.Record) (*event.BatchStats, error) {
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
	var compressor io.Closer

	// Apply compression if specified
	switch e.compression {
	case "gzip", "GZIP":
		gz := gzip.NewWriter(file)
		writer = gz
		compressor = gz
	case "lz4", "LZ4":
		lz := lz4.NewWriter(file)
		writer = lz
		compressor = lz
	}

	buffered := bufio.NewWriter(writer)
	for _, record := range records {
		line, err := renderLine(record.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to render record: %w", err)
		}
		if _, err := buffered.Write(line); err != nil {
			return nil, fmt.Errorf("failed to write record: %w", err)
		}
		if err := buffered.WriteByte('\n'); err != nil {
			return nil, fmt.Errorf("failed to write record: %w", err)
		}
	}
	if err := buffered.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush records: %w", err)
	}

	// Ensure all data is flushed
	if compressor != nil {
		if err := compressor.Close(); err != nil {
			return nil, fmt.Errorf("failed to close compressor: %w", err)
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

// renderLine emits the payload verbatim when it is already a JSON document
// and wraps it under a message key otherwise.
func renderLine(payload []byte) ([]byte, error) {
	if json.Valid(payload) {
		return payload, nil
	}
	return json.Marshal(map[string]string{"message": string(payload)})
}

// Format returns the archive format.
func (e *NDJSONEncoder) Format() event.ArchiveFormat {
	return event.FormatNDJSON
}

// FileExtension returns the file extension.
func (e *NDJSONEncoder) FileExtension() string {
	switch e.compression {
	case "gzip", "GZIP":
		return ".ndjson.gz"
	case "lz4", "LZ4":
		return ".ndjson.lz4"
	}
	return ".ndjson"
}
