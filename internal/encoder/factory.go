// Package encoder implements encoder factory for creating archive format encoders.
package encoder

import (
	"fmt"

	"github.com/telepipe/telepipe/pkg/encoder"
	"github.com/telepipe/telepipe/pkg/event"
)

// Factory creates encoders based on format and configuration.
type Factory struct {
	format      event.ArchiveFormat
	compression string
}

// NewFactory creates a new encoder factory.
func NewFactory(format event.ArchiveFormat, compression string) *Factory {
	return &Factory{
		format:      format,
		compression: compression,
	}
}

// CreateEncoder creates an encoder based on the configured format.
func (f *Factory) CreateEncoder() (encoder.Encoder, error) {
	switch f.format {
	case event.FormatNDJSON:
		return NewNDJSONEncoder(f.compression), nil
	case event.FormatParquet:
		return NewParquetEncoder(f.compression), nil
	case event.FormatAvro:
		return NewAvroEncoder(f.compression)
	default:
		return nil, fmt.Errorf("unsupported archive format: %s", f.format)
	}
}

// SupportedFormats returns a list of supported archive formats.
func SupportedFormats() []event.ArchiveFormat {
	return []event.ArchiveFormat{
		event.FormatNDJSON,
		event.FormatParquet,
		event.FormatAvro,
	}
}

// SupportedCompressions returns supported compression codecs for a given format.
func SupportedCompressions(format event.ArchiveFormat) []string {
	switch format {
	case event.FormatNDJSON:
		return []string{"none", "gzip", "lz4"}
	case event.FormatParquet:
		return []string{"none", "snappy", "gzip", "lz4", "zstd"}
	case event.FormatAvro:
		return []string{"none", "gzip"}
	default:
		return []string{}
	}
}

// DefaultCompression returns the default compression for a format.
func DefaultCompression(format event.ArchiveFormat) string {
	switch format {
	case event.FormatNDJSON:
		return "gzip"
	case event.FormatParquet:
		return "snappy"
	case event.FormatAvro:
		return "gzip"
	default:
		return "none"
	}
}
