package encoder

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/telepipe/telepipe/pkg/event"
)

// telemetryRecords builds n sequenced JSON payloads for encoder tests.
func telemetryRecords(n int) []event.Record {
	records := make([]event.Record, n)
	for i := range records {
		records[i] = event.Record{
			Sequence: event.SequenceNumber(i + 1),
			Payload:  fmt.Appendf(nil, `{"message":"request %d served","status":200}`, i+1),
		}
	}
	return records
}

func TestNewFactory(t *testing.T) {
	tests := []struct {
		name        string
		format      event.ArchiveFormat
		compression string
	}{
		{"ndjson with gzip", event.FormatNDJSON, "gzip"},
		{"parquet with snappy", event.FormatParquet, "snappy"},
		{"avro with gzip", event.FormatAvro, "gzip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := NewFactory(tt.format, tt.compression)
			if factory == nil {
				t.Fatal("expected non-nil factory")
			}
			if factory.format != tt.format {
				t.Errorf("format = %v, want %v", factory.format, tt.format)
			}
			if factory.compression != tt.compression {
				t.Errorf("compression = %v, want %v", factory.compression, tt.compression)
			}
		})
	}
}

func TestFactory_CreateEncoder(t *testing.T) {
	tests := []struct {
		name    string
		format  event.ArchiveFormat
		wantErr bool
	}{
		{"ndjson format", event.FormatNDJSON, false},
		{"parquet format", event.FormatParquet, false},
		{"avro format", event.FormatAvro, false},
		{"unsupported format", event.ArchiveFormat("invalid"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := NewFactory(tt.format, "gzip")
			encoder, err := factory.CreateEncoder()

			if (err != nil) != tt.wantErr {
				t.Errorf("CreateEncoder() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if encoder == nil {
					t.Fatal("expected non-nil encoder")
				}
				if encoder.Format() != tt.format {
					t.Errorf("Format() = %v, want %v", encoder.Format(), tt.format)
				}
			}
		})
	}
}

func TestSupportedFormats(t *testing.T) {
	formats := SupportedFormats()

	if len(formats) == 0 {
		t.Error("expected non-empty supported formats")
	}

	want := map[event.ArchiveFormat]bool{
		event.FormatNDJSON:  false,
		event.FormatParquet: false,
		event.FormatAvro:    false,
	}
	for _, f := range formats {
		if _, ok := want[f]; !ok {
			t.Errorf("unexpected format: %v", f)
			continue
		}
		want[f] = true
	}
	for f, seen := range want {
		if !seen {
			t.Errorf("expected %v in supported formats", f)
		}
	}
}

func TestSupportedCompressions(t *testing.T) {
	tests := []struct {
		name   string
		format event.ArchiveFormat
		want   []string
	}{
		{
			name:   "ndjson compressions",
			format: event.FormatNDJSON,
			want:   []string{"none", "gzip", "lz4"},
		},
		{
			name:   "parquet compressions",
			format: event.FormatParquet,
			want:   []string{"none", "snappy", "gzip", "lz4", "zstd"},
		},
		{
			name:   "avro compressions",
			format: event.FormatAvro,
			want:   []string{"none", "gzip"},
		},
		{
			name:   "invalid format",
			format: event.ArchiveFormat("invalid"),
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SupportedCompressions(tt.format)
			if len(got) != len(tt.want) {
				t.Errorf("len(SupportedCompressions()) = %d, want %d", len(got), len(tt.want))
				return
			}
			for i, c := range got {
				if c != tt.want[i] {
					t.Errorf("SupportedCompressions()[%d] = %v, want %v", i, c, tt.want[i])
				}
			}
		})
	}
}

func TestDefaultCompression(t *testing.T) {
	tests := []struct {
		name   string
		format event.ArchiveFormat
		want   string
	}{
		{"ndjson default", event.FormatNDJSON, "gzip"},
		{"parquet default", event.FormatParquet, "snappy"},
		{"avro default", event.FormatAvro, "gzip"},
		{"invalid default", event.ArchiveFormat("invalid"), "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultCompression(tt.format)
			if got != tt.want {
				t.Errorf("DefaultCompression() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Benchmark tests

func BenchmarkNDJSONEncoder_Encode(b *testing.B) {
	tmpDir := b.TempDir()
	records := telemetryRecords(100)
	encoder := NewNDJSONEncoder("gzip")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		filePath := filepath.Join(tmpDir, "bench.ndjson.gz")

		if _, err := encoder.Encode(filePath, records); err != nil {
			b.Fatal(err)
		}

		os.Remove(filePath)
	}
}

func BenchmarkParquetEncoder_Encode(b *testing.B) {
	tmpDir := b.TempDir()
	records := telemetryRecords(100)
	encoder := NewParquetEncoder("snappy")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		filePath := filepath.Join(tmpDir, "bench.parquet")

		if _, err := encoder.Encode(filePath, records); err != nil {
			b.Fatal(err)
		}

		os.Remove(filePath)
	}
}

func BenchmarkAvroEncoder_Encode(b *testing.B) {
	tmpDir := b.TempDir()
	records := telemetryRecords(100)

	encoder, err := NewAvroEncoder("gzip")
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		filePath := filepath.Join(tmpDir, "bench.avro.gz")

		if _, err := encoder.Encode(filePath, records); err != nil {
			b.Fatal(err)
		}

		os.Remove(filePath)
	}
}

func BenchmarkFactory_CreateEncoder(b *testing.B) {
	factory := NewFactory(event.FormatNDJSON, "gzip")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := factory.CreateEncoder(); err != nil {
			b.Fatal(err)
		}
	}
}
