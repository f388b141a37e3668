package encoder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/linkedin/goavro/v2"

	"github.com/telepipe/telepipe/pkg/event"
)

func TestNewAvroEncoder(t *testing.T) {
	tests := []struct {
		name        string
		compression string
		wantErr     bool
	}{
		{"gzip compression", "gzip", false},
		{"no compression", "none", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoder, err := NewAvroEncoder(tt.compression)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAvroEncoder() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && encoder == nil {
				t.Error("expected non-nil encoder")
			}
			if !tt.wantErr && encoder.compression != tt.compression {
				t.Errorf("compression = %v, want %v", encoder.compression, tt.compression)
			}
		})
	}
}

func TestAvroEncoder_FileExtension(t *testing.T) {
	tests := []struct {
		name        string
		compression string
		want        string
	}{
		{"no compression", "none", ".avro"},
		{"gzip compression", "gzip", ".avro.gz"},
		{"GZIP compression", "GZIP", ".avro.gz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoder, err := NewAvroEncoder(tt.compression)
			if err != nil {
				t.Fatalf("NewAvroEncoder() error = %v", err)
			}

			ext := encoder.FileExtension()
			if ext != tt.want {
				t.Errorf("FileExtension() = %v, want %v", ext, tt.want)
			}
		})
	}
}

func TestAvroEncoder_Format(t *testing.T) {
	encoder, err := NewAvroEncoder("gzip")
	if err != nil {
		t.Fatalf("NewAvroEncoder() error = %v", err)
	}

	format := encoder.Format()
	if format != event.FormatAvro {
		t.Errorf("Format() = %v, want %v", format, event.FormatAvro)
	}
}

func TestAvroEncoder_EncodeGzipRoundTrip(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "batch.avro.gz")

	encoder, err := NewAvroEncoder("gzip")
	if err != nil {
		t.Fatalf("NewAvroEncoder() error = %v", err)
	}

	records := []event.Record{
		{Sequence: 7, Payload: []byte(`{"message":"request served"}`)},
		{Sequence: 8, Payload: []byte("plain syslog line")},
	}

	stats, err := encoder.Encode(testFile, records)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if stats.RecordCount != len(records) {
		t.Errorf("RecordCount = %d, want %d", stats.RecordCount, len(records))
	}
	if stats.SizeBytes <= 0 {
		t.Errorf("SizeBytes = %d, want > 0", stats.SizeBytes)
	}

	// Read the OCF container back through the gzip wrapper.
	file, err := os.Open(testFile)
	if err != nil {
		t.Fatalf("failed to open file: %v", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	defer gz.Close()

	ocf, err := goavro.NewOCFReader(gz)
	if err != nil {
		t.Fatalf("NewOCFReader() error = %v", err)
	}

	var got []map[string]interface{}
	for ocf.Scan() {
		datum, err := ocf.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		got = append(got, datum.(map[string]interface{}))
	}

	if len(got) != len(records) {
		t.Fatalf("record count = %d, want %d", len(got), len(records))
	}
	if got[0]["sequence"] != int64(7) {
		t.Errorf("sequence = %v, want 7", got[0]["sequence"])
	}
	if got[0]["payload"] != `{"message":"request served"}` {
		t.Errorf("payload = %v, want original payload", got[0]["payload"])
	}
	if got[1]["payload"] != "plain syslog line" {
		t.Errorf("payload = %v, want original payload", got[1]["payload"])
	}
}

func TestAvroEncoder_EncodeUncompressed(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "batch.avro")

	encoder, err := NewAvroEncoder("none")
	if err != nil {
		t.Fatalf("NewAvroEncoder() error = %v", err)
	}

	stats, err := encoder.Encode(testFile, telemetryRecords(3))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if stats.RecordCount != 3 {
		t.Errorf("RecordCount = %d, want 3", stats.RecordCount)
	}

	// Uncompressed output must be a readable OCF container directly.
	file, err := os.Open(testFile)
	if err != nil {
		t.Fatalf("failed to open file: %v", err)
	}
	defer file.Close()

	if _, err := goavro.NewOCFReader(file); err != nil {
		t.Errorf("NewOCFReader() error = %v", err)
	}
}

func TestAvroEncoder_EncodeEmptyRecords(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "empty.avro")

	encoder, err := NewAvroEncoder("gzip")
	if err != nil {
		t.Fatalf("NewAvroEncoder() error = %v", err)
	}

	if _, err := encoder.Encode(testFile, []event.Record{}); err == nil {
		t.Error("expected error for empty records")
	}
}

func TestAvroEncoder_EncodeToBytes(t *testing.T) {
	encoder, err := NewAvroEncoder("gzip")
	if err != nil {
		t.Fatalf("NewAvroEncoder() error = %v", err)
	}

	data, err := encoder.EncodeToBytes(telemetryRecords(1))
	if err != nil {
		t.Fatalf("EncodeToBytes() error = %v", err)
	}

	if len(data) == 0 {
		t.Error("expected non-empty bytes")
	}
}

func TestAvroSchema(t *testing.T) {
	schema := avroSchema()

	if len(schema) == 0 {
		t.Error("expected non-empty schema")
	}

	for _, field := range []string{"sequence", "archived_at", "payload"} {
		if !strings.Contains(schema, field) {
			t.Errorf("schema missing required field: %s", field)
		}
	}
}

func TestConvertToAvroMap(t *testing.T) {
	encoder, err := NewAvroEncoder("gzip")
	if err != nil {
		t.Fatalf("NewAvroEncoder() error = %v", err)
	}

	archivedAt := time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC)
	record := event.Record{Sequence: 42, Payload: []byte("hello")}

	avroMap := encoder.convertToAvroMap(record, archivedAt)

	if avroMap["sequence"] != int64(42) {
		t.Errorf("sequence = %v, want 42", avroMap["sequence"])
	}
	if avroMap["payload"] != "hello" {
		t.Errorf("payload = %v, want hello", avroMap["payload"])
	}
	if avroMap["archived_at"] != "2026-08-22T10:00:00Z" {
		t.Errorf("archived_at = %v, want 2026-08-22T10:00:00Z", avroMap["archived_at"])
	}
}
