package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestNewFileUploader_RequiresBasePath(t *testing.T) {
	if _, err := NewFileUploader(FileConfig{}, zap.NewNop(), nil); err == nil {
		t.Error("NewFileUploader() should fail without a base path")
	}
}

func TestFileUploader_Upload(t *testing.T) {
	baseDir := t.TempDir()
	stagingDir := t.TempDir()

	uploader, err := NewFileUploader(FileConfig{BasePath: baseDir}, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewFileUploader() error = %v", err)
	}
	defer uploader.Close()

	content := []byte("{\"message\":\"first\"}\n{\"message\":\"second\"}\n")
	stagingPath := filepath.Join(stagingDir, "batch.ndjson")
	if err := os.WriteFile(stagingPath, content, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	key := "archive/dt=20260822/hour=14/events_20260822_143045_001.ndjson"
	size, err := uploader.Upload(context.Background(), stagingPath, key)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("Upload() size = %d, want %d", size, len(content))
	}

	// The key's slash-separated path maps onto nested directories.
	stored, err := os.ReadFile(filepath.Join(baseDir, filepath.FromSlash(key)))
	if err != nil {
		t.Fatalf("stored file unreadable: %v", err)
	}
	if string(stored) != string(content) {
		t.Errorf("stored content = %q, want %q", stored, content)
	}

	// The staging file is consumed by the move.
	if _, err := os.Stat(stagingPath); !os.IsNotExist(err) {
		t.Errorf("staging file still present after upload")
	}
}

func TestFileUploader_UploadMissingSource(t *testing.T) {
	uploader, err := NewFileUploader(FileConfig{BasePath: t.TempDir()}, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewFileUploader() error = %v", err)
	}
	defer uploader.Close()

	if _, err := uploader.Upload(context.Background(), "/nonexistent/batch.ndjson", "key.ndjson"); err == nil {
		t.Error("Upload() should fail for a missing source file")
	}
}
