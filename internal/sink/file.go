package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/telepipe/telepipe/pkg/sink"
)

// Ensure implementation satisfies interface at compile time.
var _ sink.Uploader = (*FileUploader)(nil)

// MetricsCollector defines metrics operations for the sink layer.
type MetricsCollector interface {
	IncSinkDeliveries(sink string, status string)
	ObserveSinkDeliveryDuration(sink string, duration float64)
	IncArchiveFilesWritten(sink string, format string, status string)
	ObserveArchiveFileSize(sink string, format string, size float64)
	IncStorageErrors(backend string, operation string)
}

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileUploader implements sink.Uploader for local filesystem storage.
// Staged archive files are moved into a hierarchical directory structure
// under the configured base path.
type FileUploader struct {
	basePath string
	logger   *zap.Logger
	metrics  MetricsCollector
}

// NewFileUploader creates a new filesystem uploader.
func NewFileUploader(cfg FileConfig, logger *zap.Logger, metrics MetricsCollector) (*FileUploader, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("file backend: base path must be set")
	}

	// Ensure base path exists
	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	logger.Info("filesystem uploader created",
		zap.String("base_path", cfg.BasePath),
	)

	return &FileUploader{
		basePath: cfg.BasePath,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Upload moves the staged file at localPath to basePath/key.
func (u *FileUploader) Upload(ctx context.Context, localPath string, key string) (int64, error) {
	startTime := time.Now()

	destPath := filepath.Join(u.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		if u.metrics != nil {
			u.metrics.IncStorageErrors("file", "mkdir")
		}
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	// Rename first, copy when the staging dir lives on another filesystem.
	if err := os.Rename(localPath, destPath); err != nil {
		if copyErr := copyFile(localPath, destPath); copyErr != nil {
			if u.metrics != nil {
				u.metrics.IncStorageErrors("file", "copy")
			}
			return 0, fmt.Errorf("failed to store archive file: %w", copyErr)
		}
	}

	info, err := os.Stat(destPath)
	if err != nil {
		if u.metrics != nil {
			u.metrics.IncStorageErrors("file", "stat")
		}
		return 0, fmt.Errorf("failed to stat stored file: %w", err)
	}

	u.logger.Info("stored archive file",
		zap.String("path", destPath),
		zap.Int64("size_bytes", info.Size()),
		zap.Int64("duration_ms", time.Since(startTime).Milliseconds()),
	)

	return info.Size(), nil
}

// Close closes the uploader.
func (u *FileUploader) Close() error {
	u.logger.Info("filesystem uploader closed")
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
