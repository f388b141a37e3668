package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/telepipe/telepipe/pkg/sink"
)

// Ensure implementation satisfies interface at compile time.
var _ sink.Uploader = (*GCSUploader)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket          string
	ProjectID       string
	BasePath        string
	CredentialsFile string
	CredentialsJSON string
}

// GCSUploader implements sink.Uploader for Google Cloud Storage.
// Credentials resolve in order: inline JSON, credentials file, then
// application default credentials.
type GCSUploader struct {
	client   *gcs.Client
	bucket   string
	basePath string
	logger   *zap.Logger
	metrics  MetricsCollector
}

// NewGCSUploader creates a new GCS uploader.
func NewGCSUploader(cfg GCSConfig, logger *zap.Logger, metrics MetricsCollector) (*GCSUploader, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	default:
		// Application default credentials
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	logger.Info("GCS uploader created",
		zap.String("bucket", cfg.Bucket),
		zap.String("project_id", cfg.ProjectID),
	)

	return &GCSUploader{
		client:   client,
		bucket:   cfg.Bucket,
		basePath: cfg.BasePath,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Upload stores the staged file at localPath under key in the bucket.
func (u *GCSUploader) Upload(ctx context.Context, localPath string, key string) (int64, error) {
	startTime := time.Now()

	file, err := os.Open(localPath)
	if err != nil {
		if u.metrics != nil {
			u.metrics.IncStorageErrors("gcs", "file_open")
		}
		return 0, fmt.Errorf("failed to open staged file: %w", err)
	}
	defer file.Close()

	objectKey := key
	if u.basePath != "" {
		objectKey = path.Join(u.basePath, key)
	}

	obj := u.client.Bucket(u.bucket).Object(objectKey)
	gcsWriter := obj.NewWriter(ctx)

	// Set content type from the key extension
	switch {
	case strings.HasSuffix(key, ".ndjson"):
		gcsWriter.ContentType = "application/x-ndjson"
	case strings.HasSuffix(key, ".gz"):
		gcsWriter.ContentType = "application/gzip"
	case strings.HasSuffix(key, ".avro"):
		gcsWriter.ContentType = "application/avro"
	default:
		gcsWriter.ContentType = "application/octet-stream"
	}

	bytesWritten, err := io.Copy(gcsWriter, file)
	if err != nil {
		if u.metrics != nil {
			u.metrics.IncStorageErrors("gcs", "upload")
		}
		gcsWriter.Close()
		return 0, fmt.Errorf("failed to write to GCS: %w", err)
	}

	// Close finalizes the object; the upload is not durable until it returns.
	if err := gcsWriter.Close(); err != nil {
		if u.metrics != nil {
			u.metrics.IncStorageErrors("gcs", "close")
		}
		return 0, fmt.Errorf("failed to finalize GCS object: %w", err)
	}

	u.logger.Info("uploaded archive file to GCS",
		zap.String("bucket", u.bucket),
		zap.String("key", objectKey),
		zap.Int64("size_bytes", bytesWritten),
		zap.Int64("duration_ms", time.Since(startTime).Milliseconds()),
	)

	return bytesWritten, nil
}

// Close closes the uploader and the underlying client.
func (u *GCSUploader) Close() error {
	u.logger.Info("GCS uploader closed")
	return u.client.Close()
}
