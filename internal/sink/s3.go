package sink

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/telepipe/telepipe/pkg/sink"
)

// Ensure implementation satisfies interface at compile time.
var _ sink.Uploader = (*S3Uploader)(nil)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	BasePath     string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
}

// S3Uploader implements sink.Uploader for AWS S3 storage.
// It provides multipart upload support, server-side encryption (SSE),
// and automatic retry handling for S3 operations.
type S3Uploader struct {
	client      *s3.Client
	uploader    *manager.Uploader
	bucket      string
	basePath    string
	sseEnabled  bool
	sseKMSKeyID string
	logger      *zap.Logger
	metrics     MetricsCollector
}

// NewS3Uploader creates a new S3 uploader.
func NewS3Uploader(cfg S3Config, logger *zap.Logger, metrics MetricsCollector) (*S3Uploader, error) {
	// Load AWS config
	ctx := context.Background()
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Create S3 client
	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	// Create uploader with multipart upload support
	uploader := manager.NewUploader(s3Client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024 // 10MB parts
		u.Concurrency = 5             // 5 concurrent uploads
	})

	logger.Info("S3 uploader created",
		zap.String("bucket", cfg.Bucket),
		zap.String("region", cfg.Region),
		zap.Bool("sse_enabled", cfg.SSEEnabled),
	)

	return &S3Uploader{
		client:      s3Client,
		uploader:    uploader,
		bucket:      cfg.Bucket,
		basePath:    cfg.BasePath,
		sseEnabled:  cfg.SSEEnabled,
		sseKMSKeyID: cfg.SSEKMSKeyID,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// Upload stores the staged file at localPath under key in the bucket.
func (u *S3Uploader) Upload(ctx context.Context, localPath string, key string) (int64, error) {
	startTime := time.Now()

	file, err := os.Open(localPath)
	if err != nil {
		if u.metrics != nil {
			u.metrics.IncStorageErrors("s3", "file_open")
		}
		return 0, fmt.Errorf("failed to open staged file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		if u.metrics != nil {
			u.metrics.IncStorageErrors("s3", "file_stat")
		}
		return 0, fmt.Errorf("failed to stat staged file: %w", err)
	}

	objectKey := key
	if u.basePath != "" {
		objectKey = path.Join(u.basePath, key)
	}

	// Prepare upload input
	uploadInput := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(objectKey),
		Body:   file,
	}

	// Add SSE if enabled
	if u.sseEnabled {
		if u.sseKMSKeyID != "" {
			uploadInput.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			uploadInput.SSEKMSKeyId = aws.String(u.sseKMSKeyID)
		} else {
			uploadInput.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}

	// Upload to S3
	result, err := u.uploader.Upload(ctx, uploadInput)
	if err != nil {
		if u.metrics != nil {
			u.metrics.IncStorageErrors("s3", "upload")
		}
		return 0, fmt.Errorf("failed to upload to S3: %w", err)
	}

	u.logger.Info("uploaded archive file to S3",
		zap.String("bucket", u.bucket),
		zap.String("key", objectKey),
		zap.Int64("size_bytes", info.Size()),
		zap.String("location", result.Location),
		zap.Int64("duration_ms", time.Since(startTime).Milliseconds()),
	)

	return info.Size(), nil
}

// Close closes the uploader.
func (u *S3Uploader) Close() error {
	u.logger.Info("S3 uploader closed")
	return nil
}
