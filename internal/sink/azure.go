package sink

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"go.uber.org/zap"

	"github.com/telepipe/telepipe/pkg/sink"
)

// Ensure implementation satisfies interface at compile time.
var _ sink.Uploader = (*AzureUploader)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	BasePath      string
	Endpoint      string
}

// AzureUploader implements sink.Uploader for Azure Blob Storage.
type AzureUploader struct {
	client        *azblob.Client
	containerName string
	basePath      string
	logger        *zap.Logger
	metrics       MetricsCollector
}

// NewAzureUploader creates a new Azure Blob uploader.
func NewAzureUploader(cfg AzureConfig, logger *zap.Logger, metrics MetricsCollector) (*AzureUploader, error) {
	// Build connection string
	var connectionString string
	if cfg.Endpoint != "" {
		connectionString = fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			cfg.AccountName, cfg.AccountKey, cfg.Endpoint)
	} else {
		connectionString = fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
			cfg.AccountName, cfg.AccountKey)
	}

	// Create Azure client
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	logger.Info("Azure uploader created",
		zap.String("container", cfg.ContainerName),
		zap.String("account", cfg.AccountName),
	)

	return &AzureUploader{
		client:        client,
		containerName: cfg.ContainerName,
		basePath:      cfg.BasePath,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Upload stores the staged file at localPath under key in the container.
func (u *AzureUploader) Upload(ctx context.Context, localPath string, key string) (int64, error) {
	startTime := time.Now()

	file, err := os.Open(localPath)
	if err != nil {
		if u.metrics != nil {
			u.metrics.IncStorageErrors("azure", "file_open")
		}
		return 0, fmt.Errorf("failed to open staged file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		if u.metrics != nil {
			u.metrics.IncStorageErrors("azure", "file_stat")
		}
		return 0, fmt.Errorf("failed to stat staged file: %w", err)
	}

	blobPath := key
	if u.basePath != "" {
		blobPath = path.Join(u.basePath, key)
	}

	// Upload to Azure Blob
	if _, err := u.client.UploadFile(ctx, u.containerName, blobPath, file, nil); err != nil {
		if u.metrics != nil {
			u.metrics.IncStorageErrors("azure", "upload")
		}
		return 0, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	u.logger.Info("uploaded archive file to Azure Blob",
		zap.String("container", u.containerName),
		zap.String("blob", blobPath),
		zap.Int64("size_bytes", info.Size()),
		zap.Int64("duration_ms", time.Since(startTime).Milliseconds()),
	)

	return info.Size(), nil
}

// Close closes the uploader.
func (u *AzureUploader) Close() error {
	u.logger.Info("Azure uploader closed")
	return nil
}
