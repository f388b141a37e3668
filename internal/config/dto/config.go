package dto

import (
	"fmt"
	"time"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Limits        LimitsConfig        `mapstructure:"limits"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// PipelineConfig lists the sources feeding the pipeline and the sinks
// draining it. Every sink owns one buffer instance.
type PipelineConfig struct {
	Sources []SourceConfig `mapstructure:"sources"`
	Sinks   []SinkConfig   `mapstructure:"sinks"`
}

// SourceConfig configures one record source
type SourceConfig struct {
	Name      string            `mapstructure:"name"`
	Type      string            `mapstructure:"type"`
	Generator GeneratorConfig   `mapstructure:"generator"`
	Kafka     KafkaSourceConfig `mapstructure:"kafka"`
}

// GeneratorConfig configures the synthetic event generator
type GeneratorConfig struct {
	Format     string   `mapstructure:"format"`
	IntervalMS int      `mapstructure:"interval_ms"`
	Count      int64    `mapstructure:"count"`
	Lines      []string `mapstructure:"lines"`
	Sequence   bool     `mapstructure:"sequence"`
}

// Interval returns the delay between generated events.
func (c GeneratorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// KafkaSourceConfig contains Kafka consumer configuration
type KafkaSourceConfig struct {
	Brokers          []string       `mapstructure:"brokers"`
	GroupID          string         `mapstructure:"group_id"`
	Topics           []string       `mapstructure:"topics"`
	AutoOffsetReset  string         `mapstructure:"auto_offset_reset"`
	SecurityProtocol string         `mapstructure:"security_protocol"`
	SASLMechanism    string         `mapstructure:"sasl_mechanism"`
	SASLUsername     string         `mapstructure:"sasl_username"`
	SASLPassword     string         `mapstructure:"sasl_password"`
	AWSRegion        string         `mapstructure:"aws_region"`
	TLS              KafkaTLSConfig `mapstructure:"tls"`
}

// KafkaTLSConfig carries TLS material for broker connections
type KafkaTLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CACertFile         string `mapstructure:"ca_cert_file"`
	ClientCertFile     string `mapstructure:"client_cert_file"`
	ClientKeyFile      string `mapstructure:"client_key_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// SinkConfig configures one delivery sink and its buffer
type SinkConfig struct {
	Name    string          `mapstructure:"name"`
	Type    string          `mapstructure:"type"`
	Buffer  BufferConfig    `mapstructure:"buffer"`
	Archive ArchiveConfig   `mapstructure:"archive"`
	Kafka   KafkaSinkConfig `mapstructure:"kafka"`
}

// BufferConfig selects and sizes the buffer backing one sink
type BufferConfig struct {
	Type              string `mapstructure:"type"`
	MaxEvents         int    `mapstructure:"max_events"`
	MaxBytes          int64  `mapstructure:"max_bytes"`
	WhenFull          string `mapstructure:"when_full"`
	Path              string `mapstructure:"path"`
	MaxSizeBytes      int64  `mapstructure:"max_size_bytes"`
	MaxSegmentBytes   int64  `mapstructure:"max_segment_bytes"`
	FlushEveryRecords int    `mapstructure:"flush_every_records"`
	FlushIntervalMS   int    `mapstructure:"flush_interval_ms"`
}

// FlushInterval returns the timer-driven flush cadence for disk buffers.
func (c BufferConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// ArchiveConfig contains archive sink configuration
type ArchiveConfig struct {
	Backend     string         `mapstructure:"backend"`
	Format      string         `mapstructure:"format"`
	Compression string         `mapstructure:"compression"`
	StagingDir  string         `mapstructure:"staging_dir"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	S3          S3Config       `mapstructure:"s3"`
	Azure       AzureConfig    `mapstructure:"azure"`
	GCS         GCSConfig      `mapstructure:"gcs"`
	File        FileConfig     `mapstructure:"file"`
}

// RotationConfig bounds one archive batch; hitting any limit rotates
type RotationConfig struct {
	MaxBytes      int64 `mapstructure:"max_bytes"`
	MaxRecords    int   `mapstructure:"max_records"`
	MaxAgeSeconds int   `mapstructure:"max_age_seconds"`
}

// MaxAge returns the age bound of one archive batch.
func (c RotationConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeSeconds) * time.Second
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	BasePath     string `mapstructure:"base_path"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// AzureConfig contains Azure Blob Storage configuration. The account key
// is never read from config files; it comes from AZURE_STORAGE_ACCOUNT_KEY.
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	Container   string `mapstructure:"container"`
	BasePath    string `mapstructure:"base_path"`
	Endpoint    string `mapstructure:"endpoint"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	ProjectID       string `mapstructure:"project_id"`
	BasePath        string `mapstructure:"base_path"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// FileConfig contains local filesystem configuration
type FileConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// KafkaSinkConfig contains Kafka producer configuration
type KafkaSinkConfig struct {
	Brokers          []string       `mapstructure:"brokers"`
	Topic            string         `mapstructure:"topic"`
	RequiredAcks     string         `mapstructure:"required_acks"`
	SecurityProtocol string         `mapstructure:"security_protocol"`
	SASLMechanism    string         `mapstructure:"sasl_mechanism"`
	SASLUsername     string         `mapstructure:"sasl_username"`
	SASLPassword     string         `mapstructure:"sasl_password"`
	AWSRegion        string         `mapstructure:"aws_region"`
	TLS              KafkaTLSConfig `mapstructure:"tls"`
	DLQ              DLQConfig      `mapstructure:"dlq"`
}

// DLQConfig contains dead letter queue configuration
type DLQConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicSuffix string `mapstructure:"topic_suffix"`
	MaxRetries  int    `mapstructure:"max_retries"`
}

// LimitsConfig contains record admission limits
type LimitsConfig struct {
	MaxRecordBytes int `mapstructure:"max_record_bytes"`
}

// RetryConfig contains retry settings
type RetryConfig struct {
	MaxAttempts      int     `mapstructure:"max_attempts"`
	InitialBackoffMS int     `mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `mapstructure:"max_backoff_ms"`
	Multiplier       float64 `mapstructure:"multiplier"`
	Jitter           bool    `mapstructure:"jitter"`
}

// InitialBackoff returns the delay before the first retry.
func (c RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMS) * time.Millisecond
}

// MaxBackoff returns the ceiling a retry delay may grow to.
func (c RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMS) * time.Millisecond
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port          int    `mapstructure:"port"`
	LivenessPath  string `mapstructure:"liveness_path"`
	ReadinessPath string `mapstructure:"readiness_path"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
}

// GracePeriod returns the shutdown grace period.
func (c ShutdownConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.Application.Name == "" {
		return fmt.Errorf("application name is required")
	}
	if len(c.Pipeline.Sources) == 0 {
		return fmt.Errorf("at least one pipeline source is required")
	}
	if len(c.Pipeline.Sinks) == 0 {
		return fmt.Errorf("at least one pipeline sink is required")
	}
	return nil
}

// Validate validates the buffer configuration.
func (c *BufferConfig) Validate() error {
	switch c.Type {
	case "memory":
		if c.MaxEvents <= 0 && c.MaxBytes <= 0 {
			return fmt.Errorf("memory buffer requires max_events or max_bytes")
		}
		if c.MaxEvents > 0 && c.MaxBytes > 0 {
			return fmt.Errorf("memory buffer accepts only one of max_events and max_bytes")
		}
		switch c.WhenFull {
		case "", "block", "drop_newest":
		default:
			return fmt.Errorf("unsupported overflow policy: %s", c.WhenFull)
		}
	case "disk":
		if c.Path == "" {
			return fmt.Errorf("disk buffer requires path")
		}
		if c.MaxSizeBytes <= 0 {
			return fmt.Errorf("disk buffer requires max_size_bytes > 0")
		}
	default:
		return fmt.Errorf("unsupported buffer type: %s", c.Type)
	}
	return nil
}

// Validate validates S3 configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	return nil
}

// Validate validates Azure configuration.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("azure account name is required")
	}
	if c.Container == "" {
		return fmt.Errorf("azure container is required")
	}
	return nil
}

// Validate validates GCS configuration.
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("gcs bucket is required")
	}
	return nil
}

// Validate validates file configuration.
func (c *FileConfig) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("file base path is required")
	}
	return nil
}
