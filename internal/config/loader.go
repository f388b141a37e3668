package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/telepipe/telepipe/internal/config/dto"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TELEPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	// Set defaults
	l.setDefaults()

	// Load from file if provided
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Expand environment variables in config values
	// Only expand if the value contains ${...} pattern
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	// Unmarshal configuration
	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Per-source and per-sink defaults live inside list items, out of
	// viper's reach, and are applied after unmarshalling.
	applyPipelineDefaults(&config)

	// Validate configuration
	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "telepipe")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Limits defaults
	l.v.SetDefault("limits.max_record_bytes", 1048576)

	// Retry defaults
	l.v.SetDefault("retry.max_attempts", 5)
	l.v.SetDefault("retry.initial_backoff_ms", 100)
	l.v.SetDefault("retry.max_backoff_ms", 30000)
	l.v.SetDefault("retry.multiplier", 2.0)
	l.v.SetDefault("retry.jitter", true)

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.metrics.path", "/metrics")
	l.v.SetDefault("observability.health.port", 8080)
	l.v.SetDefault("observability.health.liveness_path", "/health/live")
	l.v.SetDefault("observability.health.readiness_path", "/health/ready")

	// Shutdown defaults
	l.v.SetDefault("shutdown.grace_period_seconds", 30)
}

// applyPipelineDefaults fills the per-item defaults of sources and sinks.
func applyPipelineDefaults(config *dto.ApplicationConfig) {
	for i := range config.Pipeline.Sources {
		src := &config.Pipeline.Sources[i]
		if src.Type == "" {
			src.Type = "generator"
		}
		if src.Type == "generator" {
			if src.Generator.Format == "" {
				src.Generator.Format = "json"
			}
			if src.Generator.IntervalMS == 0 {
				src.Generator.IntervalMS = 1000
			}
		}
		if src.Type == "kafka" && src.Kafka.AutoOffsetReset == "" {
			src.Kafka.AutoOffsetReset = "earliest"
		}
	}

	for i := range config.Pipeline.Sinks {
		sink := &config.Pipeline.Sinks[i]
		if sink.Type == "" {
			sink.Type = "archive"
		}

		buf := &sink.Buffer
		if buf.Type == "" {
			buf.Type = "memory"
		}
		if buf.Type == "memory" {
			if buf.MaxEvents == 0 && buf.MaxBytes == 0 {
				buf.MaxEvents = 500
			}
			if buf.WhenFull == "" {
				buf.WhenFull = "block"
			}
		}
		if buf.Type == "disk" {
			if buf.MaxSegmentBytes == 0 {
				buf.MaxSegmentBytes = 128 << 20
			}
			if buf.FlushEveryRecords == 0 {
				buf.FlushEveryRecords = 1
			}
		}

		if sink.Type == "archive" {
			arch := &sink.Archive
			if arch.Backend == "" {
				arch.Backend = "file"
			}
			if arch.Format == "" {
				arch.Format = "ndjson"
			}
			if arch.Compression == "" {
				arch.Compression = "none"
			}
			if arch.Rotation.MaxBytes == 0 {
				arch.Rotation.MaxBytes = 128 << 20
			}
			if arch.Rotation.MaxRecords == 0 {
				arch.Rotation.MaxRecords = 100000
			}
			if arch.Rotation.MaxAgeSeconds == 0 {
				arch.Rotation.MaxAgeSeconds = 300
			}
		}

		if sink.Type == "kafka" {
			k := &sink.Kafka
			if k.RequiredAcks == "" {
				k.RequiredAcks = "all"
			}
			if k.DLQ.TopicSuffix == "" {
				k.DLQ.TopicSuffix = "-dlq"
			}
			if k.DLQ.MaxRetries == 0 {
				k.DLQ.MaxRetries = 3
			}
		}
	}
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	if len(config.Pipeline.Sources) == 0 {
		return errors.New("pipeline.sources is required")
	}
	if len(config.Pipeline.Sinks) == 0 {
		return errors.New("pipeline.sinks is required")
	}

	names := make(map[string]bool)
	for _, src := range config.Pipeline.Sources {
		if src.Name == "" {
			return errors.New("every pipeline source needs a name")
		}
		if names[src.Name] {
			return fmt.Errorf("duplicate source name: %s", src.Name)
		}
		names[src.Name] = true

		switch src.Type {
		case "generator":
			switch src.Generator.Format {
			case "json", "apache_common", "apache_error", "syslog", "bsd_syslog", "shuffle":
			default:
				return fmt.Errorf("source %s: unsupported generator format: %s", src.Name, src.Generator.Format)
			}
			if src.Generator.Format == "shuffle" && len(src.Generator.Lines) == 0 {
				return fmt.Errorf("source %s: shuffle format requires lines", src.Name)
			}
		case "kafka":
			if len(src.Kafka.Brokers) == 0 {
				return fmt.Errorf("source %s: kafka.brokers is required", src.Name)
			}
			if src.Kafka.GroupID == "" {
				return fmt.Errorf("source %s: kafka.group_id is required", src.Name)
			}
			if len(src.Kafka.Topics) == 0 {
				return fmt.Errorf("source %s: kafka.topics is required", src.Name)
			}
		default:
			return fmt.Errorf("source %s: unsupported type: %s", src.Name, src.Type)
		}
	}

	sinkNames := make(map[string]bool)
	for _, sink := range config.Pipeline.Sinks {
		if sink.Name == "" {
			return errors.New("every pipeline sink needs a name")
		}
		if sinkNames[sink.Name] {
			return fmt.Errorf("duplicate sink name: %s", sink.Name)
		}
		sinkNames[sink.Name] = true

		if err := sink.Buffer.Validate(); err != nil {
			return fmt.Errorf("sink %s: %w", sink.Name, err)
		}

		switch sink.Type {
		case "archive":
			if err := validateArchive(&sink.Archive); err != nil {
				return fmt.Errorf("sink %s: %w", sink.Name, err)
			}
		case "kafka":
			if len(sink.Kafka.Brokers) == 0 {
				return fmt.Errorf("sink %s: kafka.brokers is required", sink.Name)
			}
			if sink.Kafka.Topic == "" {
				return fmt.Errorf("sink %s: kafka.topic is required", sink.Name)
			}
		default:
			return fmt.Errorf("sink %s: unsupported type: %s", sink.Name, sink.Type)
		}
	}

	if config.Limits.MaxRecordBytes <= 0 {
		return fmt.Errorf("limits.max_record_bytes must be positive")
	}

	// Port validation
	if config.Observability.Metrics.Port < 1 || config.Observability.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", config.Observability.Metrics.Port)
	}
	if config.Observability.Health.Port < 1 || config.Observability.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", config.Observability.Health.Port)
	}

	return nil
}

func validateArchive(arch *dto.ArchiveConfig) error {
	switch arch.Backend {
	case "s3":
		if err := arch.S3.Validate(); err != nil {
			return err
		}
	case "azure":
		if err := arch.Azure.Validate(); err != nil {
			return err
		}
	case "gcs":
		if err := arch.GCS.Validate(); err != nil {
			return err
		}
	case "file":
		if err := arch.File.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported archive backend: %s", arch.Backend)
	}

	switch arch.Format {
	case "ndjson", "avro", "parquet":
	default:
		return fmt.Errorf("unsupported archive format: %s", arch.Format)
	}

	switch arch.Compression {
	case "none", "gzip", "lz4":
	default:
		return fmt.Errorf("unsupported compression: %s", arch.Compression)
	}
	return nil
}
