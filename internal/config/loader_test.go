package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/telepipe/telepipe/internal/config/dto"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	if loader == nil {
		t.Fatal("expected non-nil loader")
	}
	if loader.v == nil {
		t.Fatal("expected non-nil viper instance")
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "test-config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create test config file: %v", err)
	}
	return configFile
}

func TestLoader_LoadWithValidConfig(t *testing.T) {
	configFile := writeConfigFile(t, `
application:
  name: test-app
  version: 1.0.0

pipeline:
  sources:
    - name: access-logs
      type: generator
      generator:
        format: apache_common
        interval_ms: 50
  sinks:
    - name: archive
      type: archive
      buffer:
        type: memory
        max_events: 100
      archive:
        backend: file
        format: ndjson
        file:
          base_path: /tmp/test
`)

	loader := NewLoader()
	config, err := loader.Load(configFile)

	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config == nil {
		t.Fatal("expected non-nil config")
	}

	// Verify loaded values
	if config.Application.Name != "test-app" {
		t.Errorf("Application.Name = %s, want test-app", config.Application.Name)
	}
	if len(config.Pipeline.Sources) != 1 {
		t.Fatalf("len(Pipeline.Sources) = %d, want 1", len(config.Pipeline.Sources))
	}
	if config.Pipeline.Sources[0].Generator.Format != "apache_common" {
		t.Errorf("Generator.Format = %s, want apache_common", config.Pipeline.Sources[0].Generator.Format)
	}
	if len(config.Pipeline.Sinks) != 1 {
		t.Fatalf("len(Pipeline.Sinks) = %d, want 1", len(config.Pipeline.Sinks))
	}
	if config.Pipeline.Sinks[0].Buffer.MaxEvents != 100 {
		t.Errorf("Buffer.MaxEvents = %d, want 100", config.Pipeline.Sinks[0].Buffer.MaxEvents)
	}
}

func TestLoader_LoadAppliesPipelineDefaults(t *testing.T) {
	configFile := writeConfigFile(t, `
pipeline:
  sources:
    - name: gen
  sinks:
    - name: out
      archive:
        file:
          base_path: /tmp/out
`)

	loader := NewLoader()
	config, err := loader.Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	src := config.Pipeline.Sources[0]
	if src.Type != "generator" {
		t.Errorf("source type = %s, want generator", src.Type)
	}
	if src.Generator.Format != "json" {
		t.Errorf("generator format = %s, want json", src.Generator.Format)
	}
	if src.Generator.IntervalMS != 1000 {
		t.Errorf("generator interval_ms = %d, want 1000", src.Generator.IntervalMS)
	}

	sink := config.Pipeline.Sinks[0]
	if sink.Type != "archive" {
		t.Errorf("sink type = %s, want archive", sink.Type)
	}
	if sink.Buffer.Type != "memory" {
		t.Errorf("buffer type = %s, want memory", sink.Buffer.Type)
	}
	if sink.Buffer.MaxEvents != 500 {
		t.Errorf("buffer max_events = %d, want 500", sink.Buffer.MaxEvents)
	}
	if sink.Buffer.WhenFull != "block" {
		t.Errorf("buffer when_full = %s, want block", sink.Buffer.WhenFull)
	}
	if sink.Archive.Format != "ndjson" {
		t.Errorf("archive format = %s, want ndjson", sink.Archive.Format)
	}
	if sink.Archive.Rotation.MaxRecords != 100000 {
		t.Errorf("rotation max_records = %d, want 100000", sink.Archive.Rotation.MaxRecords)
	}
}

func TestLoader_LoadWithMissingFile(t *testing.T) {
	loader := NewLoader()

	// A missing file falls back to defaults, which cannot satisfy the
	// pipeline requirements and must fail validation.
	_, err := loader.Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected validation error for empty pipeline")
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("TELEPIPE_APPLICATION_NAME", "env-app")

	configFile := writeConfigFile(t, `
application:
  name: file-app

pipeline:
  sources:
    - name: gen
  sinks:
    - name: out
      archive:
        file:
          base_path: /tmp/out
`)

	loader := NewLoader()
	config, err := loader.Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Application.Name != "env-app" {
		t.Errorf("Application.Name = %s, want env-app", config.Application.Name)
	}
}

func TestLoader_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("TP_TEST_LOG_DIR", "/var/log/telepipe")

	configFile := writeConfigFile(t, `
observability:
  logging:
    output: ${TP_TEST_LOG_DIR}/pipeline.log

pipeline:
  sources:
    - name: gen
  sinks:
    - name: out
      archive:
        file:
          base_path: /tmp/out
`)

	loader := NewLoader()
	config, err := loader.Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := config.Observability.Logging.Output; got != "/var/log/telepipe/pipeline.log" {
		t.Errorf("Logging.Output = %s, want /var/log/telepipe/pipeline.log", got)
	}
}

func validPipelineConfig() *dto.ApplicationConfig {
	return &dto.ApplicationConfig{
		Application: dto.ApplicationInfo{Name: "telepipe"},
		Pipeline: dto.PipelineConfig{
			Sources: []dto.SourceConfig{
				{
					Name:      "gen",
					Type:      "generator",
					Generator: dto.GeneratorConfig{Format: "json", IntervalMS: 100},
				},
			},
			Sinks: []dto.SinkConfig{
				{
					Name:   "archive",
					Type:   "archive",
					Buffer: dto.BufferConfig{Type: "memory", MaxEvents: 100, WhenFull: "block"},
					Archive: dto.ArchiveConfig{
						Backend:     "file",
						Format:      "ndjson",
						Compression: "none",
						File:        dto.FileConfig{BasePath: "/tmp/archive"},
					},
				},
			},
		},
		Limits: dto.LimitsConfig{MaxRecordBytes: 1 << 20},
		Observability: dto.ObservabilityConfig{
			Metrics: dto.MetricsConfig{Port: 9090},
			Health:  dto.HealthConfig{Port: 8080},
		},
	}
}

func TestLoader_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*dto.ApplicationConfig)
		wantErr bool
	}{
		{
			name:    "valid archive pipeline",
			mutate:  nil,
			wantErr: false,
		},
		{
			name: "valid kafka source and sink",
			mutate: func(c *dto.ApplicationConfig) {
				c.Pipeline.Sources[0] = dto.SourceConfig{
					Name: "ingest",
					Type: "kafka",
					Kafka: dto.KafkaSourceConfig{
						Brokers: []string{"localhost:9092"},
						GroupID: "telepipe",
						Topics:  []string{"events"},
					},
				}
				c.Pipeline.Sinks[0] = dto.SinkConfig{
					Name:   "events-out",
					Type:   "kafka",
					Buffer: dto.BufferConfig{Type: "memory", MaxEvents: 100},
					Kafka: dto.KafkaSinkConfig{
						Brokers: []string{"localhost:9092"},
						Topic:   "events-archived",
					},
				}
			},
			wantErr: false,
		},
		{
			name: "no sources",
			mutate: func(c *dto.ApplicationConfig) {
				c.Pipeline.Sources = nil
			},
			wantErr: true,
		},
		{
			name: "no sinks",
			mutate: func(c *dto.ApplicationConfig) {
				c.Pipeline.Sinks = nil
			},
			wantErr: true,
		},
		{
			name: "duplicate sink names",
			mutate: func(c *dto.ApplicationConfig) {
				c.Pipeline.Sinks = append(c.Pipeline.Sinks, c.Pipeline.Sinks[0])
			},
			wantErr: true,
		},
		{
			name: "kafka source missing brokers",
			mutate: func(c *dto.ApplicationConfig) {
				c.Pipeline.Sources[0] = dto.SourceConfig{
					Name: "ingest",
					Type: "kafka",
					Kafka: dto.KafkaSourceConfig{
						GroupID: "telepipe",
						Topics:  []string{"events"},
					},
				}
			},
			wantErr: true,
		},
		{
			name: "unsupported generator format",
			mutate: func(c *dto.ApplicationConfig) {
				c.Pipeline.Sources[0].Generator.Format = "xml"
			},
			wantErr: true,
		},
		{
			name: "bsd syslog generator format",
			mutate: func(c *dto.ApplicationConfig) {
				c.Pipeline.Sources[0].Generator.Format = "bsd_syslog"
			},
			wantErr: false,
		},
		{
			name: "shuffle format without lines",
			mutate: func(c *dto.ApplicationConfig) {
				c.Pipeline.Sources[0].Generator.Format = "shuffle"
			},
			wantErr: true,
		},
		{
			name: "memory buffer with both caps",
			mutate: func(c *dto.ApplicationConfig) {
				c.Pipeline.Sinks[0].Buffer.MaxBytes = 1 << 20
			},
			wantErr: true,
		},
		{
			name: "disk buffer without path",
			mutate: func(c *dto.ApplicationConfig) {
				c.Pipeline.Sinks[0].Buffer = dto.BufferConfig{
					Type:         "disk",
					MaxSizeBytes: 1 << 30,
				}
			},
			wantErr: true,
		},
		{
			name: "s3 backend missing bucket",
			mutate: func(c *dto.ApplicationConfig) {
				c.Pipeline.Sinks[0].Archive.Backend = "s3"
				c.Pipeline.Sinks[0].Archive.S3 = dto.S3Config{Region: "us-east-1"}
			},
			wantErr: true,
		},
		{
			name: "azure backend missing account name",
			mutate: func(c *dto.ApplicationConfig) {
				c.Pipeline.Sinks[0].Archive.Backend = "azure"
				c.Pipeline.Sinks[0].Archive.Azure = dto.AzureConfig{Container: "archive"}
			},
			wantErr: true,
		},
		{
			name: "unsupported archive backend",
			mutate: func(c *dto.ApplicationConfig) {
				c.Pipeline.Sinks[0].Archive.Backend = "ftp"
			},
			wantErr: true,
		},
		{
			name: "unsupported archive format",
			mutate: func(c *dto.ApplicationConfig) {
				c.Pipeline.Sinks[0].Archive.Format = "csv"
			},
			wantErr: true,
		},
		{
			name: "kafka sink missing topic",
			mutate: func(c *dto.ApplicationConfig) {
				c.Pipeline.Sinks[0] = dto.SinkConfig{
					Name:   "events-out",
					Type:   "kafka",
					Buffer: dto.BufferConfig{Type: "memory", MaxEvents: 100},
					Kafka:  dto.KafkaSinkConfig{Brokers: []string{"localhost:9092"}},
				}
			},
			wantErr: true,
		},
		{
			name: "invalid metrics port",
			mutate: func(c *dto.ApplicationConfig) {
				c.Observability.Metrics.Port = 70000
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validPipelineConfig()
			if tt.mutate != nil {
				tt.mutate(config)
			}

			loader := NewLoader()
			err := loader.Validate(config)

			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoader_setDefaults(t *testing.T) {
	loader := NewLoader()
	loader.setDefaults()

	// Verify some key defaults are set
	if loader.v.GetString("application.name") != "telepipe" {
		t.Error("default application.name not set correctly")
	}
	if loader.v.GetInt("limits.max_record_bytes") != 1048576 {
		t.Error("default limits.max_record_bytes not set correctly")
	}
	if loader.v.GetString("observability.logging.level") != "info" {
		t.Error("default observability.logging.level not set correctly")
	}
	if loader.v.GetInt("shutdown.grace_period_seconds") != 30 {
		t.Error("default shutdown.grace_period_seconds not set correctly")
	}
}
