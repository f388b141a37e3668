package pipeline

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	ibuffer "github.com/telepipe/telepipe/internal/buffer"
	"github.com/telepipe/telepipe/internal/config/dto"
	ikafka "github.com/telepipe/telepipe/internal/kafka"
	"github.com/telepipe/telepipe/internal/observability"
	"github.com/telepipe/telepipe/internal/retry"
	isink "github.com/telepipe/telepipe/internal/sink"
	isource "github.com/telepipe/telepipe/internal/source"
	"github.com/telepipe/telepipe/internal/validator"
	"github.com/telepipe/telepipe/pkg/buffer"
	"github.com/telepipe/telepipe/pkg/event"
	"github.com/telepipe/telepipe/pkg/sink"
	"github.com/telepipe/telepipe/pkg/source"
)

// Environment variables carrying cloud secrets that must not live in
// config files.
const (
	envAzureAccountKey = "AZURE_STORAGE_ACCOUNT_KEY"
	envGCPCredentials  = "GCP_CREDENTIALS_JSON"
)

// Build assembles a runner from the loaded configuration: one source per
// configured source, and per configured sink one buffer plus the sink
// draining it.
func Build(cfg *dto.ApplicationConfig, logger *zap.Logger, metrics *observability.Metrics) (runner *Runner, err error) {
	var (
		sources []source.Source
		routes  []Route
	)
	defer func() {
		if err == nil {
			return
		}
		for _, src := range sources {
			src.Close()
		}
		for _, rt := range routes {
			rt.Sink.Close()
			rt.Queue.Close()
		}
	}()

	for _, sc := range cfg.Pipeline.Sources {
		src, serr := buildSource(sc, logger, metrics)
		if serr != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, serr)
		}
		sources = append(sources, src)
	}

	for _, kc := range cfg.Pipeline.Sinks {
		queue, berr := buildBuffer(kc.Name, kc.Buffer, cfg.Retry, logger, metrics)
		if berr != nil {
			return nil, fmt.Errorf("sink %s: %w", kc.Name, berr)
		}
		snk, serr := buildSink(kc, logger, metrics)
		if serr != nil {
			queue.Close()
			return nil, fmt.Errorf("sink %s: %w", kc.Name, serr)
		}
		routes = append(routes, Route{Name: kc.Name, Queue: queue, Sink: snk})
	}

	return New(Options{
		Sources:     sources,
		Routes:      routes,
		Validator:   validator.NewPayloadValidator("pipeline", cfg.Limits.MaxRecordBytes),
		GracePeriod: cfg.Shutdown.GracePeriod(),
		Logger:      logger,
		Metrics:     metrics,
	})
}

func buildSource(sc dto.SourceConfig, logger *zap.Logger, metrics *observability.Metrics) (source.Source, error) {
	switch sc.Type {
	case "generator":
		return isource.NewGenerator(isource.GeneratorConfig{
			Name:     sc.Name,
			Format:   sc.Generator.Format,
			Interval: sc.Generator.Interval(),
			Count:    sc.Generator.Count,
			Lines:    sc.Generator.Lines,
			Sequence: sc.Generator.Sequence,
		}, logger, metrics)
	case "kafka":
		return isource.NewKafkaSource(isource.KafkaSourceConfig{
			Name:            sc.Name,
			Brokers:         sc.Kafka.Brokers,
			Topics:          sc.Kafka.Topics,
			GroupID:         sc.Kafka.GroupID,
			AutoOffsetReset: sc.Kafka.AutoOffsetReset,
			Security: kafkaSecurity(
				sc.Kafka.SecurityProtocol,
				sc.Kafka.SASLMechanism,
				sc.Kafka.SASLUsername,
				sc.Kafka.SASLPassword,
				sc.Kafka.AWSRegion,
				sc.Kafka.TLS,
			),
		}, logger, metrics)
	default:
		return nil, fmt.Errorf("unsupported source type: %s", sc.Type)
	}
}

func buildBuffer(name string, bc dto.BufferConfig, rc dto.RetryConfig, logger *zap.Logger, metrics *observability.Metrics) (buffer.Queue, error) {
	cfg := ibuffer.Config{
		Type: ibuffer.Type(bc.Type),
		Memory: ibuffer.MemoryConfig{
			MaxEvents: bc.MaxEvents,
			MaxBytes:  bc.MaxBytes,
			WhenFull:  ibuffer.OverflowPolicy(bc.WhenFull),
		},
		Disk: ibuffer.DiskConfig{
			Dir:               bc.Path,
			MaxSizeBytes:      bc.MaxSizeBytes,
			MaxSegmentBytes:   bc.MaxSegmentBytes,
			FlushEveryRecords: bc.FlushEveryRecords,
			FlushInterval:     bc.FlushInterval(),
			Retry: retry.Policy{
				MaxAttempts:    rc.MaxAttempts,
				InitialBackoff: rc.InitialBackoff(),
				MaxBackoff:     rc.MaxBackoff(),
				Multiplier:     rc.Multiplier,
				Jitter:         rc.Jitter,
			},
		},
	}
	return ibuffer.New(name, cfg, logger, metrics)
}

func buildSink(sc dto.SinkConfig, logger *zap.Logger, metrics *observability.Metrics) (sink.Sink, error) {
	switch sc.Type {
	case "archive":
		uploader, err := buildUploader(sc.Archive, logger, metrics)
		if err != nil {
			return nil, err
		}
		archiveSink, err := isink.NewArchiveSink(isink.ArchiveSinkConfig{
			Name:        sc.Name,
			Backend:     sc.Archive.Backend,
			Format:      event.ArchiveFormat(sc.Archive.Format),
			Compression: sc.Archive.Compression,
			StagingDir:  sc.Archive.StagingDir,
			Rotation: isink.PolicyConfig{
				MaxBytes:   sc.Archive.Rotation.MaxBytes,
				MaxRecords: sc.Archive.Rotation.MaxRecords,
				MaxAge:     sc.Archive.Rotation.MaxAge(),
			},
		}, uploader, logger, metrics)
		if err != nil {
			uploader.Close()
			return nil, err
		}
		return archiveSink, nil
	case "kafka":
		return isink.NewKafkaSink(isink.KafkaSinkConfig{
			Name:         sc.Name,
			Brokers:      sc.Kafka.Brokers,
			Topic:        sc.Kafka.Topic,
			RequiredAcks: sc.Kafka.RequiredAcks,
			Security: kafkaSecurity(
				sc.Kafka.SecurityProtocol,
				sc.Kafka.SASLMechanism,
				sc.Kafka.SASLUsername,
				sc.Kafka.SASLPassword,
				sc.Kafka.AWSRegion,
				sc.Kafka.TLS,
			),
			DLQ: ikafka.DLQConfig{
				Enabled:     sc.Kafka.DLQ.Enabled,
				TopicSuffix: sc.Kafka.DLQ.TopicSuffix,
				MaxRetries:  sc.Kafka.DLQ.MaxRetries,
			},
		}, logger, metrics)
	default:
		return nil, fmt.Errorf("unsupported sink type: %s", sc.Type)
	}
}

func buildUploader(ac dto.ArchiveConfig, logger *zap.Logger, metrics *observability.Metrics) (sink.Uploader, error) {
	switch ac.Backend {
	case "file":
		return isink.NewFileUploader(isink.FileConfig{
			BasePath: ac.File.BasePath,
		}, logger, metrics)
	case "s3":
		return isink.NewS3Uploader(isink.S3Config{
			Bucket:       ac.S3.Bucket,
			Region:       ac.S3.Region,
			BasePath:     ac.S3.BasePath,
			Endpoint:     ac.S3.Endpoint,
			UsePathStyle: ac.S3.UsePathStyle,
			SSEEnabled:   ac.S3.SSEEnabled,
			SSEKMSKeyID:  ac.S3.SSEKMSKeyID,
		}, logger, metrics)
	case "gcs":
		return isink.NewGCSUploader(isink.GCSConfig{
			Bucket:          ac.GCS.Bucket,
			ProjectID:       ac.GCS.ProjectID,
			BasePath:        ac.GCS.BasePath,
			CredentialsFile: ac.GCS.CredentialsFile,
			CredentialsJSON: os.Getenv(envGCPCredentials),
		}, logger, metrics)
	case "azure":
		return isink.NewAzureUploader(isink.AzureConfig{
			AccountName:   ac.Azure.AccountName,
			AccountKey:    os.Getenv(envAzureAccountKey),
			ContainerName: ac.Azure.Container,
			BasePath:      ac.Azure.BasePath,
			Endpoint:      ac.Azure.Endpoint,
		}, logger, metrics)
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s", ac.Backend)
	}
}

func kafkaSecurity(protocol, mechanism, username, password, region string, tls dto.KafkaTLSConfig) ikafka.SecurityConfig {
	return ikafka.SecurityConfig{
		Protocol:      protocol,
		SASLMechanism: mechanism,
		SASLUsername:  username,
		SASLPassword:  password,
		AWSRegion:     region,
		TLS: ikafka.TLSConfig{
			Enabled:            tls.Enabled,
			CACertFile:         tls.CACertFile,
			ClientCertFile:     tls.ClientCertFile,
			ClientKeyFile:      tls.ClientKeyFile,
			InsecureSkipVerify: tls.InsecureSkipVerify,
		},
	}
}
