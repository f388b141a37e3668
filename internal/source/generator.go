// Package source implements pipeline ingest: synthetic telemetry
// generation and Kafka consumption.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/jaswdr/faker"
	"go.uber.org/zap"

	apperrors "github.com/telepipe/telepipe/internal/errors"
	"github.com/telepipe/telepipe/pkg/buffer"
	"github.com/telepipe/telepipe/pkg/source"
)

// Ensure implementation satisfies interface at compile time.
var _ source.Source = (*Generator)(nil)

// MetricsCollector defines metrics operations for sources.
type MetricsCollector interface {
	IncEventsGenerated(source string, format string)
	IncSourceRecords(source string, status string)
}

// Output formats supported by the generator.
const (
	FormatApacheCommon = "apache_common"
	FormatApacheError  = "apache_error"
	FormatSyslog       = "syslog"
	FormatBSDSyslog    = "bsd_syslog"
	FormatJSON         = "json"
	FormatShuffle      = "shuffle"
)

// CloudEvents attributes for generated JSON telemetry.
const (
	EventTypeTelemetry = "io.telepipe.telemetry.generated"

	ContentTypeJSON = "application/json"
)

// GeneratorConfig configures one synthetic telemetry source.
type GeneratorConfig struct {
	Name     string
	Format   string
	Interval time.Duration // delay between events; zero emits with no delay
	Count    int64         // total events to emit; zero means unbounded
	Lines    []string      // corpus for the shuffle format
	Sequence bool          // shuffle: prefix each line with its event index
}

// telemetryData is the synthetic payload carried by generated JSON events.
type telemetryData struct {
	Host       string  `json:"host"`
	Service    string  `json:"service"`
	Level      string  `json:"level"`
	Message    string  `json:"message"`
	StatusCode int     `json:"statusCode"`
	DurationMS float64 `json:"durationMs"`
	RequestID  string  `json:"requestId"`
}

// Generator emits synthetic telemetry lines at a configured cadence.
// Line formats mimic common log shapes; the json format wraps faker-built
// telemetry in a CloudEvents envelope.
type Generator struct {
	cfg     GeneratorConfig
	faker   faker.Faker
	logger  *zap.Logger
	metrics MetricsCollector
}

// NewGenerator creates a new synthetic telemetry source.
func NewGenerator(cfg GeneratorConfig, logger *zap.Logger, metrics MetricsCollector) (*Generator, error) {
	switch cfg.Format {
	case FormatApacheCommon, FormatApacheError, FormatSyslog, FormatBSDSyslog, FormatJSON:
	case FormatShuffle:
		if len(cfg.Lines) == 0 {
			return nil, fmt.Errorf("generator %s: a non-empty list of lines is required for the shuffle format", cfg.Name)
		}
	default:
		return nil, fmt.Errorf("generator %s: unsupported format %q", cfg.Name, cfg.Format)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Generator{
		cfg:     cfg,
		faker:   faker.New(),
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Name returns the configured source name.
func (g *Generator) Name() string {
	return g.cfg.Name
}

// Run emits payloads until ctx is canceled or the configured count is
// reached. Backpressure from the buffers is applied inside emit.
func (g *Generator) Run(ctx context.Context, emit source.EmitFunc) error {
	g.logger.Info("generator source started",
		zap.String("source", g.cfg.Name),
		zap.String("format", g.cfg.Format),
		zap.Duration("interval", g.cfg.Interval),
		zap.Int64("count", g.cfg.Count),
	)

	var ticker *time.Ticker
	if g.cfg.Interval > 0 {
		ticker = time.NewTicker(g.cfg.Interval)
		defer ticker.Stop()
	}

	for n := int64(0); g.cfg.Count <= 0 || n < g.cfg.Count; n++ {
		if ticker != nil {
			select {
			case <-ctx.Done():
				g.logger.Info("stopping event generation", zap.String("source", g.cfg.Name))
				return nil
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			g.logger.Info("stopping event generation", zap.String("source", g.cfg.Name))
			return nil
		}

		payload, err := g.generate(n)
		if err != nil {
			g.logger.Error("failed to generate payload",
				zap.String("source", g.cfg.Name),
				zap.Error(err),
			)
			continue
		}

		if err := emit(ctx, payload); err != nil {
			if ctx.Err() != nil || errors.Is(err, buffer.ErrClosed) || errors.Is(err, apperrors.ErrPipelineClosed) {
				g.logger.Info("downstream closed, stopping generator",
					zap.String("source", g.cfg.Name),
				)
				return nil
			}
			g.logger.Warn("payload rejected",
				zap.String("source", g.cfg.Name),
				zap.Error(err),
			)
			continue
		}

		if g.metrics != nil {
			g.metrics.IncEventsGenerated(g.cfg.Name, g.cfg.Format)
		}
	}

	g.logger.Info("generator reached configured count",
		zap.String("source", g.cfg.Name),
		zap.Int64("count", g.cfg.Count),
	)
	return nil
}

// Close releases source resources.
func (g *Generator) Close() error {
	return nil
}

// generate builds the payload for event index n.
func (g *Generator) generate(n int64) ([]byte, error) {
	switch g.cfg.Format {
	case FormatApacheCommon:
		return []byte(g.apacheCommonLine()), nil
	case FormatApacheError:
		return []byte(g.apacheErrorLine()), nil
	case FormatSyslog:
		return []byte(g.syslog5424Line()), nil
	case FormatBSDSyslog:
		return []byte(g.syslog3164Line()), nil
	case FormatShuffle:
		return []byte(g.shuffleLine(n)), nil
	case FormatJSON:
		return g.jsonEvent()
	default:
		return nil, fmt.Errorf("unsupported format: %s", g.cfg.Format)
	}
}

// apacheCommonLine builds one Apache common log format line:
// host ident authuser [date] "request" status bytes
func (g *Generator) apacheCommonLine() string {
	return fmt.Sprintf("%s - %s [%s] \"%s /%s/%s HTTP/1.1\" %d %d",
		g.faker.Internet().Ipv4(),
		g.faker.Internet().User(),
		time.Now().Format("02/Jan/2006:15:04:05 -0700"),
		g.httpMethod(),
		g.faker.Lorem().Word(),
		g.faker.Lorem().Word(),
		g.httpStatus(),
		g.faker.IntBetween(128, 65536),
	)
}

// apacheErrorLine builds one Apache error log line.
func (g *Generator) apacheErrorLine() string {
	return fmt.Sprintf("[%s] [%s] [client %s] %s",
		time.Now().Format("Mon Jan 02 15:04:05 2006"),
		g.errorLevel(),
		g.faker.Internet().Ipv4(),
		g.faker.Lorem().Sentence(6),
	)
}

// syslog5424Line builds one RFC 5424 syslog line.
func (g *Generator) syslog5424Line() string {
	return fmt.Sprintf("<%d>1 %s %s %s %d ID%d - %s",
		g.faker.IntBetween(0, 191),
		time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		g.faker.Internet().Domain(),
		g.faker.Lorem().Word(),
		g.faker.IntBetween(100, 9999),
		g.faker.IntBetween(1, 999),
		g.faker.Lorem().Sentence(5),
	)
}

// syslog3164Line builds one RFC 3164 (BSD) syslog line.
func (g *Generator) syslog3164Line() string {
	return fmt.Sprintf("<%d>%s %s %s[%d]: %s",
		g.faker.IntBetween(0, 191),
		time.Now().Format("Jan _2 15:04:05"),
		g.faker.Internet().Domain(),
		g.faker.Lorem().Word(),
		g.faker.IntBetween(100, 9999),
		g.faker.Lorem().Sentence(5),
	)
}

// shuffleLine picks a random configured line, optionally prefixed with the
// event index.
func (g *Generator) shuffleLine(n int64) string {
	line := g.cfg.Lines[g.faker.IntBetween(0, len(g.cfg.Lines)-1)]
	if g.cfg.Sequence {
		return fmt.Sprintf("%d %s", n, line)
	}
	return line
}

// jsonEvent builds one CloudEvents-enveloped telemetry payload.
func (g *Generator) jsonEvent() ([]byte, error) {
	event := cloudevents.NewEvent()
	event.SetSpecVersion(cloudevents.VersionV1)
	event.SetID(uuid.New().String())
	event.SetType(EventTypeTelemetry)
	event.SetSource(g.cfg.Name)
	event.SetTime(time.Now())
	event.SetDataContentType(ContentTypeJSON)

	data := telemetryData{
		Host:       g.faker.Internet().Domain(),
		Service:    g.faker.Lorem().Word(),
		Level:      g.logLevel(),
		Message:    g.faker.Lorem().Sentence(8),
		StatusCode: g.httpStatus(),
		DurationMS: float64(g.faker.IntBetween(1, 5000)) / 10.0,
		RequestID:  g.faker.UUID().V4(),
	}

	if err := event.SetData(ContentTypeJSON, data); err != nil {
		return nil, fmt.Errorf("failed to set event data: %w", err)
	}

	return json.Marshal(event)
}

func (g *Generator) httpMethod() string {
	methods := []string{"GET", "GET", "GET", "POST", "PUT", "DELETE", "HEAD"}
	return methods[g.faker.IntBetween(0, len(methods)-1)]
}

func (g *Generator) httpStatus() int {
	statuses := []int{200, 201, 204, 301, 302, 400, 401, 403, 404, 500, 503}
	weights := []int{50, 5, 5, 3, 5, 8, 4, 3, 10, 5, 2}

	total := 0
	for _, w := range weights {
		total += w
	}

	pick := g.faker.IntBetween(1, total)
	cumulative := 0
	for i, w := range weights {
		cumulative += w
		if pick <= cumulative {
			return statuses[i]
		}
	}
	return statuses[0]
}

func (g *Generator) logLevel() string {
	levels := []string{"info", "warn", "error"}
	weights := []int{70, 20, 10}

	pick := g.faker.IntBetween(1, 100)
	cumulative := 0
	for i, w := range weights {
		cumulative += w
		if pick <= cumulative {
			return levels[i]
		}
	}
	return levels[0]
}

func (g *Generator) errorLevel() string {
	levels := []string{"error", "warn", "notice"}
	return levels[g.faker.IntBetween(0, len(levels)-1)]
}
