package source

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/telepipe/telepipe/pkg/buffer"
)

// collectingEmit records every payload handed to the pipeline.
type collectingEmit struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *collectingEmit) emit(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *collectingEmit) collected() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payloads
}

type fakeSourceMetrics struct {
	mu        sync.Mutex
	generated int
	records   map[string]int
}

func (f *fakeSourceMetrics) IncEventsGenerated(source, format string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated++
}

func (f *fakeSourceMetrics) IncSourceRecords(source, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records == nil {
		f.records = make(map[string]int)
	}
	f.records[status]++
}

func TestNewGenerator_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     GeneratorConfig
		wantErr bool
	}{
		{
			name:    "apache common",
			cfg:     GeneratorConfig{Name: "gen", Format: FormatApacheCommon},
			wantErr: false,
		},
		{
			name:    "apache error",
			cfg:     GeneratorConfig{Name: "gen", Format: FormatApacheError},
			wantErr: false,
		},
		{
			name:    "syslog",
			cfg:     GeneratorConfig{Name: "gen", Format: FormatSyslog},
			wantErr: false,
		},
		{
			name:    "bsd syslog",
			cfg:     GeneratorConfig{Name: "gen", Format: FormatBSDSyslog},
			wantErr: false,
		},
		{
			name:    "json",
			cfg:     GeneratorConfig{Name: "gen", Format: FormatJSON},
			wantErr: false,
		},
		{
			name:    "shuffle with lines",
			cfg:     GeneratorConfig{Name: "gen", Format: FormatShuffle, Lines: []string{"a"}},
			wantErr: false,
		},
		{
			name:    "shuffle without lines",
			cfg:     GeneratorConfig{Name: "gen", Format: FormatShuffle},
			wantErr: true,
		},
		{
			name:    "unsupported format",
			cfg:     GeneratorConfig{Name: "gen", Format: "csv"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGenerator(tt.cfg, zap.NewNop(), nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewGenerator() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerator_CountBound(t *testing.T) {
	metrics := &fakeSourceMetrics{}
	gen, err := NewGenerator(GeneratorConfig{
		Name:   "bounded",
		Format: FormatApacheCommon,
		Count:  5,
	}, zap.NewNop(), metrics)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	collector := &collectingEmit{}
	if err := gen.Run(context.Background(), collector.emit); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	payloads := collector.collected()
	if len(payloads) != 5 {
		t.Errorf("emitted %d payloads, want 5", len(payloads))
	}
	if metrics.generated != 5 {
		t.Errorf("generated counter = %d, want 5", metrics.generated)
	}
}

func TestGenerator_ShuffleSequence(t *testing.T) {
	lines := []string{"the quick brown fox", "jumps over the lazy dog"}
	gen, err := NewGenerator(GeneratorConfig{
		Name:     "shuffle",
		Format:   FormatShuffle,
		Count:    4,
		Lines:    lines,
		Sequence: true,
	}, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	collector := &collectingEmit{}
	if err := gen.Run(context.Background(), collector.emit); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	payloads := collector.collected()
	if len(payloads) != 4 {
		t.Fatalf("emitted %d payloads, want 4", len(payloads))
	}

	for i, payload := range payloads {
		parts := strings.SplitN(string(payload), " ", 2)
		if len(parts) != 2 {
			t.Fatalf("payload %d = %q, want index prefix", i, payload)
		}
		if parts[0] != strconv.Itoa(i) {
			t.Errorf("payload %d index = %q, want %d", i, parts[0], i)
		}
		if parts[1] != lines[0] && parts[1] != lines[1] {
			t.Errorf("payload %d line = %q, not in configured lines", i, parts[1])
		}
	}
}

func TestGenerator_ShuffleWithoutSequence(t *testing.T) {
	lines := []string{"alpha", "beta", "gamma"}
	gen, err := NewGenerator(GeneratorConfig{
		Name:   "shuffle",
		Format: FormatShuffle,
		Count:  6,
		Lines:  lines,
	}, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	collector := &collectingEmit{}
	if err := gen.Run(context.Background(), collector.emit); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	valid := map[string]bool{"alpha": true, "beta": true, "gamma": true}
	for i, payload := range collector.collected() {
		if !valid[string(payload)] {
			t.Errorf("payload %d = %q, not one of the configured lines", i, payload)
		}
	}
}

func TestGenerator_JSONFormat(t *testing.T) {
	gen, err := NewGenerator(GeneratorConfig{
		Name:   "telemetry",
		Format: FormatJSON,
		Count:  1,
	}, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	collector := &collectingEmit{}
	if err := gen.Run(context.Background(), collector.emit); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	payloads := collector.collected()
	if len(payloads) != 1 {
		t.Fatalf("emitted %d payloads, want 1", len(payloads))
	}

	var envelope struct {
		SpecVersion string                 `json:"specversion"`
		ID          string                 `json:"id"`
		Type        string                 `json:"type"`
		Source      string                 `json:"source"`
		Data        map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(payloads[0], &envelope); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if envelope.SpecVersion != "1.0" {
		t.Errorf("specversion = %v, want 1.0", envelope.SpecVersion)
	}
	if envelope.ID == "" {
		t.Error("event id is empty")
	}
	if envelope.Type != EventTypeTelemetry {
		t.Errorf("type = %v, want %v", envelope.Type, EventTypeTelemetry)
	}
	if envelope.Source != "telemetry" {
		t.Errorf("source = %v, want telemetry", envelope.Source)
	}
	for _, field := range []string{"host", "service", "level", "message", "statusCode", "requestId"} {
		if _, ok := envelope.Data[field]; !ok {
			t.Errorf("data field %q missing", field)
		}
	}
}

func TestGenerator_LineFormats(t *testing.T) {
	tests := []struct {
		format string
		check  func(t *testing.T, line string)
	}{
		{
			format: FormatApacheCommon,
			check: func(t *testing.T, line string) {
				if !strings.Contains(line, " - ") || !strings.Contains(line, "HTTP/1.1\"") {
					t.Errorf("apache common line malformed: %q", line)
				}
			},
		},
		{
			format: FormatApacheError,
			check: func(t *testing.T, line string) {
				if !strings.HasPrefix(line, "[") || !strings.Contains(line, "[client ") {
					t.Errorf("apache error line malformed: %q", line)
				}
			},
		},
		{
			format: FormatSyslog,
			check: func(t *testing.T, line string) {
				if !strings.HasPrefix(line, "<") || !strings.Contains(line, ">1 ") {
					t.Errorf("syslog line malformed: %q", line)
				}
			},
		},
		{
			format: FormatBSDSyslog,
			check: func(t *testing.T, line string) {
				if !strings.HasPrefix(line, "<") || !strings.Contains(line, "]: ") {
					t.Errorf("bsd syslog line malformed: %q", line)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			gen, err := NewGenerator(GeneratorConfig{
				Name:   "lines",
				Format: tt.format,
				Count:  3,
			}, zap.NewNop(), nil)
			if err != nil {
				t.Fatalf("NewGenerator() error = %v", err)
			}

			collector := &collectingEmit{}
			if err := gen.Run(context.Background(), collector.emit); err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			for _, payload := range collector.collected() {
				tt.check(t, string(payload))
			}
		})
	}
}

func TestGenerator_ContextCancel(t *testing.T) {
	gen, err := NewGenerator(GeneratorConfig{
		Name:     "unbounded",
		Format:   FormatApacheCommon,
		Interval: 5 * time.Millisecond,
	}, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	collector := &collectingEmit{}
	go func() {
		done <- gen.Run(ctx, collector.emit)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancellation")
	}
}

func TestGenerator_StopsWhenDownstreamClosed(t *testing.T) {
	gen, err := NewGenerator(GeneratorConfig{
		Name:   "closing",
		Format: FormatApacheCommon,
	}, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	emit := func(ctx context.Context, payload []byte) error {
		return buffer.ErrClosed
	}

	done := make(chan error, 1)
	go func() {
		done <- gen.Run(context.Background(), emit)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil when downstream closes", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop when downstream closed")
	}
}

func TestGenerator_ContinuesPastRejection(t *testing.T) {
	gen, err := NewGenerator(GeneratorConfig{
		Name:   "rejections",
		Format: FormatApacheCommon,
		Count:  4,
	}, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	var attempts, accepted int
	emit := func(ctx context.Context, payload []byte) error {
		attempts++
		if attempts%2 == 0 {
			return errors.New("payload too large")
		}
		accepted++
		return nil
	}

	if err := gen.Run(context.Background(), emit); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}
	if accepted != 2 {
		t.Errorf("accepted = %d, want 2", accepted)
	}
}
