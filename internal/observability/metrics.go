package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/telepipe/telepipe/internal/buffer"
)

// Ensure the metrics satisfy the buffer instrumentation interface.
var _ buffer.MetricsCollector = (*Metrics)(nil)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Source metrics
	EventsGenerated *prometheus.CounterVec
	SourceRecords   *prometheus.CounterVec

	// Buffer metrics
	BufferEnqueues       *prometheus.CounterVec
	BufferEnqueueBytes   *prometheus.CounterVec
	BufferDequeues       *prometheus.CounterVec
	BufferAcks           *prometheus.CounterVec
	BufferDrops          *prometheus.CounterVec
	BufferSizeBytes      *prometheus.GaugeVec
	BufferRecordCount    *prometheus.GaugeVec
	BufferWatermark      *prometheus.GaugeVec
	BufferSegmentCount   *prometheus.GaugeVec
	BufferSegmentDeletes *prometheus.CounterVec
	BufferFlushDuration  *prometheus.HistogramVec

	// Sink metrics
	SinkDeliveries       *prometheus.CounterVec
	SinkDeliveryDuration *prometheus.HistogramVec
	ArchiveFilesWritten  *prometheus.CounterVec
	ArchiveFileSize      *prometheus.HistogramVec
	StorageErrors        *prometheus.CounterVec

	// Pipeline metrics
	RouteUp *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Source metrics
		EventsGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_generated_total",
				Help: "Total number of synthetic events generated",
			},
			[]string{"source", "format"},
		),
		SourceRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "source_records_total",
				Help: "Total number of records handled per source",
			},
			[]string{"source", "status"},
		),

		// Buffer metrics
		BufferEnqueues: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buffer_enqueued_total",
				Help: "Total number of records enqueued into buffers",
			},
			[]string{"buffer"},
		),
		BufferEnqueueBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buffer_enqueued_bytes_total",
				Help: "Total payload bytes enqueued into buffers",
			},
			[]string{"buffer"},
		),
		BufferDequeues: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buffer_dequeued_total",
				Help: "Total number of records dequeued from buffers",
			},
			[]string{"buffer"},
		),
		BufferAcks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buffer_acked_total",
				Help: "Total number of delivery acknowledgments",
			},
			[]string{"buffer"},
		),
		BufferDrops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buffer_dropped_total",
				Help: "Total number of records discarded by the drop_newest policy",
			},
			[]string{"buffer"},
		),
		BufferSizeBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "buffer_size_bytes",
				Help: "Current buffer size in bytes",
			},
			[]string{"buffer"},
		),
		BufferRecordCount: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "buffer_records",
				Help: "Current number of records in buffer",
			},
			[]string{"buffer"},
		),
		BufferWatermark: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "buffer_watermark",
				Help: "Highest contiguously acknowledged sequence number",
			},
			[]string{"buffer"},
		),
		BufferSegmentCount: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "buffer_segments",
				Help: "Current number of segment files in disk buffers",
			},
			[]string{"buffer"},
		),
		BufferSegmentDeletes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buffer_segments_deleted_total",
				Help: "Total number of fully acknowledged segment files deleted",
			},
			[]string{"buffer"},
		),
		BufferFlushDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "buffer_flush_duration_seconds",
				Help:    "Duration of disk buffer flush and sync operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"buffer"},
		),

		// Sink metrics
		SinkDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_deliveries_total",
				Help: "Total number of sink delivery attempts",
			},
			[]string{"sink", "status"},
		),
		SinkDeliveryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sink_delivery_duration_seconds",
				Help:    "Duration of sink delivery operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sink"},
		),
		ArchiveFilesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_files_written_total",
				Help: "Total number of archive files written and uploaded",
			},
			[]string{"sink", "format", "status"},
		),
		ArchiveFileSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archive_file_size_bytes",
				Help:    "Size of archive files written to storage",
				Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 10), // 1MB to 1GB
			},
			[]string{"sink", "format"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "error_type"},
		),

		// Pipeline metrics
		RouteUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_route_up",
				Help: "Whether a sink route is healthy (1) or failed (0)",
			},
			[]string{"route"},
		),
	}
}

// IncEventsGenerated increments the generated events counter.
func (m *Metrics) IncEventsGenerated(source, format string) {
	m.EventsGenerated.WithLabelValues(source, format).Inc()
}

// IncSourceRecords increments the per-source record counter.
func (m *Metrics) IncSourceRecords(source, status string) {
	m.SourceRecords.WithLabelValues(source, status).Inc()
}

// BufferEnqueued counts one enqueued record and its payload bytes.
func (m *Metrics) BufferEnqueued(buffer string, bytes int) {
	m.BufferEnqueues.WithLabelValues(buffer).Inc()
	m.BufferEnqueueBytes.WithLabelValues(buffer).Add(float64(bytes))
}

// BufferDequeued counts one dequeued record.
func (m *Metrics) BufferDequeued(buffer string) {
	m.BufferDequeues.WithLabelValues(buffer).Inc()
}

// BufferAcked counts one acknowledgment.
func (m *Metrics) BufferAcked(buffer string) {
	m.BufferAcks.WithLabelValues(buffer).Inc()
}

// BufferDropped counts one record discarded at capacity.
func (m *Metrics) BufferDropped(buffer string) {
	m.BufferDrops.WithLabelValues(buffer).Inc()
}

// BufferSegmentsDeleted counts reclaimed segment files.
func (m *Metrics) BufferSegmentsDeleted(buffer string, count int) {
	m.BufferSegmentDeletes.WithLabelValues(buffer).Add(float64(count))
}

// SetBufferUsage sets the buffer usage gauges.
func (m *Metrics) SetBufferUsage(buffer string, records int, sizeBytes int64) {
	m.BufferRecordCount.WithLabelValues(buffer).Set(float64(records))
	m.BufferSizeBytes.WithLabelValues(buffer).Set(float64(sizeBytes))
}

// SetBufferWatermark sets the acknowledgment watermark gauge.
func (m *Metrics) SetBufferWatermark(buffer string, watermark uint64) {
	m.BufferWatermark.WithLabelValues(buffer).Set(float64(watermark))
}

// SetBufferSegments sets the segment file count gauge.
func (m *Metrics) SetBufferSegments(buffer string, segments int) {
	m.BufferSegmentCount.WithLabelValues(buffer).Set(float64(segments))
}

// ObserveBufferFlush observes one flush duration.
func (m *Metrics) ObserveBufferFlush(buffer string, d time.Duration) {
	m.BufferFlushDuration.WithLabelValues(buffer).Observe(d.Seconds())
}

// IncSinkDeliveries increments the delivery attempts counter.
func (m *Metrics) IncSinkDeliveries(sink, status string) {
	m.SinkDeliveries.WithLabelValues(sink, status).Inc()
}

// ObserveSinkDeliveryDuration observes one delivery duration.
func (m *Metrics) ObserveSinkDeliveryDuration(sink string, duration float64) {
	m.SinkDeliveryDuration.WithLabelValues(sink).Observe(duration)
}

// IncArchiveFilesWritten increments the archive files counter.
func (m *Metrics) IncArchiveFilesWritten(sink, format, status string) {
	m.ArchiveFilesWritten.WithLabelValues(sink, format, status).Inc()
}

// ObserveArchiveFileSize observes the size of one archive file.
func (m *Metrics) ObserveArchiveFileSize(sink, format string, size float64) {
	m.ArchiveFileSize.WithLabelValues(sink, format).Observe(size)
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}

// SetRouteUp sets the route health gauge.
func (m *Metrics) SetRouteUp(route string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	m.RouteUp.WithLabelValues(route).Set(v)
}
