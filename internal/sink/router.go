// Package sink implements the delivery side of the pipeline: consumers
// that drain a buffer and hand records downstream.
package sink

import (
	"fmt"
	"sync"
	"time"

	"github.com/telepipe/telepipe/pkg/event"
	"github.com/telepipe/telepipe/pkg/sink"
)

// Ensure implementations satisfy interfaces.
var (
	_ sink.Router         = (*TimeRouter)(nil)
	_ sink.RotationPolicy = (*CompositePolicy)(nil)
)

// TimeRouter implements Hive-style time partitioning for archive keys.
type TimeRouter struct {
	mu            sync.Mutex
	fileSequence  int    // Sequence counter for files closed in the same second
	lastTimestamp string // Last timestamp used for filename generation
}

// NewTimeRouter creates a new archive key router.
func NewTimeRouter() *TimeRouter {
	return &TimeRouter{}
}

// Route returns the object key for an archive file closed at the given
// Unix timestamp.
// Format: sinkName/dt=YYYYMMDD/hour=HH/events_YYYYMMDD_HHMMSS_NNN{ext}
// Partitioning uses the batch close time in UTC, so a reader can prune
// by day and hour without listing the full prefix.
func (r *TimeRouter) Route(sinkName string, timestamp int64, ext string) string {
	t := time.Unix(timestamp, 0).UTC()
	date := t.Format("20060102")
	hour := t.Format("15")
	stamp := t.Format("20060102_150405")

	// Increment sequence if same timestamp as last file
	r.mu.Lock()
	if stamp == r.lastTimestamp {
		r.fileSequence++
	} else {
		r.fileSequence = 1
		r.lastTimestamp = stamp
	}
	seq := r.fileSequence
	r.mu.Unlock()

	return fmt.Sprintf("%s/dt=%s/hour=%s/events_%s_%03d%s",
		sinkName,
		date,
		hour,
		stamp,
		seq,
		ext,
	)
}

// PolicyConfig configures rotation behavior.
type PolicyConfig struct {
	MaxBytes   int64
	MaxRecords int
	MaxAge     time.Duration
}

// CompositePolicy rotates based on multiple criteria.
type CompositePolicy struct {
	maxSizeBytes int64
	maxRecords   int
	maxDuration  time.Duration
}

// NewCompositePolicy creates a new composite rotation policy.
func NewCompositePolicy(config PolicyConfig) *CompositePolicy {
	return &CompositePolicy{
		maxSizeBytes: config.MaxBytes,
		maxRecords:   config.MaxRecords,
		maxDuration:  config.MaxAge,
	}
}

// ShouldRotate returns true if any rotation condition is met.
func (p *CompositePolicy) ShouldRotate(stats event.BatchStats) bool {
	// Size-based rotation
	if p.maxSizeBytes > 0 && stats.SizeBytes >= p.maxSizeBytes {
		return true
	}

	// Count-based rotation
	if p.maxRecords > 0 && stats.RecordCount >= p.maxRecords {
		return true
	}

	// Age-based rotation
	if p.maxDuration > 0 && !stats.FirstWriteTime.IsZero() {
		age := time.Since(stats.FirstWriteTime)
		if age >= p.maxDuration {
			return true
		}
	}

	return false
}
