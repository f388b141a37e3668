// Package sink defines interfaces for pipeline delivery.
//
// A sink drains its buffer and acknowledges each record once it has been
// durably handed off downstream. Archive sinks additionally stage records
// into files, rotate them by policy and upload them through a backend.
package sink

import (
	"context"

	"github.com/telepipe/telepipe/pkg/buffer"
	"github.com/telepipe/telepipe/pkg/event"
)

// Sink delivers records drained from a buffer.
type Sink interface {
	// Name returns the configured sink name.
	Name() string

	// Run drains q until ctx is canceled, acknowledging each record after
	// durable delivery. It returns the terminal error that stopped the
	// drain, or nil on cancellation.
	Run(ctx context.Context, q buffer.Queue) error

	// Close flushes in-flight work and releases resources.
	Close() error
}

// RotationPolicy determines when a staged batch is closed for upload.
type RotationPolicy interface {
	// ShouldRotate returns true if the batch described by stats should be
	// encoded and uploaded now.
	ShouldRotate(stats event.BatchStats) bool
}

// Router determines object keys for uploaded archive files.
type Router interface {
	// Route returns the object key for an archive file closed at the
	// given Unix timestamp (seconds). ext includes the leading dot.
	Route(sinkName string, timestamp int64, ext string) string
}

// Uploader moves a staged archive file to its destination backend.
type Uploader interface {
	// Upload stores the file at localPath under key.
	// Returns the number of bytes uploaded.
	Upload(ctx context.Context, localPath string, key string) (int64, error)

	// Close closes the uploader and releases resources.
	Close() error
}
