// Package source defines interfaces for pipeline ingest.
//
// Sources produce telemetry payloads and hand them to the pipeline, which
// routes each payload into every configured sink buffer.
package source

import "context"

// EmitFunc delivers one payload into the pipeline. It blocks while the
// downstream buffers apply backpressure and returns the admission error
// when a payload is rejected.
type EmitFunc func(ctx context.Context, payload []byte) error

// Source produces telemetry payloads.
type Source interface {
	// Name returns the configured source name.
	Name() string

	// Run emits payloads via emit until ctx is canceled or the source is
	// exhausted. A nil return means clean exhaustion or cancellation.
	Run(ctx context.Context, emit EmitFunc) error

	// Close releases source resources.
	Close() error
}
