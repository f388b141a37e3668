// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/telepipe/telepipe/pkg/buffer"
	"github.com/telepipe/telepipe/pkg/event"
)

// Sentinel errors for common conditions.
var (
	ErrSourceClosed   = errors.New("source is closed")
	ErrSinkClosed     = errors.New("sink is closed")
	ErrPipelineClosed = errors.New("pipeline is closed")
	ErrConnectionLost = errors.New("connection lost")
)

// CorruptionError represents unrecoverable damage in a buffer directory.
// It matches buffer.ErrCorrupted under errors.Is.
type CorruptionError struct {
	Dir     string
	Segment uint32
	Offset  int64
	Err     error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corruption: dir=%s segment=%d offset=%d: %v",
		e.Dir, e.Segment, e.Offset, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

func (e *CorruptionError) Is(target error) bool {
	return target == buffer.ErrCorrupted
}

// IOError represents a filesystem operation failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error: op=%s path=%s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// DeliveryError represents a failure delivering a record to a sink.
type DeliveryError struct {
	Sink     string
	Sequence event.SequenceNumber
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery error: sink=%s sequence=%d: %v",
		e.Sink, e.Sequence, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ValidationError represents a payload admission failure.
type ValidationError struct {
	Source string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: source=%s: %s", e.Source, e.Reason)
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// It first checks if the error implements the Retryable interface,
// then falls back to checking specific error types and sentinel errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Check if error implements Retryable interface
	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	// Check sentinel errors
	if errors.Is(err, ErrConnectionLost) {
		return true
	}

	return false
}

// IsRetryable determines if an IOError is retryable based on the operation
// type. Disk pressure from outside the configured budget clears on its own,
// so ENOSPC is always retried.
func (e *IOError) IsRetryable() bool {
	if errors.Is(e.Err, syscall.ENOSPC) {
		return true
	}
	return e.Op == "write" || e.Op == "flush" || e.Op == "sync" || e.Op == "create"
}

// IsRetryable determines if a DeliveryError is retryable.
func (e *DeliveryError) IsRetryable() bool {
	return IsRetryable(e.Err)
}

// IsRetryable reports corruption as permanent.
func (e *CorruptionError) IsRetryable() bool {
	return false
}
