// Package validator provides payload admission checks.
package validator

import (
	"fmt"

	"github.com/telepipe/telepipe/internal/errors"
	"github.com/telepipe/telepipe/pkg/event"
)

// PayloadValidator enforces the pipeline's record admission limits. Payloads
// are opaque to the pipeline, so admission looks only at their size.
type PayloadValidator struct {
	source   string
	maxBytes int
}

var _ event.Validator = (*PayloadValidator)(nil)

// NewPayloadValidator creates a validator for records emitted by source.
// A maxBytes of zero disables the size limit.
func NewPayloadValidator(source string, maxBytes int) *PayloadValidator {
	return &PayloadValidator{source: source, maxBytes: maxBytes}
}

// Validate checks whether a payload may be admitted into the pipeline.
func (v *PayloadValidator) Validate(payload []byte) error {
	if len(payload) == 0 {
		return &errors.ValidationError{
			Source: v.source,
			Reason: "empty payload",
		}
	}

	if v.maxBytes > 0 && len(payload) > v.maxBytes {
		return &errors.ValidationError{
			Source: v.source,
			Reason: fmt.Sprintf("payload of %d bytes exceeds limit of %d", len(payload), v.maxBytes),
		}
	}

	return nil
}
