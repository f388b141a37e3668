package validator

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	apperrors "github.com/telepipe/telepipe/internal/errors"
)

func TestNewPayloadValidator(t *testing.T) {
	validator := NewPayloadValidator("gen", 1024)
	if validator == nil {
		t.Fatal("expected non-nil validator")
	}
}

func TestPayloadValidator_Validate(t *testing.T) {
	tests := []struct {
		name     string
		maxBytes int
		payload  []byte
		wantErr  bool
	}{
		{
			name:     "payload within limit",
			maxBytes: 64,
			payload:  []byte(`{"message":"GET /index.html 200"}`),
			wantErr:  false,
		},
		{
			name:     "payload at limit",
			maxBytes: 8,
			payload:  bytes.Repeat([]byte("x"), 8),
			wantErr:  false,
		},
		{
			name:     "payload over limit",
			maxBytes: 8,
			payload:  bytes.Repeat([]byte("x"), 9),
			wantErr:  true,
		},
		{
			name:     "empty payload",
			maxBytes: 64,
			payload:  nil,
			wantErr:  true,
		},
		{
			name:     "zero limit disables size check",
			maxBytes: 0,
			payload:  bytes.Repeat([]byte("x"), 1<<20),
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := NewPayloadValidator("gen", tt.maxBytes)
			err := validator.Validate(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPayloadValidator_ErrorCarriesSource(t *testing.T) {
	validator := NewPayloadValidator("access-logs", 4)

	err := validator.Validate([]byte("too large"))
	if err == nil {
		t.Fatal("Validate() error = nil, want error")
	}

	var verr *apperrors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *errors.ValidationError", err)
	}
	if verr.Source != "access-logs" {
		t.Errorf("Source = %s, want access-logs", verr.Source)
	}
	if !strings.Contains(verr.Reason, "exceeds limit") {
		t.Errorf("Reason = %q, want size limit message", verr.Reason)
	}
}
