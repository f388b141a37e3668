package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestEncodeFrame_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{
			name:    "empty payload",
			payload: []byte{},
		},
		{
			name:    "small payload",
			payload: []byte("hello"),
		},
		{
			name:    "json payload",
			payload: []byte(`{"message":"GET /index.html 200","host":"web-01"}`),
		},
		{
			name:    "binary payload",
			payload: []byte{0x00, 0xff, 0x7f, 0x80, 0x01},
		},
		{
			name:    "large payload",
			payload: bytes.Repeat([]byte("x"), 64*1024),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := EncodeFrame(tt.payload)

			if int64(len(frame)) != FrameSize(len(tt.payload)) {
				t.Errorf("frame length = %v, want %v", len(frame), FrameSize(len(tt.payload)))
			}

			payload, n, err := ReadFrame(bytes.NewReader(frame))
			if err != nil {
				t.Fatalf("ReadFrame() error = %v", err)
			}
			if n != int64(len(frame)) {
				t.Errorf("ReadFrame() n = %v, want %v", n, len(frame))
			}
			if !bytes.Equal(payload, tt.payload) {
				t.Errorf("ReadFrame() payload = %q, want %q", payload, tt.payload)
			}
		})
	}
}

func TestReadFrame_Sequential(t *testing.T) {
	payloads := [][]byte{
		[]byte("first"),
		[]byte("second"),
		[]byte("third"),
	}

	var buf []byte
	for _, p := range payloads {
		buf = AppendFrame(buf, p)
	}

	r := bytes.NewReader(buf)
	for i, want := range payloads {
		payload, _, err := ReadFrame(r)
		if err != nil {
			t.Fatalf("ReadFrame() #%d error = %v", i, err)
		}
		if !bytes.Equal(payload, want) {
			t.Errorf("ReadFrame() #%d = %q, want %q", i, payload, want)
		}
	}

	if _, _, err := ReadFrame(r); err != io.EOF {
		t.Errorf("ReadFrame() at end = %v, want io.EOF", err)
	}
}

func TestReadFrame_CleanEOF(t *testing.T) {
	if _, _, err := ReadFrame(bytes.NewReader(nil)); err != io.EOF {
		t.Errorf("ReadFrame() on empty input = %v, want io.EOF", err)
	}
}

func TestReadFrame_TruncatedHeader(t *testing.T) {
	frame := EncodeFrame([]byte("payload"))

	for cut := 1; cut < HeaderSize; cut++ {
		_, _, err := ReadFrame(bytes.NewReader(frame[:cut]))
		if !errors.Is(err, ErrTruncatedFrame) {
			t.Errorf("ReadFrame() with %d header bytes = %v, want ErrTruncatedFrame", cut, err)
		}

		var fe *FrameError
		if !errors.As(err, &fe) {
			t.Fatalf("ReadFrame() error type = %T, want *FrameError", err)
		}
		if fe.Claimed != 0 {
			t.Errorf("FrameError.Claimed = %v, want 0 for short header", fe.Claimed)
		}
	}
}

func TestReadFrame_TruncatedPayload(t *testing.T) {
	payload := []byte("some record payload")
	frame := EncodeFrame(payload)

	_, _, err := ReadFrame(bytes.NewReader(frame[:len(frame)-3]))
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("ReadFrame() = %v, want ErrTruncatedFrame", err)
	}

	var fe *FrameError
	if !errors.As(err, &fe) {
		t.Fatalf("ReadFrame() error type = %T, want *FrameError", err)
	}
	if fe.Claimed != FrameSize(len(payload)) {
		t.Errorf("FrameError.Claimed = %v, want %v", fe.Claimed, FrameSize(len(payload)))
	}
}

func TestReadFrame_ChecksumMismatch(t *testing.T) {
	frame := EncodeFrame([]byte("some record payload"))
	frame[HeaderSize+2] ^= 0x01

	_, _, err := ReadFrame(bytes.NewReader(frame))
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("ReadFrame() with flipped payload byte = %v, want ErrChecksumMismatch", err)
	}
}

func TestReadFrame_DamagedLengthField(t *testing.T) {
	payload := []byte("0123456789abcdef")
	frame := EncodeFrame(payload)

	// Shrink the claimed length. The frame stays fully readable but the
	// checksum covers the length field, so validation must fail.
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)-4))

	_, _, err := ReadFrame(bytes.NewReader(frame))
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("ReadFrame() with shrunk length = %v, want ErrChecksumMismatch", err)
	}

	// Grow the claimed length past the available bytes.
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)+100))

	_, _, err = ReadFrame(bytes.NewReader(frame))
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Errorf("ReadFrame() with grown length = %v, want ErrTruncatedFrame", err)
	}
}

func TestReadFrame_LengthBeyondLimit(t *testing.T) {
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], MaxPayloadBytes+1)

	_, _, err := ReadFrame(bytes.NewReader(hdr[:]))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("ReadFrame() = %v, want ErrFrameTooLarge", err)
	}

	var fe *FrameError
	if !errors.As(err, &fe) {
		t.Fatalf("ReadFrame() error type = %T, want *FrameError", err)
	}
	if fe.Claimed != FrameSize(MaxPayloadBytes+1) {
		t.Errorf("FrameError.Claimed = %v, want %v", fe.Claimed, FrameSize(MaxPayloadBytes+1))
	}
}

func TestReadFrame_MalformedInputNeverPanics(t *testing.T) {
	inputs := [][]byte{
		{0x00},
		{0xff, 0xff, 0xff, 0xff},
		{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		{0x00, 0x00, 0x00, 0x05, 0xde, 0xad, 0xbe, 0xef, 0x01, 0x02},
		bytes.Repeat([]byte{0xa5}, 100),
	}

	for i, in := range inputs {
		if _, _, err := ReadFrame(bytes.NewReader(in)); err == nil {
			t.Errorf("ReadFrame() input #%d: expected an error, got nil", i)
		}
	}
}

func TestReadFrame_ZeroFilledTail(t *testing.T) {
	// A zero-filled region decodes as a zero-length frame with checksum
	// zero, which must fail validation rather than yield empty records.
	zeros := make([]byte, 32)

	_, _, err := ReadFrame(bytes.NewReader(zeros))
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("ReadFrame() on zero fill = %v, want ErrChecksumMismatch", err)
	}
}

func TestFrameSize(t *testing.T) {
	tests := []struct {
		payloadLen int
		want       int64
	}{
		{payloadLen: 0, want: 8},
		{payloadLen: 1, want: 9},
		{payloadLen: 1024, want: 1032},
	}

	for _, tt := range tests {
		if got := FrameSize(tt.payloadLen); got != tt.want {
			t.Errorf("FrameSize(%d) = %v, want %v", tt.payloadLen, got, tt.want)
		}
	}
}

func BenchmarkAppendFrame(b *testing.B) {
	payload := bytes.Repeat([]byte("x"), 512)
	dst := make([]byte, 0, FrameSize(len(payload)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dst = AppendFrame(dst[:0], payload)
	}
}

func BenchmarkReadFrame(b *testing.B) {
	frame := EncodeFrame(bytes.Repeat([]byte("x"), 512))
	r := bytes.NewReader(frame)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Reset(frame)
		if _, _, err := ReadFrame(r); err != nil {
			b.Fatal(err)
		}
	}
}
