// Package codec implements the on-disk record frame.
//
// Frame layout:
//
//	[length: 4 bytes big-endian][checksum: 4 bytes big-endian][payload]
//
// The checksum is CRC-32C (Castagnoli) over the length field followed by the
// payload, so a damaged length field fails validation even when the payload
// bytes survive intact.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	// HeaderSize is the fixed frame header size in bytes.
	HeaderSize = 8

	// MaxPayloadBytes caps the payload length a header may claim. Lengths
	// beyond it are treated as frame damage rather than honored, which
	// keeps a corrupted header from driving a giant allocation.
	MaxPayloadBytes = 1 << 28
)

// Frame decode failure kinds. Callers classify with errors.Is.
var (
	// ErrTruncatedFrame reports a frame cut short by end of data,
	// the signature of an interrupted write.
	ErrTruncatedFrame = errors.New("truncated frame")

	// ErrChecksumMismatch reports a fully present frame whose checksum
	// does not validate.
	ErrChecksumMismatch = errors.New("frame checksum mismatch")

	// ErrFrameTooLarge reports a header claiming a payload length beyond
	// MaxPayloadBytes.
	ErrFrameTooLarge = errors.New("frame length exceeds limit")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// FrameError describes a frame that failed to decode.
type FrameError struct {
	// Kind is one of ErrTruncatedFrame, ErrChecksumMismatch,
	// ErrFrameTooLarge.
	Kind error

	// Claimed is the total frame size the header declared, including the
	// header itself. Zero when the header was cut short.
	Claimed int64
}

func (e *FrameError) Error() string {
	if e.Claimed > 0 {
		return fmt.Sprintf("%v (claimed %d bytes)", e.Kind, e.Claimed)
	}
	return e.Kind.Error()
}

func (e *FrameError) Unwrap() error {
	return e.Kind
}

// FrameSize returns the encoded size of a frame carrying payloadLen bytes.
func FrameSize(payloadLen int) int64 {
	return int64(HeaderSize + payloadLen)
}

// AppendFrame appends the encoded frame for payload to dst and returns the
// extended slice. It is the allocation-free form used on the write path.
func AppendFrame(dst []byte, payload []byte) []byte {
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(hdr[4:8], checksum(hdr[0:4], payload))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// EncodeFrame returns the encoded frame for payload.
func EncodeFrame(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, FrameSize(len(payload))), payload)
}

// ReadFrame decodes the next frame from r.
//
// On success it returns the payload and the number of bytes consumed.
// A clean end of data at a frame boundary returns io.EOF. Every other
// failure returns a *FrameError; ReadFrame never panics on malformed input.
func ReadFrame(r io.Reader) ([]byte, int64, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, 0, &FrameError{Kind: ErrTruncatedFrame}
		}
		return nil, 0, err
	}

	length := binary.BigEndian.Uint32(hdr[0:4])
	if length > MaxPayloadBytes {
		return nil, 0, &FrameError{Kind: ErrFrameTooLarge, Claimed: FrameSize(int(length))}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, &FrameError{Kind: ErrTruncatedFrame, Claimed: FrameSize(int(length))}
		}
		return nil, 0, err
	}

	want := binary.BigEndian.Uint32(hdr[4:8])
	if got := checksum(hdr[0:4], payload); got != want {
		return nil, 0, &FrameError{Kind: ErrChecksumMismatch, Claimed: FrameSize(int(length))}
	}

	return payload, FrameSize(int(length)), nil
}

func checksum(lengthField []byte, payload []byte) uint32 {
	crc := crc32.Update(0, castagnoli, lengthField)
	return crc32.Update(crc, castagnoli, payload)
}
