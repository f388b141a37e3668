package segment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	apperrors "github.com/telepipe/telepipe/internal/errors"
)

const (
	// MetaVersion is the current meta file layout version.
	MetaVersion = 1

	metaFileName = "buffer.meta"
)

// ErrNoMeta reports a missing or unreadable meta file. The queue falls back
// to a full replay: every retained record is renumbered from one and
// redelivered, which at-least-once delivery permits.
var ErrNoMeta = errors.New("meta file missing or unreadable")

// Meta is the queue state persisted next to the segment files. The write
// cursor fields are hints: replay during recovery is authoritative and wins
// on mismatch. Segments anchors sequence numbering: each entry records the
// sequence of the first record a segment holds, so recovery can renumber the
// retained records even when older segments were deleted since the last save.
type Meta struct {
	Version      uint32        `cbor:"version"`
	Watermark    uint64        `cbor:"watermark"`
	WriteSegment uint32        `cbor:"write_segment"`
	WriteOffset  int64         `cbor:"write_offset"`
	Segments     []MetaSegment `cbor:"segments"`
}

// MetaSegment anchors one segment file to the sequence of its first record.
// For an empty open segment FirstSequence is the sequence its first record
// would receive.
type MetaSegment struct {
	ID            uint32 `cbor:"id"`
	FirstSequence uint64 `cbor:"first_seq"`
}

// FirstSequenceOf returns the recorded first sequence for segment id.
func (m Meta) FirstSequenceOf(id uint32) (uint64, bool) {
	for _, s := range m.Segments {
		if s.ID == id {
			return s.FirstSequence, true
		}
	}
	return 0, false
}

// LoadMeta reads the meta file from dir. A missing file, undecodable
// content or an unknown version returns ErrNoMeta.
func LoadMeta(dir string) (Meta, error) {
	path := filepath.Join(dir, metaFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Meta{}, ErrNoMeta
		}
		return Meta{}, &apperrors.IOError{Op: "read", Path: path, Err: err}
	}

	var m Meta
	if err := cbor.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("%w: %v", ErrNoMeta, err)
	}
	if m.Version != MetaVersion {
		return Meta{}, fmt.Errorf("%w: unknown version %d", ErrNoMeta, m.Version)
	}
	return m, nil
}

// SaveMeta atomically replaces the meta file in dir.
func SaveMeta(dir string, m Meta) error {
	m.Version = MetaVersion
	data, err := cbor.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}

	path := filepath.Join(dir, metaFileName)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &apperrors.IOError{Op: "create", Path: tmp, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return &apperrors.IOError{Op: "write", Path: tmp, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return &apperrors.IOError{Op: "sync", Path: tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &apperrors.IOError{Op: "close", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &apperrors.IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
