// Package segment implements the capped append-only files that back the
// disk buffer.
//
// A store owns one directory. Frames are appended to the newest segment,
// sealed segments are read-only, and segments whose records are all
// acknowledged are removed by the queue above. Appends become visible to
// the reader only after an explicit Flush, so the flushed region of every
// segment always ends on a frame boundary.
package segment

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/telepipe/telepipe/internal/codec"
	apperrors "github.com/telepipe/telepipe/internal/errors"
	"github.com/telepipe/telepipe/pkg/buffer"
)

const (
	// DefaultMaxSegmentBytes caps segment files when no cap is configured.
	DefaultMaxSegmentBytes = 128 << 20

	segmentSuffix   = ".seg"
	writeBufferSize = 64 << 10
	readBufferSize  = 64 << 10
)

// ErrEndOfData reports a read position at the end of the flushed data.
// More data may arrive; the caller decides whether to wait.
var ErrEndOfData = errors.New("end of flushed data")

// Position addresses a frame within a store.
type Position struct {
	Segment uint32
	Offset  int64
}

// Compare orders positions lexically by (segment, offset).
func (p Position) Compare(q Position) int {
	switch {
	case p.Segment < q.Segment:
		return -1
	case p.Segment > q.Segment:
		return 1
	case p.Offset < q.Offset:
		return -1
	case p.Offset > q.Offset:
		return 1
	}
	return 0
}

// Stats describes one segment file.
type Stats struct {
	ID      uint32
	Size    int64
	Records int64
	Sealed  bool
}

// Config holds segment store settings.
type Config struct {
	Dir             string
	MaxSegmentBytes int64
}

type segmentInfo struct {
	id      uint32
	size    int64
	records int64
}

type readState struct {
	valid bool
	seg   uint32
	off   int64
	file  *os.File
	buf   *bufio.Reader
}

// Store manages the segment files of one buffer directory. It supports one
// concurrent writer and one concurrent reader.
type Store struct {
	dir             string
	maxSegmentBytes int64
	logger          *zap.Logger

	mu       sync.Mutex
	segments map[uint32]*segmentInfo
	order    []uint32
	openID   uint32
	file     *os.File
	w        *bufio.Writer
	writeOff int64
	flushed  int64
	frame    []byte
	closed   bool

	rdMu sync.Mutex
	rd   readState
}

// Open opens the store directory, creating it if needed, and runs recovery
// over any existing segments. An interrupted write at the tail of the
// newest segment is truncated away; damage anywhere else fails with a
// corruption error.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBytes := cfg.MaxSegmentBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSegmentBytes
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, &apperrors.IOError{Op: "create", Path: cfg.Dir, Err: err}
	}

	s := &Store{
		dir:             cfg.Dir,
		maxSegmentBytes: maxBytes,
		logger:          logger,
		segments:        make(map[uint32]*segmentInfo),
	}

	ids, err := s.listSegmentIDs()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		if err := s.createSegment(1); err != nil {
			return nil, err
		}
		return s, nil
	}

	var totalRecords, totalBytes int64
	for i, id := range ids {
		info, err := s.recoverSegment(id, i == len(ids)-1)
		if err != nil {
			return nil, err
		}
		s.segments[id] = info
		s.order = append(s.order, id)
		totalRecords += info.records
		totalBytes += info.size
	}

	openID := ids[len(ids)-1]
	path := s.segmentPath(openID)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &apperrors.IOError{Op: "open", Path: path, Err: err}
	}
	s.openID = openID
	s.file = f
	s.w = bufio.NewWriterSize(f, writeBufferSize)
	s.writeOff = s.segments[openID].size
	s.flushed = s.writeOff

	logger.Info("segment store recovered",
		zap.String("dir", s.dir),
		zap.Int("segments", len(ids)),
		zap.Int64("records", totalRecords),
		zap.Int64("bytes", totalBytes))

	return s, nil
}

// recoverSegment replays one segment file and returns its validated extent.
// For the newest segment a failing frame whose claimed extent reaches end
// of file is an interrupted write: the file is truncated to the last valid
// frame boundary.
func (s *Store) recoverSegment(id uint32, newest bool) (*segmentInfo, error) {
	path := s.segmentPath(id)
	f, err := os.Open(path)
	if err != nil {
		return nil, &apperrors.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, &apperrors.IOError{Op: "stat", Path: path, Err: err}
	}
	size := fi.Size()

	br := bufio.NewReaderSize(f, readBufferSize)
	var off, records int64
	for {
		_, n, err := codec.ReadFrame(br)
		if err == io.EOF {
			break
		}
		var fe *codec.FrameError
		if errors.As(err, &fe) {
			trailing := newest &&
				(errors.Is(fe.Kind, codec.ErrTruncatedFrame) || off+fe.Claimed >= size)
			if !trailing {
				return nil, &apperrors.CorruptionError{Dir: s.dir, Segment: id, Offset: off, Err: err}
			}
			s.logger.Warn("truncating interrupted write",
				zap.String("path", path),
				zap.Int64("valid_bytes", off),
				zap.Int64("discarded_bytes", size-off))
			if terr := os.Truncate(path, off); terr != nil {
				return nil, &apperrors.IOError{Op: "truncate", Path: path, Err: terr}
			}
			break
		}
		if err != nil {
			return nil, &apperrors.IOError{Op: "read", Path: path, Err: err}
		}
		off += n
		records++
	}

	return &segmentInfo{id: id, size: off, records: records}, nil
}

// Append writes one frame for payload and returns the position where it
// begins. When the frame would push the open segment past its cap, the
// segment is sealed first and the frame starts a new one. The write is
// buffered; it is not readable until Flush nor durable until Sync.
func (s *Store) Append(payload []byte) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Position{}, buffer.ErrClosed
	}

	fsize := codec.FrameSize(len(payload))
	if s.writeOff > 0 && s.writeOff+fsize > s.maxSegmentBytes {
		if err := s.seal(); err != nil {
			return Position{}, err
		}
		if err := s.createSegment(s.openID + 1); err != nil {
			return Position{}, err
		}
	}

	s.frame = codec.AppendFrame(s.frame[:0], payload)
	if _, err := s.w.Write(s.frame); err != nil {
		return Position{}, &apperrors.IOError{Op: "write", Path: s.segmentPath(s.openID), Err: err}
	}

	pos := Position{Segment: s.openID, Offset: s.writeOff}
	s.writeOff += fsize
	info := s.segments[s.openID]
	info.size = s.writeOff
	info.records++
	return pos, nil
}

// Flush makes buffered appends visible to the reader.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return buffer.ErrClosed
	}
	return s.flushLocked()
}

// Sync flushes and then fsyncs the open segment.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return buffer.ErrClosed
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return &apperrors.IOError{Op: "sync", Path: s.segmentPath(s.openID), Err: err}
	}
	return nil
}

func (s *Store) flushLocked() error {
	if err := s.w.Flush(); err != nil {
		return &apperrors.IOError{Op: "flush", Path: s.segmentPath(s.openID), Err: err}
	}
	s.flushed = s.writeOff
	return nil
}

// seal flushes, fsyncs and closes the open segment. Callers hold mu.
func (s *Store) seal() error {
	if err := s.flushLocked(); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return &apperrors.IOError{Op: "sync", Path: s.segmentPath(s.openID), Err: err}
	}
	if err := s.file.Close(); err != nil {
		return &apperrors.IOError{Op: "close", Path: s.segmentPath(s.openID), Err: err}
	}
	s.file = nil
	s.w = nil
	return nil
}

// createSegment creates and opens a new segment file. Callers hold mu.
func (s *Store) createSegment(id uint32) error {
	path := s.segmentPath(id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return &apperrors.IOError{Op: "create", Path: path, Err: err}
	}
	if err := s.syncDir(); err != nil {
		f.Close()
		return err
	}

	s.openID = id
	s.file = f
	s.w = bufio.NewWriterSize(f, writeBufferSize)
	s.writeOff = 0
	s.flushed = 0
	s.segments[id] = &segmentInfo{id: id}
	s.order = append(s.order, id)
	return nil
}

// ReadAt reads the frame at pos and returns its payload and the position of
// the frame after it. Positions in removed segments resolve to the next
// retained segment. ErrEndOfData reports that pos is at the end of the
// flushed data.
//
// Reads are sequential: pos must be a frame boundary previously returned by
// ReadAt or Append, or the zero offset of a segment.
func (s *Store) ReadAt(pos Position) ([]byte, Position, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, pos, buffer.ErrClosed
		}
		idx := sort.Search(len(s.order), func(i int) bool { return s.order[i] >= pos.Segment })
		if idx == len(s.order) {
			s.mu.Unlock()
			return nil, pos, ErrEndOfData
		}
		id := s.order[idx]
		if id > pos.Segment {
			pos = Position{Segment: id}
		}
		limit := s.segments[id].size
		isOpen := id == s.openID
		if isOpen {
			limit = s.flushed
		}
		if pos.Offset < limit {
			s.mu.Unlock()
			payload, n, err := s.readFrameAt(id, pos.Offset)
			if err != nil {
				return nil, pos, err
			}
			return payload, Position{Segment: id, Offset: pos.Offset + n}, nil
		}
		if isOpen {
			s.mu.Unlock()
			return nil, pos, ErrEndOfData
		}
		pos = Position{Segment: s.order[idx+1]}
		s.mu.Unlock()
	}
}

// readFrameAt reads one frame from the cached read handle, repositioning it
// when pos does not continue the previous read.
func (s *Store) readFrameAt(id uint32, off int64) ([]byte, int64, error) {
	s.rdMu.Lock()
	defer s.rdMu.Unlock()

	if !s.rd.valid || s.rd.seg != id || s.rd.off != off {
		s.invalidateReaderLocked()
		path := s.segmentPath(id)
		f, err := os.Open(path)
		if err != nil {
			return nil, 0, &apperrors.IOError{Op: "open", Path: path, Err: err}
		}
		if _, err := f.Seek(off, io.SeekStart); err != nil {
			f.Close()
			return nil, 0, &apperrors.IOError{Op: "seek", Path: path, Err: err}
		}
		s.rd = readState{
			valid: true,
			seg:   id,
			off:   off,
			file:  f,
			buf:   bufio.NewReaderSize(f, readBufferSize),
		}
	}

	payload, n, err := codec.ReadFrame(s.rd.buf)
	if err != nil {
		s.invalidateReaderLocked()
		var fe *codec.FrameError
		if errors.As(err, &fe) || err == io.EOF {
			// The flushed region always ends on a frame boundary, so any
			// decode failure here is damage, not an in-progress write.
			return nil, 0, &apperrors.CorruptionError{Dir: s.dir, Segment: id, Offset: off, Err: err}
		}
		return nil, 0, &apperrors.IOError{Op: "read", Path: s.segmentPath(id), Err: err}
	}
	s.rd.off += n
	return payload, n, nil
}

func (s *Store) invalidateReaderLocked() {
	if s.rd.file != nil {
		s.rd.file.Close()
	}
	s.rd = readState{}
}

// Remove deletes a sealed segment file. It is idempotent: removing a
// segment whose file is already gone logs a warning and succeeds.
func (s *Store) Remove(id uint32) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return buffer.ErrClosed
	}
	if id == s.openID {
		s.mu.Unlock()
		return &apperrors.IOError{Op: "remove", Path: s.segmentPath(id),
			Err: errors.New("segment is open for writing")}
	}
	if _, ok := s.segments[id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.segments, id)
	idx := sort.Search(len(s.order), func(i int) bool { return s.order[i] >= id })
	s.order = append(s.order[:idx], s.order[idx+1:]...)
	s.mu.Unlock()

	s.rdMu.Lock()
	if s.rd.valid && s.rd.seg == id {
		s.invalidateReaderLocked()
	}
	s.rdMu.Unlock()

	path := s.segmentPath(id)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("segment file already removed", zap.String("path", path))
			return nil
		}
		return &apperrors.IOError{Op: "remove", Path: path, Err: err}
	}
	return s.syncDir()
}

// Segments returns a snapshot of the retained segments in id order.
func (s *Store) Segments() []Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Stats, 0, len(s.order))
	for _, id := range s.order {
		info := s.segments[id]
		out = append(out, Stats{
			ID:      info.id,
			Size:    info.size,
			Records: info.records,
			Sealed:  id != s.openID,
		})
	}
	return out
}

// WritePosition returns the position the next Append will write to.
func (s *Store) WritePosition() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Position{Segment: s.openID, Offset: s.writeOff}
}

// TotalBytes returns the byte footprint of all retained segments, buffered
// appends included.
func (s *Store) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, info := range s.segments {
		total += info.size
	}
	return total
}

// TotalRecords returns the record count across all retained segments.
func (s *Store) TotalRecords() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, info := range s.segments {
		total += info.records
	}
	return total
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close flushes and fsyncs the open segment and releases all handles.
// Retained segment files stay on disk for the next Open.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var firstErr error
	if s.w != nil {
		if err := s.w.Flush(); err != nil && firstErr == nil {
			firstErr = &apperrors.IOError{Op: "flush", Path: s.segmentPath(s.openID), Err: err}
		}
	}
	if s.file != nil {
		if err := s.file.Sync(); err != nil && firstErr == nil {
			firstErr = &apperrors.IOError{Op: "sync", Path: s.segmentPath(s.openID), Err: err}
		}
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = &apperrors.IOError{Op: "close", Path: s.segmentPath(s.openID), Err: err}
		}
		s.file = nil
		s.w = nil
	}
	s.mu.Unlock()

	s.rdMu.Lock()
	s.invalidateReaderLocked()
	s.rdMu.Unlock()

	return firstErr
}

func (s *Store) segmentPath(id uint32) string {
	return filepath.Join(s.dir, fmt.Sprintf("%09d%s", id, segmentSuffix))
}

func (s *Store) listSegmentIDs() ([]uint32, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &apperrors.IOError{Op: "read", Path: s.dir, Err: err}
	}

	ids := make([]uint32, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(name, segmentSuffix), 10, 32)
		if err != nil {
			s.logger.Warn("ignoring unrecognized file in buffer directory",
				zap.String("name", name))
			continue
		}
		ids = append(ids, uint32(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) syncDir() error {
	d, err := os.Open(s.dir)
	if err != nil {
		return &apperrors.IOError{Op: "open", Path: s.dir, Err: err}
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return &apperrors.IOError{Op: "sync", Path: s.dir, Err: err}
	}
	return nil
}
