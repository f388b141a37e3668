package segment

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMeta_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	want := Meta{
		Watermark:    250,
		WriteSegment: 7,
		WriteOffset:  4096,
		Segments: []MetaSegment{
			{ID: 5, FirstSequence: 101},
			{ID: 6, FirstSequence: 180},
			{ID: 7, FirstSequence: 251},
		},
	}
	if err := SaveMeta(dir, want); err != nil {
		t.Fatalf("SaveMeta() error = %v", err)
	}

	got, err := LoadMeta(dir)
	if err != nil {
		t.Fatalf("LoadMeta() error = %v", err)
	}

	if got.Version != MetaVersion {
		t.Errorf("Version = %v, want %v", got.Version, MetaVersion)
	}
	if got.Watermark != want.Watermark {
		t.Errorf("Watermark = %v, want %v", got.Watermark, want.Watermark)
	}
	if got.WriteSegment != want.WriteSegment {
		t.Errorf("WriteSegment = %v, want %v", got.WriteSegment, want.WriteSegment)
	}
	if got.WriteOffset != want.WriteOffset {
		t.Errorf("WriteOffset = %v, want %v", got.WriteOffset, want.WriteOffset)
	}
	if len(got.Segments) != len(want.Segments) {
		t.Fatalf("len(Segments) = %v, want %v", len(got.Segments), len(want.Segments))
	}
	for i := range want.Segments {
		if got.Segments[i] != want.Segments[i] {
			t.Errorf("Segments[%d] = %+v, want %+v", i, got.Segments[i], want.Segments[i])
		}
	}
}

func TestMeta_FirstSequenceOf(t *testing.T) {
	m := Meta{Segments: []MetaSegment{
		{ID: 3, FirstSequence: 10},
		{ID: 4, FirstSequence: 42},
	}}

	if first, ok := m.FirstSequenceOf(4); !ok || first != 42 {
		t.Errorf("FirstSequenceOf(4) = %v, %v, want 42, true", first, ok)
	}
	if _, ok := m.FirstSequenceOf(9); ok {
		t.Error("FirstSequenceOf(9) ok = true, want false")
	}
}

func TestMeta_Overwrite(t *testing.T) {
	dir := t.TempDir()

	if err := SaveMeta(dir, Meta{Watermark: 1}); err != nil {
		t.Fatalf("SaveMeta() error = %v", err)
	}
	if err := SaveMeta(dir, Meta{Watermark: 2}); err != nil {
		t.Fatalf("second SaveMeta() error = %v", err)
	}

	got, err := LoadMeta(dir)
	if err != nil {
		t.Fatalf("LoadMeta() error = %v", err)
	}
	if got.Watermark != 2 {
		t.Errorf("Watermark = %v, want 2", got.Watermark)
	}
}

func TestMeta_Missing(t *testing.T) {
	_, err := LoadMeta(t.TempDir())
	if !errors.Is(err, ErrNoMeta) {
		t.Errorf("LoadMeta() on empty dir = %v, want ErrNoMeta", err)
	}
}

func TestMeta_Garbage(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, metaFileName), []byte("not cbor at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadMeta(dir)
	if !errors.Is(err, ErrNoMeta) {
		t.Errorf("LoadMeta() on garbage = %v, want ErrNoMeta", err)
	}
}

func TestMeta_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	if err := SaveMeta(dir, Meta{Watermark: 9}); err != nil {
		t.Fatalf("SaveMeta() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, metaFileName+".tmp")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file still present after SaveMeta: %v", err)
	}
}
