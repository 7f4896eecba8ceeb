package dicomio

import (
	"fmt"
	"io"
	"os"
)

const segmentCopyBufferSize = 64 * 1024

// FileSegment references length bytes of a file starting at offset. Values
// left on disk by the reader are described by a FileSegment until they are
// materialized.
type FileSegment struct {
	Path   string
	Offset int64
	Length int64
}

// NewFileSegment creates a segment descriptor
func NewFileSegment(path string, offset, length int64) *FileSegment {
	return &FileSegment{Path: path, Offset: offset, Length: length}
}

// GetData reads the whole segment into memory.
func (s *FileSegment) GetData() ([]byte, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file: %w", err)
	}
	defer f.Close()

	data := make([]byte, s.Length)
	if _, err := f.ReadAt(data, s.Offset); err != nil {
		return nil, fmt.Errorf("failed to read %d bytes at offset %d of %s: %w", s.Length, s.Offset, s.Path, err)
	}
	return data, nil
}

// WriteTo copies the segment to w through a fixed size buffer.
func (s *FileSegment) WriteTo(w io.Writer) (int64, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to open segment file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, segmentCopyBufferSize)
	n, err := io.CopyBuffer(w, io.NewSectionReader(f, s.Offset, s.Length), buf)
	if err != nil {
		return n, fmt.Errorf("failed to copy segment: %w", err)
	}
	if n != s.Length {
		return n, fmt.Errorf("segment truncated: copied %d of %d bytes: %w", n, s.Length, io.ErrUnexpectedEOF)
	}
	return n, nil
}

// OpenStream opens the backing file positioned at the segment start. The
// caller owns the returned file and must not read past Length bytes.
func (s *FileSegment) OpenStream() (*os.File, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file: %w", err)
	}
	if _, err := f.Seek(s.Offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek segment file: %w", err)
	}
	return f, nil
}
