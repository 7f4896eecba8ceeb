package dicomio

import (
	"fmt"
	"io"

	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
)

// SegmentStream is a read-only window [start, start+length) over a parent stream.
type SegmentStream struct {
	parent io.ReadSeeker
	start  int64
	length int64
	pos    int64
}

// NewSegmentStream creates a window over parent
func NewSegmentStream(parent io.ReadSeeker, start, length int64) *SegmentStream {
	return &SegmentStream{parent: parent, start: start, length: length}
}

// Size returns the window length.
func (s *SegmentStream) Size() int64 {
	return s.length
}

// Read never returns bytes beyond the end of the window.
func (s *SegmentStream) Read(p []byte) (int, error) {
	if s.pos >= s.length {
		return 0, io.EOF
	}
	if remain := s.length - s.pos; int64(len(p)) > remain {
		p = p[:remain]
	}
	if _, err := s.parent.Seek(s.start+s.pos, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to position parent stream: %w", err)
	}
	n, err := s.parent.Read(p)
	s.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Seek moves inside the window. Unlike ChunkStream it rejects positions
// outside the window instead of clamping them.
func (s *SegmentStream) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.pos + offset
	case io.SeekEnd:
		abs = s.length + offset
	default:
		return s.pos, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 || abs > s.length {
		return s.pos, fmt.Errorf("seek to %d outside segment of %d bytes: %w", abs, s.length, dcmerrors.ErrOutOfRange)
	}
	s.pos = abs
	return abs, nil
}

// Write always fails; the stream is read-only.
func (s *SegmentStream) Write(p []byte) (int, error) {
	return 0, dcmerrors.ErrUnsupportedOperation
}
