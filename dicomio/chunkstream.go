package dicomio

import (
	"fmt"
	"io"

	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
)

// ChunkStream presents an ordered list of byte chunks as one read-only
// seekable stream. Chunks can be appended while the stream is being read,
// which is how P-DATA fragments are handed to the dataset reader as they
// arrive.
type ChunkStream struct {
	chunks [][]byte
	size   int64
	pos    int64
	chunk  int
	offset int
}

// NewChunkStream creates an empty stream
func NewChunkStream() *ChunkStream {
	return &ChunkStream{}
}

// AddChunk appends b to the end of the stream. The slice is retained, not copied.
func (s *ChunkStream) AddChunk(b []byte) {
	if len(b) == 0 {
		return
	}
	s.chunks = append(s.chunks, b)
	s.size += int64(len(b))
}

// Size returns the total number of bytes received so far.
func (s *ChunkStream) Size() int64 {
	return s.size
}

// Chunks returns the number of chunks held.
func (s *ChunkStream) Chunks() int {
	return len(s.chunks)
}

// Bytes returns the concatenated content of every chunk.
func (s *ChunkStream) Bytes() []byte {
	out := make([]byte, 0, s.size)
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}

func (s *ChunkStream) Read(p []byte) (int, error) {
	if s.pos >= s.size {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && s.chunk < len(s.chunks) {
		c := s.chunks[s.chunk]
		copied := copy(p[n:], c[s.offset:])
		n += copied
		s.offset += copied
		if s.offset >= len(c) {
			s.chunk++
			s.offset = 0
		}
	}
	s.pos += int64(n)
	return n, nil
}

// Seek moves the cursor, clamping the result to [0, Size()].
func (s *ChunkStream) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.pos + offset
	case io.SeekEnd:
		abs = s.size + offset
	default:
		return s.pos, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		abs = 0
	}
	if abs > s.size {
		abs = s.size
	}

	s.chunk, s.offset = 0, 0
	remain := abs
	for s.chunk < len(s.chunks) && remain >= int64(len(s.chunks[s.chunk])) {
		remain -= int64(len(s.chunks[s.chunk]))
		s.chunk++
	}
	s.offset = int(remain)
	s.pos = abs
	return abs, nil
}

// Write always fails; the stream is read-only.
func (s *ChunkStream) Write(p []byte) (int, error) {
	return 0, dcmerrors.ErrUnsupportedOperation
}
