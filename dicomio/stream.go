package dicomio

import (
	"fmt"
	"io"
	"os"
)

// Stream is a seekable source whose total size is known. *bytes.Reader,
// *FileStream, *ChunkStream and *SegmentStream all satisfy it.
type Stream interface {
	io.ReadSeeker
	Size() int64
}

// NamedStream is a Stream backed by a file on disk. Only named streams
// allow large values to be left on disk as file segments.
type NamedStream interface {
	Stream
	Name() string
}

// Position returns the current offset of s.
func Position(s io.Seeker) (int64, error) {
	return s.Seek(0, io.SeekCurrent)
}

// Remaining returns the number of bytes between the current offset and the end of s.
func Remaining(s Stream) (int64, error) {
	pos, err := Position(s)
	if err != nil {
		return 0, err
	}
	return s.Size() - pos, nil
}

// FileStream is a read-only Stream over a file
type FileStream struct {
	f    *os.File
	size int64
}

// OpenFileStream opens path for reading
func OpenFileStream(path string) (*FileStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return &FileStream{f: f, size: info.Size()}, nil
}

// Name returns the file path.
func (s *FileStream) Name() string {
	return s.f.Name()
}

// Size returns the file size at open time.
func (s *FileStream) Size() int64 {
	return s.size
}

func (s *FileStream) Read(p []byte) (int, error) {
	return s.f.Read(p)
}

func (s *FileStream) Seek(offset int64, whence int) (int64, error) {
	return s.f.Seek(offset, whence)
}

// Close closes the underlying file.
func (s *FileStream) Close() error {
	return s.f.Close()
}
