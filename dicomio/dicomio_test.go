package dicomio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
)

func TestSwap_Idempotent(t *testing.T) {
	original := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10}

	tests := []struct {
		name string
		swap func([]byte)
		want []byte
	}{
		{"Swap2", Swap2, []byte{0x02, 0x01, 0x04, 0x03}},
		{"Swap4", Swap4, []byte{0x04, 0x03, 0x02, 0x01}},
		{"Swap8", Swap8, []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := append([]byte(nil), original...)
			tt.swap(b)
			assert.Equal(t, tt.want, b[:len(tt.want)])
			tt.swap(b)
			assert.Equal(t, original, b)
		})
	}
}

func TestReaderWriter_ByteOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, binary.BigEndian)
	require.NoError(t, w.WriteUint16(0x0102))
	w.SetByteOrder(binary.LittleEndian)
	require.NoError(t, w.WriteUint32(0x03040506))
	require.NoError(t, w.WriteZeros(2))
	require.NoError(t, w.WriteString("AB"))
	assert.Equal(t, int64(10), w.Written())
	assert.Equal(t, []byte{0x01, 0x02, 0x06, 0x05, 0x04, 0x03, 0x00, 0x00, 'A', 'B'}, buf.Bytes())

	r := NewReader(bytes.NewReader(buf.Bytes()), binary.BigEndian)
	v16, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), v16)
	r.SetByteOrder(binary.LittleEndian)
	v32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x03040506), v32)
	require.NoError(t, r.Skip(2))
	s, err := r.ReadString(2)
	require.NoError(t, err)
	assert.Equal(t, "AB", s)

	_, err = r.ReadUint16()
	assert.ErrorIs(t, err, io.EOF)
}

func TestChunkStream_ReadAcrossChunks(t *testing.T) {
	s := NewChunkStream()
	s.AddChunk([]byte("abc"))
	s.AddChunk([]byte("de"))
	s.AddChunk(nil)
	s.AddChunk([]byte("fghij"))

	assert.Equal(t, int64(10), s.Size())
	assert.Equal(t, 3, s.Chunks())

	got := make([]byte, 4)
	n, err := io.ReadFull(s, got)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd", string(got))

	rest, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "efghij", string(rest))
}

func TestChunkStream_SeekClamps(t *testing.T) {
	s := NewChunkStream()
	s.AddChunk([]byte("0123"))
	s.AddChunk([]byte("4567"))

	pos, err := s.Seek(6, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)
	b := make([]byte, 1)
	_, err = s.Read(b)
	require.NoError(t, err)
	assert.Equal(t, "6", string(b))

	pos, err = s.Seek(-100, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)

	pos, err = s.Seek(100, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(8), pos)

	_, err = s.Read(b)
	assert.ErrorIs(t, err, io.EOF)

	s.AddChunk([]byte("89"))
	_, err = s.Read(b)
	require.NoError(t, err)
	assert.Equal(t, "8", string(b))
}

func TestChunkStream_WriteUnsupported(t *testing.T) {
	_, err := NewChunkStream().Write([]byte("x"))
	assert.True(t, errors.Is(err, dcmerrors.ErrUnsupportedOperation))
}

func TestSegmentStream(t *testing.T) {
	parent := bytes.NewReader([]byte("0123456789"))
	s := NewSegmentStream(parent, 2, 5)
	assert.Equal(t, int64(5), s.Size())

	all, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "23456", string(all))

	_, err = s.Seek(6, io.SeekStart)
	assert.ErrorIs(t, err, dcmerrors.ErrOutOfRange)

	_, err = s.Seek(-1, io.SeekStart)
	assert.ErrorIs(t, err, dcmerrors.ErrOutOfRange)

	pos, err := s.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pos)
	b := make([]byte, 10)
	n, err := s.Read(b)
	require.NoError(t, err)
	assert.Equal(t, "56", string(b[:n]))
}

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestFileSegment(t *testing.T) {
	path := writeTempFile(t, []byte("headerPAYLOADtrailer"))
	seg := NewFileSegment(path, 6, 7)

	data, err := seg.GetData()
	require.NoError(t, err)
	assert.Equal(t, "PAYLOAD", string(data))

	var out bytes.Buffer
	n, err := seg.WriteTo(&out)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, "PAYLOAD", out.String())

	f, err := seg.OpenStream()
	require.NoError(t, err)
	defer f.Close()
	b := make([]byte, 3)
	_, err = io.ReadFull(f, b)
	require.NoError(t, err)
	assert.Equal(t, "PAY", string(b))

	_, err = NewFileSegment(path, 15, 10).GetData()
	assert.Error(t, err)
}

func TestByteBuffer_FileBacked(t *testing.T) {
	path := writeTempFile(t, []byte{0xAA, 0xBB, 0x01, 0x00, 0x02, 0x00, 0xCC})
	b := NewFileBuffer(NewFileSegment(path, 2, 4), binary.LittleEndian)

	assert.Equal(t, BackingFile, b.Backing())
	assert.Equal(t, 4, b.Len())
	assert.False(t, b.IsMaterialized())

	var out bytes.Buffer
	require.NoError(t, b.CopyTo(&out))
	assert.Equal(t, []byte{0x01, 0x00, 0x02, 0x00}, out.Bytes())
	assert.False(t, b.IsMaterialized())

	values, err := b.Uint16s()
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2}, values)
	assert.True(t, b.IsMaterialized())

	b.Release()
	assert.False(t, b.IsMaterialized())
	assert.Equal(t, 4, b.Len())

	require.NoError(t, b.Swap2())
	assert.Equal(t, BackingOwned, b.Backing())
	values, err = b.Uint16s()
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x0100, 0x0200}, values)
}

func TestByteBuffer_StreamAppendAndChop(t *testing.T) {
	b := NewStreamBuffer(binary.LittleEndian)
	require.NoError(t, b.Append([]byte("abc")))
	require.NoError(t, b.Append([]byte("def")))
	assert.Equal(t, BackingStream, b.Backing())
	assert.Equal(t, 6, b.Len())

	require.NoError(t, b.Chop(2))
	assert.Equal(t, "cdef", b.String())
	assert.Equal(t, BackingOwned, b.Backing())

	dst := make([]byte, 8)
	n, err := b.CopyToSlice(dst, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "de", string(dst[:n]))
}

func TestByteBuffer_CloneIsIndependent(t *testing.T) {
	b := NewByteBuffer([]byte{1, 2, 3, 4}, binary.LittleEndian)
	c := b.Clone()
	require.NoError(t, c.Swap4())

	orig, err := b.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, orig)

	cloned, err := c.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 3, 2, 1}, cloned)
}

func TestByteBuffer_Strings(t *testing.T) {
	b := NewByteBuffer(nil, binary.LittleEndian)
	b.SetString("1.2.3", 0x00)
	assert.Equal(t, 6, b.Len())
	assert.Equal(t, "1.2.3\x00", b.String())

	b.SetString("DOE^JOHN", ' ')
	assert.Equal(t, 8, b.Len())
}

func TestByteBuffer_NumericViews(t *testing.T) {
	b := NewByteBuffer(nil, binary.BigEndian)
	b.SetUint32s(0x01020304, 0xFFFFFFFF)

	u, err := b.Uint32s()
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x01020304, 0xFFFFFFFF}, u)

	i, err := b.Int32s()
	require.NoError(t, err)
	assert.Equal(t, int32(-1), i[1])

	b.SetFloat64s(1.5, -2)
	f, err := b.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, -2}, f)
}
