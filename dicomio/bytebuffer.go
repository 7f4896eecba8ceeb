package dicomio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Backing identifies where a ByteBuffer's bytes live.
type Backing int

const (
	// BackingOwned is an in-memory slice owned by the buffer.
	BackingOwned Backing = iota
	// BackingStream is a growable in-memory stream, used while values are appended.
	BackingStream
	// BackingFile is a region of a file on disk, loaded on demand.
	BackingFile
)

func (b Backing) String() string {
	switch b {
	case BackingOwned:
		return "owned"
	case BackingStream:
		return "stream"
	case BackingFile:
		return "file"
	default:
		return fmt.Sprintf("Backing(%d)", int(b))
	}
}

// ByteBuffer holds the value of one element. Its length is always known,
// even when the content still lives on disk. A ByteBuffer must not be
// mutated while another goroutine reads it.
type ByteBuffer struct {
	backing Backing
	data    []byte
	stream  *bytes.Buffer
	segment *FileSegment
	order   binary.ByteOrder
}

// NewByteBuffer creates a buffer owning data
func NewByteBuffer(data []byte, order binary.ByteOrder) *ByteBuffer {
	if data == nil {
		data = []byte{}
	}
	return &ByteBuffer{backing: BackingOwned, data: data, order: order}
}

// NewStreamBuffer creates an empty growable buffer
func NewStreamBuffer(order binary.ByteOrder) *ByteBuffer {
	return &ByteBuffer{backing: BackingStream, stream: new(bytes.Buffer), order: order}
}

// NewFileBuffer creates a buffer whose bytes stay in segment until needed
func NewFileBuffer(segment *FileSegment, order binary.ByteOrder) *ByteBuffer {
	return &ByteBuffer{backing: BackingFile, segment: segment, order: order}
}

// Backing reports where the bytes currently live.
func (b *ByteBuffer) Backing() Backing {
	return b.backing
}

// Segment returns the file region of a file backed buffer, or nil.
func (b *ByteBuffer) Segment() *FileSegment {
	return b.segment
}

// ByteOrder returns the order numeric views are decoded with.
func (b *ByteBuffer) ByteOrder() binary.ByteOrder {
	return b.order
}

// SetByteOrder changes the order numeric views are decoded with. It does
// not touch the bytes; use Swap2/4/8 to convert existing content.
func (b *ByteBuffer) SetByteOrder(order binary.ByteOrder) {
	b.order = order
}

// Len returns the value length in bytes.
func (b *ByteBuffer) Len() int {
	switch b.backing {
	case BackingStream:
		return b.stream.Len()
	case BackingFile:
		if b.data != nil {
			return len(b.data)
		}
		return int(b.segment.Length)
	default:
		return len(b.data)
	}
}

// IsMaterialized reports whether the bytes are in memory.
func (b *ByteBuffer) IsMaterialized() bool {
	return b.backing != BackingFile || b.data != nil
}

// Bytes returns the content, reading it from disk if necessary. A stream
// backed buffer is converted to an owned one. The returned slice aliases
// the buffer.
func (b *ByteBuffer) Bytes() ([]byte, error) {
	switch b.backing {
	case BackingStream:
		b.data = b.stream.Bytes()
		b.stream = nil
		b.backing = BackingOwned
		return b.data, nil
	case BackingFile:
		if err := b.Materialize(); err != nil {
			return nil, err
		}
		return b.data, nil
	default:
		return b.data, nil
	}
}

// Materialize loads a file backed buffer into memory. The segment is kept
// so Release can drop the copy again.
func (b *ByteBuffer) Materialize() error {
	if b.backing != BackingFile || b.data != nil {
		return nil
	}
	data, err := b.segment.GetData()
	if err != nil {
		return fmt.Errorf("failed to materialize buffer: %w", err)
	}
	b.data = data
	return nil
}

// Release drops the in-memory copy of a file backed buffer. It has no
// effect on other backings.
func (b *ByteBuffer) Release() {
	if b.backing == BackingFile {
		b.data = nil
	}
}

// own converts any backing into an owned slice, detaching it from its file.
func (b *ByteBuffer) own() error {
	data, err := b.Bytes()
	if err != nil {
		return err
	}
	b.backing = BackingOwned
	b.data = data
	b.segment = nil
	return nil
}

// Clone returns an independent copy. File backed buffers share their
// immutable segment descriptor.
func (b *ByteBuffer) Clone() *ByteBuffer {
	c := &ByteBuffer{backing: b.backing, order: b.order, segment: b.segment}
	switch b.backing {
	case BackingStream:
		c.stream = bytes.NewBuffer(append([]byte(nil), b.stream.Bytes()...))
	default:
		if b.data != nil {
			c.data = append([]byte(nil), b.data...)
		}
	}
	return c
}

// CopyTo writes the content to w without materializing file backed buffers.
func (b *ByteBuffer) CopyTo(w io.Writer) error {
	if b.backing == BackingFile && b.data == nil {
		_, err := b.segment.WriteTo(w)
		return err
	}
	var data []byte
	if b.backing == BackingStream {
		data = b.stream.Bytes()
	} else {
		data = b.data
	}
	_, err := w.Write(data)
	return err
}

// CopyToSlice copies count bytes starting at offset into dst and returns the number copied.
func (b *ByteBuffer) CopyToSlice(dst []byte, offset, count int) (int, error) {
	data, err := b.Bytes()
	if err != nil {
		return 0, err
	}
	if offset < 0 || offset > len(data) {
		return 0, fmt.Errorf("offset %d outside buffer of %d bytes", offset, len(data))
	}
	end := offset + count
	if end > len(data) {
		end = len(data)
	}
	return copy(dst, data[offset:end]), nil
}

// Append adds p to the end of the buffer.
func (b *ByteBuffer) Append(p []byte) error {
	if b.backing == BackingStream {
		_, err := b.stream.Write(p)
		return err
	}
	if err := b.own(); err != nil {
		return err
	}
	b.data = append(b.data, p...)
	return nil
}

// Chop removes the first n bytes.
func (b *ByteBuffer) Chop(n int) error {
	if err := b.own(); err != nil {
		return err
	}
	if n > len(b.data) {
		n = len(b.data)
	}
	b.data = b.data[n:]
	return nil
}

// Swap2 swaps the content in 2-byte units.
func (b *ByteBuffer) Swap2() error { return b.swap(2) }

// Swap4 swaps the content in 4-byte units.
func (b *ByteBuffer) Swap4() error { return b.swap(4) }

// Swap8 swaps the content in 8-byte units.
func (b *ByteBuffer) Swap8() error { return b.swap(8) }

func (b *ByteBuffer) swap(unit int) error {
	if err := b.own(); err != nil {
		return err
	}
	SwapUnits(b.data, unit)
	return nil
}

// String returns the raw content as a string.
func (b *ByteBuffer) String() string {
	data, err := b.Bytes()
	if err != nil {
		return ""
	}
	return string(data)
}

// SetString replaces the content with s, appending pad when s has odd length.
func (b *ByteBuffer) SetString(s string, pad byte) {
	data := []byte(s)
	if len(data)%2 == 1 {
		data = append(data, pad)
	}
	b.set(data)
}

// SetBytes replaces the content.
func (b *ByteBuffer) SetBytes(data []byte) {
	b.set(data)
}

func (b *ByteBuffer) set(data []byte) {
	b.backing = BackingOwned
	b.data = data
	b.stream = nil
	b.segment = nil
}

// Uint16s decodes the content as 16-bit values.
func (b *ByteBuffer) Uint16s() ([]uint16, error) {
	data, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = b.order.Uint16(data[i*2:])
	}
	return out, nil
}

// Uint32s decodes the content as 32-bit values.
func (b *ByteBuffer) Uint32s() ([]uint32, error) {
	data, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = b.order.Uint32(data[i*4:])
	}
	return out, nil
}

// Int16s decodes the content as signed 16-bit values.
func (b *ByteBuffer) Int16s() ([]int16, error) {
	u, err := b.Uint16s()
	if err != nil {
		return nil, err
	}
	out := make([]int16, len(u))
	for i, v := range u {
		out[i] = int16(v)
	}
	return out, nil
}

// Int32s decodes the content as signed 32-bit values.
func (b *ByteBuffer) Int32s() ([]int32, error) {
	u, err := b.Uint32s()
	if err != nil {
		return nil, err
	}
	out := make([]int32, len(u))
	for i, v := range u {
		out[i] = int32(v)
	}
	return out, nil
}

// Float32s decodes the content as IEEE 754 single precision values.
func (b *ByteBuffer) Float32s() ([]float32, error) {
	u, err := b.Uint32s()
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(u))
	for i, v := range u {
		out[i] = math.Float32frombits(v)
	}
	return out, nil
}

// Float64s decodes the content as IEEE 754 double precision values.
func (b *ByteBuffer) Float64s() ([]float64, error) {
	data, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(data)/8)
	for i := range out {
		out[i] = math.Float64frombits(b.order.Uint64(data[i*8:]))
	}
	return out, nil
}

// SetUint16s replaces the content with encoded 16-bit values.
func (b *ByteBuffer) SetUint16s(values ...uint16) {
	data := make([]byte, len(values)*2)
	for i, v := range values {
		b.order.PutUint16(data[i*2:], v)
	}
	b.set(data)
}

// SetUint32s replaces the content with encoded 32-bit values.
func (b *ByteBuffer) SetUint32s(values ...uint32) {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		b.order.PutUint32(data[i*4:], v)
	}
	b.set(data)
}

// SetFloat64s replaces the content with encoded double precision values.
func (b *ByteBuffer) SetFloat64s(values ...float64) {
	data := make([]byte, len(values)*8)
	for i, v := range values {
		b.order.PutUint64(data[i*8:], math.Float64bits(v))
	}
	b.set(data)
}
