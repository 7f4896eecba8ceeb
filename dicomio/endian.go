// Package dicomio holds the byte level building blocks used by the dataset
// codec: byte order helpers, lazily materialized buffers and stream adapters.
package dicomio

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Swap2 reverses every 2-byte unit of b in place. A trailing odd byte is left alone.
func Swap2(b []byte) {
	for i := 0; i+1 < len(b); i += 2 {
		b[i], b[i+1] = b[i+1], b[i]
	}
}

// Swap4 reverses every 4-byte unit of b in place.
func Swap4(b []byte) {
	for i := 0; i+3 < len(b); i += 4 {
		b[i], b[i+1], b[i+2], b[i+3] = b[i+3], b[i+2], b[i+1], b[i]
	}
}

// Swap8 reverses every 8-byte unit of b in place.
func Swap8(b []byte) {
	for i := 0; i+7 < len(b); i += 8 {
		for j := 0; j < 4; j++ {
			b[i+j], b[i+7-j] = b[i+7-j], b[i+j]
		}
	}
}

// SwapUnits swaps b in units of size bytes. Sizes other than 2, 4 and 8 are a no-op.
func SwapUnits(b []byte, size int) {
	switch size {
	case 2:
		Swap2(b)
	case 4:
		Swap4(b)
	case 8:
		Swap8(b)
	}
}

// Reader reads fixed width integers in a configurable byte order.
type Reader struct {
	r     io.Reader
	order binary.ByteOrder
	buf   [8]byte
}

// NewReader wraps r with the given byte order
func NewReader(r io.Reader, order binary.ByteOrder) *Reader {
	return &Reader{r: r, order: order}
}

// ByteOrder returns the active byte order.
func (r *Reader) ByteOrder() binary.ByteOrder {
	return r.order
}

// SetByteOrder changes the byte order for subsequent reads.
func (r *Reader) SetByteOrder(order binary.ByteOrder) {
	r.order = order
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	return r.r.Read(p)
}

// ReadUint16 reads a 16-bit value
func (r *Reader) ReadUint16() (uint16, error) {
	if _, err := io.ReadFull(r.r, r.buf[:2]); err != nil {
		return 0, err
	}
	return r.order.Uint16(r.buf[:2]), nil
}

// ReadUint32 reads a 32-bit value
func (r *Reader) ReadUint32() (uint32, error) {
	if _, err := io.ReadFull(r.r, r.buf[:4]); err != nil {
		return 0, err
	}
	return r.order.Uint32(r.buf[:4]), nil
}

// ReadBytes reads exactly n bytes
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ReadString reads n bytes as a string
func (r *Reader) ReadString(n int) (string, error) {
	b, err := r.ReadBytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Skip discards n bytes.
func (r *Reader) Skip(n int64) error {
	if s, ok := r.r.(io.Seeker); ok {
		_, err := s.Seek(n, io.SeekCurrent)
		return err
	}
	copied, err := io.CopyN(io.Discard, r.r, n)
	if err != nil {
		return fmt.Errorf("failed to skip %d bytes (skipped %d): %w", n, copied, err)
	}
	return nil
}

// Writer writes fixed width integers in a configurable byte order.
type Writer struct {
	w     io.Writer
	order binary.ByteOrder
	buf   [8]byte
	n     int64
}

// NewWriter wraps w with the given byte order
func NewWriter(w io.Writer, order binary.ByteOrder) *Writer {
	return &Writer{w: w, order: order}
}

// ByteOrder returns the active byte order.
func (w *Writer) ByteOrder() binary.ByteOrder {
	return w.order
}

// SetByteOrder changes the byte order for subsequent writes.
func (w *Writer) SetByteOrder(order binary.ByteOrder) {
	w.order = order
}

// Written is the number of bytes passed to the underlying writer.
func (w *Writer) Written() int64 {
	return w.n
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.n += int64(n)
	return n, err
}

// WriteUint16 writes a 16-bit value
func (w *Writer) WriteUint16(v uint16) error {
	w.order.PutUint16(w.buf[:2], v)
	_, err := w.Write(w.buf[:2])
	return err
}

// WriteUint32 writes a 32-bit value
func (w *Writer) WriteUint32(v uint32) error {
	w.order.PutUint32(w.buf[:4], v)
	_, err := w.Write(w.buf[:4])
	return err
}

// WriteString writes s without padding
func (w *Writer) WriteString(s string) error {
	_, err := io.WriteString(w, s)
	return err
}

// WriteZeros writes n zero bytes.
func (w *Writer) WriteZeros(n int) error {
	var zero [8]byte
	for n > 0 {
		chunk := n
		if chunk > len(zero) {
			chunk = len(zero)
		}
		if _, err := w.Write(zero[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
