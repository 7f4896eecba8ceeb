package dicom

import (
	"fmt"

	"github.com/caio-sobreiro/dcmstream/dicomio"
	"github.com/caio-sobreiro/dcmstream/types"
)

// Attribute is one entry of a Dataset. It is implemented by *Element,
// *Sequence and *FragmentSequence only; callers switch on the concrete type.
type Attribute interface {
	Tag() types.Tag
	VR() types.VR
	attribute()
}

// Element is a plain data element: a tag, a VR and a value buffer.
type Element struct {
	tag types.Tag
	vr  types.VR
	buf *dicomio.ByteBuffer

	// StreamPosition is the offset of the element header in the stream it
	// was read from, or 0 for elements built in memory.
	StreamPosition int64
}

// NewElement creates an element holding buf
func NewElement(tag types.Tag, vr types.VR, buf *dicomio.ByteBuffer) *Element {
	return &Element{tag: tag, vr: vr, buf: buf}
}

func (e *Element) Tag() types.Tag { return e.tag }
func (e *Element) VR() types.VR   { return e.vr }
func (*Element) attribute()       {}

// Buffer returns the value buffer.
func (e *Element) Buffer() *dicomio.ByteBuffer {
	return e.buf
}

// Len returns the value length in bytes.
func (e *Element) Len() int {
	return e.buf.Len()
}

func (e *Element) String() string {
	return fmt.Sprintf("%s %s (%d bytes)", e.tag, e.vr, e.buf.Len())
}

// SequenceItem is one item of a Sequence. Items read from a stream remember
// where they were found so nested parsing can resume.
type SequenceItem struct {
	Dataset        *Dataset
	StreamPosition int64
	StreamLength   uint32
}

// Sequence is an SQ element holding an ordered list of item datasets.
type Sequence struct {
	tag   types.Tag
	Items []*SequenceItem

	// StreamPosition and StreamLength describe where a sequence was read from;
	// StreamLength is types.UndefinedLength for delimited sequences.
	StreamPosition int64
	StreamLength   uint32
}

// NewSequence creates an empty sequence
func NewSequence(tag types.Tag) *Sequence {
	return &Sequence{tag: tag, StreamLength: types.UndefinedLength}
}

func (s *Sequence) Tag() types.Tag { return s.tag }
func (s *Sequence) VR() types.VR   { return types.VR_SQ }
func (*Sequence) attribute()       {}

// AddItem appends ds as a new item and returns it.
func (s *Sequence) AddItem(ds *Dataset) *SequenceItem {
	item := &SequenceItem{Dataset: ds, StreamLength: types.UndefinedLength}
	s.Items = append(s.Items, item)
	return item
}

// FragmentSequence is an encapsulated value (usually pixel data): an
// optional basic offset table followed by raw fragments.
type FragmentSequence struct {
	tag            types.Tag
	vr             types.VR
	offsetTable    []uint32
	hasOffsetTable bool
	Fragments      []*dicomio.ByteBuffer

	StreamPosition int64
}

// NewFragmentSequence creates an empty fragment sequence
func NewFragmentSequence(tag types.Tag, vr types.VR) *FragmentSequence {
	return &FragmentSequence{tag: tag, vr: vr}
}

func (f *FragmentSequence) Tag() types.Tag { return f.tag }
func (f *FragmentSequence) VR() types.VR   { return f.vr }
func (*FragmentSequence) attribute()       {}

// HasOffsetTable reports whether the offset table item has been seen. An
// empty table still counts.
func (f *FragmentSequence) HasOffsetTable() bool {
	return f.hasOffsetTable
}

// OffsetTable returns the basic offset table entries.
func (f *FragmentSequence) OffsetTable() []uint32 {
	return f.offsetTable
}

// SetOffsetTable decodes buf as the basic offset table.
func (f *FragmentSequence) SetOffsetTable(buf *dicomio.ByteBuffer) error {
	table, err := buf.Uint32s()
	if err != nil {
		return fmt.Errorf("failed to decode offset table: %w", err)
	}
	f.offsetTable = table
	f.hasOffsetTable = true
	return nil
}

// SetOffsetTableValues replaces the basic offset table.
func (f *FragmentSequence) SetOffsetTableValues(table []uint32) {
	f.offsetTable = table
	f.hasOffsetTable = true
}

// AddFragment appends a fragment.
func (f *FragmentSequence) AddFragment(buf *dicomio.ByteBuffer) {
	f.Fragments = append(f.Fragments, buf)
}
