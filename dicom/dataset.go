// Package dicom implements the data set model and its stream codec: an
// incremental reader that can resume on partial input, a writer with length
// calculation, and the Part 10 file format.
package dicom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/caio-sobreiro/dcmstream/dicomio"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/types"
)

// Dataset represents a collection of DICOM attributes kept in tag order
type Dataset struct {
	attrs   []Attribute
	syntax  *types.TransferSyntax
	charset *CharacterSet

	// StreamPosition and StreamLength locate a nested item dataset in the
	// stream it was read from.
	StreamPosition int64
	StreamLength   uint32
}

// NewDataset creates a new empty dataset encoded as Explicit VR Little Endian
func NewDataset() *Dataset {
	return NewDatasetWithSyntax(types.ExplicitLittleEndian)
}

// NewDatasetWithSyntax creates a new empty dataset for the given transfer syntax
func NewDatasetWithSyntax(ts *types.TransferSyntax) *Dataset {
	return &Dataset{
		syntax:       ts,
		charset:      DefaultCharacterSet,
		StreamLength: types.UndefinedLength,
	}
}

// TransferSyntax returns the syntax the dataset's values are encoded in.
func (d *Dataset) TransferSyntax() *types.TransferSyntax {
	return d.syntax
}

// SetTransferSyntax relabels the dataset without converting any value.
func (d *Dataset) SetTransferSyntax(ts *types.TransferSyntax) {
	d.syntax = ts
	for _, attr := range d.attrs {
		if sq, ok := attr.(*Sequence); ok {
			for _, item := range sq.Items {
				item.Dataset.SetTransferSyntax(ts)
			}
		}
	}
}

// CharacterSet returns the repertoire used for text values.
func (d *Dataset) CharacterSet() *CharacterSet {
	return d.charset
}

// SetCharacterSet overrides the repertoire, e.g. for items inheriting it
// from their parent.
func (d *Dataset) SetCharacterSet(cs *CharacterSet) {
	d.charset = cs
}

// Len returns the number of attributes.
func (d *Dataset) Len() int {
	return len(d.attrs)
}

// Attributes returns the attributes in tag order. The slice must not be modified.
func (d *Dataset) Attributes() []Attribute {
	return d.attrs
}

func (d *Dataset) search(tag types.Tag) (int, bool) {
	i := sort.Search(len(d.attrs), func(i int) bool {
		return d.attrs[i].Tag().Compare(tag) >= 0
	})
	return i, i < len(d.attrs) && d.attrs[i].Tag().Equal(tag)
}

// Add inserts attr, replacing any attribute with the same tag.
func (d *Dataset) Add(attr Attribute) {
	i, found := d.search(attr.Tag())
	if found {
		d.attrs[i] = attr
	} else {
		d.attrs = append(d.attrs, nil)
		copy(d.attrs[i+1:], d.attrs[i:])
		d.attrs[i] = attr
	}

	if attr.Tag().Equal(types.SpecificCharacterSetTag) {
		if el, ok := attr.(*Element); ok {
			if cs, err := LookupCharacterSet(splitValues(el.buf.String())); err == nil {
				d.charset = cs
			}
		}
	}
}

// Get returns the attribute for tag.
func (d *Dataset) Get(tag types.Tag) (Attribute, bool) {
	i, found := d.search(tag)
	if !found {
		return nil, false
	}
	return d.attrs[i], true
}

// Contains reports whether an attribute with tag exists.
func (d *Dataset) Contains(tag types.Tag) bool {
	_, found := d.search(tag)
	return found
}

// GetElement returns a plain element by tag
func (d *Dataset) GetElement(tag types.Tag) (*Element, bool) {
	attr, ok := d.Get(tag)
	if !ok {
		return nil, false
	}
	el, ok := attr.(*Element)
	return el, ok
}

// GetSequence returns a sequence by tag
func (d *Dataset) GetSequence(tag types.Tag) (*Sequence, bool) {
	attr, ok := d.Get(tag)
	if !ok {
		return nil, false
	}
	sq, ok := attr.(*Sequence)
	return sq, ok
}

// GetFragments returns a fragment sequence by tag
func (d *Dataset) GetFragments(tag types.Tag) (*FragmentSequence, bool) {
	attr, ok := d.Get(tag)
	if !ok {
		return nil, false
	}
	fs, ok := attr.(*FragmentSequence)
	return fs, ok
}

// Remove deletes the attribute for tag and reports whether it existed.
func (d *Dataset) Remove(tag types.Tag) bool {
	i, found := d.search(tag)
	if !found {
		return false
	}
	d.attrs = append(d.attrs[:i], d.attrs[i+1:]...)
	return true
}

// RemoveGroup deletes every attribute in group.
func (d *Dataset) RemoveGroup(group uint16) {
	kept := d.attrs[:0]
	for _, attr := range d.attrs {
		if attr.Tag().Group != group {
			kept = append(kept, attr)
		}
	}
	for i := len(kept); i < len(d.attrs); i++ {
		d.attrs[i] = nil
	}
	d.attrs = kept
}

func (d *Dataset) order() binary.ByteOrder {
	return d.syntax.ByteOrder()
}

// AddElement adds an element converting value according to its Go type.
// Supported values are string, []string, uint16, []uint16, uint32, []uint32,
// []byte and types.Tag.
func (d *Dataset) AddElement(tag types.Tag, vr types.VR, value interface{}) error {
	switch v := value.(type) {
	case string:
		return d.AddString(tag, vr, v)
	case []string:
		return d.AddString(tag, vr, v...)
	case uint16:
		d.AddUint16(tag, vr, v)
	case []uint16:
		d.AddUint16(tag, vr, v...)
	case uint32:
		d.AddUint32(tag, vr, v)
	case []uint32:
		d.AddUint32(tag, vr, v...)
	case []byte:
		d.AddBytes(tag, vr, v)
	case types.Tag:
		d.AddTags(tag, v)
	case nil:
		d.AddBytes(tag, vr, nil)
	default:
		return fmt.Errorf("unsupported value type %T for %s", value, tag)
	}
	return nil
}

// AddString adds a text element; multiple values are joined with a backslash.
func (d *Dataset) AddString(tag types.Tag, vr types.VR, values ...string) error {
	joined := strings.Join(values, "\\")
	raw := []byte(joined)
	if vr.UsesCharacterSet() {
		encoded, err := d.charset.Encode(joined)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", tag, err)
		}
		raw = encoded
	}
	if len(raw)%2 == 1 {
		raw = append(raw, vr.PadByte())
	}
	d.Add(NewElement(tag, vr, dicomio.NewByteBuffer(raw, d.order())))
	return nil
}

// AddUID adds a UI element.
func (d *Dataset) AddUID(tag types.Tag, uid string) {
	buf := dicomio.NewByteBuffer(nil, d.order())
	buf.SetString(uid, types.VR_UI.PadByte())
	d.Add(NewElement(tag, types.VR_UI, buf))
}

// AddUint16 adds a 16-bit numeric element such as US or SS.
func (d *Dataset) AddUint16(tag types.Tag, vr types.VR, values ...uint16) {
	buf := dicomio.NewByteBuffer(nil, d.order())
	buf.SetUint16s(values...)
	d.Add(NewElement(tag, vr, buf))
}

// AddUint32 adds a 32-bit numeric element such as UL or SL.
func (d *Dataset) AddUint32(tag types.Tag, vr types.VR, values ...uint32) {
	buf := dicomio.NewByteBuffer(nil, d.order())
	buf.SetUint32s(values...)
	d.Add(NewElement(tag, vr, buf))
}

// AddBytes adds a binary element, padding odd lengths with a zero byte.
func (d *Dataset) AddBytes(tag types.Tag, vr types.VR, data []byte) {
	if len(data)%2 == 1 {
		data = append(append([]byte(nil), data...), 0x00)
	}
	d.Add(NewElement(tag, vr, dicomio.NewByteBuffer(data, d.order())))
}

// AddTags adds an AT element.
func (d *Dataset) AddTags(tag types.Tag, values ...types.Tag) {
	words := make([]uint16, 0, len(values)*2)
	for _, v := range values {
		words = append(words, v.Group, v.Element)
	}
	d.AddUint16(tag, types.VR_AT, words...)
}

// AddSequence adds an empty sequence and returns it.
func (d *Dataset) AddSequence(tag types.Tag) *Sequence {
	sq := NewSequence(tag)
	d.Add(sq)
	return sq
}

func (d *Dataset) decodeText(el *Element) string {
	raw, err := el.buf.Bytes()
	if err != nil {
		return ""
	}
	if el.vr.UsesCharacterSet() {
		if s, err := d.charset.Decode(raw); err == nil {
			return s
		}
	}
	return string(raw)
}

func trimValue(vr types.VR, s string) string {
	s = strings.TrimRight(s, " \x00")
	switch vr {
	case types.VR_LT, types.VR_ST, types.VR_UT:
		return s
	}
	return strings.TrimLeft(s, " ")
}

func splitValues(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\\")
}

// GetString returns a string value for a tag
func (d *Dataset) GetString(tag types.Tag) string {
	el, ok := d.GetElement(tag)
	if !ok {
		return ""
	}
	return trimValue(el.vr, d.decodeText(el))
}

// GetStrings returns a slice of string values for a tag
func (d *Dataset) GetStrings(tag types.Tag) []string {
	el, ok := d.GetElement(tag)
	if !ok {
		return nil
	}
	parts := splitValues(strings.TrimRight(d.decodeText(el), " \x00"))
	for i, part := range parts {
		parts[i] = trimValue(el.vr, part)
	}
	return parts
}

// GetUID returns a UI value without padding.
func (d *Dataset) GetUID(tag types.Tag) string {
	return d.GetString(tag)
}

// GetUint16 returns the first 16-bit value of tag.
func (d *Dataset) GetUint16(tag types.Tag) (uint16, bool) {
	el, ok := d.GetElement(tag)
	if !ok {
		return 0, false
	}
	values, err := el.buf.Uint16s()
	if err != nil || len(values) == 0 {
		return 0, false
	}
	return values[0], true
}

// GetUint32 returns the first 32-bit value of tag.
func (d *Dataset) GetUint32(tag types.Tag) (uint32, bool) {
	el, ok := d.GetElement(tag)
	if !ok {
		return 0, false
	}
	values, err := el.buf.Uint32s()
	if err != nil || len(values) == 0 {
		return 0, false
	}
	return values[0], true
}

// GetTags decodes an AT element.
func (d *Dataset) GetTags(tag types.Tag) []types.Tag {
	el, ok := d.GetElement(tag)
	if !ok {
		return nil
	}
	words, err := el.buf.Uint16s()
	if err != nil {
		return nil
	}
	out := make([]types.Tag, 0, len(words)/2)
	for i := 0; i+1 < len(words); i += 2 {
		out = append(out, types.NewTag(words[i], words[i+1]))
	}
	return out
}

// SelectByteOrder converts every value, including nested items, to order.
func (d *Dataset) SelectByteOrder(order binary.ByteOrder) error {
	for _, attr := range d.attrs {
		switch a := attr.(type) {
		case *Element:
			if err := swapBuffer(a.buf, a.vr, order); err != nil {
				return fmt.Errorf("failed to change byte order of %s: %w", a.tag, err)
			}
		case *Sequence:
			for _, item := range a.Items {
				if err := item.Dataset.SelectByteOrder(order); err != nil {
					return err
				}
			}
		case *FragmentSequence:
			for _, frag := range a.Fragments {
				if err := swapBuffer(frag, a.vr, order); err != nil {
					return fmt.Errorf("failed to change byte order of %s: %w", a.tag, err)
				}
			}
		}
	}
	return nil
}

func swapBuffer(buf *dicomio.ByteBuffer, vr types.VR, order binary.ByteOrder) error {
	if buf.ByteOrder() == order {
		return nil
	}
	var err error
	switch vr.UnitSize() {
	case 2:
		err = buf.Swap2()
	case 4:
		err = buf.Swap4()
	case 8:
		err = buf.Swap8()
	}
	if err != nil {
		return err
	}
	buf.SetByteOrder(order)
	return nil
}

// ChangeTransferSyntax re-encodes the dataset for ts. Native syntaxes only
// differ in byte order and VR explicitness; moving pixel data into or out of
// an encapsulated syntax needs a codec and fails with ErrEncapsulatedTranscode.
func (d *Dataset) ChangeTransferSyntax(ts *types.TransferSyntax) error {
	if d.syntax.UID == ts.UID {
		return nil
	}
	if (d.syntax.Encapsulated || ts.Encapsulated) && d.Contains(types.PixelDataTag) {
		return fmt.Errorf("%s to %s: %w", d.syntax.Name, ts.Name, dcmerrors.ErrEncapsulatedTranscode)
	}
	if err := d.SelectByteOrder(ts.ByteOrder()); err != nil {
		return err
	}
	d.SetTransferSyntax(ts)
	return nil
}

// Clone returns a deep copy. File backed values keep pointing at their file.
func (d *Dataset) Clone() *Dataset {
	c := &Dataset{
		attrs:          make([]Attribute, 0, len(d.attrs)),
		syntax:         d.syntax,
		charset:        d.charset,
		StreamPosition: d.StreamPosition,
		StreamLength:   d.StreamLength,
	}
	for _, attr := range d.attrs {
		switch a := attr.(type) {
		case *Element:
			el := NewElement(a.tag, a.vr, a.buf.Clone())
			el.StreamPosition = a.StreamPosition
			c.attrs = append(c.attrs, el)
		case *Sequence:
			sq := &Sequence{tag: a.tag, StreamPosition: a.StreamPosition, StreamLength: a.StreamLength}
			for _, item := range a.Items {
				sq.Items = append(sq.Items, &SequenceItem{
					Dataset:        item.Dataset.Clone(),
					StreamPosition: item.StreamPosition,
					StreamLength:   item.StreamLength,
				})
			}
			c.attrs = append(c.attrs, sq)
		case *FragmentSequence:
			fs := NewFragmentSequence(a.tag, a.vr)
			fs.StreamPosition = a.StreamPosition
			if a.hasOffsetTable {
				fs.SetOffsetTableValues(append([]uint32(nil), a.offsetTable...))
			}
			for _, frag := range a.Fragments {
				fs.AddFragment(frag.Clone())
			}
			c.attrs = append(c.attrs, fs)
		}
	}
	return c
}

// Equal compares tags, VRs and values recursively. Values stored in
// different byte orders compare equal when they decode to the same numbers.
func (d *Dataset) Equal(o *Dataset) bool {
	if len(d.attrs) != len(o.attrs) {
		return false
	}
	for i, attr := range d.attrs {
		other := o.attrs[i]
		if !attr.Tag().Equal(other.Tag()) || attr.VR() != other.VR() {
			return false
		}
		switch a := attr.(type) {
		case *Element:
			b, ok := other.(*Element)
			if !ok || !buffersEqual(a.buf, b.buf, a.vr) {
				return false
			}
		case *Sequence:
			b, ok := other.(*Sequence)
			if !ok || len(a.Items) != len(b.Items) {
				return false
			}
			for j := range a.Items {
				if !a.Items[j].Dataset.Equal(b.Items[j].Dataset) {
					return false
				}
			}
		case *FragmentSequence:
			b, ok := other.(*FragmentSequence)
			if !ok || len(a.Fragments) != len(b.Fragments) || len(a.offsetTable) != len(b.offsetTable) {
				return false
			}
			for j := range a.offsetTable {
				if a.offsetTable[j] != b.offsetTable[j] {
					return false
				}
			}
			for j := range a.Fragments {
				if !buffersEqual(a.Fragments[j], b.Fragments[j], a.vr) {
					return false
				}
			}
		}
	}
	return true
}

func buffersEqual(a, b *dicomio.ByteBuffer, vr types.VR) bool {
	x, err := a.Bytes()
	if err != nil {
		return false
	}
	y, err := b.Bytes()
	if err != nil {
		return false
	}
	if a.ByteOrder() != b.ByteOrder() && vr.UnitSize() > 1 {
		y = append([]byte(nil), y...)
		dicomio.SwapUnits(y, vr.UnitSize())
	}
	return bytes.Equal(x, y)
}

const dumpValueWidth = 64

// Dump writes a human readable listing of the dataset to w. Names come from
// dict, or the default dictionary when dict is nil.
func (d *Dataset) Dump(w io.Writer, dict *Dictionary) error {
	if dict == nil {
		dict = DefaultDictionary
	}
	return d.dump(w, dict, 0)
}

func (d *Dataset) dump(w io.Writer, dict *Dictionary, depth int) error {
	indent := strings.Repeat("  ", depth)
	for _, attr := range d.attrs {
		name := dict.Name(attr.Tag())
		switch a := attr.(type) {
		case *Element:
			if _, err := fmt.Fprintf(w, "%s%s %s %-40s # %d %s\n", indent, a.tag, a.vr, d.describe(a), a.Len(), name); err != nil {
				return err
			}
		case *Sequence:
			if _, err := fmt.Fprintf(w, "%s%s SQ (%d items) # %s\n", indent, a.tag, len(a.Items), name); err != nil {
				return err
			}
			for i, item := range a.Items {
				if _, err := fmt.Fprintf(w, "%s  %s Item #%d\n", indent, types.ItemTag, i); err != nil {
					return err
				}
				if err := item.Dataset.dump(w, dict, depth+2); err != nil {
					return err
				}
			}
		case *FragmentSequence:
			if _, err := fmt.Fprintf(w, "%s%s %s (%d fragments, %d offsets) # %s\n", indent, a.tag, a.vr, len(a.Fragments), len(a.offsetTable), name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Dataset) describe(el *Element) string {
	buf := el.buf
	if !buf.IsMaterialized() {
		return fmt.Sprintf("<deferred %d bytes>", buf.Len())
	}
	var value string
	switch el.vr {
	case types.VR_US, types.VR_SS, types.VR_UL, types.VR_SL, types.VR_FL, types.VR_FD, types.VR_AT:
		value = numericString(el)
	default:
		if !el.vr.IsText() {
			return fmt.Sprintf("<%d bytes>", buf.Len())
		}
		value = strings.TrimRight(d.decodeText(el), " \x00")
	}
	if len(value) > dumpValueWidth {
		value = value[:dumpValueWidth] + "..."
	}
	return "[" + value + "]"
}

func numericString(el *Element) string {
	var parts []string
	buf := el.buf
	switch el.vr {
	case types.VR_US:
		values, _ := buf.Uint16s()
		for _, v := range values {
			parts = append(parts, strconv.FormatUint(uint64(v), 10))
		}
	case types.VR_SS:
		values, _ := buf.Int16s()
		for _, v := range values {
			parts = append(parts, strconv.FormatInt(int64(v), 10))
		}
	case types.VR_UL:
		values, _ := buf.Uint32s()
		for _, v := range values {
			parts = append(parts, strconv.FormatUint(uint64(v), 10))
		}
	case types.VR_SL:
		values, _ := buf.Int32s()
		for _, v := range values {
			parts = append(parts, strconv.FormatInt(int64(v), 10))
		}
	case types.VR_FL:
		values, _ := buf.Float32s()
		for _, v := range values {
			parts = append(parts, strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
	case types.VR_FD:
		values, _ := buf.Float64s()
		for _, v := range values {
			parts = append(parts, strconv.FormatFloat(v, 'g', -1, 64))
		}
	case types.VR_AT:
		values, _ := buf.Uint16s()
		for i := 0; i+1 < len(values); i += 2 {
			parts = append(parts, types.NewTag(values[i], values[i+1]).String())
		}
	}
	return strings.Join(parts, "\\")
}
