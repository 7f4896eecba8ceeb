package dicom

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/caio-sobreiro/dcmstream/dicomio"
	"github.com/caio-sobreiro/dcmstream/types"
)

// StreamWriter serializes datasets in one transfer syntax.
type StreamWriter struct {
	sink   io.Writer
	out    *dicomio.Writer
	syntax *types.TransferSyntax
	base   int64
}

// NewStreamWriter creates a writer for ts. Deflated syntaxes are compressed
// on the fly.
func NewStreamWriter(w io.Writer, ts *types.TransferSyntax) *StreamWriter {
	return &StreamWriter{
		sink:   w,
		out:    dicomio.NewWriter(w, ts.ByteOrder()),
		syntax: ts,
	}
}

// Written returns the number of uncompressed bytes written so far.
func (w *StreamWriter) Written() int64 {
	return w.base + w.out.Written()
}

// Write serializes ds. Values are converted in place to the writer's byte
// order first, so ds may change representation.
func (w *StreamWriter) Write(ds *Dataset, opts WriteOptions) error {
	if err := ds.SelectByteOrder(w.syntax.ByteOrder()); err != nil {
		return err
	}
	if !w.syntax.Deflated {
		return w.writeDataset(ds, opts)
	}

	fw, err := flate.NewWriter(w.sink, flate.DefaultCompression)
	if err != nil {
		return fmt.Errorf("failed to create deflate writer: %w", err)
	}
	w.base += w.out.Written()
	w.out = dicomio.NewWriter(fw, w.syntax.ByteOrder())
	werr := w.writeDataset(ds, opts)
	cerr := fw.Close()
	w.base += w.out.Written()
	w.out = dicomio.NewWriter(w.sink, w.syntax.ByteOrder())
	if werr != nil {
		return werr
	}
	if cerr != nil {
		return fmt.Errorf("failed to flush deflate stream: %w", cerr)
	}
	return nil
}

func (w *StreamWriter) writeTag(tag types.Tag) error {
	if err := w.out.WriteUint16(tag.Group); err != nil {
		return err
	}
	return w.out.WriteUint16(tag.Element)
}

func (w *StreamWriter) writeDataset(ds *Dataset, opts WriteOptions) error {
	lastGroup := -1
	for _, attr := range ds.attrs {
		tag := attr.Tag()
		if tag.Element == 0x0000 {
			continue
		}
		if int(tag.Group) != lastGroup && opts.Has(CalculateGroupLengths) && tag.Group <= 0x7FE0 {
			if err := w.writeGroupLength(ds, tag.Group, opts); err != nil {
				return err
			}
		}
		lastGroup = int(tag.Group)

		var err error
		switch a := attr.(type) {
		case *Element:
			err = w.writeElement(a)
		case *Sequence:
			err = w.writeSequence(a, opts)
		case *FragmentSequence:
			err = w.writeFragments(a, opts)
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", tag, err)
		}
	}
	return nil
}

func (w *StreamWriter) writeGroupLength(ds *Dataset, group uint16, opts WriteOptions) error {
	if err := w.writeTag(types.NewTag(group, 0x0000)); err != nil {
		return err
	}
	if w.syntax.ExplicitVR {
		if err := w.out.WriteString(string(types.VR_UL)); err != nil {
			return err
		}
		if err := w.out.WriteUint16(4); err != nil {
			return err
		}
	} else if err := w.out.WriteUint32(4); err != nil {
		return err
	}
	return w.out.WriteUint32(uint32(CalculateGroupWriteLength(ds, group, w.syntax, opts)))
}

func (w *StreamWriter) writeElement(el *Element) error {
	length := el.Len()
	if err := w.writeTag(el.tag); err != nil {
		return err
	}
	if w.syntax.ExplicitVR {
		if err := w.out.WriteString(string(el.vr)); err != nil {
			return err
		}
		if el.vr.Is16BitLength() {
			if length > 0xFFFF {
				return fmt.Errorf("value of %d bytes does not fit a %s length field", length, el.vr)
			}
			if err := w.out.WriteUint16(uint16(length)); err != nil {
				return err
			}
		} else {
			if err := w.out.WriteZeros(2); err != nil {
				return err
			}
			if err := w.out.WriteUint32(uint32(length)); err != nil {
				return err
			}
		}
	} else if err := w.out.WriteUint32(uint32(length)); err != nil {
		return err
	}
	return el.buf.CopyTo(w.out)
}

// sequenceHasExplicitLength reports whether sq is written with a computed
// length. Private sequences in implicit syntaxes always are, since a reader
// has no dictionary VR to recognize them by.
func sequenceHasExplicitLength(sq *Sequence, ts *types.TransferSyntax, opts WriteOptions) bool {
	return opts.Has(ExplicitLengthSequence) || (sq.tag.IsPrivate() && !ts.ExplicitVR)
}

func (w *StreamWriter) writeSequence(sq *Sequence, opts WriteOptions) error {
	if err := w.writeTag(sq.tag); err != nil {
		return err
	}
	if w.syntax.ExplicitVR {
		if err := w.out.WriteString(string(types.VR_SQ)); err != nil {
			return err
		}
		if err := w.out.WriteZeros(2); err != nil {
			return err
		}
	}

	itemOpts := opts &^ CalculateGroupLengths
	explicitLength := sequenceHasExplicitLength(sq, w.syntax, opts)
	length := types.UndefinedLength
	if explicitLength {
		length = uint32(calculateAttributeLength(sq, w.syntax, opts) - headerLength(types.VR_SQ, w.syntax))
	}
	if err := w.out.WriteUint32(length); err != nil {
		return err
	}

	for _, item := range sq.Items {
		if err := w.writeTag(types.ItemTag); err != nil {
			return err
		}
		itemLength := types.UndefinedLength
		if opts.Has(ExplicitLengthSequenceItem) {
			itemLength = uint32(CalculateWriteLength(item.Dataset, w.syntax, itemOpts))
		}
		if err := w.out.WriteUint32(itemLength); err != nil {
			return err
		}
		if err := w.writeDataset(item.Dataset, itemOpts); err != nil {
			return err
		}
		if !opts.Has(ExplicitLengthSequenceItem) {
			if err := w.writeDelimiter(types.ItemDelimitationItemTag); err != nil {
				return err
			}
		}
	}

	if !explicitLength {
		return w.writeDelimiter(types.SequenceDelimitationItemTag)
	}
	return nil
}

func (w *StreamWriter) writeDelimiter(tag types.Tag) error {
	if err := w.writeTag(tag); err != nil {
		return err
	}
	return w.out.WriteUint32(0)
}

func (w *StreamWriter) writeFragments(fs *FragmentSequence, opts WriteOptions) error {
	if err := w.writeTag(fs.tag); err != nil {
		return err
	}
	if w.syntax.ExplicitVR {
		if err := w.out.WriteString(string(fs.vr)); err != nil {
			return err
		}
		if err := w.out.WriteZeros(2); err != nil {
			return err
		}
	}
	if err := w.out.WriteUint32(types.UndefinedLength); err != nil {
		return err
	}

	if err := w.writeTag(types.ItemTag); err != nil {
		return err
	}
	if opts.Has(WriteFragmentOffsetTable) && len(fs.offsetTable) > 0 {
		if err := w.out.WriteUint32(uint32(len(fs.offsetTable) * 4)); err != nil {
			return err
		}
		for _, offset := range fs.offsetTable {
			if err := w.out.WriteUint32(offset); err != nil {
				return err
			}
		}
	} else if err := w.out.WriteUint32(0); err != nil {
		return err
	}

	for _, frag := range fs.Fragments {
		if err := w.writeTag(types.ItemTag); err != nil {
			return err
		}
		if err := w.out.WriteUint32(uint32(frag.Len())); err != nil {
			return err
		}
		if err := frag.CopyTo(w.out); err != nil {
			return err
		}
	}
	return w.writeDelimiter(types.SequenceDelimitationItemTag)
}

// headerLength returns the size of an element header for vr in ts.
func headerLength(vr types.VR, ts *types.TransferSyntax) int64 {
	if ts.ExplicitVR && !vr.Is16BitLength() {
		return 12
	}
	return 8
}

// CalculateWriteLength returns the number of bytes Write would produce for
// ds, before any deflate compression.
func CalculateWriteLength(ds *Dataset, ts *types.TransferSyntax, opts WriteOptions) int64 {
	var length int64
	lastGroup := -1
	for _, attr := range ds.attrs {
		tag := attr.Tag()
		if tag.Element == 0x0000 {
			continue
		}
		if int(tag.Group) != lastGroup && opts.Has(CalculateGroupLengths) && tag.Group <= 0x7FE0 {
			length += 12
		}
		lastGroup = int(tag.Group)
		length += calculateAttributeLength(attr, ts, opts)
	}
	return length
}

// CalculateGroupWriteLength returns the value of the group length element
// for group: the size of the group's attributes excluding the group length
// itself.
func CalculateGroupWriteLength(ds *Dataset, group uint16, ts *types.TransferSyntax, opts WriteOptions) int64 {
	var length int64
	for _, attr := range ds.attrs {
		tag := attr.Tag()
		if tag.Group != group || tag.Element == 0x0000 {
			continue
		}
		length += calculateAttributeLength(attr, ts, opts)
	}
	return length
}

func calculateAttributeLength(attr Attribute, ts *types.TransferSyntax, opts WriteOptions) int64 {
	switch a := attr.(type) {
	case *Element:
		return headerLength(a.vr, ts) + int64(a.Len())
	case *Sequence:
		itemOpts := opts &^ CalculateGroupLengths
		length := headerLength(types.VR_SQ, ts)
		for _, item := range a.Items {
			length += 8 + CalculateWriteLength(item.Dataset, ts, itemOpts)
			if !opts.Has(ExplicitLengthSequenceItem) {
				length += 8
			}
		}
		if !sequenceHasExplicitLength(a, ts, opts) {
			length += 8
		}
		return length
	case *FragmentSequence:
		length := headerLength(a.vr, ts) + 8
		if opts.Has(WriteFragmentOffsetTable) {
			length += int64(len(a.offsetTable) * 4)
		}
		for _, frag := range a.Fragments {
			length += 8 + int64(frag.Len())
		}
		return length + 8
	}
	return 0
}
