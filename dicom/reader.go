package dicom

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/caio-sobreiro/dcmstream/dicomio"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/types"
)

// ReadStatus is the outcome of StreamReader.Read.
type ReadStatus int

const (
	// ReadSuccess means the stream was consumed up to its end or the stop tag.
	ReadSuccess ReadStatus = iota
	// ReadNeedMoreData means the next step needs BytesNeeded more bytes.
	// Feed more input and call Read again.
	ReadNeedMoreData
	// ReadUnknownError means the input is malformed.
	ReadUnknownError

	// statusEndRead stops the read loop early; it is reported as ReadSuccess.
	statusEndRead ReadStatus = -1
)

func (s ReadStatus) String() string {
	switch s {
	case ReadSuccess:
		return "Success"
	case ReadNeedMoreData:
		return "NeedMoreData"
	case ReadUnknownError:
		return "UnknownError"
	default:
		return fmt.Sprintf("ReadStatus(%d)", int(s))
	}
}

// NoStopTag reads to the end of the stream.
var NoStopTag = types.NewTag(0xFFFF, 0xFFFF)

// DefaultLargeElementSize is the value length from which deferred loading applies.
const DefaultLargeElementSize = 4096

const noPrivateCard = 0xFFFFFFFF

// StreamReader parses a dataset from a stream. Parsing is resumable: when
// the stream runs dry in the middle of an element, Read returns
// ReadNeedMoreData and keeps its position, so the caller can Feed more
// bytes and call Read again. A StreamReader is not safe for concurrent use.
type StreamReader struct {
	stream   dicomio.Stream
	chunks   *dicomio.ChunkStream
	finished bool
	in       *dicomio.Reader
	fileName string

	syntax  *types.TransferSyntax
	dataset *Dataset
	dict    *Dictionary
	logger  *slog.Logger

	largeElementSize uint32
	offset           int64

	privateCreatorCard uint32
	privateCreatorID   string

	// element state, kept across ReadNeedMoreData
	tag        types.Tag
	haveTag    bool
	vr         types.VR
	peeked     bool
	length     uint32
	haveLength bool
	pos        int64

	sawItemDelimiter bool

	bytes  int64
	read   int64
	remain int64
	need   int64

	sds      []*Dataset
	sqs      []*Sequence
	fragment *FragmentSequence
}

// NewStreamReader creates a reader over stream. Values are added to ds, or
// to a new dataset when ds is nil. When stream is a file opened with
// dicomio.OpenFileStream, large values may be left on disk.
//
// Deflated transfer syntaxes must be inflated by the caller; the reader
// treats them as Explicit VR Little Endian.
func NewStreamReader(stream dicomio.Stream, ts *types.TransferSyntax, ds *Dataset) *StreamReader {
	if ds == nil {
		ds = NewDatasetWithSyntax(ts)
	}
	r := &StreamReader{
		stream:             stream,
		in:                 dicomio.NewReader(stream, ts.ByteOrder()),
		syntax:             ts,
		dataset:            ds,
		dict:               DefaultDictionary,
		logger:             slog.Default(),
		largeElementSize:   DefaultLargeElementSize,
		privateCreatorCard: noPrivateCard,
	}
	if named, ok := stream.(dicomio.NamedStream); ok {
		r.fileName = named.Name()
	}
	return r
}

// NewIncrementalReader creates a reader over an initially empty chunk
// stream that is filled with Feed.
func NewIncrementalReader(ts *types.TransferSyntax, ds *Dataset) *StreamReader {
	chunks := dicomio.NewChunkStream()
	r := NewStreamReader(chunks, ts, ds)
	r.chunks = chunks
	return r
}

// Feed appends input for an incremental reader. The slice is retained and
// must not be modified afterwards.
func (r *StreamReader) Feed(b []byte) error {
	if r.chunks == nil {
		return fmt.Errorf("feed on a non incremental reader: %w", dcmerrors.ErrUnsupportedOperation)
	}
	if r.finished {
		return fmt.Errorf("feed after the last chunk: %w", dcmerrors.ErrReaderFinished)
	}
	r.chunks.AddChunk(b)
	return nil
}

// Finish marks the input of an incremental reader as complete. Later calls
// to Feed fail.
func (r *StreamReader) Finish() {
	r.finished = true
}

// SetTransferSyntax switches the syntax for the remaining input, e.g. after
// the file meta information of a Part 10 file.
func (r *StreamReader) SetTransferSyntax(ts *types.TransferSyntax) {
	r.syntax = ts
	r.in.SetByteOrder(ts.ByteOrder())
}

// SetDictionary replaces the dictionary used for implicit VRs.
func (r *StreamReader) SetDictionary(d *Dictionary) {
	r.dict = d
}

// SetLogger replaces the logger.
func (r *StreamReader) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.logger = logger
}

// SetLargeElementSize changes the deferred loading threshold.
func (r *StreamReader) SetLargeElementSize(n uint32) {
	r.largeElementSize = n
}

func (r *StreamReader) TransferSyntax() *types.TransferSyntax { return r.syntax }
func (r *StreamReader) Dataset() *Dataset                     { return r.dataset }

// BytesRead returns the number of bytes consumed so far.
func (r *StreamReader) BytesRead() int64 { return r.read }

// BytesEstimated estimates the size of the dataset read so far, including
// the value currently being waited for.
func (r *StreamReader) BytesEstimated() int64 { return r.bytes + r.need }

// BytesRemaining returns the unread bytes in the stream at the last check.
func (r *StreamReader) BytesRemaining() int64 { return r.remain }

// BytesNeeded returns how many more bytes the pending step needs.
func (r *StreamReader) BytesNeeded() int64 { return r.need }

func (r *StreamReader) needMoreData(count int64) (ReadStatus, error) {
	r.need = count - r.remain
	return ReadNeedMoreData, nil
}

func (r *StreamReader) consume(n int64) {
	r.remain -= n
	r.bytes += n
	r.read += n
}

func (r *StreamReader) position() (int64, error) {
	pos, err := dicomio.Position(r.stream)
	if err != nil {
		return 0, err
	}
	return pos + r.offset, nil
}

func (r *StreamReader) fail(msg string) (ReadStatus, error) {
	tag := ""
	if r.haveTag {
		tag = r.tag.String()
	}
	return ReadUnknownError, dcmerrors.NewParseError(r.pos, tag, msg)
}

func (r *StreamReader) ioFail(op string, err error) (ReadStatus, error) {
	return ReadUnknownError, fmt.Errorf("failed to read %s at offset %d: %w", op, r.pos, err)
}

// currentItem returns the item dataset being filled incrementally, if any.
func (r *StreamReader) currentItem() *Dataset {
	if len(r.sds) > 0 && len(r.sds) == len(r.sqs) {
		return r.sds[len(r.sds)-1]
	}
	return nil
}

func (r *StreamReader) currentDataset() *Dataset {
	if ds := r.currentItem(); ds != nil {
		return ds
	}
	return r.dataset
}

// closeBoundedSequences pops the sequences with an explicit length that end
// at or before the tag just read at r.pos.
func (r *StreamReader) closeBoundedSequences() {
	for len(r.sqs) > 0 {
		sq := r.sqs[len(r.sqs)-1]
		if sq.StreamLength == types.UndefinedLength {
			return
		}
		end := sq.StreamPosition + 8 + int64(sq.StreamLength)
		if r.syntax.ExplicitVR {
			end += 4
		}
		if r.pos < end {
			return
		}
		r.popSequence()
	}
}

func (r *StreamReader) popSequence() {
	if len(r.sds) == len(r.sqs) {
		r.sds = r.sds[:len(r.sds)-1]
	}
	r.sqs = r.sqs[:len(r.sqs)-1]
}

func (r *StreamReader) resetElement() {
	r.haveTag = false
	r.vr = ""
	r.peeked = false
	r.haveLength = false
	r.length = 0
}

func isStructuralTag(t types.Tag) bool {
	return t == types.ItemTag || t == types.ItemDelimitationItemTag || t == types.SequenceDelimitationItemTag
}

// Read parses elements until the stream is exhausted or a top level tag
// at or beyond stopAt is reached. The stop tag itself is left pending and is
// the first element processed by the next call.
func (r *StreamReader) Read(stopAt types.Tag, opts ReadOptions) (ReadStatus, error) {
	r.need = 0
	r.sawItemDelimiter = false
	remain, err := dicomio.Remaining(r.stream)
	if err != nil {
		return ReadUnknownError, fmt.Errorf("failed to locate stream position: %w", err)
	}
	r.remain = remain

	for r.remain > 0 {
		status, err := r.parseTag(stopAt, opts)
		if status == statusEndRead {
			return ReadSuccess, nil
		}
		if status != ReadSuccess || err != nil {
			return status, err
		}

		if status, err = r.parseVR(opts); status != ReadSuccess || err != nil {
			return status, err
		}
		if status, err = r.parseLength(); status != ReadSuccess || err != nil {
			return status, err
		}

		if r.tag.IsPrivateCreator() && r.vr != types.VR_LO && opts.Has(ForcePrivateCreatorToLO) {
			r.logger.Debug("Converting private creator VR to LO", "tag", r.tag.String(), "vr", r.vr)
			r.vr = types.VR_LO
		}
		if r.vr == types.VR_UN && r.syntax.ExplicitVR && opts.Has(UseDictionaryForExplicitUN) {
			r.vr = r.dict.DefaultVR(r.tag)
		}

		switch {
		case r.fragment != nil:
			status, err = r.insertFragmentItem(opts)
		case len(r.sqs) > 0 && isStructuralTag(r.tag):
			status, err = r.insertSequenceItem(opts)
		default:
			status, err = r.insertAttribute(opts)
		}
		if status != ReadSuccess || err != nil {
			return status, err
		}
		r.resetElement()
	}
	return ReadSuccess, nil
}

func (r *StreamReader) parseTag(stopAt types.Tag, opts ReadOptions) (ReadStatus, error) {
	if !r.haveTag {
		if r.remain < 4 {
			return r.needMoreData(4)
		}
		pos, err := r.position()
		if err != nil {
			return r.ioFail("position", err)
		}
		r.pos = pos
		r.closeBoundedSequences()

		group, err := r.in.ReadUint16()
		if err != nil {
			return r.ioFail("tag", err)
		}
		if opts.Has(FileMetaInfoOnly) && group != 0x0002 {
			if _, err := r.stream.Seek(-2, io.SeekCurrent); err != nil {
				return r.ioFail("tag", err)
			}
			return statusEndRead, nil
		}
		element, err := r.in.ReadUint16()
		if err != nil {
			return r.ioFail("tag", err)
		}

		tag := types.NewTag(group, element)
		if tag.IsPrivate() && element > 0x00FF {
			if card := tag.Card(); card != r.privateCreatorCard {
				r.privateCreatorCard = card
				creator := tag.CreatorTag()
				ds := r.dataset
				if item := r.currentItem(); item != nil && item.Contains(creator) {
					ds = item
				}
				r.privateCreatorID = ds.GetString(creator)
			}
			tag.Creator = r.privateCreatorID
		} else if isStructuralTag(tag) {
			r.vr = types.VR_NONE
		}
		r.tag = tag
		r.haveTag = true
		r.consume(4)
	}

	if r.tag == types.ItemDelimitationItemTag && len(r.sqs) == 0 && opts.Has(SequenceItemOnly) {
		r.sawItemDelimiter = true
		return statusEndRead, nil
	}
	if len(r.sqs) == 0 && !r.tag.IsDelimiter() && r.tag.Uint32() >= stopAt.Uint32() {
		return statusEndRead, nil
	}
	return ReadSuccess, nil
}

func (r *StreamReader) parseVR(opts ReadOptions) (ReadStatus, error) {
	if r.vr == "" {
		if r.syntax.ExplicitVR {
			if r.remain < 2 {
				return r.needMoreData(2)
			}
			code, err := r.in.ReadString(2)
			if err != nil {
				return r.ioFail("VR", err)
			}
			vr, ok := types.ParseVR(code)
			if !ok {
				r.logger.Debug("Unknown VR, reading as UN", "tag", r.tag.String(), "vr", fmt.Sprintf("%q", code))
				vr = types.VR_UN
			}
			r.vr = vr
			r.consume(2)
		} else {
			switch {
			case r.tag.Element == 0x0000:
				r.vr = types.VR_UL
			case opts.Has(ForcePrivateCreatorToLO) && r.tag.IsPrivateCreator():
				r.vr = types.VR_UN
			default:
				r.vr = r.dict.DefaultVR(r.tag)
			}
		}
		if r.vr == types.VR_UN && r.tag.Element == 0x0000 {
			r.vr = types.VR_UL
		}
	}

	// A private UN may hide a sequence; an undefined length gives it away.
	if r.vr == types.VR_UN && !r.peeked && r.tag.IsPrivate() && r.tag.Element > 0x00FF &&
		opts.Has(AllowSeekingForContext) {
		need := int64(4)
		if r.syntax.ExplicitVR {
			need = 6
		}
		if r.remain < need {
			return r.needMoreData(need)
		}
		pos, err := dicomio.Position(r.stream)
		if err != nil {
			return r.ioFail("position", err)
		}
		if r.syntax.ExplicitVR {
			if err := r.in.Skip(2); err != nil {
				return r.ioFail("length", err)
			}
		}
		length, err := r.in.ReadUint32()
		if err != nil {
			return r.ioFail("length", err)
		}
		if _, err := r.stream.Seek(pos, io.SeekStart); err != nil {
			return r.ioFail("position", err)
		}
		if length == types.UndefinedLength {
			r.vr = types.VR_SQ
		}
		r.peeked = true
	}
	return ReadSuccess, nil
}

func (r *StreamReader) parseLength() (ReadStatus, error) {
	if r.haveLength {
		return ReadSuccess, nil
	}
	var err error
	switch {
	case !r.syntax.ExplicitVR || r.vr == types.VR_NONE:
		if r.remain < 4 {
			return r.needMoreData(4)
		}
		r.length, err = r.in.ReadUint32()
		r.consume(4)
	case r.vr.Is16BitLength():
		if r.remain < 2 {
			return r.needMoreData(2)
		}
		var l uint16
		l, err = r.in.ReadUint16()
		r.length = uint32(l)
		r.consume(2)
	default:
		if r.remain < 6 {
			return r.needMoreData(6)
		}
		if err = r.in.Skip(2); err == nil {
			r.length, err = r.in.ReadUint32()
		}
		r.consume(6)
	}
	if err != nil {
		return r.ioFail("length", err)
	}
	r.haveLength = true

	if r.length != types.UndefinedLength && r.vr != types.VR_SQ && !(r.tag == types.ItemTag && r.fragment == nil) {
		r.bytes += int64(r.length)
	}
	return ReadSuccess, nil
}

// currentBuffer reads the pending value, or leaves it on disk when the
// deferred loading policy applies.
func (r *StreamReader) currentBuffer(opts ReadOptions) (*dicomio.ByteBuffer, error) {
	order := r.in.ByteOrder()
	if r.fileName != "" && r.length >= r.largeElementSize && r.vr != types.VR_SQ {
		pixel := r.tag.Equal(types.PixelDataTag) ||
			(r.fragment != nil && r.fragment.Tag().Equal(types.PixelDataTag))
		if opts.Has(DeferLoadingLargeElements) || (opts.Has(DeferLoadingPixelData) && pixel) {
			pos, err := dicomio.Position(r.stream)
			if err != nil {
				return nil, err
			}
			segment := dicomio.NewFileSegment(r.fileName, pos, int64(r.length))
			if _, err := r.stream.Seek(int64(r.length), io.SeekCurrent); err != nil {
				return nil, err
			}
			return dicomio.NewFileBuffer(segment, order), nil
		}
	}
	data, err := r.in.ReadBytes(int(r.length))
	if err != nil {
		return nil, err
	}
	return dicomio.NewByteBuffer(data, order), nil
}

func (r *StreamReader) insertAttribute(opts ReadOptions) (ReadStatus, error) {
	switch {
	case r.tag.IsDelimiter():
		r.logger.Debug("Skipping delimiter outside of a sequence", "tag", r.tag.String(), "offset", r.pos)
	case r.vr == types.VR_SQ:
		sq := NewSequence(r.tag)
		sq.StreamPosition = r.pos
		sq.StreamLength = r.length
		r.insertDatasetItem(sq, opts)
		r.sqs = append(r.sqs, sq)
	case r.length == types.UndefinedLength:
		r.fragment = NewFragmentSequence(r.tag, r.vr)
		r.fragment.StreamPosition = r.pos
		r.insertDatasetItem(r.fragment, opts)
	default:
		if int64(r.length) > r.remain {
			return r.needMoreData(int64(r.length))
		}
		buf, err := r.currentBuffer(opts)
		if err != nil {
			return r.ioFail("value", err)
		}
		r.remain -= int64(r.length)
		r.read += int64(r.length)

		el := NewElement(r.tag, r.vr, buf)
		el.StreamPosition = r.pos
		r.insertDatasetItem(el, opts)
	}
	return ReadSuccess, nil
}

func (r *StreamReader) insertFragmentItem(opts ReadOptions) (ReadStatus, error) {
	switch r.tag {
	case types.ItemTag:
		if r.length == types.UndefinedLength {
			return r.fail("fragment item with undefined length")
		}
		if int64(r.length) > r.remain {
			return r.needMoreData(int64(r.length))
		}
		buf, err := r.currentBuffer(opts)
		if err != nil {
			return r.ioFail("fragment", err)
		}
		r.remain -= int64(r.length)
		r.read += int64(r.length)

		if !r.fragment.HasOffsetTable() {
			if err := r.fragment.SetOffsetTable(buf); err != nil {
				return r.fail(err.Error())
			}
		} else {
			r.fragment.AddFragment(buf)
		}
	case types.SequenceDelimitationItemTag:
		r.fragment = nil
	default:
		return r.fail("unexpected tag in fragment sequence")
	}
	return ReadSuccess, nil
}

// alternateSyntaxes lists the encodings tried when an item does not parse
// under the dataset's own syntax.
func alternateSyntaxes(ts *types.TransferSyntax) []*types.TransferSyntax {
	switch {
	case !ts.ExplicitVR:
		return []*types.TransferSyntax{types.ExplicitLittleEndian, types.ExplicitBigEndian}
	case ts.BigEndian:
		return []*types.TransferSyntax{types.ImplicitLittleEndian, types.ExplicitLittleEndian}
	default:
		return []*types.TransferSyntax{types.ImplicitLittleEndian, types.ExplicitBigEndian}
	}
}

func (r *StreamReader) insertSequenceItem(opts ReadOptions) (ReadStatus, error) {
	switch r.tag {
	case types.ItemTag:
		undefined := r.length == types.UndefinedLength
		if !undefined && int64(r.length) > r.remain {
			return r.needMoreData(int64(r.length))
		}
		if len(r.sds) > len(r.sqs) {
			r.sds = r.sds[:len(r.sds)-1]
		}

		item := &SequenceItem{StreamPosition: r.pos, StreamLength: r.length}
		parsed := false

		if !undefined || opts.Has(AllowSeekingForContext) {
			itemOpts := opts
			if undefined {
				itemOpts |= SequenceItemOnly
			}
			ds, status, err := r.parseSequenceItemDataset(r.syntax, itemOpts)
			if status != ReadSuccess && !(undefined && status == ReadNeedMoreData) {
				r.logger.Warn("Failed to read sequence item, trying alternate encodings",
					"offset", r.pos, "syntax", r.syntax.Name, "error", err)
				for _, alt := range alternateSyntaxes(r.syntax) {
					ds, status, err = r.parseSequenceItemDataset(alt, itemOpts)
					if status == ReadSuccess {
						break
					}
				}
				if status != ReadSuccess {
					return r.fail("unable to parse sequence item with any transfer syntax")
				}
			}

			if status == ReadSuccess {
				parsed = true
				item.Dataset = ds
				if undefined {
					if r.remain < 8 {
						r.sds = append(r.sds, ds)
					} else {
						if _, err := r.stream.Seek(8, io.SeekCurrent); err != nil {
							return r.ioFail("item delimiter", err)
						}
						r.consume(8)
					}
				}
			}
		}

		// Items that are not complete yet are filled element by element.
		if !parsed {
			ds := NewDatasetWithSyntax(r.syntax)
			ds.SetCharacterSet(r.currentDataset().CharacterSet())
			ds.StreamPosition = r.pos + 8
			ds.StreamLength = r.length
			item.Dataset = ds
			r.sds = append(r.sds, ds)
		}

		sq := r.sqs[len(r.sqs)-1]
		sq.Items = append(sq.Items, item)
	case types.ItemDelimitationItemTag:
		if len(r.sds) == len(r.sqs) {
			r.sds = r.sds[:len(r.sds)-1]
		}
	case types.SequenceDelimitationItemTag:
		r.popSequence()
	}
	return ReadSuccess, nil
}

// parseSequenceItemDataset parses the item at the current position with a
// nested reader. Bounded items are read through a window over the stream;
// delimited items share the stream and stop at the item delimiter. On
// failure the stream is restored.
func (r *StreamReader) parseSequenceItemDataset(ts *types.TransferSyntax, opts ReadOptions) (*Dataset, ReadStatus, error) {
	start, err := dicomio.Position(r.stream)
	if err != nil {
		status, err := r.ioFail("position", err)
		return nil, status, err
	}
	undefined := r.length == types.UndefinedLength

	ds := NewDatasetWithSyntax(ts)
	ds.SetCharacterSet(r.currentDataset().CharacterSet())
	ds.StreamPosition = start + r.offset
	ds.StreamLength = r.length

	var sub *StreamReader
	if undefined {
		sub = NewStreamReader(r.stream, ts, ds)
		sub.fileName = r.fileName
		sub.offset = r.offset
	} else {
		sub = NewStreamReader(dicomio.NewSegmentStream(r.stream, start, int64(r.length)), ts, ds)
		sub.offset = start + r.offset
	}
	sub.dict = r.dict
	sub.logger = r.logger
	sub.largeElementSize = r.largeElementSize

	status, err := sub.Read(NoStopTag, opts)
	if status == ReadSuccess && undefined && !sub.sawItemDelimiter {
		status = ReadNeedMoreData
	}
	if status != ReadSuccess {
		if _, serr := r.stream.Seek(start, io.SeekStart); serr != nil {
			return nil, ReadUnknownError, fmt.Errorf("failed to restore stream position: %w", serr)
		}
		return nil, status, err
	}

	var length int64
	if undefined {
		end, err := r.stream.Seek(-4, io.SeekCurrent)
		if err != nil {
			status, err := r.ioFail("item delimiter", err)
			return nil, status, err
		}
		length = end - start
	} else {
		length = int64(r.length)
		if _, err := r.stream.Seek(start+length, io.SeekStart); err != nil {
			status, err := r.ioFail("item", err)
			return nil, status, err
		}
	}
	r.consume(length)
	return ds, ReadSuccess, nil
}

func (r *StreamReader) insertDatasetItem(attr Attribute, opts ReadOptions) {
	ds := r.currentDataset()
	if r.tag.Element != 0x0000 || opts.Has(KeepGroupLengths) {
		ds.Add(attr)
	}
	if r.tag.IsPrivateCreator() {
		r.privateCreatorCard = noPrivateCard
	}

	if ds != r.dataset && ds.StreamLength != types.UndefinedLength {
		end := ds.StreamPosition + int64(ds.StreamLength)
		if pos, err := r.position(); err == nil && pos >= end {
			r.sds = r.sds[:len(r.sds)-1]
		}
	}
}
