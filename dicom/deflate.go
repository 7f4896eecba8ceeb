package dicom

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/caio-sobreiro/dcmstream/types"
)

// Inflate decompresses a raw deflate stream, as used by the Deflated
// Explicit VR Little Endian transfer syntax.
func Inflate(r io.Reader) ([]byte, error) {
	fr := flate.NewReader(r)
	defer fr.Close()
	data, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate dataset: %w", err)
	}
	return data, nil
}

// Deflate compresses data into a raw deflate stream.
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to deflate dataset: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("failed to deflate dataset: %w", err)
	}
	return buf.Bytes(), nil
}

// wireSyntax returns the syntax the parser sees once a deflated stream has
// been inflated.
func wireSyntax(ts *types.TransferSyntax) *types.TransferSyntax {
	if ts.Deflated {
		return types.ExplicitLittleEndian
	}
	return ts
}

// ParseDataset decodes a complete dataset held in memory.
func ParseDataset(data []byte, ts *types.TransferSyntax) (*Dataset, error) {
	if ts.Deflated {
		inflated, err := Inflate(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		data = inflated
	}
	ds := NewDatasetWithSyntax(ts)
	reader := NewStreamReader(bytes.NewReader(data), wireSyntax(ts), ds)
	status, err := reader.Read(NoStopTag, DefaultReadOptionsWithoutDeferredLoading)
	if err != nil {
		return nil, err
	}
	switch status {
	case ReadSuccess:
		return ds, nil
	case ReadNeedMoreData:
		return nil, fmt.Errorf("dataset truncated: %d more bytes needed: %w", reader.BytesNeeded(), io.ErrUnexpectedEOF)
	default:
		return nil, fmt.Errorf("failed to parse dataset: %s", status)
	}
}

// EncodeDataset serializes ds in ts.
func EncodeDataset(ds *Dataset, ts *types.TransferSyntax, opts WriteOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewStreamWriter(&buf, ts).Write(ds, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
