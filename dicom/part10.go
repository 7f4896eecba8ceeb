package dicom

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"

	"github.com/caio-sobreiro/dcmstream/dicomio"
	"github.com/caio-sobreiro/dcmstream/types"
)

const (
	preambleLength = 128
	part10Prefix   = "DICM"
	part10Header   = preambleLength + len(part10Prefix)

	// ImplementationClassUID identifies files and associations produced by this module.
	ImplementationClassUID = "2.25.264849158212948726436520376232811434951"
	// ImplementationVersionName accompanies ImplementationClassUID.
	ImplementationVersionName = "DCMSTREAM_1"
)

// File is a Part 10 file: the file meta information group and the dataset.
type File struct {
	Meta    *Dataset
	Dataset *Dataset
}

// TransferSyntax returns the syntax named in the file meta information.
func (f *File) TransferSyntax() *types.TransferSyntax {
	uid := f.Meta.GetUID(types.TransferSyntaxUIDTag)
	if uid == "" {
		return types.ExplicitLittleEndian
	}
	return types.LookupTransferSyntax(uid)
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
//
// Returns true if the data contains the 128-byte preamble followed by "DICM".
func HasPart10Header(data []byte) bool {
	if len(data) < part10Header {
		return false
	}
	return string(data[preambleLength:part10Header]) == part10Prefix
}

// ReadFileMeta parses the file meta information of an in-memory Part 10
// file and returns it with the offset at which the dataset starts.
func ReadFileMeta(data []byte) (*Dataset, int64, error) {
	if len(data) < part10Header {
		return nil, 0, fmt.Errorf("data too short to be DICOM Part 10 (need at least %d bytes, got %d)", part10Header, len(data))
	}
	if !HasPart10Header(data) {
		return nil, 0, fmt.Errorf("not a valid DICOM Part 10 file (missing DICM prefix at offset %d)", preambleLength)
	}

	stream := bytes.NewReader(data)
	if _, err := stream.Seek(int64(part10Header), io.SeekStart); err != nil {
		return nil, 0, err
	}
	meta := NewDatasetWithSyntax(types.ExplicitLittleEndian)
	reader := NewStreamReader(stream, types.ExplicitLittleEndian, meta)
	status, err := reader.Read(NoStopTag, DefaultReadOptionsWithoutDeferredLoading|FileMetaInfoOnly)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read file meta information: %w", err)
	}
	if status != ReadSuccess {
		return nil, 0, fmt.Errorf("failed to read file meta information: %s", status)
	}
	offset, err := dicomio.Position(stream)
	if err != nil {
		return nil, 0, err
	}
	return meta, offset, nil
}

// StripPart10Header removes the DICOM Part 10 preamble and File Meta Information
// to extract just the dataset.
//
// This function is useful when you need to send a DICOM dataset via DIMSE
// operations (like C-STORE), which expect only the dataset without the
// Part 10 wrapper.
func StripPart10Header(data []byte) ([]byte, error) {
	meta, offset, err := ReadFileMeta(data)
	if err != nil {
		return nil, err
	}
	if offset >= int64(len(data)) {
		return nil, fmt.Errorf("failed to find dataset after File Meta Information")
	}

	slog.Debug("Found Transfer Syntax UID in File Meta Information",
		"transfer_syntax", meta.GetUID(types.TransferSyntaxUIDTag),
		"dataset_start_offset", offset)

	return data[offset:], nil
}

// ReadFile reads a Part 10 file. With deferred loading options, large
// values stay on disk until they are accessed. With FileMetaInfoOnly the
// returned dataset is empty.
func ReadFile(path string, opts ReadOptions) (*File, error) {
	stream, err := dicomio.OpenFileStream(path)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	meta := NewDatasetWithSyntax(types.ExplicitLittleEndian)
	var syntax *types.TransferSyntax

	prefix := make([]byte, part10Header)
	if _, err := io.ReadFull(stream, prefix); err == nil && HasPart10Header(prefix) {
		reader := NewStreamReader(stream, types.ExplicitLittleEndian, meta)
		status, err := reader.Read(NoStopTag, opts|FileMetaInfoOnly)
		if err != nil {
			return nil, fmt.Errorf("failed to read file meta information of %s: %w", path, err)
		}
		if status != ReadSuccess {
			return nil, fmt.Errorf("failed to read file meta information of %s: %s", path, status)
		}
		file := &File{Meta: meta}
		syntax = file.TransferSyntax()
	} else {
		// No preamble: a bare dataset, explicit when the first VR field reads as one.
		if _, err := stream.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		syntax = types.ImplicitLittleEndian
		if len(prefix) >= 6 {
			if _, ok := types.ParseVR(string(prefix[4:6])); ok {
				syntax = types.ExplicitLittleEndian
			}
		}
	}

	ds := NewDatasetWithSyntax(syntax)
	file := &File{Meta: meta, Dataset: ds}
	if opts.Has(FileMetaInfoOnly) {
		return file, nil
	}

	var reader *StreamReader
	if syntax.Deflated {
		inflated, err := Inflate(stream)
		if err != nil {
			return nil, fmt.Errorf("failed to inflate %s: %w", path, err)
		}
		reader = NewStreamReader(bytes.NewReader(inflated), types.ExplicitLittleEndian, ds)
	} else {
		reader = NewStreamReader(stream, syntax, ds)
	}
	status, err := reader.Read(NoStopTag, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset of %s: %w", path, err)
	}
	if status != ReadSuccess {
		return nil, fmt.Errorf("failed to read dataset of %s: %s", path, status)
	}
	return file, nil
}

// NewFileMetaInfo builds the file meta information group.
func NewFileMetaInfo(sopClassUID, sopInstanceUID string, ts *types.TransferSyntax, sourceAE string) *Dataset {
	meta := NewDatasetWithSyntax(types.ExplicitLittleEndian)
	meta.AddBytes(types.FileMetaInformationVersionTag, types.VR_OB, []byte{0x00, 0x01})
	meta.AddUID(types.MediaStorageSOPClassUIDTag, sopClassUID)
	meta.AddUID(types.MediaStorageSOPInstanceUIDTag, sopInstanceUID)
	meta.AddUID(types.TransferSyntaxUIDTag, ts.UID)
	meta.AddUID(types.ImplementationClassUIDTag, ImplementationClassUID)
	_ = meta.AddString(types.ImplementationVersionNameTag, types.VR_SH, ImplementationVersionName)
	if sourceAE != "" {
		_ = meta.AddString(types.SourceApplicationEntityTitleTag, types.VR_AE, sourceAE)
	}
	return meta
}

// NewFileMetaInfoForDataset builds the file meta information for ds,
// taking the SOP class and instance from the dataset itself.
func NewFileMetaInfoForDataset(ds *Dataset, sourceAE string) *Dataset {
	return NewFileMetaInfo(ds.GetUID(types.SOPClassUIDTag), ds.GetUID(types.SOPInstanceUIDTag), ds.TransferSyntax(), sourceAE)
}

// WriteFileMeta writes the preamble, the prefix and the meta group.
func WriteFileMeta(w io.Writer, meta *Dataset) error {
	if _, err := w.Write(make([]byte, preambleLength)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, part10Prefix); err != nil {
		return err
	}
	return NewStreamWriter(w, types.ExplicitLittleEndian).Write(meta, DefaultWriteOptions)
}

// WriteFileTo writes a complete Part 10 stream. The dataset is encoded in
// the transfer syntax named by meta.
func WriteFileTo(w io.Writer, meta, ds *Dataset, opts WriteOptions) error {
	if err := WriteFileMeta(w, meta); err != nil {
		return fmt.Errorf("failed to write file meta information: %w", err)
	}
	f := &File{Meta: meta}
	if err := NewStreamWriter(w, f.TransferSyntax()).Write(ds, opts); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	return nil
}

// WriteFile writes a Part 10 file to path.
func WriteFile(path string, meta, ds *Dataset, opts WriteOptions) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	bw := bufio.NewWriter(f)
	if err := WriteFileTo(bw, meta, ds, opts); err != nil {
		return err
	}
	return bw.Flush()
}
