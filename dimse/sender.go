package dimse

import (
	"fmt"
	"io"

	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/pdu"
	"github.com/caio-sobreiro/dcmstream/types"
)

// SendOptions describes the presentation context a message goes out on.
type SendOptions struct {
	ContextID      byte
	TransferSyntax *types.TransferSyntax
	MaxPDULength   uint32

	// OnBegin runs after the first PDU, OnProgress after every later one
	// and OnComplete once the last fragment is written.
	OnBegin    func(p *Progress)
	OnProgress func(p *Progress)
	OnComplete func(p *Progress)
}

func (o SendOptions) writer(w io.Writer, progress *Progress) *pdu.PDataWriter {
	pw := pdu.NewPDataWriter(w, o.ContextID, o.MaxPDULength)
	first := true
	pw.OnPDUSent = func() {
		progress.BytesTransferred = pw.BytesSent()
		if first {
			first = false
			if o.OnBegin != nil {
				o.OnBegin(progress)
			}
			return
		}
		if o.OnProgress != nil {
			o.OnProgress(progress)
		}
	}
	return pw
}

// Send writes cmd and its optional dataset as P-DATA-TF PDUs. A dataset in
// another native syntax is converted on a copy; the caller's dataset is left
// untouched.
func Send(w io.Writer, cmd *Command, ds *dicom.Dataset, opts SendOptions) error {
	ts := opts.TransferSyntax
	if ts == nil {
		ts = types.ImplicitLittleEndian
	}
	if ds != nil {
		if current := ds.TransferSyntax(); current.UID != ts.UID {
			ds = ds.Clone()
			if err := ds.ChangeTransferSyntax(ts); err != nil {
				return fmt.Errorf("failed to prepare dataset for %s: %w", ts.Name, err)
			}
		}
	}
	cmd.SetHasDataset(ds != nil)

	progress := NewProgress()
	progress.EstimatedCommandLength = cmd.EncodedLength()
	if ds != nil {
		progress.EstimatedDatasetLength = dicom.CalculateWriteLength(ds, ts, dicom.DefaultWriteOptions)
	}

	pw := opts.writer(w, progress)
	if err := dicom.NewStreamWriter(pw, types.ImplicitLittleEndian).Write(cmd.Dataset(), CommandWriteOptions); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	if ds == nil {
		return finish(pw, progress, opts)
	}

	if err := pw.SetCommand(false); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	if err := dicom.NewStreamWriter(pw, ts).Write(ds, dicom.DefaultWriteOptions); err != nil {
		return fmt.Errorf("failed to send dataset of %s: %w", cmd, err)
	}
	return finish(pw, progress, opts)
}

// SendStream writes cmd followed by a dataset that is already encoded in
// the context's transfer syntax, such as the body of a Part 10 file.
// length is only used for progress reporting and may be zero.
func SendStream(w io.Writer, cmd *Command, r io.Reader, length int64, opts SendOptions) error {
	cmd.SetHasDataset(true)

	progress := NewProgress()
	progress.EstimatedCommandLength = cmd.EncodedLength()
	progress.EstimatedDatasetLength = length

	pw := opts.writer(w, progress)
	if err := dicom.NewStreamWriter(pw, types.ImplicitLittleEndian).Write(cmd.Dataset(), CommandWriteOptions); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	if err := pw.SetCommand(false); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	if _, err := pw.WriteStream(r); err != nil {
		return fmt.Errorf("failed to send dataset of %s: %w", cmd, err)
	}
	progress.BytesTransferred = pw.BytesSent()
	if opts.OnComplete != nil {
		opts.OnComplete(progress)
	}
	return nil
}

func finish(pw *pdu.PDataWriter, progress *Progress, opts SendOptions) error {
	if err := pw.Flush(true); err != nil {
		return err
	}
	progress.BytesTransferred = pw.BytesSent()
	if opts.OnComplete != nil {
		opts.OnComplete(progress)
	}
	return nil
}
