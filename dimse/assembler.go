package dimse

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"

	"github.com/caio-sobreiro/dcmstream/association"
	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/dicomio"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/pdu"
	"github.com/caio-sobreiro/dcmstream/types"
)

// SpillFunc chooses a file for the dataset of a C-STORE request. An empty
// path keeps the dataset in memory.
type SpillFunc func(contextID byte, cmd *Command) string

// AssemblerOptions configures an Assembler.
type AssemblerOptions struct {
	// StreamParse feeds dataset fragments to an incremental reader as they
	// arrive. Otherwise datasets are buffered and parsed once complete.
	StreamParse bool
	// Spill is consulted when a C-STORE command completes.
	Spill SpillFunc
	// SourceAE is written to spilled files' meta information.
	SourceAE string
	Logger   *slog.Logger
}

// Assembler rebuilds DIMSE messages from PDVs, one message in flight per
// presentation context.
type Assembler struct {
	assoc   *association.Association
	opts    AssemblerOptions
	logger  *slog.Logger
	pending map[byte]*partial

	// OnBegin runs the first time a message receives bytes; OnProgress
	// after every later P-DATA-TF that carried bytes for it.
	OnBegin    func(msg *Message)
	OnProgress func(msg *Message)
}

type partial struct {
	msg   *Message
	begun bool

	command   *dicom.StreamReader
	commandDS *dicom.Dataset

	syntax  *types.TransferSyntax
	reader  *dicom.StreamReader
	buffer  *dicomio.ChunkStream
	file    *os.File
	fileOut *bufio.Writer
}

// NewAssembler creates an assembler for the contexts negotiated in a.
func NewAssembler(a *association.Association, opts AssemblerOptions) *Assembler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		assoc:   a,
		opts:    opts,
		logger:  logger,
		pending: make(map[byte]*partial),
	}
}

// Add consumes the PDVs of one P-DATA-TF and returns the messages it
// completed, in order.
func (a *Assembler) Add(p *pdu.PDataTF) ([]*Message, error) {
	var done []*Message
	touched := make(map[byte]*partial)
	var order []byte

	for i := range p.Items {
		v := &p.Items[i]
		part, err := a.partialFor(v.ContextID)
		if err != nil {
			return done, err
		}
		if _, ok := touched[v.ContextID]; !ok {
			touched[v.ContextID] = part
			order = append(order, v.ContextID)
		}

		complete, err := a.addPDV(part, v)
		if err != nil {
			a.discard(v.ContextID, part)
			return done, err
		}
		if complete {
			a.notify(part)
			delete(touched, v.ContextID)
			delete(a.pending, v.ContextID)
			done = append(done, part.msg)
		}
	}

	for _, id := range order {
		if part, ok := touched[id]; ok {
			a.notify(part)
		}
	}
	return done, nil
}

func (a *Assembler) notify(part *partial) {
	if !part.begun {
		part.begun = true
		if a.OnBegin != nil {
			a.OnBegin(part.msg)
		}
		return
	}
	if a.OnProgress != nil {
		a.OnProgress(part.msg)
	}
}

func (a *Assembler) partialFor(contextID byte) (*partial, error) {
	if part, ok := a.pending[contextID]; ok {
		return part, nil
	}
	pc, ok := a.assoc.PresentationContext(contextID)
	if !ok || !pc.Accepted() {
		return nil, fmt.Errorf("PDV for presentation context %d: %w", contextID, dcmerrors.ErrNoPresentationCtx)
	}
	part := &partial{
		msg:    &Message{ContextID: contextID, Progress: NewProgress()},
		syntax: pc.AcceptedTransferSyntax(),
	}
	a.pending[contextID] = part
	return part, nil
}

func (a *Assembler) addPDV(part *partial, v *pdu.PDV) (bool, error) {
	part.msg.Progress.BytesTransferred += int64(len(v.Data))
	if v.Command {
		return a.addCommandFragment(part, v)
	}
	return a.addDatasetFragment(part, v)
}

func (a *Assembler) addCommandFragment(part *partial, v *pdu.PDV) (bool, error) {
	if part.msg.Command != nil {
		return false, fmt.Errorf("command fragment after the last command fragment on context %d: %w",
			v.ContextID, dcmerrors.ErrInvalidMessage)
	}
	if part.command == nil {
		part.commandDS = dicom.NewDatasetWithSyntax(types.ImplicitLittleEndian)
		part.command = dicom.NewIncrementalReader(types.ImplicitLittleEndian, part.commandDS)
		part.command.SetLogger(a.logger)
	}
	if err := part.command.Feed(v.Data); err != nil {
		return false, err
	}
	if v.Last {
		part.command.Finish()
	}
	status, err := part.command.Read(dicom.NoStopTag, dicom.DefaultReadOptionsWithoutDeferredLoading)
	if err != nil {
		return false, fmt.Errorf("failed to parse command: %w", err)
	}
	part.msg.Progress.EstimatedCommandLength = part.command.BytesEstimated()
	if !v.Last {
		return false, nil
	}
	if status != dicom.ReadSuccess {
		return false, fmt.Errorf("command truncated, %d more bytes needed: %w",
			part.command.BytesNeeded(), dcmerrors.ErrInvalidMessage)
	}

	cmd, err := CommandFromDataset(part.commandDS)
	if err != nil {
		return false, err
	}
	part.msg.Command = cmd
	part.command = nil
	if !cmd.HasDataset() {
		return true, nil
	}

	if cmd.CommandField() == types.CStoreRQ && a.opts.Spill != nil {
		if path := a.opts.Spill(v.ContextID, cmd); path != "" {
			if err := a.openSpill(part, path); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

func (a *Assembler) openSpill(part *partial, path string) error {
	pc, _ := a.assoc.PresentationContext(part.msg.ContextID)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create spill file: %w", err)
	}
	part.file = f
	part.fileOut = bufio.NewWriter(f)
	part.msg.DatasetFile = path

	meta := dicom.NewFileMetaInfo(pc.AbstractSyntax, part.msg.Command.AffectedSOPInstanceUID(), part.syntax, a.opts.SourceAE)
	if err := dicom.WriteFileMeta(part.fileOut, meta); err != nil {
		return fmt.Errorf("failed to write spill file meta information: %w", err)
	}
	a.logger.Debug("Spilling dataset to file",
		"context_id", part.msg.ContextID,
		"path", path)
	return nil
}

func (a *Assembler) addDatasetFragment(part *partial, v *pdu.PDV) (bool, error) {
	if part.msg.Command == nil {
		return false, fmt.Errorf("dataset fragment before the command on context %d: %w",
			v.ContextID, dcmerrors.ErrInvalidMessage)
	}

	switch {
	case part.file != nil:
		if _, err := part.fileOut.Write(v.Data); err != nil {
			return false, fmt.Errorf("failed to write spill file: %w", err)
		}
		part.msg.Progress.EstimatedDatasetLength += int64(len(v.Data))
		if v.Last {
			return true, a.closeSpill(part)
		}
		return false, nil

	case a.opts.StreamParse && !part.syntax.Deflated:
		if part.reader == nil {
			part.msg.Dataset = dicom.NewDatasetWithSyntax(part.syntax)
			part.reader = dicom.NewIncrementalReader(part.syntax, part.msg.Dataset)
			part.reader.SetLogger(a.logger)
		}
		if err := part.reader.Feed(v.Data); err != nil {
			return false, err
		}
		if v.Last {
			part.reader.Finish()
		}
		status, err := part.reader.Read(dicom.NoStopTag, dicom.DefaultReadOptionsWithoutDeferredLoading)
		if err != nil {
			return false, fmt.Errorf("failed to parse dataset: %w", err)
		}
		part.msg.Progress.EstimatedDatasetLength = part.reader.BytesEstimated()
		if !v.Last {
			return false, nil
		}
		if status != dicom.ReadSuccess {
			return false, fmt.Errorf("dataset truncated, %d more bytes needed: %w",
				part.reader.BytesNeeded(), dcmerrors.ErrInvalidMessage)
		}
		return true, nil

	default:
		if part.buffer == nil {
			part.buffer = dicomio.NewChunkStream()
		}
		part.buffer.AddChunk(v.Data)
		part.msg.Progress.EstimatedDatasetLength = part.buffer.Size()
		if !v.Last {
			return false, nil
		}
		ds, err := dicom.ParseDataset(part.buffer.Bytes(), part.syntax)
		if err != nil {
			return false, err
		}
		part.msg.Dataset = ds
		part.buffer = nil
		return true, nil
	}
}

func (a *Assembler) closeSpill(part *partial) error {
	var result *multierror.Error
	if err := part.fileOut.Flush(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := part.file.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	part.file = nil
	part.fileOut = nil
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("failed to finish spill file: %w", err)
	}
	return nil
}

func (a *Assembler) discard(contextID byte, part *partial) error {
	delete(a.pending, contextID)
	if part.file == nil {
		return nil
	}
	var result *multierror.Error
	if err := part.file.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := os.Remove(part.msg.DatasetFile); err != nil && !os.IsNotExist(err) {
		result = multierror.Append(result, err)
	}
	part.file = nil
	return result.ErrorOrNil()
}

// Pending is the number of messages in flight.
func (a *Assembler) Pending() int {
	return len(a.pending)
}

// Reset drops every message in flight and removes their spill files.
func (a *Assembler) Reset() error {
	var result *multierror.Error
	for id, part := range a.pending {
		if err := a.discard(id, part); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
