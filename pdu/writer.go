package pdu

import (
	"io"

	"github.com/caio-sobreiro/dcmstream/types"
)

// minPDULength leaves room for the PDU header, one PDV header and a
// couple of data bytes.
const minPDULength = types.PDUHeaderLength + types.PDVHeaderLength + 2

// PDataWriter packs a command and its dataset into P-DATA-TF PDUs no larger
// than the negotiated maximum, header included. A message starts in command
// mode; SetCommand(false) closes the command with a last fragment and
// switches to dataset fragments. Flush(true) ends the message.
type PDataWriter struct {
	w         io.Writer
	contextID byte
	max       int
	command   bool

	pending []PDV
	pduSize int
	buf     []byte

	sent int64
	pdus int

	// OnPDUSent runs after every PDU written.
	OnPDUSent func()
}

// NewPDataWriter creates a writer for presentation context contextID.
// maxPDULength of zero, or above the 4 MiB cap, uses the cap.
func NewPDataWriter(w io.Writer, contextID byte, maxPDULength uint32) *PDataWriter {
	max := int(types.MaxPDULengthCap)
	if maxPDULength != 0 && maxPDULength < types.MaxPDULengthCap {
		max = int(maxPDULength)
	}
	if max < minPDULength {
		max = minPDULength
	}
	return &PDataWriter{
		w:         w,
		contextID: contextID,
		max:       max,
		command:   true,
		pduSize:   types.PDUHeaderLength,
	}
}

// MaxPDULength is the effective PDU size limit.
func (w *PDataWriter) MaxPDULength() int { return w.max }

// BytesSent is the number of message bytes written so far, PDU and PDV
// headers excluded.
func (w *PDataWriter) BytesSent() int64 { return w.sent }

// PDUsSent is the number of PDUs written so far.
func (w *PDataWriter) PDUsSent() int { return w.pdus }

// IsCommand reports whether fragments are flagged as command fragments.
func (w *PDataWriter) IsCommand() bool { return w.command }

// SetCommand switches between command and dataset fragments. Leaving a
// mode flushes its pending bytes as that mode's last fragment.
func (w *PDataWriter) SetCommand(command bool) error {
	if w.command == command {
		return nil
	}
	w.createPDV()
	if err := w.writePDU(true); err != nil {
		return err
	}
	w.command = command
	return nil
}

// Write buffers p and sends every PDU that fills up.
func (w *PDataWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for w.pduSize+types.PDVHeaderLength+len(w.buf) > w.max {
		if err := w.writePDU(false); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// WriteStream copies r through the writer in chunks that fill one PDU each
// and ends the message with the final chunk.
func (w *PDataWriter) WriteStream(r io.Reader) (int64, error) {
	chunk := make([]byte, w.max-types.PDUHeaderLength-types.PDVHeaderLength)
	n, err := io.CopyBuffer(struct{ io.Writer }{w}, r, chunk)
	if err != nil {
		return n, err
	}
	return n, w.Flush(true)
}

// Flush sends the pending bytes. With last set, the final PDV carries the
// last-fragment flag.
func (w *PDataWriter) Flush(last bool) error {
	return w.writePDU(last)
}

func (w *PDataWriter) createPDV() {
	n := w.max - w.pduSize - types.PDVHeaderLength
	if n > len(w.buf) {
		n = len(w.buf)
	}
	if n < 0 {
		n = 0
	}
	data := make([]byte, n)
	copy(data, w.buf[:n])
	w.buf = w.buf[n:]
	if len(w.buf) == 0 {
		w.buf = nil
	}
	w.pending = append(w.pending, PDV{ContextID: w.contextID, Command: w.command, Data: data})
	w.pduSize += types.PDVHeaderLength + n
}

func (w *PDataWriter) writePDU(last bool) error {
	if len(w.pending) == 0 || (w.pduSize+types.PDVHeaderLength < w.max && len(w.buf) > 0) {
		w.createPDV()
	}
	if last {
		w.pending[len(w.pending)-1].Last = true
	}

	p := &PDataTF{Items: w.pending}
	if err := WritePDU(w.w, p); err != nil {
		return err
	}
	for i := range p.Items {
		w.sent += int64(len(p.Items[i].Data))
	}
	w.pending = nil
	w.pduSize = types.PDUHeaderLength
	w.pdus++

	if w.OnPDUSent != nil {
		w.OnPDUSent()
	}
	return nil
}
