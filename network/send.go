package network

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caio-sobreiro/dcmstream/association"
	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/dimse"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/metrics"
	"github.com/caio-sobreiro/dcmstream/pdu"
	"github.com/caio-sobreiro/dcmstream/types"
)

// pduWriter writes whole PDUs to the transport. Callers hold sendMu.
type pduWriter struct {
	c *Conn
}

func (w pduWriter) Write(p []byte) (int, error) {
	c := w.c
	if err := c.nc.SetWriteDeadline(time.Now().Add(c.opts.SocketTimeout)); err != nil {
		return 0, c.writeFailed(err)
	}
	n, err := c.nc.Write(p)
	if err != nil {
		return n, c.writeFailed(err)
	}
	if len(p) > 0 {
		c.metrics.RecordPDU(metrics.Outbound, p[0], n)
	}
	return n, nil
}

func (c *Conn) writeFailed(err error) error {
	nerr := dcmerrors.NewNetworkError("write", err)
	if c.stop.Load() {
		return nerr
	}
	c.logger.Warn("Connection write failed", "error", err)
	c.setErr(nerr)
	if c.h.OnNetworkError != nil {
		c.h.OnNetworkError(c, nerr)
	}
	c.shutdown()
	return nerr
}

func (c *Conn) writePDU(p pdu.PDU) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return pdu.WritePDU(pduWriter{c}, p)
}

// SendAssociateRequest proposes a. Its MaxPDULength is replaced by the
// connection's.
func (c *Conn) SendAssociateRequest(a *association.Association) error {
	c.mu.Lock()
	if !c.requestor || c.assoc != nil {
		c.mu.Unlock()
		return fmt.Errorf("association already proposed: %w", dcmerrors.ErrUnsupportedOperation)
	}
	a.MaxPDULength = c.opts.MaxPDULength
	c.assoc = a
	c.state = StateAssociating
	c.mu.Unlock()

	c.logger.Info("Requesting association",
		"calling_ae", a.CallingAE,
		"called_ae", a.CalledAE,
		"contexts", len(a.PresentationContexts()))
	return c.writePDU(pdu.NewAssociateRQ(a))
}

// SendAssociateAccept answers a request with the outcome negotiated in a.
func (c *Conn) SendAssociateAccept(a *association.Association) error {
	if err := c.writePDU(pdu.NewAssociateAC(a, c.opts.Policy.OmitRejectedContexts)); err != nil {
		return err
	}
	c.associated(a)
	c.metrics.RecordAssociation("acceptor", "accepted")

	accepted := 0
	for _, pc := range a.PresentationContexts() {
		if pc.Accepted() {
			accepted++
		}
	}
	c.logger.Info("Association accepted",
		"calling_ae", a.CallingAE,
		"accepted_contexts", accepted,
		"max_pdu_length", a.EffectiveMaxPDULength())
	return nil
}

// SendAssociateReject refuses the association and closes the connection.
func (c *Conn) SendAssociateReject(err *dcmerrors.AssociationError) error {
	c.logger.Warn("Rejecting association", "error", err)
	c.metrics.RecordAssociation("acceptor", "rejected")
	werr := c.writePDU(pdu.NewAssociateRJ(err))
	c.shutdown()
	return werr
}

// SendReleaseRequest starts an orderly release. The connection closes when
// the peer answers.
func (c *Conn) SendReleaseRequest() error {
	state := c.State()
	if state != StateAssociated {
		return fmt.Errorf("release in state %s: %w", state, dcmerrors.ErrNotAssociated)
	}
	c.setState(StateReleasing)
	return c.writePDU(&pdu.ReleaseRQ{})
}

// SendReleaseResponse confirms a release requested by the peer.
func (c *Conn) SendReleaseResponse() error {
	return c.writePDU(&pdu.ReleaseRP{})
}

// SendAbort aborts the association and closes the connection.
func (c *Conn) SendAbort(source, reason byte) error {
	if c.stop.Load() {
		return nil
	}
	c.setState(StateAborting)
	c.metrics.RecordAbort(metrics.Outbound)
	err := c.writePDU(&pdu.Abort{Source: source, Reason: reason})
	c.shutdown()
	return err
}

// Release sends an A-RELEASE-RQ and waits for the connection to end. When
// timeout passes first the association is aborted.
func (c *Conn) Release(timeout time.Duration) error {
	if err := c.SendReleaseRequest(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return c.Err()
	case <-time.After(timeout):
		c.logger.Warn("Release timed out, aborting", "timeout", timeout)
		_ = c.SendAbort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified)
		<-c.done
		return dcmerrors.NewTimeoutError("release", timeout.String())
	}
}

// sendContext returns the accepted syntax of contextID and the PDU length
// the peer accepts.
func (c *Conn) sendContext(contextID byte) (*types.TransferSyntax, uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAssociated || c.assoc == nil {
		return nil, 0, fmt.Errorf("send in state %s: %w", c.state, dcmerrors.ErrNotAssociated)
	}
	pc, ok := c.assoc.PresentationContext(contextID)
	if !ok || !pc.Accepted() {
		return nil, 0, fmt.Errorf("presentation context %d: %w", contextID, dcmerrors.ErrNoPresentationCtx)
	}
	return pc.AcceptedTransferSyntax(), c.assoc.RemoteMaxPDULength, nil
}

func (c *Conn) sendOptions(contextID byte, ts *types.TransferSyntax, max uint32) dimse.SendOptions {
	opts := dimse.SendOptions{ContextID: contextID, TransferSyntax: ts, MaxPDULength: max}
	if c.h.OnSendDimseBegin != nil {
		opts.OnBegin = func(p *dimse.Progress) { c.h.OnSendDimseBegin(c, contextID, p) }
	}
	if c.h.OnSendDimseProgress != nil {
		opts.OnProgress = func(p *dimse.Progress) { c.h.OnSendDimseProgress(c, contextID, p) }
	}
	if c.h.OnSendDimseComplete != nil {
		opts.OnComplete = func(p *dimse.Progress) { c.h.OnSendDimseComplete(c, contextID, p) }
	}
	return opts
}

// beginSend takes the send lock and suspends the DIMSE timeout.
func (c *Conn) beginSend() func() {
	c.sendMu.Lock()
	c.sending.Add(1)
	return func() {
		c.sending.Add(-1)
		c.touch()
		c.sendMu.Unlock()
	}
}

// SendDimse sends cmd and an optional dataset on contextID. The dataset is
// converted to the context's transfer syntax when needed.
func (c *Conn) SendDimse(contextID byte, cmd *dimse.Command, ds *dicom.Dataset) error {
	ts, max, err := c.sendContext(contextID)
	if err != nil {
		return err
	}
	end := c.beginSend()
	defer end()

	started := time.Now()
	if err := dimse.Send(pduWriter{c}, cmd, ds, c.sendOptions(contextID, ts, max)); err != nil {
		return err
	}
	c.metrics.RecordMessage(metrics.Outbound, cmd.CommandField(), time.Since(started))
	c.logger.Debug("Sent DIMSE message", "context_id", contextID, "command", cmd.String())
	return nil
}

// SendDimseStream sends cmd followed by dataset bytes already encoded in
// the context's transfer syntax.
func (c *Conn) SendDimseStream(contextID byte, cmd *dimse.Command, r io.Reader, length int64) error {
	_, max, err := c.sendContext(contextID)
	if err != nil {
		return err
	}
	end := c.beginSend()
	defer end()

	started := time.Now()
	if err := dimse.SendStream(pduWriter{c}, cmd, r, length, c.sendOptions(contextID, nil, max)); err != nil {
		return err
	}
	c.metrics.RecordMessage(metrics.Outbound, cmd.CommandField(), time.Since(started))
	c.logger.Debug("Sent DIMSE message", "context_id", contextID, "command", cmd.String(), "bytes", length)
	return nil
}

// FindContext returns an accepted context for sopClassUID, preferring one
// that accepted ts.
func (c *Conn) FindContext(sopClassUID string, ts *types.TransferSyntax) (byte, error) {
	a := c.Association()
	if a == nil {
		return 0, dcmerrors.ErrNotAssociated
	}
	pc, ok := a.FindAcceptedContext(sopClassUID, ts)
	if !ok {
		return 0, fmt.Errorf("%s: %w", types.GetSOPClassInfo(sopClassUID).Name, dcmerrors.ErrNoPresentationCtx)
	}
	return pc.ID, nil
}

// SendRequest sends a request on an accepted context for its SOP class
// and returns that context.
func (c *Conn) SendRequest(cmd *dimse.Command, ds *dicom.Dataset) (byte, error) {
	var ts *types.TransferSyntax
	if ds != nil {
		ts = ds.TransferSyntax()
	}
	id, err := c.FindContext(cmd.SOPClassUID(), ts)
	if err != nil {
		return 0, err
	}
	return id, c.SendDimse(id, cmd, ds)
}

// SendCEchoRequest sends a C-ECHO-RQ and returns its message id.
func (c *Conn) SendCEchoRequest() (uint16, error) {
	cmd := dimse.NewCEchoRequest(c.NextMessageID())
	_, err := c.SendRequest(cmd, nil)
	return cmd.MessageID(), err
}

// SendCStoreRequest sends ds, taking the SOP class and instance from it.
func (c *Conn) SendCStoreRequest(ds *dicom.Dataset, priority uint16) (uint16, error) {
	sopClass := ds.GetUID(types.SOPClassUIDTag)
	sopInstance := ds.GetUID(types.SOPInstanceUIDTag)
	if sopClass == "" || sopInstance == "" {
		return 0, fmt.Errorf("dataset without SOP class or instance: %w", dcmerrors.ErrInvalidMessage)
	}
	cmd := dimse.NewCStoreRequest(c.NextMessageID(), sopClass, sopInstance, priority)
	_, err := c.SendRequest(cmd, ds)
	return cmd.MessageID(), err
}

// fileMetaProbe is how much of a file is read to find its meta information.
const fileMetaProbe = 64 * 1024

// SendCStoreFile sends a Part 10 file. When a context accepted the file's
// transfer syntax the dataset bytes are streamed from disk unchanged;
// otherwise the file is parsed and converted.
func (c *Conn) SendCStoreFile(path string, priority uint16) (uint16, error) {
	id := c.NextMessageID()
	_, err := c.SendCStoreFileWithID(path, id, priority)
	return id, err
}

// SendCStoreFileWithID is SendCStoreFile with a caller chosen message id.
// It returns the presentation context used.
func (c *Conn) SendCStoreFileWithID(path string, messageID, priority uint16) (byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	probe := make([]byte, fileMetaProbe)
	n, err := io.ReadFull(f, probe)
	if err != nil && err != io.ErrUnexpectedEOF {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	meta, offset, err := dicom.ReadFileMeta(probe[:n])
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	file := &dicom.File{Meta: meta}
	ts := file.TransferSyntax()
	sopClass := meta.GetUID(types.MediaStorageSOPClassUIDTag)
	sopInstance := meta.GetUID(types.MediaStorageSOPInstanceUIDTag)

	id, err := c.FindContext(sopClass, ts)
	if err != nil {
		return 0, err
	}
	cmd := dimse.NewCStoreRequest(messageID, sopClass, sopInstance, priority)

	if accepted := c.Association().AcceptedTransferSyntax(id); accepted != nil && accepted.UID == ts.UID {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return 0, err
		}
		return id, c.SendDimseStream(id, cmd, bufio.NewReader(f), info.Size()-offset)
	}

	full, err := dicom.ReadFile(path, dicom.DefaultReadOptions)
	if err != nil {
		return 0, err
	}
	return id, c.SendDimse(id, cmd, full.Dataset)
}

// SendCFindRequest sends a C-FIND-RQ with identifier.
func (c *Conn) SendCFindRequest(sopClassUID string, identifier *dicom.Dataset, priority uint16) (byte, uint16, error) {
	cmd := dimse.NewCFindRequest(c.NextMessageID(), sopClassUID, priority)
	id, err := c.SendRequest(cmd, identifier)
	return id, cmd.MessageID(), err
}

// SendCMoveRequest asks the peer to send the matches of identifier to
// destination.
func (c *Conn) SendCMoveRequest(sopClassUID, destination string, identifier *dicom.Dataset, priority uint16) (byte, uint16, error) {
	cmd := dimse.NewCMoveRequest(c.NextMessageID(), sopClassUID, destination, priority)
	id, err := c.SendRequest(cmd, identifier)
	return id, cmd.MessageID(), err
}

// SendCGetRequest sends a C-GET-RQ with identifier.
func (c *Conn) SendCGetRequest(sopClassUID string, identifier *dicom.Dataset, priority uint16) (byte, uint16, error) {
	cmd := dimse.NewCGetRequest(c.NextMessageID(), sopClassUID, priority)
	id, err := c.SendRequest(cmd, identifier)
	return id, cmd.MessageID(), err
}

// SendCCancelRequest cancels the operation messageID started on contextID.
func (c *Conn) SendCCancelRequest(contextID byte, messageID uint16) error {
	return c.SendDimse(contextID, dimse.NewCCancelRequest(messageID), nil)
}

// SendResponse answers req on its presentation context.
func (c *Conn) SendResponse(req *Request, rsp *dimse.Command, ds *dicom.Dataset) error {
	return c.SendDimse(req.ContextID, rsp, ds)
}

// Respond answers req with status and no dataset.
func (c *Conn) Respond(req *Request, status uint16) error {
	return c.SendResponse(req, dimse.NewResponse(req.Command, status), nil)
}
