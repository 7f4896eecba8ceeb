// Package network runs the DICOM upper layer state machine over a net.Conn:
// association negotiation, DIMSE message exchange, release and abort.
package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/caio-sobreiro/dcmstream/association"
	"github.com/caio-sobreiro/dcmstream/dimse"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/metrics"
	"github.com/caio-sobreiro/dcmstream/pdu"
	"github.com/caio-sobreiro/dcmstream/types"
)

// State is the association state of a Conn.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAssociating
	StateAssociated
	StateReleasing
	StateAborting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateAssociating:
		return "Associating"
	case StateAssociated:
		return "Associated"
	case StateReleasing:
		return "Releasing"
	case StateAborting:
		return "Aborting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Conn is one DICOM association over a transport connection. A single
// goroutine reads and dispatches; the Send methods may be called from any
// goroutine and are serialized per message.
type Conn struct {
	nc        net.Conn
	reader    *bufio.Reader
	h         Handlers
	opts      Options
	logger    *slog.Logger
	metrics   *metrics.Metrics
	requestor bool
	opened    time.Time

	mu        sync.Mutex
	state     State
	assoc     *association.Association
	assembler *dimse.Assembler
	err       error

	sendMu      sync.Mutex
	sending     atomic.Int32
	lastReceive atomic.Int64
	messageID   atomic.Uint32
	stop        atomic.Bool
	started     atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(nc net.Conn, h Handlers, opts Options, requestor bool) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		nc:        nc,
		reader:    bufio.NewReader(nc),
		h:         h,
		opts:      opts,
		logger:    opts.Logger.With("remote_addr", nc.RemoteAddr().String()),
		metrics:   opts.Metrics,
		requestor: requestor,
		opened:    time.Now(),
		state:     StateConnecting,
		done:      make(chan struct{}),
	}
	if !requestor {
		c.state = StateAssociating
	}
	c.touch()
	c.metrics.ConnectionOpened()
	return c
}

// NewConn wraps an accepted transport connection. The peer is expected to
// send an A-ASSOCIATE-RQ; call Run or Start to begin reading.
func NewConn(nc net.Conn, h Handlers, opts Options) *Conn {
	return newConn(nc, h, opts, false)
}

// Dial connects to address, starts the receive loop and proposes a. The
// outcome arrives through OnAssociateAccept or OnAssociateReject.
func Dial(ctx context.Context, address string, a *association.Association, h Handlers, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			opts.Metrics.RecordTimeout("connect")
			return nil, fmt.Errorf("failed to connect to %s: %w", address,
				dcmerrors.NewTimeoutError("connect", opts.ConnectTimeout.String()))
		}
		return nil, dcmerrors.NewNetworkError("connect", err)
	}

	c := newConn(nc, h, opts, true)
	c.Start()
	if err := c.SendAssociateRequest(a); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Client wraps an already connected transport as the requesting side and
// starts the receive loop. Use SendAssociateRequest to propose.
func Client(nc net.Conn, h Handlers, opts Options) *Conn {
	c := newConn(nc, h, opts, true)
	c.Start()
	return c
}

// Start runs the receive loop on a new goroutine.
func (c *Conn) Start() {
	if c.started.Swap(true) {
		return
	}
	go c.run()
}

// Run runs the receive loop until the connection ends and returns Err.
func (c *Conn) Run() error {
	if c.started.Swap(true) {
		return c.Wait()
	}
	c.run()
	return c.Err()
}

// Done is closed once the connection has ended.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Wait blocks until the connection has ended and returns Err.
func (c *Conn) Wait() error {
	<-c.done
	return c.Err()
}

// Err is nil after a graceful close and describes the failure otherwise.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// State returns the current association state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Association returns the negotiated association, or nil before one was
// proposed.
func (c *Conn) Association() *association.Association {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assoc
}

// RemoteAddr is the peer's transport address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Logger is the connection's logger.
func (c *Conn) Logger() *slog.Logger { return c.logger }

// NextMessageID returns a fresh message id; zero is skipped.
func (c *Conn) NextMessageID() uint16 {
	for {
		if id := uint16(c.messageID.Add(1)); id != 0 {
			return id
		}
	}
}

// Close ends the connection without a release. Err stays nil.
func (c *Conn) Close() error {
	c.stop.Store(true)
	err := c.nc.Close()
	if !c.started.Swap(true) {
		c.finish()
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// setErr records the first failure.
func (c *Conn) setErr(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

// shutdown stops the receive loop; it finishes the connection on its way out.
func (c *Conn) shutdown() {
	c.stop.Store(true)
	_ = c.nc.Close()
}

func (c *Conn) touch() {
	c.lastReceive.Store(time.Now().UnixNano())
}

func (c *Conn) finish() {
	c.closeOnce.Do(func() {
		c.stop.Store(true)

		var result *multierror.Error
		if err := c.nc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}

		c.mu.Lock()
		c.state = StateDisconnected
		asm := c.assembler
		cause := c.err
		c.mu.Unlock()

		if asm != nil {
			if err := asm.Reset(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if err := result.ErrorOrNil(); err != nil {
			c.logger.Warn("Failed to release connection resources", "error", err)
		}

		c.metrics.ConnectionClosed(c.opened)
		if cause != nil {
			c.logger.Info("Connection closed", "error", cause)
		} else {
			c.logger.Debug("Connection closed")
		}
		if c.h.OnConnectionClosed != nil {
			c.h.OnConnectionClosed(c, cause)
		}
		close(c.done)
	})
}

// countingReader counts the bytes of one PDU.
type countingReader struct {
	r io.Reader
	n int
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.n += n
	return n, err
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Conn) run() {
	defer c.finish()

	for !c.stop.Load() {
		if err := c.setReadDeadline(c.opts.PollInterval); err != nil {
			c.readFailed(err)
			return
		}
		if _, err := c.reader.Peek(1); err != nil {
			if isTimeout(err) {
				if c.dimseExpired() {
					c.dimseTimeout()
					return
				}
				continue
			}
			c.readFailed(err)
			return
		}

		if err := c.setReadDeadline(c.opts.SocketTimeout); err != nil {
			c.readFailed(err)
			return
		}
		cr := &countingReader{r: c.reader}
		p, err := pdu.ReadPDU(cr, types.MaxPDULengthCap)
		if err != nil {
			var pduErr *dcmerrors.PDUError
			if errors.As(err, &pduErr) {
				c.abort(violation(pdu.AbortSourceServiceProvider, pdu.AbortReasonUnrecognizedPDU, err))
				return
			}
			c.readFailed(err)
			return
		}
		c.touch()
		c.metrics.RecordPDU(metrics.Inbound, p.Type(), cr.n)

		if err := c.handle(p); err != nil {
			c.abort(err)
			return
		}
	}
}

// setReadDeadline arms the read deadline. Errors are ignored while PDUs the
// peer sent before closing are still buffered.
func (c *Conn) setReadDeadline(d time.Duration) error {
	err := c.nc.SetReadDeadline(time.Now().Add(d))
	if err != nil && c.reader.Buffered() > 0 {
		return nil
	}
	return err
}

func (c *Conn) dimseExpired() bool {
	if c.opts.DimseTimeout < 0 || c.sending.Load() > 0 {
		return false
	}
	idle := time.Since(time.Unix(0, c.lastReceive.Load()))
	return idle > c.opts.DimseTimeout
}

func (c *Conn) dimseTimeout() {
	c.logger.Warn("DIMSE timeout, aborting association",
		"timeout", c.opts.DimseTimeout,
		"state", c.State().String())
	c.metrics.RecordTimeout("dimse")
	c.setErr(dcmerrors.NewTimeoutError("DIMSE", c.opts.DimseTimeout.String()))
	if c.h.OnDimseTimeout != nil {
		c.h.OnDimseTimeout(c)
	}
	_ = c.SendAbort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified)
}

func (c *Conn) readFailed(err error) {
	if c.stop.Load() {
		return
	}
	if errors.Is(err, io.EOF) && c.State() == StateReleasing {
		c.logger.Debug("Peer closed the connection during release")
		return
	}
	nerr := dcmerrors.NewNetworkError("read", err)
	c.logger.Warn("Connection read failed", "error", err)
	c.setErr(nerr)
	if c.h.OnNetworkError != nil {
		c.h.OnNetworkError(c, nerr)
	}
}

// protocolError is a failure that ends the association with an A-ABORT.
type protocolError struct {
	source byte
	reason byte
	err    error
}

func (e *protocolError) Error() string { return e.err.Error() }

func (e *protocolError) Unwrap() error { return e.err }

func violation(source, reason byte, err error) error {
	return &protocolError{source: source, reason: reason, err: err}
}

func (c *Conn) abort(err error) {
	if c.stop.Load() {
		return
	}
	source, reason := pdu.AbortSourceServiceProvider, pdu.AbortReasonNotSpecified
	var pe *protocolError
	if errors.As(err, &pe) {
		source, reason = pe.source, pe.reason
	}
	c.logger.Error("Aborting association", "error", err, "source", source, "reason", reason)
	c.setErr(err)
	if c.h.OnNetworkError != nil {
		c.h.OnNetworkError(c, err)
	}
	_ = c.SendAbort(source, reason)
}

func (c *Conn) handle(p pdu.PDU) error {
	switch v := p.(type) {
	case *pdu.AssociateRQ:
		return c.onAssociateRQ(v)
	case *pdu.AssociateAC:
		return c.onAssociateAC(v)
	case *pdu.AssociateRJ:
		return c.onAssociateRJ(v)
	case *pdu.PDataTF:
		return c.onPDataTF(v)
	case *pdu.ReleaseRQ:
		return c.onReleaseRQ()
	case *pdu.ReleaseRP:
		return c.onReleaseRP()
	case *pdu.Abort:
		return c.onAbort(v)
	}
	return violation(pdu.AbortSourceServiceProvider, pdu.AbortReasonUnrecognizedPDU,
		dcmerrors.NewPDUError(p.Type(), "unhandled PDU"))
}

func unexpected(p byte, state State) error {
	return violation(pdu.AbortSourceServiceProvider, pdu.AbortReasonUnexpectedPDU,
		dcmerrors.NewPDUError(p, "unexpected in state "+state.String()))
}

func (c *Conn) onAssociateRQ(rq *pdu.AssociateRQ) error {
	c.mu.Lock()
	state, assoc := c.state, c.assoc
	c.mu.Unlock()
	if c.requestor || state != StateAssociating || assoc != nil {
		return unexpected(types.TypeAssociateRQ, state)
	}

	a, err := rq.Association()
	if err != nil {
		return violation(pdu.AbortSourceServiceProvider, pdu.AbortReasonInvalidPDUParameter, err)
	}
	a.MaxPDULength = c.opts.MaxPDULength
	c.mu.Lock()
	c.assoc = a
	c.mu.Unlock()

	c.logger.Info("Association requested",
		"calling_ae", a.CallingAE,
		"called_ae", a.CalledAE,
		"contexts", len(a.PresentationContexts()))

	if c.h.OnAssociateRequest != nil {
		c.h.OnAssociateRequest(c, a)
		return nil
	}
	return c.negotiate(a)
}

func (c *Conn) negotiate(a *association.Association) error {
	policy := c.opts.Policy
	if aerr := policy.Check(a); aerr != nil {
		return c.SendAssociateReject(aerr)
	}
	if policy.MaxPDULength != 0 {
		a.MaxPDULength = policy.MaxPDULength
	}
	policy.Negotiate(a, c.logger)
	return c.SendAssociateAccept(a)
}

func (c *Conn) onAssociateAC(ac *pdu.AssociateAC) error {
	c.mu.Lock()
	state, a := c.state, c.assoc
	c.mu.Unlock()
	if !c.requestor || state != StateAssociating || a == nil {
		return unexpected(types.TypeAssociateAC, state)
	}
	if err := ac.Apply(a); err != nil {
		return violation(pdu.AbortSourceServiceProvider, pdu.AbortReasonInvalidPDUParameter, err)
	}
	c.associated(a)
	c.metrics.RecordAssociation("requestor", "accepted")
	c.logger.Info("Association accepted",
		"called_ae", a.CalledAE,
		"max_pdu_length", a.RemoteMaxPDULength,
		"remote_implementation", a.RemoteImplementationVersion)
	if c.h.OnAssociateAccept != nil {
		c.h.OnAssociateAccept(c, a)
	}
	return nil
}

func (c *Conn) onAssociateRJ(rj *pdu.AssociateRJ) error {
	state := c.State()
	if !c.requestor || state != StateAssociating {
		return unexpected(types.TypeAssociateRJ, state)
	}
	err := rj.Err()
	c.logger.Warn("Association rejected", "error", err)
	c.metrics.RecordAssociation("requestor", "rejected")
	c.setErr(err)
	if c.h.OnAssociateReject != nil {
		c.h.OnAssociateReject(c, err)
	}
	c.shutdown()
	return nil
}

// associated switches to the data transfer state.
func (c *Conn) associated(a *association.Association) {
	sourceAE := a.CallingAE
	if c.requestor {
		sourceAE = a.CalledAE
	}
	asm := dimse.NewAssembler(a, dimse.AssemblerOptions{
		StreamParse: c.opts.StreamParse,
		SourceAE:    sourceAE,
		Logger:      c.logger,
		Spill: func(contextID byte, cmd *dimse.Command) string {
			if c.h.OnPreCStoreRequest == nil {
				return ""
			}
			return c.h.OnPreCStoreRequest(c, contextID, cmd)
		},
	})
	asm.OnBegin = func(msg *dimse.Message) {
		if c.h.OnReceiveDimseBegin != nil {
			c.h.OnReceiveDimseBegin(c, msg)
		}
	}
	asm.OnProgress = func(msg *dimse.Message) {
		if c.h.OnReceiveDimseProgress != nil {
			c.h.OnReceiveDimseProgress(c, msg)
		}
	}

	c.mu.Lock()
	c.assoc = a
	c.assembler = asm
	c.state = StateAssociated
	c.mu.Unlock()
}

func (c *Conn) onPDataTF(p *pdu.PDataTF) error {
	c.mu.Lock()
	state, asm := c.state, c.assembler
	c.mu.Unlock()
	if asm == nil || (state != StateAssociated && state != StateReleasing) {
		return unexpected(types.TypePDataTF, state)
	}

	msgs, err := asm.Add(p)
	for _, msg := range msgs {
		if derr := c.dispatch(msg); derr != nil {
			return derr
		}
	}
	if err != nil {
		if errors.Is(err, dcmerrors.ErrNoPresentationCtx) {
			return violation(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified, err)
		}
		return violation(pdu.AbortSourceServiceProvider, pdu.AbortReasonNotSpecified, err)
	}
	return nil
}

func (c *Conn) dispatch(msg *dimse.Message) error {
	cmd := msg.Command
	field := cmd.CommandField()
	c.metrics.RecordMessage(metrics.Inbound, field, msg.Progress.TimeElapsed())
	c.logger.Debug("Received DIMSE message",
		"context_id", msg.ContextID,
		"command", cmd.String(),
		"bytes", msg.Progress.BytesTransferred)
	if c.h.OnReceiveDimseComplete != nil {
		c.h.OnReceiveDimseComplete(c, msg)
	}

	if cmd.IsResponse() {
		handler := c.h.responseHandler(field)
		if handler == nil {
			return c.noHandler(cmd)
		}
		handler(c, newResponse(msg))
		return nil
	}

	handler := c.h.requestHandler(field)
	if handler == nil {
		c.removeSpill(msg.DatasetFile)
		return c.noHandler(cmd)
	}
	req := newRequest(msg)
	req.RemoteAE = c.remoteAE()
	handler(c, req)
	if req.DatasetFile != "" {
		if c.h.OnPostCStoreRequest != nil {
			c.h.OnPostCStoreRequest(c, req)
		} else {
			c.removeSpill(req.DatasetFile)
		}
	}
	return nil
}

func (c *Conn) remoteAE() string {
	a := c.Association()
	if a == nil {
		return ""
	}
	if c.requestor {
		return a.CalledAE
	}
	return a.CallingAE
}

func (c *Conn) noHandler(cmd *dimse.Command) error {
	return violation(pdu.AbortSourceServiceProvider, pdu.AbortReasonNotSpecified,
		fmt.Errorf("no handler for %s: %w", types.CommandName(cmd.CommandField()), dcmerrors.ErrUnsupportedOperation))
}

func (c *Conn) removeSpill(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("Failed to remove spilled dataset", "path", path, "error", err)
	}
}

func (c *Conn) onReleaseRQ() error {
	state := c.State()
	if state != StateAssociated && state != StateReleasing {
		return unexpected(types.TypeReleaseRQ, state)
	}
	c.setState(StateReleasing)
	c.logger.Debug("Release requested")
	if c.h.OnReleaseRequest != nil {
		c.h.OnReleaseRequest(c)
		return nil
	}
	if err := c.SendReleaseResponse(); err != nil {
		return err
	}
	c.shutdown()
	return nil
}

func (c *Conn) onReleaseRP() error {
	state := c.State()
	if state != StateReleasing {
		return unexpected(types.TypeReleaseRP, state)
	}
	c.logger.Debug("Association released")
	if c.h.OnReleaseResponse != nil {
		c.h.OnReleaseResponse(c)
	}
	c.shutdown()
	return nil
}

func (c *Conn) onAbort(a *pdu.Abort) error {
	err := a.Err()
	c.logger.Warn("Association aborted by peer", "error", err)
	c.metrics.RecordAbort(metrics.Inbound)
	c.setState(StateAborting)
	c.setErr(err)
	if c.h.OnAbort != nil {
		c.h.OnAbort(c, a.Source, a.Reason)
	}
	c.shutdown()
	return nil
}
