// Package client is a DICOM service user: it proposes an association and
// waits for the responses to the requests it sends over a network.Conn.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/caio-sobreiro/dcmstream/association"
	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/dimse"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/metrics"
	"github.com/caio-sobreiro/dcmstream/network"
	"github.com/caio-sobreiro/dcmstream/pdu"
	"github.com/caio-sobreiro/dcmstream/types"
)

// DefaultReleaseTimeout bounds the wait for an A-RELEASE-RP.
const DefaultReleaseTimeout = 10 * time.Second

// defaultAbstractSyntaxes are proposed when Config.AbstractSyntaxes is empty.
var defaultAbstractSyntaxes = []string{
	types.VerificationSOPClass,
	types.CTImageStorage,
	types.MRImageStorage,
	types.SecondaryCaptureImageStorage,
	types.StudyRootQueryRetrieveInformationModelFind,
	types.StudyRootQueryRetrieveInformationModelMove,
	types.PatientRootQueryRetrieveInformationModelFind,
	types.PatientRootQueryRetrieveInformationModelMove,
}

// Config holds client configuration
type Config struct {
	CallingAETitle string
	CalledAETitle  string
	MaxPDULength   uint32
	ConnectTimeout time.Duration // Timeout for establishing connection (default: 10s)
	SocketTimeout  time.Duration // Timeout for one PDU read or write (default: 30s)
	DimseTimeout   time.Duration // Idle time before the association is aborted (default: 180s)
	ReleaseTimeout time.Duration // Wait for the release response (default: 10s)
	Logger         *slog.Logger  // Logger for the association (default: slog.Default())
	Metrics        *metrics.Metrics

	// PreferredTransferSyntaxes are proposed for every abstract syntax
	// (default: Explicit VR, Implicit VR).
	PreferredTransferSyntaxes []string
	// AbstractSyntaxes are the SOP classes proposed (default: verification,
	// common storage classes and the study and patient root find and move
	// models).
	AbstractSyntaxes []string
}

func (c Config) options() network.Options {
	return network.Options{
		Logger:         c.Logger,
		Metrics:        c.Metrics,
		ConnectTimeout: c.ConnectTimeout,
		SocketTimeout:  c.SocketTimeout,
		DimseTimeout:   c.DimseTimeout,
		MaxPDULength:   c.MaxPDULength,
	}
}

// proposal builds the A-ASSOCIATE-RQ contents for c.
func (c Config) proposal() (*association.Association, error) {
	syntaxUIDs := c.PreferredTransferSyntaxes
	if len(syntaxUIDs) == 0 {
		syntaxUIDs = []string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian}
	}
	syntaxes := make([]*types.TransferSyntax, 0, len(syntaxUIDs))
	for _, uid := range syntaxUIDs {
		if !types.IsKnownTransferSyntax(uid) {
			return nil, fmt.Errorf("transfer syntax %s: %w", uid, dcmerrors.ErrUnsupportedTransfer)
		}
		syntaxes = append(syntaxes, types.LookupTransferSyntax(uid))
	}

	abstracts := c.AbstractSyntaxes
	if len(abstracts) == 0 {
		abstracts = defaultAbstractSyntaxes
	}
	a := association.New(c.CallingAETitle, c.CalledAETitle)
	for _, uid := range abstracts {
		if _, err := a.AddOrGetPresentationContext(uid, syntaxes...); err != nil {
			return nil, fmt.Errorf("abstract syntax %s: %w", uid, err)
		}
	}
	return a, nil
}

// Association represents a client-side DICOM association
type Association struct {
	conn   *network.Conn
	config Config
	logger *slog.Logger

	mu    sync.Mutex
	calls map[uint16]*call

	established chan error
}

// call collects the responses to one request.
type call struct {
	contextID byte
	onPending func(*network.Response)

	mu      sync.Mutex
	pending []*network.Response
	final   chan *network.Response
	failed  chan error
}

// Connect establishes a DICOM association with a remote SCP
func Connect(ctx context.Context, address string, config Config) (*Association, error) {
	a, proposal, err := newAssociation(config)
	if err != nil {
		return nil, err
	}
	conn, err := network.Dial(ctx, address, proposal, a.handlers(), config.options())
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	a.conn = conn
	if err := a.wait(ctx, address); err != nil {
		return nil, err
	}
	return a, nil
}

// ConnectConn establishes a DICOM association over an already connected
// transport.
func ConnectConn(ctx context.Context, nc net.Conn, config Config) (*Association, error) {
	a, proposal, err := newAssociation(config)
	if err != nil {
		return nil, err
	}
	a.conn = network.Client(nc, a.handlers(), config.options())
	if err := a.conn.SendAssociateRequest(proposal); err != nil {
		_ = a.conn.Close()
		return nil, fmt.Errorf("failed to send A-ASSOCIATE-RQ: %w", err)
	}
	if err := a.wait(ctx, nc.RemoteAddr().String()); err != nil {
		return nil, err
	}
	return a, nil
}

func newAssociation(config Config) (*Association, *association.Association, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ReleaseTimeout == 0 {
		config.ReleaseTimeout = DefaultReleaseTimeout
	}
	proposal, err := config.proposal()
	if err != nil {
		return nil, nil, err
	}
	return &Association{
		config:      config,
		logger:      config.Logger,
		calls:       make(map[uint16]*call),
		established: make(chan error, 1),
	}, proposal, nil
}

// wait blocks until the peer accepted or rejected the proposal.
func (a *Association) wait(ctx context.Context, address string) error {
	select {
	case err := <-a.established:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		_ = a.conn.SendAbort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified)
		return ctx.Err()
	}
	a.logger.Info("DICOM association established",
		"remote_addr", address,
		"calling_ae", a.config.CallingAETitle,
		"called_ae", a.config.CalledAETitle)
	return nil
}

func (a *Association) handlers() network.Handlers {
	return network.Handlers{
		OnAssociateAccept: func(*network.Conn, *association.Association) {
			a.established <- nil
		},
		OnAssociateReject: func(_ *network.Conn, err *dcmerrors.AssociationError) {
			a.established <- err
		},
		OnCEchoResponse:  a.deliver,
		OnCStoreResponse: a.deliver,
		OnCFindResponse:  a.deliver,
		OnCMoveResponse:  a.deliver,
		OnConnectionClosed: func(c *network.Conn, err error) {
			if err == nil {
				err = dcmerrors.ErrConnectionClosed
			}
			select {
			case a.established <- err:
			default:
			}
			a.failAll(err)
		},
	}
}

// Conn is the underlying connection.
func (a *Association) Conn() *network.Conn { return a.conn }

// GetPresentationContextID returns an accepted context for abstractSyntax.
func (a *Association) GetPresentationContextID(abstractSyntax string) (byte, error) {
	return a.conn.FindContext(abstractSyntax, nil)
}

// Close gracefully releases the association
func (a *Association) Close() error {
	if err := a.conn.Release(a.config.ReleaseTimeout); err != nil {
		a.logger.Warn("Failed to release association", "error", err)
		_ = a.conn.Close()
		return err
	}
	return nil
}

// Abort aborts the association.
func (a *Association) Abort() error {
	return a.conn.SendAbort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified)
}

// request sends the command build returns on an accepted context for
// sopClass. The call is registered before the send so no response is missed.
func (a *Association) request(sopClass string, ds *dicom.Dataset, onPending func(*network.Response), build func(messageID uint16) *dimse.Command) (uint16, *call, error) {
	var ts *types.TransferSyntax
	if ds != nil {
		ts = ds.TransferSyntax()
	}
	contextID, err := a.conn.FindContext(sopClass, ts)
	if err != nil {
		return 0, nil, err
	}
	id, cl := a.register(contextID, onPending)
	if err := a.conn.SendDimse(contextID, build(id), ds); err != nil {
		a.forget(id)
		return 0, nil, err
	}
	return id, cl, nil
}

// register reserves a message id for a request about to be sent.
func (a *Association) register(contextID byte, onPending func(*network.Response)) (uint16, *call) {
	cl := &call{
		contextID: contextID,
		onPending: onPending,
		final:     make(chan *network.Response, 1),
		failed:    make(chan error, 1),
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		id := a.conn.NextMessageID()
		if _, busy := a.calls[id]; !busy {
			a.calls[id] = cl
			return id, cl
		}
	}
}

func (a *Association) forget(messageID uint16) {
	a.mu.Lock()
	delete(a.calls, messageID)
	a.mu.Unlock()
}

func (a *Association) lookup(messageID uint16) (*call, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cl, ok := a.calls[messageID]
	return cl, ok
}

// deliver routes a response to the call waiting for it. It runs on the
// receive goroutine.
func (a *Association) deliver(c *network.Conn, rsp *network.Response) {
	id := rsp.MessageIDBeingRespondedTo
	pending := types.StatusStateOf(rsp.Status) == types.StatusStatePending

	a.mu.Lock()
	cl, ok := a.calls[id]
	if ok && !pending {
		delete(a.calls, id)
	}
	a.mu.Unlock()
	if !ok {
		a.logger.Warn("Response for unknown message", "message_id", id, "command", rsp.Command.String())
		return
	}

	if !pending {
		cl.final <- rsp
		return
	}
	cl.mu.Lock()
	cl.pending = append(cl.pending, rsp)
	cl.mu.Unlock()
	if cl.onPending != nil {
		cl.onPending(rsp)
	}
}

// failAll ends every outstanding call with err.
func (a *Association) failAll(err error) {
	a.mu.Lock()
	calls := a.calls
	a.calls = make(map[uint16]*call)
	a.mu.Unlock()
	for _, cl := range calls {
		cl.failed <- err
	}
}

// await waits for the final response of messageID. When ctx ends first a
// cancellable request gets a C-CANCEL and its final response is still
// awaited; any other request is abandoned.
func (a *Association) await(ctx context.Context, messageID uint16, cl *call, cancellable bool) (*network.Response, []*network.Response, error) {
	done := ctx.Done()
	for {
		select {
		case rsp := <-cl.final:
			cl.mu.Lock()
			defer cl.mu.Unlock()
			return rsp, cl.pending, nil
		case err := <-cl.failed:
			return nil, nil, err
		case <-done:
			if !cancellable {
				a.forget(messageID)
				return nil, nil, fmt.Errorf("message %d abandoned: %w: %w", messageID, dcmerrors.ErrOperationCanceled, ctx.Err())
			}
			done = nil
			a.logger.Info("Cancelling request", "message_id", messageID)
			if err := a.conn.SendCCancelRequest(cl.contextID, messageID); err != nil {
				a.forget(messageID)
				return nil, nil, fmt.Errorf("failed to send C-CANCEL: %w", err)
			}
		}
	}
}
