package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/dimse"
	"github.com/caio-sobreiro/dcmstream/interfaces"
	"github.com/caio-sobreiro/dcmstream/network"
	"github.com/caio-sobreiro/dcmstream/types"
)

// Registry manages DICOM service handlers and routes incoming DIMSE requests.
//
// Single-response handlers run on the connection's receive goroutine.
// Streaming handlers run on their own goroutine so that a C-CANCEL for the
// request can still be received; their context is cancelled by it.
//
// Example usage:
//
//	registry := services.NewRegistry(logger)
//	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService(logger))
//	registry.RegisterStreamingHandler(types.CFindRQ, findService)
//
//	conn := network.NewConn(nc, registry.Handlers(ctx, network.Handlers{}), opts)
type Registry struct {
	logger    *slog.Logger
	handlers  map[uint16]interfaces.ServiceHandler
	streaming map[uint16]interfaces.StreamingServiceHandler

	mu       sync.Mutex
	inflight map[inflightKey]context.CancelFunc
}

type inflightKey struct {
	conn      *network.Conn
	messageID uint16
}

// NewRegistry creates an empty service registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:    logger,
		handlers:  make(map[uint16]interfaces.ServiceHandler),
		streaming: make(map[uint16]interfaces.StreamingServiceHandler),
		inflight:  make(map[inflightKey]context.CancelFunc),
	}
}

// RegisterHandler registers a single-response handler for a request command
// field, replacing any handler registered for it before.
func (r *Registry) RegisterHandler(commandField uint16, handler interfaces.ServiceHandler) {
	delete(r.streaming, commandField)
	r.handlers[commandField] = handler
}

// RegisterStreamingHandler registers a multi-response handler for a request
// command field, replacing any handler registered for it before.
func (r *Registry) RegisterStreamingHandler(commandField uint16, handler interfaces.StreamingServiceHandler) {
	delete(r.handlers, commandField)
	r.streaming[commandField] = handler
}

// UnregisterHandler removes the handler of a command field. Requests for it
// then abort the association.
func (r *Registry) UnregisterHandler(commandField uint16) {
	delete(r.handlers, commandField)
	delete(r.streaming, commandField)
}

// HasHandler returns true if a handler is registered for the given command field.
func (r *Registry) HasHandler(commandField uint16) bool {
	_, ok := r.handlers[commandField]
	if !ok {
		_, ok = r.streaming[commandField]
	}
	return ok
}

// RegisteredCommands returns a list of all command fields that have handlers registered.
func (r *Registry) RegisteredCommands() []uint16 {
	commands := make([]uint16, 0, len(r.handlers)+len(r.streaming))
	for cmd := range r.handlers {
		commands = append(commands, cmd)
	}
	for cmd := range r.streaming {
		commands = append(commands, cmd)
	}
	return commands
}

// Handlers returns base with a request handler set for every registered
// command. Handler contexts derive from ctx.
func (r *Registry) Handlers(ctx context.Context, base network.Handlers) network.Handlers {
	h := base
	for field, handler := range r.handlers {
		setRequestHandler(&h, field, r.single(ctx, handler))
		if field == types.CStoreRQ {
			if spiller, ok := handler.(interfaces.SpillingHandler); ok {
				fallback := base.OnPreCStoreRequest
				h.OnPreCStoreRequest = func(c *network.Conn, contextID byte, cmd *dimse.Command) string {
					if path := spiller.SpillPath(contextID, cmd); path != "" || fallback == nil {
						return path
					}
					return fallback(c, contextID, cmd)
				}
			}
		}
	}
	for field, handler := range r.streaming {
		setRequestHandler(&h, field, r.stream(ctx, handler))
	}
	if len(r.streaming) > 0 {
		h.OnCCancelRequest = r.cancel

		closed := base.OnConnectionClosed
		h.OnConnectionClosed = func(c *network.Conn, err error) {
			r.cancelAll(c)
			if closed != nil {
				closed(c, err)
			}
		}
	}
	return h
}

func (r *Registry) single(ctx context.Context, handler interfaces.ServiceHandler) network.RequestHandler {
	return func(c *network.Conn, req *network.Request) {
		logger := c.Logger()
		logger.Debug("Routing DIMSE request",
			"command_field", fmt.Sprintf("0x%04x", req.Command.CommandField()),
			"message_id", req.MessageID)

		rsp, ds, err := handler.HandleDIMSE(ctx, req)
		if err != nil {
			logger.Warn("DIMSE handler failed",
				"command", types.CommandName(req.Command.CommandField()),
				"message_id", req.MessageID,
				"error", err)
			rsp, ds = NewErrorResponse(req, err), nil
		}
		if err := c.SendResponse(req, rsp, ds); err != nil {
			logger.Error("Failed to send DIMSE response", "message_id", req.MessageID, "error", err)
		}
	}
}

func (r *Registry) stream(ctx context.Context, handler interfaces.StreamingServiceHandler) network.RequestHandler {
	return func(c *network.Conn, req *network.Request) {
		key := inflightKey{conn: c, messageID: req.MessageID}
		reqCtx, cancel := context.WithCancel(ctx)

		r.mu.Lock()
		if _, dup := r.inflight[key]; dup {
			r.mu.Unlock()
			cancel()
			_ = c.SendResponse(req, NewResponseBuilder(req).Failure(types.StatusDuplicateInvocation, "message id in use"), nil)
			return
		}
		r.inflight[key] = cancel
		r.mu.Unlock()

		go func() {
			defer r.finish(key)

			responder := &connResponder{conn: c, req: req}
			err := handler.HandleDIMSEStreaming(reqCtx, req, responder)
			if err == nil {
				return
			}
			c.Logger().Warn("Streaming DIMSE handler failed",
				"command", types.CommandName(req.Command.CommandField()),
				"message_id", req.MessageID,
				"error", err)
			if !responder.final {
				if serr := c.SendResponse(req, NewErrorResponse(req, err), nil); serr != nil {
					c.Logger().Debug("Failed to send failure response", "error", serr)
				}
			}
		}()
	}
}

func (r *Registry) finish(key inflightKey) {
	r.mu.Lock()
	cancel, ok := r.inflight[key]
	delete(r.inflight, key)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

func (r *Registry) cancel(c *network.Conn, req *network.Request) {
	key := inflightKey{conn: c, messageID: req.MessageIDBeingRespondedTo}
	r.mu.Lock()
	cancel, ok := r.inflight[key]
	r.mu.Unlock()
	if !ok {
		c.Logger().Debug("C-CANCEL for unknown request", "message_id", req.MessageIDBeingRespondedTo)
		return
	}
	c.Logger().Info("Cancelling request", "message_id", req.MessageIDBeingRespondedTo)
	cancel()
}

func (r *Registry) cancelAll(c *network.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, cancel := range r.inflight {
		if key.conn == c {
			cancel()
		}
	}
}

// connResponder sends the responses of one request.
type connResponder struct {
	conn  *network.Conn
	req   *network.Request
	final bool
}

func (s *connResponder) SendResponse(rsp *dimse.Command, ds *dicom.Dataset) error {
	if types.StatusStateOf(rsp.Status()) != types.StatusStatePending {
		s.final = true
	}
	return s.conn.SendResponse(s.req, rsp, ds)
}

func setRequestHandler(h *network.Handlers, commandField uint16, fn network.RequestHandler) {
	switch commandField {
	case types.CEchoRQ:
		h.OnCEchoRequest = fn
	case types.CStoreRQ:
		h.OnCStoreRequest = fn
	case types.CFindRQ:
		h.OnCFindRequest = fn
	case types.CGetRQ:
		h.OnCGetRequest = fn
	case types.CMoveRQ:
		h.OnCMoveRequest = fn
	case types.NEventReportRQ:
		h.OnNEventReportRequest = fn
	case types.NGetRQ:
		h.OnNGetRequest = fn
	case types.NSetRQ:
		h.OnNSetRequest = fn
	case types.NActionRQ:
		h.OnNActionRequest = fn
	case types.NCreateRQ:
		h.OnNCreateRequest = fn
	case types.NDeleteRQ:
		h.OnNDeleteRequest = fn
	}
}
