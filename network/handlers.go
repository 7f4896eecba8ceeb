package network

import (
	"github.com/caio-sobreiro/dcmstream/association"
	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/dimse"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/types"
)

// Request is a received DIMSE request with its fixed fields decoded.
type Request struct {
	ContextID byte
	Command   *dimse.Command
	// RemoteAE is the AE title of the peer that sent the request.
	RemoteAE string

	MessageID uint16
	Priority  uint16

	SOPClassUID    string
	SOPInstanceUID string

	// C-MOVE destination and the originator of a C-STORE sub-operation.
	MoveDestination         string
	MoveOriginatorAETitle   string
	MoveOriginatorMessageID uint16

	// C-CANCEL target.
	MessageIDBeingRespondedTo uint16

	// N-* operations.
	EventTypeID             uint16
	ActionTypeID            uint16
	AttributeIdentifierList []types.Tag

	Dataset *dicom.Dataset
	// DatasetFile is the Part 10 file a C-STORE dataset was written to when
	// OnPreCStoreRequest asked for it.
	DatasetFile string
}

// Response is a received DIMSE response with its fixed fields decoded.
type Response struct {
	ContextID byte
	Command   *dimse.Command

	MessageIDBeingRespondedTo uint16
	Status                    uint16
	ErrorComment              string

	SOPClassUID    string
	SOPInstanceUID string
	SubOperations  dimse.SubOperations

	EventTypeID  uint16
	ActionTypeID uint16

	Dataset *dicom.Dataset
}

func newRequest(msg *dimse.Message) *Request {
	cmd := msg.Command
	return &Request{
		ContextID:                 msg.ContextID,
		Command:                   cmd,
		MessageID:                 cmd.MessageID(),
		Priority:                  cmd.Priority(),
		SOPClassUID:               cmd.SOPClassUID(),
		SOPInstanceUID:            instanceUID(cmd),
		MoveDestination:           cmd.MoveDestination(),
		MoveOriginatorAETitle:     cmd.MoveOriginatorAETitle(),
		MoveOriginatorMessageID:   cmd.MoveOriginatorMessageID(),
		MessageIDBeingRespondedTo: cmd.MessageIDBeingRespondedTo(),
		EventTypeID:               cmd.EventTypeID(),
		ActionTypeID:              cmd.ActionTypeID(),
		AttributeIdentifierList:   cmd.AttributeIdentifierList(),
		Dataset:                   msg.Dataset,
		DatasetFile:               msg.DatasetFile,
	}
}

func newResponse(msg *dimse.Message) *Response {
	cmd := msg.Command
	return &Response{
		ContextID:                 msg.ContextID,
		Command:                   cmd,
		MessageIDBeingRespondedTo: cmd.MessageIDBeingRespondedTo(),
		Status:                    cmd.Status(),
		ErrorComment:              cmd.ErrorComment(),
		SOPClassUID:               cmd.SOPClassUID(),
		SOPInstanceUID:            instanceUID(cmd),
		SubOperations:             cmd.SubOperations(),
		EventTypeID:               cmd.EventTypeID(),
		ActionTypeID:              cmd.ActionTypeID(),
		Dataset:                   msg.Dataset,
	}
}

func instanceUID(cmd *dimse.Command) string {
	if uid := cmd.AffectedSOPInstanceUID(); uid != "" {
		return uid
	}
	return cmd.RequestedSOPInstanceUID()
}

// RequestHandler handles one kind of DIMSE request.
type RequestHandler func(c *Conn, req *Request)

// ResponseHandler handles one kind of DIMSE response.
type ResponseHandler func(c *Conn, rsp *Response)

// Handlers are the callbacks a Conn dispatches to. They run on the receive
// goroutine, so a handler that blocks stalls the connection. A DIMSE message
// whose handler is nil aborts the association.
type Handlers struct {
	// OnAssociateRequest must answer with SendAssociateAccept or
	// SendAssociateReject. When nil, Options.Policy negotiates.
	OnAssociateRequest func(c *Conn, a *association.Association)
	OnAssociateAccept  func(c *Conn, a *association.Association)
	OnAssociateReject  func(c *Conn, err *dcmerrors.AssociationError)

	// OnReleaseRequest defaults to answering with A-RELEASE-RP and closing.
	OnReleaseRequest  func(c *Conn)
	OnReleaseResponse func(c *Conn)
	OnAbort           func(c *Conn, source, reason byte)

	OnDimseTimeout     func(c *Conn)
	OnNetworkError     func(c *Conn, err error)
	OnConnectionClosed func(c *Conn, err error)

	OnCEchoRequest  RequestHandler
	OnCEchoResponse ResponseHandler

	// OnPreCStoreRequest returns a file path for the dataset of a C-STORE
	// request; empty keeps it in memory.
	OnPreCStoreRequest func(c *Conn, contextID byte, cmd *dimse.Command) string
	OnCStoreRequest    RequestHandler
	// OnPostCStoreRequest runs after OnCStoreRequest for a spilled dataset.
	// When nil the file is removed.
	OnPostCStoreRequest func(c *Conn, req *Request)
	OnCStoreResponse    ResponseHandler

	OnCFindRequest   RequestHandler
	OnCFindResponse  ResponseHandler
	OnCGetRequest    RequestHandler
	OnCGetResponse   ResponseHandler
	OnCMoveRequest   RequestHandler
	OnCMoveResponse  ResponseHandler
	OnCCancelRequest RequestHandler

	OnNEventReportRequest  RequestHandler
	OnNEventReportResponse ResponseHandler
	OnNGetRequest          RequestHandler
	OnNGetResponse         ResponseHandler
	OnNSetRequest          RequestHandler
	OnNSetResponse         ResponseHandler
	OnNActionRequest       RequestHandler
	OnNActionResponse      ResponseHandler
	OnNCreateRequest       RequestHandler
	OnNCreateResponse      ResponseHandler
	OnNDeleteRequest       RequestHandler
	OnNDeleteResponse      ResponseHandler

	OnReceiveDimseBegin    func(c *Conn, msg *dimse.Message)
	OnReceiveDimseProgress func(c *Conn, msg *dimse.Message)
	OnReceiveDimseComplete func(c *Conn, msg *dimse.Message)
	OnSendDimseBegin       func(c *Conn, contextID byte, p *dimse.Progress)
	OnSendDimseProgress    func(c *Conn, contextID byte, p *dimse.Progress)
	OnSendDimseComplete    func(c *Conn, contextID byte, p *dimse.Progress)
}

func (h *Handlers) requestHandler(commandField uint16) RequestHandler {
	switch commandField {
	case types.CEchoRQ:
		return h.OnCEchoRequest
	case types.CStoreRQ:
		return h.OnCStoreRequest
	case types.CFindRQ:
		return h.OnCFindRequest
	case types.CGetRQ:
		return h.OnCGetRequest
	case types.CMoveRQ:
		return h.OnCMoveRequest
	case types.CCancelRQ:
		return h.OnCCancelRequest
	case types.NEventReportRQ:
		return h.OnNEventReportRequest
	case types.NGetRQ:
		return h.OnNGetRequest
	case types.NSetRQ:
		return h.OnNSetRequest
	case types.NActionRQ:
		return h.OnNActionRequest
	case types.NCreateRQ:
		return h.OnNCreateRequest
	case types.NDeleteRQ:
		return h.OnNDeleteRequest
	}
	return nil
}

func (h *Handlers) responseHandler(commandField uint16) ResponseHandler {
	switch commandField {
	case types.CEchoRSP:
		return h.OnCEchoResponse
	case types.CStoreRSP:
		return h.OnCStoreResponse
	case types.CFindRSP:
		return h.OnCFindResponse
	case types.CGetRSP:
		return h.OnCGetResponse
	case types.CMoveRSP:
		return h.OnCMoveResponse
	case types.NEventReportRSP:
		return h.OnNEventReportResponse
	case types.NGetRSP:
		return h.OnNGetResponse
	case types.NSetRSP:
		return h.OnNSetResponse
	case types.NActionRSP:
		return h.OnNActionResponse
	case types.NCreateRSP:
		return h.OnNCreateResponse
	case types.NDeleteRSP:
		return h.OnNDeleteResponse
	}
	return nil
}
