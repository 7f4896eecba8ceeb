package services

import (
	"errors"

	"github.com/caio-sobreiro/dcmstream/dimse"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/network"
	"github.com/caio-sobreiro/dcmstream/types"
)

// ResponseBuilder provides convenient methods for creating standard DIMSE response messages.
//
// The response command field, MessageIDBeingRespondedTo and the affected SOP
// class and instance are taken from the request.
type ResponseBuilder struct {
	request *network.Request
}

// NewResponseBuilder creates a new response builder for the given request.
func NewResponseBuilder(request *network.Request) *ResponseBuilder {
	return &ResponseBuilder{request: request}
}

// Response creates the response to the request with status.
func (b *ResponseBuilder) Response(status uint16) *dimse.Command {
	return dimse.NewResponse(b.request.Command, status)
}

// Failure creates a response carrying status and an error comment.
func (b *ResponseBuilder) Failure(status uint16, comment string) *dimse.Command {
	rsp := b.Response(status)
	if comment != "" {
		rsp.SetErrorComment(comment)
	}
	return rsp
}

// CMoveResponse creates a C-MOVE-RSP or C-GET-RSP with sub-operation counts.
//
// For pending responses the remaining count is included; final responses
// leave it out.
func (b *ResponseBuilder) CMoveResponse(status uint16, ops dimse.SubOperations) *dimse.Command {
	rsp := b.Response(status)
	rsp.SetSubOperations(ops)
	return rsp
}

// NewCEchoResponse creates a C-ECHO-RSP from a request.
func NewCEchoResponse(request *network.Request, status uint16) *dimse.Command {
	return NewResponseBuilder(request).Response(status)
}

// NewCFindPendingResponse creates a pending C-FIND-RSP. The dataset flag is
// set when the response is sent with an identifier.
func NewCFindPendingResponse(request *network.Request) *dimse.Command {
	return NewResponseBuilder(request).Response(types.StatusPending)
}

// NewCFindSuccessResponse creates the final successful C-FIND-RSP.
func NewCFindSuccessResponse(request *network.Request) *dimse.Command {
	return NewResponseBuilder(request).Response(types.StatusSuccess)
}

// NewCStoreResponse creates a C-STORE-RSP.
func NewCStoreResponse(request *network.Request, status uint16) *dimse.Command {
	return NewResponseBuilder(request).Response(status)
}

// NewErrorResponse creates the failure response for err. A DIMSEError
// supplies its status; anything else is a processing failure.
func NewErrorResponse(request *network.Request, err error) *dimse.Command {
	status, comment := types.StatusProcessingFailure, err.Error()
	var dimseErr *dcmerrors.DIMSEError
	if errors.As(err, &dimseErr) {
		status, comment = dimseErr.Status, dimseErr.Msg
	}
	return NewResponseBuilder(request).Failure(status, comment)
}
