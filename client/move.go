package client

import (
	"context"
	"fmt"

	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/dimse"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/network"
	"github.com/caio-sobreiro/dcmstream/types"
)

// CMoveRequest asks the SCP to send the matches of Dataset to Destination.
type CMoveRequest struct {
	SOPClassUID string // default: Study Root Query/Retrieve Information Model - MOVE
	Destination string
	Priority    uint16
	Dataset     *dicom.Dataset

	// OnProgress is called for each pending response, on the connection's
	// receive goroutine.
	OnProgress func(*CMoveResponse)
}

// CMoveResponse is a C-MOVE response with its sub-operation counts.
type CMoveResponse struct {
	Status        uint16
	MessageID     uint16
	ErrorComment  string
	SubOperations dimse.SubOperations
	// Dataset lists the failed SOP instances, when the SCP sent them.
	Dataset *dicom.Dataset
}

func newCMoveResponse(rsp *network.Response) *CMoveResponse {
	return &CMoveResponse{
		Status:        rsp.Status,
		MessageID:     rsp.MessageIDBeingRespondedTo,
		ErrorComment:  rsp.ErrorComment,
		SubOperations: rsp.SubOperations,
		Dataset:       rsp.Dataset,
	}
}

// Move performs a C-MOVE and returns the final response.
func (a *Association) Move(ctx context.Context, req *CMoveRequest) (*CMoveResponse, error) {
	if req == nil || req.Dataset == nil {
		return nil, fmt.Errorf("c-move request requires a dataset: %w", dcmerrors.ErrInvalidMessage)
	}
	if req.Destination == "" {
		return nil, fmt.Errorf("c-move request requires a destination: %w", dcmerrors.ErrInvalidMessage)
	}
	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.StudyRootQueryRetrieveInformationModelMove
	}

	var onPending func(*network.Response)
	if req.OnProgress != nil {
		onPending = func(rsp *network.Response) { req.OnProgress(newCMoveResponse(rsp)) }
	}
	id, cl, err := a.request(sopClass, req.Dataset, onPending, func(id uint16) *dimse.Command {
		return dimse.NewCMoveRequest(id, sopClass, req.Destination, req.Priority)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send C-MOVE request: %w", err)
	}

	final, _, err := a.await(ctx, id, cl, true)
	if err != nil {
		return nil, err
	}
	return newCMoveResponse(final), nil
}
