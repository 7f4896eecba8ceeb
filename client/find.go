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

// CFindRequest encapsulates the information required to perform a C-FIND query.
type CFindRequest struct {
	SOPClassUID string // default: Study Root Query/Retrieve Information Model - FIND
	Priority    uint16
	Dataset     *dicom.Dataset

	// OnResponse is called for each pending response as it arrives, on the
	// connection's receive goroutine.
	OnResponse func(*CFindResponse)
}

// CFindResponse represents a single C-FIND response from the SCP.
type CFindResponse struct {
	Status       uint16
	MessageID    uint16
	ErrorComment string
	Dataset      *dicom.Dataset
}

func newCFindResponse(rsp *network.Response) *CFindResponse {
	return &CFindResponse{
		Status:       rsp.Status,
		MessageID:    rsp.MessageIDBeingRespondedTo,
		ErrorComment: rsp.ErrorComment,
		Dataset:      rsp.Dataset,
	}
}

// Find performs a DICOM C-FIND query and returns all responses in order,
// the final one last. Cancelling ctx sends a C-CANCEL; the responses up to
// the peer's final one are still returned.
func (a *Association) Find(ctx context.Context, req *CFindRequest) ([]*CFindResponse, error) {
	if req == nil || req.Dataset == nil {
		return nil, fmt.Errorf("c-find request requires a dataset: %w", dcmerrors.ErrInvalidMessage)
	}
	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.StudyRootQueryRetrieveInformationModelFind
	}

	var onPending func(*network.Response)
	if req.OnResponse != nil {
		onPending = func(rsp *network.Response) { req.OnResponse(newCFindResponse(rsp)) }
	}
	id, cl, err := a.request(sopClass, req.Dataset, onPending, func(id uint16) *dimse.Command {
		return dimse.NewCFindRequest(id, sopClass, req.Priority)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send C-FIND request: %w", err)
	}

	final, pending, err := a.await(ctx, id, cl, true)
	if err != nil {
		return nil, err
	}
	responses := make([]*CFindResponse, 0, len(pending)+1)
	for _, rsp := range pending {
		responses = append(responses, newCFindResponse(rsp))
	}
	return append(responses, newCFindResponse(final)), nil
}
