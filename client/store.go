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

// CStoreRequest represents a C-STORE request
type CStoreRequest struct {
	// SOPClassUID and SOPInstanceUID default to the dataset's own.
	SOPClassUID    string
	SOPInstanceUID string
	Dataset        *dicom.Dataset
	Priority       uint16

	// Set when the store is a sub-operation of a C-MOVE.
	MoveOriginatorAETitle   string
	MoveOriginatorMessageID uint16
}

// CStoreResponse represents a C-STORE response
type CStoreResponse struct {
	Status         uint16
	MessageID      uint16
	SOPClassUID    string
	SOPInstanceUID string
	ErrorComment   string
}

func newCStoreResponse(rsp *network.Response) *CStoreResponse {
	return &CStoreResponse{
		Status:         rsp.Status,
		MessageID:      rsp.MessageIDBeingRespondedTo,
		SOPClassUID:    rsp.SOPClassUID,
		SOPInstanceUID: rsp.SOPInstanceUID,
		ErrorComment:   rsp.ErrorComment,
	}
}

// Store sends a C-STORE request and waits for response
func (a *Association) Store(ctx context.Context, req *CStoreRequest) (*CStoreResponse, error) {
	if req == nil || req.Dataset == nil {
		return nil, fmt.Errorf("c-store request requires a dataset: %w", dcmerrors.ErrInvalidMessage)
	}
	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = req.Dataset.GetUID(types.SOPClassUIDTag)
	}
	sopInstance := req.SOPInstanceUID
	if sopInstance == "" {
		sopInstance = req.Dataset.GetUID(types.SOPInstanceUIDTag)
	}
	if sopClass == "" || sopInstance == "" {
		return nil, fmt.Errorf("dataset without SOP class or instance: %w", dcmerrors.ErrInvalidMessage)
	}

	id, cl, err := a.request(sopClass, req.Dataset, nil, func(id uint16) *dimse.Command {
		cmd := dimse.NewCStoreRequest(id, sopClass, sopInstance, req.Priority)
		if req.MoveOriginatorAETitle != "" {
			cmd.SetMoveOriginator(req.MoveOriginatorAETitle, req.MoveOriginatorMessageID)
		}
		return cmd
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send C-STORE: %w", err)
	}

	a.logger.Debug("Sent C-STORE-RQ",
		"message_id", id,
		"sop_class_uid", sopClass,
		"sop_instance_uid", sopInstance)

	rsp, _, err := a.await(ctx, id, cl, false)
	if err != nil {
		return nil, err
	}
	return newCStoreResponse(rsp), nil
}

// StoreFile sends a Part 10 file. The dataset is streamed from disk
// when the peer accepted the file's transfer syntax.
func (a *Association) StoreFile(ctx context.Context, path string, priority uint16) (*CStoreResponse, error) {
	// The context is only known once the file's meta information is read.
	id, cl := a.register(0, nil)
	if _, err := a.conn.SendCStoreFileWithID(path, id, priority); err != nil {
		a.forget(id)
		return nil, fmt.Errorf("failed to send %s: %w", path, err)
	}

	a.logger.Debug("Sent C-STORE-RQ", "message_id", id, "path", path)

	rsp, _, err := a.await(ctx, id, cl, false)
	if err != nil {
		return nil, err
	}
	return newCStoreResponse(rsp), nil
}
