package client

import (
	"context"
	"fmt"

	"github.com/caio-sobreiro/dcmstream/dimse"
	"github.com/caio-sobreiro/dcmstream/types"
)

// CEchoResponse represents the result of a C-ECHO operation.
type CEchoResponse struct {
	Status    uint16
	MessageID uint16
}

// Echo performs a DICOM C-ECHO (verification) request and returns the response status.
func (a *Association) Echo(ctx context.Context) (*CEchoResponse, error) {
	id, cl, err := a.request(types.VerificationSOPClass, nil, nil, dimse.NewCEchoRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to send C-ECHO request: %w", err)
	}
	rsp, _, err := a.await(ctx, id, cl, false)
	if err != nil {
		return nil, err
	}
	return &CEchoResponse{
		Status:    rsp.Status,
		MessageID: rsp.MessageIDBeingRespondedTo,
	}, nil
}
