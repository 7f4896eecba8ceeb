// Package interfaces contains all service and handler interfaces
package interfaces

import (
	"context"

	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/dimse"
	"github.com/caio-sobreiro/dcmstream/network"
)

// ServiceHandler answers a DIMSE request with a single response.
type ServiceHandler interface {
	HandleDIMSE(ctx context.Context, req *network.Request) (*dimse.Command, *dicom.Dataset, error)
}

// StreamingServiceHandler answers a DIMSE request with any number of
// responses, the last one final. The context is cancelled when the peer
// sends a C-CANCEL for the request or the association ends.
type StreamingServiceHandler interface {
	HandleDIMSEStreaming(ctx context.Context, req *network.Request, responder ResponseSender) error
}

// ResponseSender sends responses to the request being handled.
type ResponseSender interface {
	SendResponse(rsp *dimse.Command, ds *dicom.Dataset) error
}

// SpillingHandler takes C-STORE datasets as files instead of in memory.
type SpillingHandler interface {
	// SpillPath returns where the dataset of cmd is written while it
	// arrives; empty keeps it in memory.
	SpillPath(contextID byte, cmd *dimse.Command) string
}
