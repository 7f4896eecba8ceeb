// Package services provides reusable DICOM service implementations.
//
// Services are registered in a Registry, which turns them into the
// network.Handlers of each association.
package services

import (
	"context"
	"log/slog"

	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/dimse"
	"github.com/caio-sobreiro/dcmstream/network"
	"github.com/caio-sobreiro/dcmstream/types"
)

// EchoService handles C-ECHO verification requests.
//
// C-ECHO verifies application-level communication between two AEs. It
// carries no dataset and always succeeds.
type EchoService struct {
	logger *slog.Logger
}

// NewEchoService creates a new C-ECHO service instance.
func NewEchoService(logger *slog.Logger) *EchoService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EchoService{logger: logger}
}

// HandleDIMSE processes a C-ECHO request and returns a success response.
func (s *EchoService) HandleDIMSE(ctx context.Context, req *network.Request) (*dimse.Command, *dicom.Dataset, error) {
	s.logger.DebugContext(ctx, "Processing C-ECHO request",
		"message_id", req.MessageID,
		"calling_ae", req.RemoteAE)

	return NewCEchoResponse(req, types.StatusSuccess), nil, nil
}

// HealthCheck verifies that the echo service is operational.
func (s *EchoService) HealthCheck(ctx context.Context) error {
	return nil
}
