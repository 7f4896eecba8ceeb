package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/dimse"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/interfaces"
	"github.com/caio-sobreiro/dcmstream/network"
	"github.com/caio-sobreiro/dcmstream/types"
)

// MoveService answers C-MOVE requests by sending every instance matching
// the identifier to the move destination as C-STORE sub-operations.
type MoveService struct {
	index  interfaces.InstanceStore
	sender interfaces.InstanceSender
	logger *slog.Logger
}

// NewMoveService creates a move service that sends instances of index
// through sender.
func NewMoveService(index interfaces.InstanceStore, sender interfaces.InstanceSender, logger *slog.Logger) *MoveService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MoveService{index: index, sender: sender, logger: logger}
}

// HandleDIMSEStreaming implements interfaces.StreamingServiceHandler.
func (s *MoveService) HandleDIMSEStreaming(ctx context.Context, req *network.Request, responder interfaces.ResponseSender) error {
	if _, _, err := queryLevel("C-MOVE", req.Dataset); err != nil {
		return err
	}
	destination := req.MoveDestination
	if !s.sender.KnowsDestination(destination) {
		return dcmerrors.NewDIMSEError("C-MOVE", types.StatusMoveDestinationUnknown, "unknown move destination "+destination)
	}

	var matches []*interfaces.Instance
	if err := s.index.Walk(ctx, func(inst *interfaces.Instance) error {
		if matchDataset(req.Dataset, inst.Attributes) {
			matches = append(matches, inst)
		}
		return nil
	}); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Handling C-MOVE request",
		"message_id", req.MessageID,
		"move_destination", destination,
		"matches", len(matches))

	b := NewResponseBuilder(req)
	ops := dimse.SubOperations{Remaining: uint16(len(matches))}
	if len(matches) == 0 {
		return responder.SendResponse(b.CMoveResponse(types.StatusSuccess, ops), nil)
	}

	session, err := s.sender.Open(ctx, destination, matches)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to open association to move destination",
			"move_destination", destination,
			"error", err)
		ops.Failed, ops.Remaining = ops.Remaining, 0
		rsp := b.CMoveResponse(types.StatusSubOpsOutOfResources, ops)
		rsp.SetErrorComment(err.Error())
		return responder.SendResponse(rsp, failedInstances(matches))
	}
	defer func() {
		if err := session.Close(); err != nil {
			s.logger.WarnContext(ctx, "Failed to release move destination", "move_destination", destination, "error", err)
		}
	}()

	var failed []*interfaces.Instance
	for _, inst := range matches {
		if ctx.Err() != nil {
			s.logger.InfoContext(ctx, "C-MOVE cancelled", "message_id", req.MessageID, "remaining", ops.Remaining)
			return responder.SendResponse(b.CMoveResponse(types.StatusCancel, ops), failedInstances(failed))
		}
		if err := responder.SendResponse(b.CMoveResponse(types.StatusPending, ops), nil); err != nil {
			return err
		}

		status, err := session.Send(ctx, inst, req.RemoteAE, req.MessageID)
		ops.Remaining--
		switch {
		case err != nil || types.StatusStateOf(status) == types.StatusStateFailure:
			s.logger.WarnContext(ctx, "C-STORE sub-operation failed",
				"sop_instance_uid", inst.SOPInstanceUID,
				"status", fmt.Sprintf("0x%04X", status),
				"error", err)
			ops.Failed++
			failed = append(failed, inst)
		case types.StatusStateOf(status) == types.StatusStateWarning:
			ops.Warning++
		default:
			ops.Completed++
		}
	}

	status := types.StatusSuccess
	if ops.Failed > 0 || ops.Warning > 0 {
		status = types.StatusWarning
	}
	s.logger.InfoContext(ctx, "C-MOVE completed",
		"message_id", req.MessageID,
		"completed", ops.Completed,
		"failed", ops.Failed,
		"warning", ops.Warning)
	return responder.SendResponse(b.CMoveResponse(status, ops), failedInstances(failed))
}

// failedInstances is the identifier of a final C-MOVE response listing
// instances that were not sent, or nil.
func failedInstances(insts []*interfaces.Instance) *dicom.Dataset {
	if len(insts) == 0 {
		return nil
	}
	uids := make([]string, len(insts))
	for i, inst := range insts {
		uids[i] = inst.SOPInstanceUID
	}
	ds := dicom.NewDatasetWithSyntax(types.ExplicitLittleEndian)
	ds.AddUID(types.FailedSOPInstanceUIDListTag, strings.Join(uids, "\\"))
	return ds
}
