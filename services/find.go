package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/caio-sobreiro/dcmstream/interfaces"
	"github.com/caio-sobreiro/dcmstream/network"
	"github.com/caio-sobreiro/dcmstream/types"
)

// errStopWalk ends an index walk early.
var errStopWalk = errors.New("stop walk")

// FindService answers C-FIND requests from an InstanceStore.
//
// Each matching entity is returned in a pending response; entities above
// the IMAGE level are reported once. A C-CANCEL ends the search with a
// Cancel status.
type FindService struct {
	index interfaces.InstanceStore
	// MaxResults bounds the number of pending responses; zero is unbounded.
	MaxResults int
	logger     *slog.Logger
}

// NewFindService creates a find service over index.
func NewFindService(index interfaces.InstanceStore, logger *slog.Logger) *FindService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FindService{index: index, logger: logger}
}

// HandleDIMSEStreaming implements interfaces.StreamingServiceHandler.
func (s *FindService) HandleDIMSEStreaming(ctx context.Context, req *network.Request, responder interfaces.ResponseSender) error {
	query := req.Dataset
	level, levelKey, err := queryLevel("C-FIND", query)
	if err != nil {
		return err
	}

	s.logger.DebugContext(ctx, "Processing C-FIND request",
		"message_id", req.MessageID,
		"level", level,
		"keys", query.Len())

	seen := make(map[string]bool)
	matches := 0
	err = s.index.Walk(ctx, func(inst *interfaces.Instance) error {
		if !matchDataset(query, inst.Attributes) {
			return nil
		}
		id := inst.Attributes.GetString(levelKey)
		if seen[id] {
			return nil
		}
		seen[id] = true

		if err := responder.SendResponse(NewCFindPendingResponse(req), buildIdentifier(query, inst.Attributes, level)); err != nil {
			return err
		}
		matches++
		if s.MaxResults > 0 && matches >= s.MaxResults {
			return errStopWalk
		}
		return nil
	})

	switch {
	case errors.Is(err, context.Canceled):
		s.logger.InfoContext(ctx, "C-FIND cancelled", "message_id", req.MessageID, "matches", matches)
		return responder.SendResponse(NewResponseBuilder(req).Response(types.StatusCancel), nil)
	case err != nil && !errors.Is(err, errStopWalk):
		return err
	}

	s.logger.InfoContext(ctx, "C-FIND completed", "message_id", req.MessageID, "matches", matches)
	return responder.SendResponse(NewCFindSuccessResponse(req), nil)
}
