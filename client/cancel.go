package client

import (
	"fmt"

	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
)

// Cancel sends a C-CANCEL-RQ for an outstanding C-FIND or C-MOVE.
// The messageID parameter must match the MessageID of the operation being canceled.
// C-CANCEL does not have a response; the operation ends with the peer's
// final response, which the waiting Find or Move returns.
func (a *Association) Cancel(messageID uint16) error {
	cl, ok := a.lookup(messageID)
	if !ok {
		return fmt.Errorf("no outstanding request with message id %d: %w", messageID, dcmerrors.ErrInvalidMessage)
	}
	if err := a.conn.SendCCancelRequest(cl.contextID, messageID); err != nil {
		return fmt.Errorf("failed to send C-CANCEL request: %w", err)
	}
	a.logger.Debug("C-CANCEL sent", "message_id", messageID)
	return nil
}
