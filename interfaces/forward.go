package interfaces

import "context"

// InstanceSender delivers stored instances to the destination of a
// C-MOVE request.
type InstanceSender interface {
	// KnowsDestination reports whether aeTitle can be reached.
	KnowsDestination(aeTitle string) bool
	// Open associates with destination, proposing what instances need.
	Open(ctx context.Context, destination string, instances []*Instance) (InstanceSession, error)
}

// InstanceSession sends C-STORE sub-operations over one association.
type InstanceSession interface {
	// Send stores inst on behalf of the C-MOVE originator and returns the
	// C-STORE status.
	Send(ctx context.Context, inst *Instance, originatorAE string, originatorMessageID uint16) (uint16, error)
	Close() error
}
