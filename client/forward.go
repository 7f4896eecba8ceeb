package client

import (
	"context"
	"fmt"

	"github.com/caio-sobreiro/dcmstream/dicom"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/interfaces"
	"github.com/caio-sobreiro/dcmstream/types"
)

// Forwarder sends stored instances to known application entities. It is
// the C-STORE side of a C-MOVE provider.
type Forwarder struct {
	// Destinations maps an AE title to its host:port.
	Destinations map[string]string
	// Config is the base configuration of each association; the called AE
	// title and proposed syntaxes are filled in per destination.
	Config Config
}

// KnowsDestination implements interfaces.InstanceSender.
func (f *Forwarder) KnowsDestination(aeTitle string) bool {
	_, ok := f.Destinations[aeTitle]
	return ok
}

// Open implements interfaces.InstanceSender. Each SOP class of instances is
// proposed with its stored transfer syntax first.
func (f *Forwarder) Open(ctx context.Context, destination string, instances []*interfaces.Instance) (interfaces.InstanceSession, error) {
	address, ok := f.Destinations[destination]
	if !ok {
		return nil, fmt.Errorf("move destination %s: %w", destination, dcmerrors.ErrInvalidMessage)
	}

	cfg := f.Config
	cfg.CalledAETitle = destination
	cfg.AbstractSyntaxes = nil
	syntaxes := []string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian}
	classes := make(map[string]bool)
	for _, inst := range instances {
		if !classes[inst.SOPClassUID] {
			classes[inst.SOPClassUID] = true
			cfg.AbstractSyntaxes = append(cfg.AbstractSyntaxes, inst.SOPClassUID)
		}
		if ts := inst.TransferSyntaxUID; types.IsKnownTransferSyntax(ts) {
			syntaxes = append([]string{ts}, syntaxes...)
		}
	}
	cfg.PreferredTransferSyntaxes = dedupe(syntaxes)

	a, err := Connect(ctx, address, cfg)
	if err != nil {
		return nil, err
	}
	return &forwardSession{a: a}, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

type forwardSession struct {
	a *Association
}

func (s *forwardSession) Send(ctx context.Context, inst *interfaces.Instance, originatorAE string, originatorMessageID uint16) (uint16, error) {
	file, err := dicom.ReadFile(inst.Path, dicom.DefaultReadOptions)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", inst.Path, err)
	}
	rsp, err := s.a.Store(ctx, &CStoreRequest{
		SOPClassUID:             inst.SOPClassUID,
		SOPInstanceUID:          inst.SOPInstanceUID,
		Dataset:                 file.Dataset,
		MoveOriginatorAETitle:   originatorAE,
		MoveOriginatorMessageID: originatorMessageID,
	})
	if err != nil {
		return 0, err
	}
	return rsp.Status, nil
}

func (s *forwardSession) Close() error {
	return s.a.Close()
}
