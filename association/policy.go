package association

import (
	"log/slog"
	"strings"

	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/types"
)

// Policy decides which proposed presentation contexts an acceptor takes.
type Policy struct {
	// AbstractSyntaxes lists the accepted SOP classes.
	AbstractSyntaxes map[string]bool
	// AcceptAllStorage accepts every registered storage SOP class.
	AcceptAllStorage bool
	// TransferSyntaxes lists the syntaxes the acceptor can decode.
	TransferSyntaxes []*types.TransferSyntax
	// Refused abstract syntaxes are rejected with ResultRejectUser.
	Refused map[string]bool
	// CalledAETitles restricts the accepted called AE titles; empty accepts any.
	CalledAETitles []string
	// MaxPDULength is advertised in the accept; zero keeps the default.
	MaxPDULength uint32
	// OmitRejectedContexts leaves rejected contexts out of the A-ASSOCIATE-AC.
	// Some peers cannot parse rejected items.
	OmitRejectedContexts bool
}

// DefaultPolicy accepts verification, query/retrieve and every storage SOP
// class in the uncompressed little endian syntaxes.
func DefaultPolicy() *Policy {
	return &Policy{
		AbstractSyntaxes: map[string]bool{
			types.VerificationSOPClass:                         true,
			types.PatientRootQueryRetrieveInformationModelFind: true,
			types.StudyRootQueryRetrieveInformationModelFind:   true,
			types.PatientRootQueryRetrieveInformationModelMove: true,
			types.StudyRootQueryRetrieveInformationModelMove:   true,
			types.ModalityWorklistInformationModelFind:         true,
		},
		AcceptAllStorage: true,
		TransferSyntaxes: []*types.TransferSyntax{
			types.ExplicitLittleEndian,
			types.ImplicitLittleEndian,
			types.DeflatedLittleEndian,
			types.ExplicitBigEndian,
		},
	}
}

// SupportsAbstractSyntax reports whether uid may be accepted.
func (p *Policy) SupportsAbstractSyntax(uid string) bool {
	if p.AbstractSyntaxes[uid] {
		return true
	}
	return p.AcceptAllStorage && types.IsStorageSOPClass(uid)
}

// SupportsTransferSyntax reports whether ts may be accepted.
func (p *Policy) SupportsTransferSyntax(ts *types.TransferSyntax) bool {
	for _, t := range p.TransferSyntaxes {
		if t.UID == ts.UID {
			return true
		}
	}
	return false
}

// Check validates the association-level parameters. A non-nil error is the
// rejection to send.
func (p *Policy) Check(a *Association) *dcmerrors.AssociationError {
	if a.ApplicationContext != "" && a.ApplicationContext != types.ApplicationContextUID {
		return dcmerrors.NewAssociationError(dcmerrors.RejectSourceServiceUser,
			dcmerrors.RejectReasonApplicationContextNotSupported, "unsupported application context "+a.ApplicationContext)
	}
	if len(p.CalledAETitles) == 0 {
		return nil
	}
	for _, ae := range p.CalledAETitles {
		if strings.EqualFold(strings.TrimSpace(ae), strings.TrimSpace(a.CalledAE)) {
			return nil
		}
	}
	return dcmerrors.NewAssociationError(dcmerrors.RejectSourceServiceUser,
		dcmerrors.RejectReasonCalledAETitleNotRecognized, "called AE title "+a.CalledAE+" not recognized")
}

// Negotiate sets the result of every proposed context in a and returns the
// number accepted.
func (p *Policy) Negotiate(a *Association, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	if p.MaxPDULength != 0 {
		a.MaxPDULength = p.MaxPDULength
	}

	accepted := 0
	for _, pc := range a.PresentationContexts() {
		proposed := pc.TransferSyntaxes()
		switch {
		case p.Refused[pc.AbstractSyntax]:
			pc.SetResult(ResultRejectUser, nil)
		case len(proposed) == 0:
			pc.SetResult(ResultRejectNoReason, nil)
		case !p.SupportsAbstractSyntax(pc.AbstractSyntax):
			pc.SetResult(ResultRejectAbstractSyntax, nil)
		default:
			pc.AcceptTransferSyntaxes(p.TransferSyntaxes...)
		}
		if pc.Accepted() {
			accepted++
		}

		logger.Debug("Presentation context negotiation result",
			"context_id", pc.ID,
			"abstract_syntax", pc.AbstractSyntax,
			"num_proposed", len(proposed),
			"result", pc.Result.String())
	}
	return accepted
}
