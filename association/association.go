// Package association models the parameters negotiated between two
// application entities: AE titles, the maximum PDU length and the
// presentation contexts with their outcome.
package association

import (
	"fmt"
	"sort"
	"strings"

	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/types"
)

// Result is the outcome of one presentation context.
type Result byte

const (
	ResultAccept               Result = 0
	ResultRejectUser           Result = 1
	ResultRejectNoReason       Result = 2
	ResultRejectAbstractSyntax Result = 3
	ResultRejectTransferSyntax Result = 4
	ResultProposed             Result = 255
)

func (r Result) String() string {
	switch r {
	case ResultAccept:
		return "Accept"
	case ResultProposed:
		return "Proposed"
	case ResultRejectAbstractSyntax:
		return "Reject - Abstract Syntax Not Supported"
	case ResultRejectNoReason:
		return "Reject - No Reason"
	case ResultRejectTransferSyntax:
		return "Reject - Transfer Syntaxes Not Supported"
	case ResultRejectUser:
		return "Reject - User"
	default:
		return "Unknown"
	}
}

// IsReject reports whether r is one of the reject outcomes.
func (r Result) IsReject() bool {
	return r >= ResultRejectUser && r <= ResultRejectTransferSyntax
}

// PresentationContext pairs an abstract syntax with the transfer syntaxes
// proposed for it. Once a result is set, the list holds only the accepted
// syntax.
type PresentationContext struct {
	ID             byte
	AbstractSyntax string
	Result         Result

	transferSyntaxes []*types.TransferSyntax
}

// NewPresentationContext creates a proposed context.
func NewPresentationContext(id byte, abstractSyntax string, syntaxes ...*types.TransferSyntax) *PresentationContext {
	pc := &PresentationContext{ID: id, AbstractSyntax: abstractSyntax, Result: ResultProposed}
	for _, ts := range syntaxes {
		pc.AddTransferSyntax(ts)
	}
	return pc
}

// TransferSyntaxes returns the proposed syntaxes in ranking order.
func (pc *PresentationContext) TransferSyntaxes() []*types.TransferSyntax {
	return append([]*types.TransferSyntax(nil), pc.transferSyntaxes...)
}

// AddTransferSyntax appends ts unless it is already listed.
func (pc *PresentationContext) AddTransferSyntax(ts *types.TransferSyntax) {
	if ts == nil || pc.HasTransferSyntax(ts) {
		return
	}
	pc.transferSyntaxes = append(pc.transferSyntaxes, ts)
}

// RemoveTransferSyntax drops ts from the proposal.
func (pc *PresentationContext) RemoveTransferSyntax(ts *types.TransferSyntax) {
	for i, t := range pc.transferSyntaxes {
		if t.UID == ts.UID {
			pc.transferSyntaxes = append(pc.transferSyntaxes[:i], pc.transferSyntaxes[i+1:]...)
			return
		}
	}
}

// ClearTransferSyntaxes empties the proposal.
func (pc *PresentationContext) ClearTransferSyntaxes() {
	pc.transferSyntaxes = nil
}

// HasTransferSyntax reports whether ts is listed.
func (pc *PresentationContext) HasTransferSyntax(ts *types.TransferSyntax) bool {
	for _, t := range pc.transferSyntaxes {
		if t.UID == ts.UID {
			return true
		}
	}
	return false
}

// Accepted reports whether the context was accepted.
func (pc *PresentationContext) Accepted() bool {
	return pc.Result == ResultAccept
}

// AcceptedTransferSyntax returns the negotiated syntax, or nil when the
// context is not accepted.
func (pc *PresentationContext) AcceptedTransferSyntax() *types.TransferSyntax {
	if pc.Result != ResultAccept || len(pc.transferSyntaxes) == 0 {
		return nil
	}
	return pc.transferSyntaxes[0]
}

// SetResult records the outcome. For an accepted context ts becomes the only
// listed syntax; a nil ts keeps the first proposed one.
func (pc *PresentationContext) SetResult(result Result, ts *types.TransferSyntax) {
	if ts == nil && len(pc.transferSyntaxes) > 0 {
		ts = pc.transferSyntaxes[0]
	}
	pc.transferSyntaxes = nil
	if ts != nil {
		pc.transferSyntaxes = []*types.TransferSyntax{ts}
	}
	pc.Result = result
}

// AcceptTransferSyntaxes accepts the first proposed syntax that appears in
// supported, following the proposer's ranking. Without a match the context is
// rejected with ResultRejectTransferSyntax.
func (pc *PresentationContext) AcceptTransferSyntaxes(supported ...*types.TransferSyntax) bool {
	for _, proposed := range pc.transferSyntaxes {
		for _, ts := range supported {
			if proposed.UID == ts.UID {
				pc.SetResult(ResultAccept, proposed)
				return true
			}
		}
	}
	pc.SetResult(ResultRejectTransferSyntax, nil)
	return false
}

func (pc *PresentationContext) String() string {
	names := make([]string, 0, len(pc.transferSyntaxes))
	for _, ts := range pc.transferSyntaxes {
		names = append(names, ts.Name)
	}
	return fmt.Sprintf("[%d] %s [%s] %s", pc.ID, types.GetSOPClassInfo(pc.AbstractSyntax).Name,
		strings.Join(names, ", "), pc.Result)
}

// Association holds the negotiated parameters of one connection.
type Association struct {
	CallingAE              string
	CalledAE               string
	ApplicationContext     string
	ImplementationClassUID string
	ImplementationVersion  string
	MaxPDULength           uint32

	// RemoteImplementationClassUID and friends are filled from the peer's
	// user information.
	RemoteImplementationClassUID string
	RemoteImplementationVersion  string
	RemoteMaxPDULength           uint32

	contexts map[byte]*PresentationContext
}

// New creates an association with this implementation's identifiers and
// the default maximum PDU length.
func New(callingAE, calledAE string) *Association {
	return &Association{
		CallingAE:              callingAE,
		CalledAE:               calledAE,
		ApplicationContext:     types.ApplicationContextUID,
		ImplementationClassUID: dicom.ImplementationClassUID,
		ImplementationVersion:  dicom.ImplementationVersionName,
		MaxPDULength:           types.DefaultMaxPDULength,
		contexts:               make(map[byte]*PresentationContext),
	}
}

// AddPresentationContext proposes abstractSyntax with the given syntaxes and
// returns the allocated context id.
func (a *Association) AddPresentationContext(abstractSyntax string, syntaxes ...*types.TransferSyntax) (byte, error) {
	id, err := a.nextID()
	if err != nil {
		return 0, err
	}
	a.contexts[id] = NewPresentationContext(id, abstractSyntax, syntaxes...)
	return id, nil
}

// AddOrGetPresentationContext returns the id of an existing context for
// abstractSyntax, or proposes a new one.
func (a *Association) AddOrGetPresentationContext(abstractSyntax string, syntaxes ...*types.TransferSyntax) (byte, error) {
	for _, pc := range a.PresentationContexts() {
		if pc.AbstractSyntax == abstractSyntax {
			for _, ts := range syntaxes {
				pc.AddTransferSyntax(ts)
			}
			return pc.ID, nil
		}
	}
	return a.AddPresentationContext(abstractSyntax, syntaxes...)
}

// SetPresentationContext stores pc under its own id, replacing any context
// with the same id. Ids must be odd.
func (a *Association) SetPresentationContext(pc *PresentationContext) error {
	if pc.ID%2 == 0 {
		return fmt.Errorf("presentation context id %d is not odd", pc.ID)
	}
	a.contexts[pc.ID] = pc
	return nil
}

// MaxPresentationContexts is the number of odd ids from 1 to 255.
const MaxPresentationContexts = 128

// nextID returns the largest id in use plus two, starting at 1. Once 255 is
// taken the lowest free odd id is reused.
func (a *Association) nextID() (byte, error) {
	if len(a.contexts) >= MaxPresentationContexts {
		return 0, fmt.Errorf("all %d presentation context ids are in use", MaxPresentationContexts)
	}
	var max byte
	for id := range a.contexts {
		if id > max {
			max = id
		}
	}
	switch {
	case max == 0:
		return 1, nil
	case max < 255:
		return max + 2, nil
	}
	for id := 1; id <= 255; id += 2 {
		if _, ok := a.contexts[byte(id)]; !ok {
			return byte(id), nil
		}
	}
	return 0, fmt.Errorf("all %d presentation context ids are in use", MaxPresentationContexts)
}

// PresentationContext looks up a context by id.
func (a *Association) PresentationContext(id byte) (*PresentationContext, bool) {
	pc, ok := a.contexts[id]
	return pc, ok
}

// PresentationContexts returns the contexts ordered by id.
func (a *Association) PresentationContexts() []*PresentationContext {
	out := make([]*PresentationContext, 0, len(a.contexts))
	for _, pc := range a.contexts {
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ClearPresentationContexts removes every context.
func (a *Association) ClearPresentationContexts() {
	a.contexts = make(map[byte]*PresentationContext)
}

// FindAbstractSyntax returns the id of an accepted context for
// abstractSyntax, falling back to any context for it, or 0.
func (a *Association) FindAbstractSyntax(abstractSyntax string) byte {
	contexts := a.PresentationContexts()
	for _, pc := range contexts {
		if pc.AbstractSyntax == abstractSyntax && pc.Accepted() {
			return pc.ID
		}
	}
	for _, pc := range contexts {
		if pc.AbstractSyntax == abstractSyntax {
			return pc.ID
		}
	}
	return 0
}

// FindAbstractSyntaxWithTransferSyntax returns the id of the context
// carrying both abstractSyntax and ts, or 0.
func (a *Association) FindAbstractSyntaxWithTransferSyntax(abstractSyntax string, ts *types.TransferSyntax) byte {
	for _, pc := range a.PresentationContexts() {
		if pc.AbstractSyntax == abstractSyntax && pc.HasTransferSyntax(ts) {
			return pc.ID
		}
	}
	return 0
}

// FindAcceptedContext returns the accepted context for abstractSyntax,
// preferring one negotiated with ts when ts is not nil.
func (a *Association) FindAcceptedContext(abstractSyntax string, ts *types.TransferSyntax) (*PresentationContext, bool) {
	var fallback *PresentationContext
	for _, pc := range a.PresentationContexts() {
		if pc.AbstractSyntax != abstractSyntax || !pc.Accepted() {
			continue
		}
		if ts == nil || pc.HasTransferSyntax(ts) {
			return pc, true
		}
		if fallback == nil {
			fallback = pc
		}
	}
	return fallback, fallback != nil
}

// AcceptedTransferSyntax returns the negotiated syntax of context id.
func (a *Association) AcceptedTransferSyntax(id byte) *types.TransferSyntax {
	pc, ok := a.contexts[id]
	if !ok {
		return nil
	}
	return pc.AcceptedTransferSyntax()
}

// EffectiveMaxPDULength is the length outgoing PDUs must respect: the
// peer's advertised maximum, or the local one when the peer sent none.
func (a *Association) EffectiveMaxPDULength() uint32 {
	if a.RemoteMaxPDULength != 0 {
		return a.RemoteMaxPDULength
	}
	return a.MaxPDULength
}

func (a *Association) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Calling AE Title:       %s\n", a.CallingAE)
	fmt.Fprintf(&b, "Called AE Title:        %s\n", a.CalledAE)
	fmt.Fprintf(&b, "Maximum PDU Length:     %d\n", a.MaxPDULength)
	fmt.Fprintf(&b, "Implementation Class:   %s\n", a.ImplementationClassUID)
	fmt.Fprintf(&b, "Implementation Version: %s\n", a.ImplementationVersion)
	fmt.Fprintf(&b, "Presentation Contexts:  %d\n", len(a.contexts))
	for _, pc := range a.PresentationContexts() {
		fmt.Fprintf(&b, "  %s\n", pc)
	}
	return b.String()
}
