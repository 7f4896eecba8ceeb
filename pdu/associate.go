package pdu

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/caio-sobreiro/dcmstream/association"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/types"
)

// fixedAssociateLength covers protocol version, reserved, both AE titles and
// the 32 reserved bytes.
const fixedAssociateLength = 68

// PresentationContextItem is a presentation context as carried on the wire.
// Requests fill TransferSyntaxes with the proposal; accepts carry Result and
// at most one transfer syntax.
type PresentationContextItem struct {
	ID               byte
	Result           byte
	AbstractSyntax   string
	TransferSyntaxes []string
}

// RoleSelection is the SCP/SCU role selection sub-item.
type RoleSelection struct {
	SOPClassUID string
	SCURole     bool
	SCPRole     bool
}

// UserInformation holds the user information sub-items this package knows.
type UserInformation struct {
	MaxPDULength           uint32
	ImplementationClassUID string
	ImplementationVersion  string
	MaxOperationsInvoked   uint16
	MaxOperationsPerformed uint16
	RoleSelections         []RoleSelection
}

// AssociateParams is the body shared by A-ASSOCIATE-RQ and -AC.
type AssociateParams struct {
	ProtocolVersion      uint16
	CalledAE             string
	CallingAE            string
	ApplicationContext   string
	PresentationContexts []PresentationContextItem
	UserInformation      UserInformation
}

// AssociateRQ is an A-ASSOCIATE-RQ.
type AssociateRQ struct {
	AssociateParams
}

func (*AssociateRQ) Type() byte { return types.TypeAssociateRQ }

func (rq *AssociateRQ) encode(b *bytes.Buffer) error {
	return rq.AssociateParams.encode(b, types.ItemPresentationContextRQ)
}

// AssociateAC is an A-ASSOCIATE-AC.
type AssociateAC struct {
	AssociateParams
}

func (*AssociateAC) Type() byte { return types.TypeAssociateAC }

func (ac *AssociateAC) encode(b *bytes.Buffer) error {
	return ac.AssociateParams.encode(b, types.ItemPresentationContextAC)
}

// AssociateRJ is an A-ASSOCIATE-RJ.
type AssociateRJ struct {
	Result byte
	Source byte
	Reason byte
}

func (*AssociateRJ) Type() byte { return types.TypeAssociateRJ }

func (rj *AssociateRJ) encode(b *bytes.Buffer) error {
	b.Write([]byte{0x00, rj.Result, rj.Source, rj.Reason})
	return nil
}

// Err converts the rejection to the error reported to callers.
func (rj *AssociateRJ) Err() *dcmerrors.AssociationError {
	return &dcmerrors.AssociationError{
		Result: dcmerrors.RejectResult(rj.Result),
		Source: dcmerrors.AssociationRejectSource(rj.Source),
		Reason: dcmerrors.AssociationRejectReason(rj.Reason),
		Msg:    "rejected by peer",
	}
}

// NewAssociateRJ builds a rejection from an association error.
func NewAssociateRJ(err *dcmerrors.AssociationError) *AssociateRJ {
	result := err.Result
	if result == 0 {
		result = dcmerrors.RejectResultPermanent
	}
	return &AssociateRJ{Result: byte(result), Source: byte(err.Source), Reason: byte(err.Reason)}
}

func (p *AssociateParams) encode(b *bytes.Buffer, contextItemType byte) error {
	version := p.ProtocolVersion
	if version == 0 {
		version = types.ProtocolVersion
	}
	fixed := make([]byte, fixedAssociateLength)
	binary.BigEndian.PutUint16(fixed[0:2], version)
	copy(fixed[4:20], encodeAETitle(p.CalledAE))
	copy(fixed[20:36], encodeAETitle(p.CallingAE))
	b.Write(fixed)

	appContext := p.ApplicationContext
	if appContext == "" {
		appContext = types.ApplicationContextUID
	}
	if err := writeItem(b, types.ItemApplicationContext, []byte(appContext)); err != nil {
		return err
	}

	for _, pc := range p.PresentationContexts {
		var sub bytes.Buffer
		sub.Write([]byte{pc.ID, 0x00, pc.Result, 0x00})
		if contextItemType == types.ItemPresentationContextRQ {
			if err := writeItem(&sub, types.ItemAbstractSyntax, []byte(pc.AbstractSyntax)); err != nil {
				return err
			}
		}
		for _, ts := range pc.TransferSyntaxes {
			if err := writeItem(&sub, types.ItemTransferSyntax, []byte(ts)); err != nil {
				return err
			}
		}
		if err := writeItem(b, contextItemType, sub.Bytes()); err != nil {
			return err
		}
	}

	user, err := p.UserInformation.encode()
	if err != nil {
		return err
	}
	return writeItem(b, types.ItemUserInformation, user)
}

func (u *UserInformation) encode() ([]byte, error) {
	var b bytes.Buffer
	maxLength := make([]byte, 4)
	binary.BigEndian.PutUint32(maxLength, u.MaxPDULength)
	if err := writeItem(&b, types.ItemMaximumLength, maxLength); err != nil {
		return nil, err
	}
	if u.ImplementationClassUID != "" {
		if err := writeItem(&b, types.ItemImplementationClassUID, []byte(u.ImplementationClassUID)); err != nil {
			return nil, err
		}
	}
	if u.MaxOperationsInvoked != 0 || u.MaxOperationsPerformed != 0 {
		ops := make([]byte, 4)
		binary.BigEndian.PutUint16(ops[0:2], u.MaxOperationsInvoked)
		binary.BigEndian.PutUint16(ops[2:4], u.MaxOperationsPerformed)
		if err := writeItem(&b, types.ItemAsyncOperations, ops); err != nil {
			return nil, err
		}
	}
	for _, role := range u.RoleSelections {
		var value bytes.Buffer
		_ = binary.Write(&value, binary.BigEndian, uint16(len(role.SOPClassUID)))
		value.WriteString(role.SOPClassUID)
		value.WriteByte(boolByte(role.SCURole))
		value.WriteByte(boolByte(role.SCPRole))
		if err := writeItem(&b, types.ItemRoleSelection, value.Bytes()); err != nil {
			return nil, err
		}
	}
	if u.ImplementationVersion != "" {
		if err := writeItem(&b, types.ItemImplementationVersion, []byte(u.ImplementationVersion)); err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func decodeAssociate(pduType byte, data []byte) (*AssociateParams, error) {
	if len(data) < fixedAssociateLength {
		return nil, dcmerrors.NewPDUError(pduType, "association body too short")
	}

	p := &AssociateParams{
		ProtocolVersion: binary.BigEndian.Uint16(data[0:2]),
		CalledAE:        decodeAETitle(data[4:20]),
		CallingAE:       decodeAETitle(data[20:36]),
	}

	err := forEachItem(data[fixedAssociateLength:], func(itemType byte, value []byte) error {
		switch itemType {
		case types.ItemApplicationContext:
			p.ApplicationContext = normalizeUID(value)
		case types.ItemPresentationContextRQ, types.ItemPresentationContextAC:
			pc, err := decodePresentationContext(value)
			if err != nil {
				return err
			}
			p.PresentationContexts = append(p.PresentationContexts, *pc)
		case types.ItemUserInformation:
			return p.UserInformation.decode(value)
		}
		return nil
	})
	if err != nil {
		return nil, dcmerrors.NewPDUError(pduType, err.Error())
	}
	return p, nil
}

func decodePresentationContext(data []byte) (*PresentationContextItem, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("presentation context too short: %d", len(data))
	}
	pc := &PresentationContextItem{ID: data[0], Result: data[2]}
	err := forEachItem(data[4:], func(itemType byte, value []byte) error {
		switch itemType {
		case types.ItemAbstractSyntax:
			pc.AbstractSyntax = normalizeUID(value)
		case types.ItemTransferSyntax:
			pc.TransferSyntaxes = append(pc.TransferSyntaxes, normalizeUID(value))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("presentation context %d: %w", pc.ID, err)
	}
	return pc, nil
}

func (u *UserInformation) decode(data []byte) error {
	return forEachItem(data, func(itemType byte, value []byte) error {
		switch itemType {
		case types.ItemMaximumLength:
			if len(value) == 4 {
				u.MaxPDULength = binary.BigEndian.Uint32(value)
			}
		case types.ItemImplementationClassUID:
			u.ImplementationClassUID = normalizeUID(value)
		case types.ItemImplementationVersion:
			u.ImplementationVersion = normalizeUID(value)
		case types.ItemAsyncOperations:
			if len(value) == 4 {
				u.MaxOperationsInvoked = binary.BigEndian.Uint16(value[0:2])
				u.MaxOperationsPerformed = binary.BigEndian.Uint16(value[2:4])
			}
		case types.ItemRoleSelection:
			if len(value) < 2 {
				return fmt.Errorf("role selection too short")
			}
			n := int(binary.BigEndian.Uint16(value[0:2]))
			if len(value) < 2+n+2 {
				return fmt.Errorf("role selection truncated")
			}
			u.RoleSelections = append(u.RoleSelections, RoleSelection{
				SOPClassUID: normalizeUID(value[2 : 2+n]),
				SCURole:     value[2+n] == 1,
				SCPRole:     value[3+n] == 1,
			})
		}
		return nil
	})
}

func userInformationFor(a *association.Association) UserInformation {
	return UserInformation{
		MaxPDULength:           a.MaxPDULength,
		ImplementationClassUID: a.ImplementationClassUID,
		ImplementationVersion:  a.ImplementationVersion,
	}
}

// NewAssociateRQ builds the request proposing every context of a.
func NewAssociateRQ(a *association.Association) *AssociateRQ {
	rq := &AssociateRQ{AssociateParams: AssociateParams{
		ProtocolVersion:    types.ProtocolVersion,
		CalledAE:           a.CalledAE,
		CallingAE:          a.CallingAE,
		ApplicationContext: a.ApplicationContext,
		UserInformation:    userInformationFor(a),
	}}
	for _, pc := range a.PresentationContexts() {
		item := PresentationContextItem{ID: pc.ID, AbstractSyntax: pc.AbstractSyntax}
		for _, ts := range pc.TransferSyntaxes() {
			item.TransferSyntaxes = append(item.TransferSyntaxes, ts.UID)
		}
		rq.PresentationContexts = append(rq.PresentationContexts, item)
	}
	return rq
}

// Association converts the request into the acceptor's view of the
// association. Every context is left in the proposed state. A context with
// an even id is an invalid PDU parameter.
func (rq *AssociateRQ) Association() (*association.Association, error) {
	a := association.New(rq.CallingAE, rq.CalledAE)
	a.ApplicationContext = rq.ApplicationContext
	a.RemoteMaxPDULength = rq.UserInformation.MaxPDULength
	a.RemoteImplementationClassUID = rq.UserInformation.ImplementationClassUID
	a.RemoteImplementationVersion = rq.UserInformation.ImplementationVersion
	for _, item := range rq.PresentationContexts {
		pc := association.NewPresentationContext(item.ID, item.AbstractSyntax)
		for _, uid := range item.TransferSyntaxes {
			pc.AddTransferSyntax(types.LookupTransferSyntax(uid))
		}
		if err := a.SetPresentationContext(pc); err != nil {
			return nil, fmt.Errorf("%w: %w", dcmerrors.ErrInvalidPDU, err)
		}
	}
	return a, nil
}

// NewAssociateAC builds the accept for a negotiated association. With
// omitRejected, rejected contexts are left out.
func NewAssociateAC(a *association.Association, omitRejected bool) *AssociateAC {
	ac := &AssociateAC{AssociateParams: AssociateParams{
		ProtocolVersion:    types.ProtocolVersion,
		CalledAE:           a.CalledAE,
		CallingAE:          a.CallingAE,
		ApplicationContext: a.ApplicationContext,
		UserInformation:    userInformationFor(a),
	}}
	for _, pc := range a.PresentationContexts() {
		if omitRejected && !pc.Accepted() {
			continue
		}
		result := pc.Result
		if result == association.ResultProposed {
			result = association.ResultRejectNoReason
		}
		item := PresentationContextItem{ID: pc.ID, Result: byte(result)}
		if ts := pc.AcceptedTransferSyntax(); ts != nil {
			item.TransferSyntaxes = []string{ts.UID}
		}
		ac.PresentationContexts = append(ac.PresentationContexts, item)
	}
	return ac
}

// Apply records the accept's outcome in the requester's association.
// Contexts the acceptor did not mention count as rejected.
func (ac *AssociateAC) Apply(a *association.Association) error {
	a.RemoteMaxPDULength = ac.UserInformation.MaxPDULength
	a.RemoteImplementationClassUID = ac.UserInformation.ImplementationClassUID
	a.RemoteImplementationVersion = ac.UserInformation.ImplementationVersion

	for _, item := range ac.PresentationContexts {
		pc, ok := a.PresentationContext(item.ID)
		if !ok {
			return dcmerrors.NewPDUError(types.TypeAssociateAC,
				fmt.Sprintf("presentation context %d was not proposed", item.ID))
		}
		result := association.Result(item.Result)
		if result != association.ResultAccept {
			pc.SetResult(result, nil)
			continue
		}
		if len(item.TransferSyntaxes) == 0 {
			return dcmerrors.NewPDUError(types.TypeAssociateAC,
				fmt.Sprintf("accepted presentation context %d has no transfer syntax", item.ID))
		}
		pc.SetResult(association.ResultAccept, types.LookupTransferSyntax(item.TransferSyntaxes[0]))
	}

	for _, pc := range a.PresentationContexts() {
		if pc.Result == association.ResultProposed {
			pc.SetResult(association.ResultRejectNoReason, nil)
		}
	}
	return nil
}
