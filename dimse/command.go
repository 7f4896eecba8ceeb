// Package dimse models DIMSE commands and moves complete messages between
// datasets and P-DATA-TF fragments.
package dimse

import (
	"fmt"
	"strings"

	"github.com/caio-sobreiro/dcmstream/dicom"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/types"
)

// CommandWriteOptions are used for every command; commands always carry
// their group length.
const CommandWriteOptions = dicom.DefaultWriteOptions | dicom.CalculateGroupLengths

// Command is a DIMSE command set: a dataset of group 0000 elements, always
// encoded in Implicit VR Little Endian.
type Command struct {
	ds *dicom.Dataset
}

// NewCommand creates a command without a dataset.
func NewCommand(commandField uint16) *Command {
	c := &Command{ds: dicom.NewDatasetWithSyntax(types.ImplicitLittleEndian)}
	c.SetCommandField(commandField)
	c.SetHasDataset(false)
	return c
}

// CommandFromDataset wraps a parsed command set.
func CommandFromDataset(ds *dicom.Dataset) (*Command, error) {
	if _, ok := ds.GetUint16(types.CommandFieldTag); !ok {
		return nil, fmt.Errorf("command set without command field: %w", dcmerrors.ErrInvalidMessage)
	}
	return &Command{ds: ds}, nil
}

// DecodeCommand parses an encoded command set.
func DecodeCommand(data []byte) (*Command, error) {
	ds, err := dicom.ParseDataset(data, types.ImplicitLittleEndian)
	if err != nil {
		return nil, fmt.Errorf("failed to decode command: %w", err)
	}
	return CommandFromDataset(ds)
}

// Encode serializes the command with its group length.
func (c *Command) Encode() ([]byte, error) {
	return dicom.EncodeDataset(c.ds, types.ImplicitLittleEndian, CommandWriteOptions)
}

// EncodedLength is the number of bytes Encode produces.
func (c *Command) EncodedLength() int64 {
	return dicom.CalculateWriteLength(c.ds, types.ImplicitLittleEndian, CommandWriteOptions)
}

// Dataset returns the underlying command set.
func (c *Command) Dataset() *dicom.Dataset { return c.ds }

func (c *Command) uint16(tag types.Tag) uint16 {
	v, _ := c.ds.GetUint16(tag)
	return v
}

func (c *Command) setUint16(tag types.Tag, v uint16) {
	c.ds.AddUint16(tag, types.VR_US, v)
}

func (c *Command) setString(tag types.Tag, vr types.VR, v string) {
	if v == "" {
		c.ds.Remove(tag)
		return
	}
	if vr == types.VR_UI {
		c.ds.AddUID(tag, v)
		return
	}
	// Command strings are ASCII; the default repertoire cannot fail.
	_ = c.ds.AddString(tag, vr, v)
}

func (c *Command) CommandField() uint16 { return c.uint16(types.CommandFieldTag) }

func (c *Command) SetCommandField(v uint16) { c.setUint16(types.CommandFieldTag, v) }

func (c *Command) MessageID() uint16 { return c.uint16(types.MessageIDTag) }

func (c *Command) SetMessageID(v uint16) { c.setUint16(types.MessageIDTag, v) }

func (c *Command) MessageIDBeingRespondedTo() uint16 {
	return c.uint16(types.MessageIDBeingRespondedToTag)
}

func (c *Command) SetMessageIDBeingRespondedTo(v uint16) {
	c.setUint16(types.MessageIDBeingRespondedToTag, v)
}

func (c *Command) Priority() uint16 { return c.uint16(types.PriorityTag) }

func (c *Command) SetPriority(v uint16) { c.setUint16(types.PriorityTag, v) }

// Status returns the response status; requests report StatusSuccess.
func (c *Command) Status() uint16 { return c.uint16(types.StatusTag) }

func (c *Command) SetStatus(v uint16) { c.setUint16(types.StatusTag, v) }

// HasDataset reports whether a dataset follows the command.
func (c *Command) HasDataset() bool {
	v, ok := c.ds.GetUint16(types.CommandDataSetTypeTag)
	return ok && v != types.DataSetTypeNone
}

func (c *Command) SetHasDataset(v bool) {
	if v {
		c.setUint16(types.CommandDataSetTypeTag, types.DataSetTypeExist)
		return
	}
	c.setUint16(types.CommandDataSetTypeTag, types.DataSetTypeNone)
}

func (c *Command) AffectedSOPClassUID() string { return c.ds.GetUID(types.AffectedSOPClassUIDTag) }

func (c *Command) SetAffectedSOPClassUID(v string) {
	c.setString(types.AffectedSOPClassUIDTag, types.VR_UI, v)
}

func (c *Command) AffectedSOPInstanceUID() string {
	return c.ds.GetUID(types.AffectedSOPInstanceUIDTag)
}

func (c *Command) SetAffectedSOPInstanceUID(v string) {
	c.setString(types.AffectedSOPInstanceUIDTag, types.VR_UI, v)
}

func (c *Command) RequestedSOPClassUID() string { return c.ds.GetUID(types.RequestedSOPClassUIDTag) }

func (c *Command) SetRequestedSOPClassUID(v string) {
	c.setString(types.RequestedSOPClassUIDTag, types.VR_UI, v)
}

func (c *Command) RequestedSOPInstanceUID() string {
	return c.ds.GetUID(types.RequestedSOPInstanceUIDTag)
}

func (c *Command) SetRequestedSOPInstanceUID(v string) {
	c.setString(types.RequestedSOPInstanceUIDTag, types.VR_UI, v)
}

// SOPClassUID returns the affected SOP class, or the requested one for
// commands that only carry that.
func (c *Command) SOPClassUID() string {
	if uid := c.AffectedSOPClassUID(); uid != "" {
		return uid
	}
	return c.RequestedSOPClassUID()
}

func (c *Command) MoveDestination() string { return c.ds.GetString(types.MoveDestinationTag) }

func (c *Command) SetMoveDestination(v string) {
	c.setString(types.MoveDestinationTag, types.VR_AE, v)
}

func (c *Command) MoveOriginatorAETitle() string {
	return c.ds.GetString(types.MoveOriginatorAETitleTag)
}

func (c *Command) SetMoveOriginatorAETitle(v string) {
	c.setString(types.MoveOriginatorAETitleTag, types.VR_AE, v)
}

func (c *Command) MoveOriginatorMessageID() uint16 {
	return c.uint16(types.MoveOriginatorMessageIDTag)
}

func (c *Command) SetMoveOriginatorMessageID(v uint16) {
	c.setUint16(types.MoveOriginatorMessageIDTag, v)
}

func (c *Command) EventTypeID() uint16 { return c.uint16(types.EventTypeIDTag) }

func (c *Command) SetEventTypeID(v uint16) { c.setUint16(types.EventTypeIDTag, v) }

func (c *Command) ActionTypeID() uint16 { return c.uint16(types.ActionTypeIDTag) }

func (c *Command) SetActionTypeID(v uint16) { c.setUint16(types.ActionTypeIDTag, v) }

func (c *Command) AttributeIdentifierList() []types.Tag {
	return c.ds.GetTags(types.AttributeIdentifierListTag)
}

func (c *Command) SetAttributeIdentifierList(tags ...types.Tag) {
	c.ds.AddTags(types.AttributeIdentifierListTag, tags...)
}

func (c *Command) ErrorComment() string { return c.ds.GetString(types.ErrorCommentTag) }

func (c *Command) SetErrorComment(v string) {
	if len(v) > 64 {
		v = v[:64]
	}
	c.setString(types.ErrorCommentTag, types.VR_LO, v)
}

// SubOperations are the C-GET and C-MOVE progress counters.
type SubOperations struct {
	Remaining uint16
	Completed uint16
	Failed    uint16
	Warning   uint16
}

// SubOperations returns the counters present in the command.
func (c *Command) SubOperations() SubOperations {
	return SubOperations{
		Remaining: c.uint16(types.NumberOfRemainingSuboperationsTag),
		Completed: c.uint16(types.NumberOfCompletedSuboperationsTag),
		Failed:    c.uint16(types.NumberOfFailedSuboperationsTag),
		Warning:   c.uint16(types.NumberOfWarningSuboperationsTag),
	}
}

// SetSubOperations writes the counters. The remaining count is left out of
// final responses, where it has no meaning.
func (c *Command) SetSubOperations(s SubOperations) {
	if types.StatusStateOf(c.Status()) == types.StatusStatePending {
		c.setUint16(types.NumberOfRemainingSuboperationsTag, s.Remaining)
	} else {
		c.ds.Remove(types.NumberOfRemainingSuboperationsTag)
	}
	c.setUint16(types.NumberOfCompletedSuboperationsTag, s.Completed)
	c.setUint16(types.NumberOfFailedSuboperationsTag, s.Failed)
	c.setUint16(types.NumberOfWarningSuboperationsTag, s.Warning)
}

// IsResponse reports whether the command is a response.
func (c *Command) IsResponse() bool {
	return types.IsResponse(c.CommandField())
}

func (c *Command) String() string {
	var b strings.Builder
	b.WriteString(types.CommandName(c.CommandField()))
	if c.IsResponse() {
		fmt.Fprintf(&b, " [id: %d, status: 0x%04X %s]", c.MessageIDBeingRespondedTo(), c.Status(),
			types.StatusStateOf(c.Status()))
	} else {
		fmt.Fprintf(&b, " [id: %d]", c.MessageID())
	}
	if uid := c.SOPClassUID(); uid != "" {
		fmt.Fprintf(&b, " %s", types.GetSOPClassInfo(uid).Name)
	}
	return b.String()
}

// NewRequest creates a request for sopClassUID.
func NewRequest(commandField, messageID uint16, sopClassUID string) *Command {
	c := NewCommand(commandField)
	c.SetMessageID(messageID)
	switch commandField {
	case types.NGetRQ, types.NSetRQ, types.NActionRQ, types.NDeleteRQ:
		c.SetRequestedSOPClassUID(sopClassUID)
	default:
		c.SetAffectedSOPClassUID(sopClassUID)
	}
	return c
}

// NewResponse creates the response to req with status.
func NewResponse(req *Command, status uint16) *Command {
	c := NewCommand(types.ResponseCommandFor(req.CommandField()))
	c.SetMessageIDBeingRespondedTo(req.MessageID())
	c.SetAffectedSOPClassUID(req.SOPClassUID())
	if uid := req.AffectedSOPInstanceUID(); uid != "" {
		c.SetAffectedSOPInstanceUID(uid)
	} else if uid := req.RequestedSOPInstanceUID(); uid != "" {
		c.SetAffectedSOPInstanceUID(uid)
	}
	c.SetStatus(status)
	return c
}

func NewCEchoRequest(messageID uint16) *Command {
	return NewRequest(types.CEchoRQ, messageID, types.VerificationSOPClass)
}

func NewCStoreRequest(messageID uint16, sopClassUID, sopInstanceUID string, priority uint16) *Command {
	c := NewRequest(types.CStoreRQ, messageID, sopClassUID)
	c.SetAffectedSOPInstanceUID(sopInstanceUID)
	c.SetPriority(priority)
	return c
}

// SetMoveOriginator marks a C-STORE as a sub-operation of a C-MOVE.
func (c *Command) SetMoveOriginator(ae string, messageID uint16) {
	c.SetMoveOriginatorAETitle(ae)
	c.SetMoveOriginatorMessageID(messageID)
}

func NewCFindRequest(messageID uint16, sopClassUID string, priority uint16) *Command {
	c := NewRequest(types.CFindRQ, messageID, sopClassUID)
	c.SetPriority(priority)
	return c
}

func NewCMoveRequest(messageID uint16, sopClassUID, destination string, priority uint16) *Command {
	c := NewRequest(types.CMoveRQ, messageID, sopClassUID)
	c.SetMoveDestination(destination)
	c.SetPriority(priority)
	return c
}

func NewCGetRequest(messageID uint16, sopClassUID string, priority uint16) *Command {
	c := NewRequest(types.CGetRQ, messageID, sopClassUID)
	c.SetPriority(priority)
	return c
}

// NewCCancelRequest cancels the operation started by messageID.
func NewCCancelRequest(messageID uint16) *Command {
	c := NewCommand(types.CCancelRQ)
	c.SetMessageIDBeingRespondedTo(messageID)
	return c
}

// NewNRequest creates one of the normalized N-* requests.
func NewNRequest(commandField, messageID uint16, sopClassUID, sopInstanceUID string) *Command {
	c := NewRequest(commandField, messageID, sopClassUID)
	switch commandField {
	case types.NGetRQ, types.NSetRQ, types.NActionRQ, types.NDeleteRQ:
		c.SetRequestedSOPInstanceUID(sopInstanceUID)
	default:
		c.SetAffectedSOPInstanceUID(sopInstanceUID)
	}
	return c
}
