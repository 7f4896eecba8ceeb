// Package types contains the wire-level vocabulary shared by every layer:
// tags, value representations, transfer syntaxes, command fields and PDU types.
package types

import "fmt"

// Tag identifies a data element by group and element number. Private tags
// (odd group) may additionally carry the identifier of the private creator
// that reserved their block.
type Tag struct {
	Group   uint16
	Element uint16
	Creator string
}

// NewTag creates a public tag
func NewTag(group, element uint16) Tag {
	return Tag{Group: group, Element: element}
}

// NewPrivateTag creates a tag bound to a private creator
func NewPrivateTag(group, element uint16, creator string) Tag {
	return Tag{Group: group, Element: element, Creator: creator}
}

// String returns the tag as a string in (GGGG,EEEE) format, followed by the
// private creator when one is set.
func (t Tag) String() string {
	if t.Creator != "" {
		return fmt.Sprintf("(%04x,%04x:%s)", t.Group, t.Element, t.Creator)
	}
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

// IsPrivate reports whether the tag lives in an odd (private) group.
func (t Tag) IsPrivate() bool {
	return t.Group&1 == 1
}

// IsPrivateCreator reports whether the tag is a private creator element,
// (gggg,0010) through (gggg,00FF) in a private group.
func (t Tag) IsPrivateCreator() bool {
	return t.IsPrivate() && t.Element >= 0x0010 && t.Element <= 0x00FF
}

// IsGroupLength reports whether the tag is a group length element (gggg,0000).
func (t Tag) IsGroupLength() bool {
	return t.Element == 0x0000
}

// IsDelimiter reports whether the tag is one of the item or sequence delimiters.
func (t Tag) IsDelimiter() bool {
	return t.Group == 0xFFFE
}

// Card returns the private block key: group in the high half, the block
// number (high byte of the element) in the low half.
func (t Tag) Card() uint32 {
	return uint32(t.Group)<<16 | uint32(t.Element>>8)
}

// CreatorTag returns the private creator element reserving this tag's block.
func (t Tag) CreatorTag() Tag {
	return Tag{Group: t.Group, Element: t.Element >> 8}
}

// Uint32 packs group and element into a single ordering key.
func (t Tag) Uint32() uint32 {
	return uint32(t.Group)<<16 | uint32(t.Element)
}

// Compare orders tags numerically by group then element. Tags with the same
// number are ordered by creator so private tags of different blocks stay distinct.
func (t Tag) Compare(o Tag) int {
	switch {
	case t.Uint32() < o.Uint32():
		return -1
	case t.Uint32() > o.Uint32():
		return 1
	case t.Creator < o.Creator:
		return -1
	case t.Creator > o.Creator:
		return 1
	}
	return 0
}

// Equal reports whether both tags have the same number and creator.
func (t Tag) Equal(o Tag) bool {
	return t.Compare(o) == 0
}

// Delimiters
var (
	ItemTag                     = Tag{Group: 0xFFFE, Element: 0xE000}
	ItemDelimitationItemTag     = Tag{Group: 0xFFFE, Element: 0xE00D}
	SequenceDelimitationItemTag = Tag{Group: 0xFFFE, Element: 0xE0DD}
)

// Command group (0000)
var (
	CommandGroupLengthTag             = Tag{Group: 0x0000, Element: 0x0000}
	AffectedSOPClassUIDTag            = Tag{Group: 0x0000, Element: 0x0002}
	RequestedSOPClassUIDTag           = Tag{Group: 0x0000, Element: 0x0003}
	CommandFieldTag                   = Tag{Group: 0x0000, Element: 0x0100}
	MessageIDTag                      = Tag{Group: 0x0000, Element: 0x0110}
	MessageIDBeingRespondedToTag      = Tag{Group: 0x0000, Element: 0x0120}
	MoveDestinationTag                = Tag{Group: 0x0000, Element: 0x0600}
	PriorityTag                       = Tag{Group: 0x0000, Element: 0x0700}
	CommandDataSetTypeTag             = Tag{Group: 0x0000, Element: 0x0800}
	StatusTag                         = Tag{Group: 0x0000, Element: 0x0900}
	OffendingElementTag               = Tag{Group: 0x0000, Element: 0x0901}
	ErrorCommentTag                   = Tag{Group: 0x0000, Element: 0x0902}
	ErrorIDTag                        = Tag{Group: 0x0000, Element: 0x0903}
	AffectedSOPInstanceUIDTag         = Tag{Group: 0x0000, Element: 0x1000}
	RequestedSOPInstanceUIDTag        = Tag{Group: 0x0000, Element: 0x1001}
	EventTypeIDTag                    = Tag{Group: 0x0000, Element: 0x1002}
	AttributeIdentifierListTag        = Tag{Group: 0x0000, Element: 0x1005}
	ActionTypeIDTag                   = Tag{Group: 0x0000, Element: 0x1008}
	NumberOfRemainingSuboperationsTag = Tag{Group: 0x0000, Element: 0x1020}
	NumberOfCompletedSuboperationsTag = Tag{Group: 0x0000, Element: 0x1021}
	NumberOfFailedSuboperationsTag    = Tag{Group: 0x0000, Element: 0x1022}
	NumberOfWarningSuboperationsTag   = Tag{Group: 0x0000, Element: 0x1023}
	MoveOriginatorAETitleTag          = Tag{Group: 0x0000, Element: 0x1030}
	MoveOriginatorMessageIDTag        = Tag{Group: 0x0000, Element: 0x1031}
)

// File meta information group (0002)
var (
	FileMetaInformationGroupLengthTag = Tag{Group: 0x0002, Element: 0x0000}
	FileMetaInformationVersionTag     = Tag{Group: 0x0002, Element: 0x0001}
	MediaStorageSOPClassUIDTag        = Tag{Group: 0x0002, Element: 0x0002}
	MediaStorageSOPInstanceUIDTag     = Tag{Group: 0x0002, Element: 0x0003}
	TransferSyntaxUIDTag              = Tag{Group: 0x0002, Element: 0x0010}
	ImplementationClassUIDTag         = Tag{Group: 0x0002, Element: 0x0012}
	ImplementationVersionNameTag      = Tag{Group: 0x0002, Element: 0x0013}
	SourceApplicationEntityTitleTag   = Tag{Group: 0x0002, Element: 0x0016}
)

// Frequently used dataset tags
var (
	SpecificCharacterSetTag     = Tag{Group: 0x0008, Element: 0x0005}
	SOPClassUIDTag              = Tag{Group: 0x0008, Element: 0x0016}
	SOPInstanceUIDTag           = Tag{Group: 0x0008, Element: 0x0018}
	StudyDateTag                = Tag{Group: 0x0008, Element: 0x0020}
	QueryRetrieveLevelTag       = Tag{Group: 0x0008, Element: 0x0052}
	FailedSOPInstanceUIDListTag = Tag{Group: 0x0008, Element: 0x0058}
	ModalityTag                 = Tag{Group: 0x0008, Element: 0x0060}
	PatientNameTag              = Tag{Group: 0x0010, Element: 0x0010}
	PatientIDTag                = Tag{Group: 0x0010, Element: 0x0020}
	StudyInstanceUIDTag         = Tag{Group: 0x0020, Element: 0x000D}
	SeriesInstanceUIDTag        = Tag{Group: 0x0020, Element: 0x000E}
	RowsTag                     = Tag{Group: 0x0028, Element: 0x0010}
	ColumnsTag                  = Tag{Group: 0x0028, Element: 0x0011}
	PixelDataTag                = Tag{Group: 0x7FE0, Element: 0x0010}
)

// UndefinedLength marks a value or sequence terminated by a delimiter.
const UndefinedLength uint32 = 0xFFFFFFFF
