package types

import "fmt"

// DIMSE command fields
const (
	CStoreRQ         uint16 = 0x0001
	CStoreRSP        uint16 = 0x8001
	CGetRQ           uint16 = 0x0010
	CGetRSP          uint16 = 0x8010
	CFindRQ          uint16 = 0x0020
	CFindRSP         uint16 = 0x8020
	CMoveRQ          uint16 = 0x0021
	CMoveRSP         uint16 = 0x8021
	CEchoRQ          uint16 = 0x0030
	CEchoRSP         uint16 = 0x8030
	NEventReportRQ   uint16 = 0x0100
	NEventReportRSP  uint16 = 0x8100
	NGetRQ           uint16 = 0x0110
	NGetRSP          uint16 = 0x8110
	NSetRQ           uint16 = 0x0120
	NSetRSP          uint16 = 0x8120
	NActionRQ        uint16 = 0x0130
	NActionRSP       uint16 = 0x8130
	NCreateRQ        uint16 = 0x0140
	NCreateRSP       uint16 = 0x8140
	NDeleteRQ        uint16 = 0x0150
	NDeleteRSP       uint16 = 0x8150
	CCancelRQ        uint16 = 0x0FFF
	responseBit      uint16 = 0x8000
	DataSetTypeNone  uint16 = 0x0101
	DataSetTypeExist uint16 = 0x0000
)

// Priorities
const (
	PriorityMedium uint16 = 0x0000
	PriorityHigh   uint16 = 0x0001
	PriorityLow    uint16 = 0x0002
)

// DIMSE status codes
const (
	StatusSuccess                  uint16 = 0x0000
	StatusCancel                   uint16 = 0xFE00
	StatusPending                  uint16 = 0xFF00
	StatusPendingWarning           uint16 = 0xFF01
	StatusWarning                  uint16 = 0xB000
	StatusCoercionOfDataElements   uint16 = 0xB000
	StatusElementsDiscarded        uint16 = 0xB006
	StatusDataSetMismatch          uint16 = 0xB007
	StatusOutOfResources           uint16 = 0xA700
	StatusSubOpsOutOfResources     uint16 = 0xA702
	StatusMoveDestinationUnknown   uint16 = 0xA801
	StatusIdentifierDoesNotMatch   uint16 = 0xA900
	StatusUnableToProcess          uint16 = 0xC000
	StatusFailure                  uint16 = 0xC000
	StatusSOPClassNotSupported     uint16 = 0x0122
	StatusNoSuchSOPInstance        uint16 = 0x0112
	StatusDuplicateSOPInstance     uint16 = 0x0111
	StatusInvalidArgumentValue     uint16 = 0x0115
	StatusProcessingFailure        uint16 = 0x0110
	StatusUnrecognizedOperation    uint16 = 0x0211
	StatusNotAuthorized            uint16 = 0x0124
	StatusDuplicateInvocation      uint16 = 0x0210
	StatusMistypedArgument         uint16 = 0x0212
	StatusResourceLimitation       uint16 = 0x0213
	StatusSOPClassUIDMismatch      uint16 = 0x0117
	StatusInvalidSOPInstance       uint16 = 0x0117
	StatusInvalidObjectInstance    uint16 = 0x0117
	StatusMissingAttribute         uint16 = 0x0120
	StatusNoSuchAttribute          uint16 = 0x0105
	StatusAttributeValueOutOfRange uint16 = 0x0116
	StatusAttributeListError       uint16 = 0x0107
	StatusClassInstanceConflict    uint16 = 0x0119
	StatusNoSuchActionType         uint16 = 0x0123
	StatusNoSuchEventType          uint16 = 0x0113
	StatusInvalidAttributeValue    uint16 = 0x0106
	StatusMissingAttributeValue    uint16 = 0x0121
	StatusNoSuchArgument           uint16 = 0x0114
)

// StatusState is the category a status code falls into.
type StatusState int

const (
	StatusStateSuccess StatusState = iota
	StatusStateCancel
	StatusStatePending
	StatusStateWarning
	StatusStateFailure
)

func (s StatusState) String() string {
	switch s {
	case StatusStateSuccess:
		return "Success"
	case StatusStateCancel:
		return "Cancel"
	case StatusStatePending:
		return "Pending"
	case StatusStateWarning:
		return "Warning"
	default:
		return "Failure"
	}
}

// StatusStateOf classifies a status code.
func StatusStateOf(status uint16) StatusState {
	switch {
	case status == StatusSuccess:
		return StatusStateSuccess
	case status == StatusCancel:
		return StatusStateCancel
	case status == StatusPending || status == StatusPendingWarning:
		return StatusStatePending
	case status == 0x0001 || status == 0x0107 || status == 0x0116 ||
		status&0xF000 == 0xB000:
		return StatusStateWarning
	default:
		return StatusStateFailure
	}
}

// IsResponse reports whether a command field denotes a response.
func IsResponse(commandField uint16) bool {
	return commandField&responseBit != 0 && commandField != CCancelRQ
}

// ResponseCommandFor maps a DIMSE request command to its corresponding response command.
func ResponseCommandFor(request uint16) uint16 {
	return request | responseBit
}

// CommandName returns the human readable name of a command field.
func CommandName(commandField uint16) string {
	switch commandField {
	case CStoreRQ:
		return "C-STORE-RQ"
	case CStoreRSP:
		return "C-STORE-RSP"
	case CGetRQ:
		return "C-GET-RQ"
	case CGetRSP:
		return "C-GET-RSP"
	case CFindRQ:
		return "C-FIND-RQ"
	case CFindRSP:
		return "C-FIND-RSP"
	case CMoveRQ:
		return "C-MOVE-RQ"
	case CMoveRSP:
		return "C-MOVE-RSP"
	case CEchoRQ:
		return "C-ECHO-RQ"
	case CEchoRSP:
		return "C-ECHO-RSP"
	case NEventReportRQ:
		return "N-EVENT-REPORT-RQ"
	case NEventReportRSP:
		return "N-EVENT-REPORT-RSP"
	case NGetRQ:
		return "N-GET-RQ"
	case NGetRSP:
		return "N-GET-RSP"
	case NSetRQ:
		return "N-SET-RQ"
	case NSetRSP:
		return "N-SET-RSP"
	case NActionRQ:
		return "N-ACTION-RQ"
	case NActionRSP:
		return "N-ACTION-RSP"
	case NCreateRQ:
		return "N-CREATE-RQ"
	case NCreateRSP:
		return "N-CREATE-RSP"
	case NDeleteRQ:
		return "N-DELETE-RQ"
	case NDeleteRSP:
		return "N-DELETE-RSP"
	case CCancelRQ:
		return "C-CANCEL-RQ"
	default:
		return fmt.Sprintf("UNKNOWN(0x%04x)", commandField)
	}
}
