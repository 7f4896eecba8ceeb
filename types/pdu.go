package types

// PDU type constants
const (
	TypeAssociateRQ byte = 0x01
	TypeAssociateAC byte = 0x02
	TypeAssociateRJ byte = 0x03
	TypePDataTF     byte = 0x04
	TypeReleaseRQ   byte = 0x05
	TypeReleaseRP   byte = 0x06
	TypeAbort       byte = 0x07
)

// Variable item types carried by A-ASSOCIATE-RQ/AC
const (
	ItemApplicationContext     byte = 0x10
	ItemPresentationContextRQ  byte = 0x20
	ItemPresentationContextAC  byte = 0x21
	ItemAbstractSyntax         byte = 0x30
	ItemTransferSyntax         byte = 0x40
	ItemUserInformation        byte = 0x50
	ItemMaximumLength          byte = 0x51
	ItemImplementationClassUID byte = 0x52
	ItemAsyncOperations        byte = 0x53
	ItemRoleSelection          byte = 0x54
	ItemImplementationVersion  byte = 0x55
)

// PDV message control header bits
const (
	PDVFlagCommand byte = 0x01
	PDVFlagLast    byte = 0x02
)

// Protocol constants
const (
	ProtocolVersion = 0x0001

	// PDUHeaderLength is type(1) + reserved(1) + length(4).
	PDUHeaderLength = 6

	// PDVHeaderLength is length(4) + context id(1) + control header(1).
	PDVHeaderLength = 6

	DefaultMaxPDULength uint32 = 16384
	MaxPDULengthCap     uint32 = 4 * 1024 * 1024
	// MinPDULength leaves room for one PDV carrying two bytes.
	MinPDULength uint32 = PDUHeaderLength + PDVHeaderLength + 2
)

// PDUTypeName returns a readable name for a PDU type.
func PDUTypeName(t byte) string {
	switch t {
	case TypeAssociateRQ:
		return "A-ASSOCIATE-RQ"
	case TypeAssociateAC:
		return "A-ASSOCIATE-AC"
	case TypeAssociateRJ:
		return "A-ASSOCIATE-RJ"
	case TypePDataTF:
		return "P-DATA-TF"
	case TypeReleaseRQ:
		return "A-RELEASE-RQ"
	case TypeReleaseRP:
		return "A-RELEASE-RP"
	case TypeAbort:
		return "A-ABORT"
	default:
		return "UNKNOWN"
	}
}
