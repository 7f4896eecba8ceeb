package types

// VR (Value Representation) of a data element
type VR string

// VR constants for DICOM data elements
const (
	VR_AE VR = "AE" // Application Entity
	VR_AS VR = "AS" // Age String
	VR_AT VR = "AT" // Attribute Tag
	VR_CS VR = "CS" // Code String
	VR_DA VR = "DA" // Date
	VR_DS VR = "DS" // Decimal String
	VR_DT VR = "DT" // Date Time
	VR_FL VR = "FL" // Floating Point Single
	VR_FD VR = "FD" // Floating Point Double
	VR_IS VR = "IS" // Integer String
	VR_LO VR = "LO" // Long String
	VR_LT VR = "LT" // Long Text
	VR_OB VR = "OB" // Other Byte
	VR_OD VR = "OD" // Other Double
	VR_OF VR = "OF" // Other Float
	VR_OL VR = "OL" // Other Long
	VR_OV VR = "OV" // Other Very Long
	VR_OW VR = "OW" // Other Word
	VR_PN VR = "PN" // Person Name
	VR_SH VR = "SH" // Short String
	VR_SL VR = "SL" // Signed Long
	VR_SQ VR = "SQ" // Sequence of Items
	VR_SS VR = "SS" // Signed Short
	VR_ST VR = "ST" // Short Text
	VR_SV VR = "SV" // Signed Very Long
	VR_TM VR = "TM" // Time
	VR_UC VR = "UC" // Unlimited Characters
	VR_UI VR = "UI" // Unique Identifier
	VR_UL VR = "UL" // Unsigned Long
	VR_UN VR = "UN" // Unknown
	VR_UR VR = "UR" // Universal Resource
	VR_US VR = "US" // Unsigned Short
	VR_UT VR = "UT" // Unlimited Text
	VR_UV VR = "UV" // Unsigned Very Long

	// VR_NONE is carried by item and delimiter tags, which have no VR on the wire.
	VR_NONE VR = "NONE"
)

// VRKind groups value representations by how their values are interpreted.
type VRKind int

const (
	KindText VRKind = iota
	KindNumeric
	KindBinary
	KindSequence
	KindUnknown
	KindNone
)

type vrInfo struct {
	kind      VRKind
	longForm  bool // 2 reserved bytes plus 32-bit length in explicit syntaxes
	unitSize  int  // byte width used for byte swapping
	padByte   byte
	charset   bool // decoded with the active specific character set
	maxLength uint32
}

var vrTable = map[VR]vrInfo{
	VR_AE: {kind: KindText, padByte: ' ', unitSize: 1, maxLength: 16},
	VR_AS: {kind: KindText, padByte: ' ', unitSize: 1, maxLength: 4},
	VR_AT: {kind: KindNumeric, unitSize: 2, maxLength: 4},
	VR_CS: {kind: KindText, padByte: ' ', unitSize: 1, maxLength: 16},
	VR_DA: {kind: KindText, padByte: ' ', unitSize: 1, maxLength: 8},
	VR_DS: {kind: KindText, padByte: ' ', unitSize: 1, maxLength: 16},
	VR_DT: {kind: KindText, padByte: ' ', unitSize: 1, maxLength: 26},
	VR_FL: {kind: KindNumeric, unitSize: 4, maxLength: 4},
	VR_FD: {kind: KindNumeric, unitSize: 8, maxLength: 8},
	VR_IS: {kind: KindText, padByte: ' ', unitSize: 1, maxLength: 12},
	VR_LO: {kind: KindText, padByte: ' ', unitSize: 1, charset: true, maxLength: 64},
	VR_LT: {kind: KindText, padByte: ' ', unitSize: 1, charset: true, maxLength: 10240},
	VR_OB: {kind: KindBinary, longForm: true, unitSize: 1},
	VR_OD: {kind: KindBinary, longForm: true, unitSize: 8},
	VR_OF: {kind: KindBinary, longForm: true, unitSize: 4},
	VR_OL: {kind: KindBinary, longForm: true, unitSize: 4},
	VR_OV: {kind: KindBinary, longForm: true, unitSize: 8},
	VR_OW: {kind: KindBinary, longForm: true, unitSize: 2},
	VR_PN: {kind: KindText, padByte: ' ', unitSize: 1, charset: true, maxLength: 64 * 5},
	VR_SH: {kind: KindText, padByte: ' ', unitSize: 1, charset: true, maxLength: 16},
	VR_SL: {kind: KindNumeric, unitSize: 4, maxLength: 4},
	VR_SQ: {kind: KindSequence, longForm: true},
	VR_SS: {kind: KindNumeric, unitSize: 2, maxLength: 2},
	VR_ST: {kind: KindText, padByte: ' ', unitSize: 1, charset: true, maxLength: 1024},
	VR_SV: {kind: KindNumeric, longForm: true, unitSize: 8, maxLength: 8},
	VR_TM: {kind: KindText, padByte: ' ', unitSize: 1, maxLength: 14},
	VR_UC: {kind: KindText, longForm: true, padByte: ' ', unitSize: 1, charset: true},
	VR_UI: {kind: KindText, padByte: 0x00, unitSize: 1, maxLength: 64},
	VR_UL: {kind: KindNumeric, unitSize: 4, maxLength: 4},
	VR_UN: {kind: KindUnknown, longForm: true, unitSize: 1},
	VR_UR: {kind: KindText, longForm: true, padByte: ' ', unitSize: 1},
	VR_US: {kind: KindNumeric, unitSize: 2, maxLength: 2},
	VR_UT: {kind: KindText, longForm: true, padByte: ' ', unitSize: 1, charset: true},
	VR_UV: {kind: KindNumeric, longForm: true, unitSize: 8, maxLength: 8},

	VR_NONE: {kind: KindNone, unitSize: 1},
}

// ParseVR converts a two-character wire code to a VR. ok is false for codes
// that are not part of the standard.
func ParseVR(code string) (VR, bool) {
	vr := VR(code)
	if vr == VR_NONE {
		return vr, false
	}
	_, ok := vrTable[vr]
	return vr, ok
}

func (vr VR) info() vrInfo {
	if i, ok := vrTable[vr]; ok {
		return i
	}
	return vrTable[VR_UN]
}

// String returns the two-character code.
func (vr VR) String() string {
	return string(vr)
}

// Kind returns the value interpretation class.
func (vr VR) Kind() VRKind {
	return vr.info().kind
}

// Is16BitLength reports whether explicit syntaxes encode this VR's length in 16 bits.
func (vr VR) Is16BitLength() bool {
	if vr == VR_NONE {
		return false
	}
	return !vr.info().longForm
}

// UnitSize is the width of a single value, used when swapping byte order.
func (vr VR) UnitSize() int {
	return vr.info().unitSize
}

// PadByte is appended to odd-length values.
func (vr VR) PadByte() byte {
	return vr.info().padByte
}

// IsText reports whether values are character strings.
func (vr VR) IsText() bool {
	return vr.Kind() == KindText
}

// UsesCharacterSet reports whether values are decoded with the dataset's
// specific character set rather than the default repertoire.
func (vr VR) UsesCharacterSet() bool {
	return vr.info().charset
}

// MaxLength is the largest value length allowed for one value, 0 when unbounded.
func (vr VR) MaxLength() uint32 {
	return vr.info().maxLength
}
