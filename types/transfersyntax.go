package types

import "encoding/binary"

// Transfer syntax UIDs (PS3.5 section 10, PS3.6 Annex A)
const (
	ImplicitVRLittleEndian         = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian         = "1.2.840.10008.1.2.1"
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
	ExplicitVRBigEndian            = "1.2.840.10008.1.2.2" // retired

	JPEGBaseline8Bit   = "1.2.840.10008.1.2.4.50"
	JPEGExtended12Bit  = "1.2.840.10008.1.2.4.51"
	JPEGLossless       = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1    = "1.2.840.10008.1.2.4.70"
	JPEGLSLossless     = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless = "1.2.840.10008.1.2.4.81"
	JPEG2000Lossless   = "1.2.840.10008.1.2.4.90"
	JPEG2000           = "1.2.840.10008.1.2.4.91"
	RLELossless        = "1.2.840.10008.1.2.5"
	MPEG2MainProfile   = "1.2.840.10008.1.2.4.100"
	MPEG4AVCH264High   = "1.2.840.10008.1.2.4.102"
	HEVCH265Main       = "1.2.840.10008.1.2.4.107"
	HTJ2KLossless      = "1.2.840.10008.1.2.4.201"
	HTJ2K              = "1.2.840.10008.1.2.4.203"
)

// TransferSyntax describes how a dataset is laid out on the wire.
type TransferSyntax struct {
	UID          string
	Name         string
	ExplicitVR   bool
	BigEndian    bool
	Deflated     bool
	Encapsulated bool
	Lossless     bool
	Retired      bool
}

// ByteOrder returns the byte order values are encoded with.
func (ts *TransferSyntax) ByteOrder() binary.ByteOrder {
	if ts.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// String returns the transfer syntax name.
func (ts *TransferSyntax) String() string {
	return ts.Name
}

// Well known transfer syntaxes
var (
	ImplicitLittleEndian = &TransferSyntax{UID: ImplicitVRLittleEndian, Name: "Implicit VR Little Endian", Lossless: true}
	ExplicitLittleEndian = &TransferSyntax{UID: ExplicitVRLittleEndian, Name: "Explicit VR Little Endian", ExplicitVR: true, Lossless: true}
	ExplicitBigEndian    = &TransferSyntax{UID: ExplicitVRBigEndian, Name: "Explicit VR Big Endian", ExplicitVR: true, BigEndian: true, Lossless: true, Retired: true}
	DeflatedLittleEndian = &TransferSyntax{UID: DeflatedExplicitVRLittleEndian, Name: "Deflated Explicit VR Little Endian", ExplicitVR: true, Deflated: true, Lossless: true}
)

var transferSyntaxRegistry = map[string]*TransferSyntax{}

func registerEncapsulated(uid, name string, lossless bool) {
	transferSyntaxRegistry[uid] = &TransferSyntax{
		UID:          uid,
		Name:         name,
		ExplicitVR:   true,
		Encapsulated: true,
		Lossless:     lossless,
	}
}

func init() {
	for _, ts := range []*TransferSyntax{ImplicitLittleEndian, ExplicitLittleEndian, ExplicitBigEndian, DeflatedLittleEndian} {
		transferSyntaxRegistry[ts.UID] = ts
	}
	registerEncapsulated(JPEGBaseline8Bit, "JPEG Baseline (Process 1)", false)
	registerEncapsulated(JPEGExtended12Bit, "JPEG Extended (Process 2 & 4)", false)
	registerEncapsulated(JPEGLossless, "JPEG Lossless (Process 14)", true)
	registerEncapsulated(JPEGLosslessSV1, "JPEG Lossless, Non-Hierarchical, First-Order Prediction", true)
	registerEncapsulated(JPEGLSLossless, "JPEG-LS Lossless", true)
	registerEncapsulated(JPEGLSNearLossless, "JPEG-LS Near-Lossless", false)
	registerEncapsulated(JPEG2000Lossless, "JPEG 2000 Lossless Only", true)
	registerEncapsulated(JPEG2000, "JPEG 2000", false)
	registerEncapsulated(RLELossless, "RLE Lossless", true)
	registerEncapsulated(MPEG2MainProfile, "MPEG2 Main Profile @ Main Level", false)
	registerEncapsulated(MPEG4AVCH264High, "MPEG-4 AVC/H.264 High Profile", false)
	registerEncapsulated(HEVCH265Main, "HEVC/H.265 Main Profile", false)
	registerEncapsulated(HTJ2KLossless, "High-Throughput JPEG 2000 Lossless", true)
	registerEncapsulated(HTJ2K, "High-Throughput JPEG 2000", false)
}

// LookupTransferSyntax returns the registered transfer syntax for uid.
// Unknown UIDs are assumed to be explicit little endian encapsulated
// syntaxes, which is how every transfer syntax defined after the base set is encoded.
func LookupTransferSyntax(uid string) *TransferSyntax {
	if ts, ok := transferSyntaxRegistry[uid]; ok {
		return ts
	}
	return &TransferSyntax{UID: uid, Name: "Unknown", ExplicitVR: true, Encapsulated: true}
}

// IsKnownTransferSyntax reports whether uid is registered.
func IsKnownTransferSyntax(uid string) bool {
	_, ok := transferSyntaxRegistry[uid]
	return ok
}

// GetCommonTransferSyntaxes returns transfer syntaxes in recommended
// negotiation order: uncompressed first, then lossless, then lossy.
func GetCommonTransferSyntaxes() []string {
	return []string{
		ExplicitVRLittleEndian,
		ImplicitVRLittleEndian,
		JPEG2000Lossless,
		JPEGLosslessSV1,
		RLELossless,
		JPEG2000,
		JPEGBaseline8Bit,
	}
}

// GetUncompressedTransferSyntaxes returns the native (non-encapsulated) syntaxes.
func GetUncompressedTransferSyntaxes() []string {
	return []string{
		ExplicitVRLittleEndian,
		ImplicitVRLittleEndian,
		DeflatedExplicitVRLittleEndian,
		ExplicitVRBigEndian,
	}
}
