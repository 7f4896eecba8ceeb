// Package pdu encodes and decodes the protocol data units of the DICOM upper
// layer and packs DIMSE messages into P-DATA-TF PDUs.
package pdu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/types"
)

// PDU is one protocol data unit.
type PDU interface {
	// Type returns the PDU type byte.
	Type() byte
	// encode appends the PDU body, without the 6-byte header.
	encode(b *bytes.Buffer) error
}

// Abort sources and reasons
const (
	AbortSourceServiceUser     byte = 0x00
	AbortSourceServiceProvider byte = 0x02

	AbortReasonNotSpecified             byte = 0x00
	AbortReasonUnrecognizedPDU          byte = 0x01
	AbortReasonUnexpectedPDU            byte = 0x02
	AbortReasonUnrecognizedPDUParameter byte = 0x04
	AbortReasonUnexpectedPDUParameter   byte = 0x05
	AbortReasonInvalidPDUParameter      byte = 0x06
)

// ReleaseRQ is an A-RELEASE-RQ.
type ReleaseRQ struct{}

func (*ReleaseRQ) Type() byte { return types.TypeReleaseRQ }

func (*ReleaseRQ) encode(b *bytes.Buffer) error {
	b.Write(make([]byte, 4))
	return nil
}

// ReleaseRP is an A-RELEASE-RP.
type ReleaseRP struct{}

func (*ReleaseRP) Type() byte { return types.TypeReleaseRP }

func (*ReleaseRP) encode(b *bytes.Buffer) error {
	b.Write(make([]byte, 4))
	return nil
}

// Abort is an A-ABORT.
type Abort struct {
	Source byte
	Reason byte
}

func (*Abort) Type() byte { return types.TypeAbort }

func (a *Abort) encode(b *bytes.Buffer) error {
	b.Write([]byte{0x00, 0x00, a.Source, a.Reason})
	return nil
}

// Err converts the abort to the error reported to callers.
func (a *Abort) Err() error {
	return dcmerrors.NewAbortError(a.Source, a.Reason)
}

// Encode serializes p including its header.
func Encode(p PDU) ([]byte, error) {
	var b bytes.Buffer
	b.Write(make([]byte, types.PDUHeaderLength))
	if err := p.encode(&b); err != nil {
		return nil, err
	}
	data := b.Bytes()
	data[0] = p.Type()
	binary.BigEndian.PutUint32(data[2:6], uint32(len(data)-types.PDUHeaderLength))
	return data, nil
}

// WritePDU encodes p and writes it with a single call to w.
func WritePDU(w io.Writer, p PDU) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", types.PDUTypeName(p.Type()), err)
	}
	return nil
}

// ReadPDU reads one PDU. Bodies longer than maxLength are refused; zero
// disables the check.
func ReadPDU(r io.Reader, maxLength uint32) (PDU, error) {
	header := make([]byte, types.PDUHeaderLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	pduType := header[0]
	length := binary.BigEndian.Uint32(header[2:6])
	if pduType < types.TypeAssociateRQ || pduType > types.TypeAbort {
		return nil, dcmerrors.NewPDUError(pduType, "unrecognized PDU type")
	}
	if maxLength != 0 && length > maxLength {
		return nil, dcmerrors.NewPDUError(pduType, fmt.Sprintf("length %d exceeds maximum %d", length, maxLength))
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read PDU data: %w", err)
	}
	return Decode(pduType, body)
}

// Decode parses a PDU body of the given type.
func Decode(pduType byte, body []byte) (PDU, error) {
	switch pduType {
	case types.TypeAssociateRQ:
		params, err := decodeAssociate(pduType, body)
		if err != nil {
			return nil, err
		}
		return &AssociateRQ{AssociateParams: *params}, nil
	case types.TypeAssociateAC:
		params, err := decodeAssociate(pduType, body)
		if err != nil {
			return nil, err
		}
		return &AssociateAC{AssociateParams: *params}, nil
	case types.TypeAssociateRJ:
		if len(body) < 4 {
			return nil, dcmerrors.NewPDUError(pduType, "body too short")
		}
		return &AssociateRJ{Result: body[1], Source: body[2], Reason: body[3]}, nil
	case types.TypePDataTF:
		return decodePDataTF(body)
	case types.TypeReleaseRQ:
		return &ReleaseRQ{}, nil
	case types.TypeReleaseRP:
		return &ReleaseRP{}, nil
	case types.TypeAbort:
		if len(body) < 4 {
			return nil, dcmerrors.NewPDUError(pduType, "body too short")
		}
		return &Abort{Source: body[2], Reason: body[3]}, nil
	default:
		return nil, dcmerrors.NewPDUError(pduType, "unrecognized PDU type")
	}
}

// forEachItem walks variable items laid out as type(1) reserved(1)
// length(2) value.
func forEachItem(data []byte, fn func(itemType byte, value []byte) error) error {
	offset := 0
	for offset < len(data) {
		if offset+4 > len(data) {
			return fmt.Errorf("truncated item header at offset %d", offset)
		}
		itemType := data[offset]
		itemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		valueStart := offset + 4
		valueEnd := valueStart + int(itemLength)
		if valueEnd > len(data) {
			return fmt.Errorf("item 0x%02x exceeds its parent length", itemType)
		}
		if err := fn(itemType, data[valueStart:valueEnd]); err != nil {
			return err
		}
		offset = valueEnd
	}
	return nil
}

func writeItem(b *bytes.Buffer, itemType byte, value []byte) error {
	if len(value) > 0xFFFF {
		return fmt.Errorf("item 0x%02x too long: %d bytes", itemType, len(value))
	}
	b.WriteByte(itemType)
	b.WriteByte(0x00)
	_ = binary.Write(b, binary.BigEndian, uint16(len(value)))
	b.Write(value)
	return nil
}

func normalizeUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}

func decodeAETitle(raw []byte) string {
	value := string(raw)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

func encodeAETitle(ae string) []byte {
	if len(ae) > 16 {
		ae = ae[:16]
	}
	return []byte(fmt.Sprintf("%-16s", ae))
}
