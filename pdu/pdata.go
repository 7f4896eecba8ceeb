package pdu

import (
	"bytes"
	"encoding/binary"
	"fmt"

	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/types"
)

// PDV is one presentation data value: a fragment of a command or dataset.
type PDV struct {
	ContextID byte
	Command   bool
	Last      bool
	Data      []byte
}

// WireLength is the number of bytes the PDV occupies in a P-DATA-TF body.
func (v *PDV) WireLength() int {
	return types.PDVHeaderLength + len(v.Data)
}

func (v *PDV) controlHeader() byte {
	var h byte
	if v.Command {
		h |= types.PDVFlagCommand
	}
	if v.Last {
		h |= types.PDVFlagLast
	}
	return h
}

func (v *PDV) String() string {
	kind := "dataset"
	if v.Command {
		kind = "command"
	}
	return fmt.Sprintf("PDV [pc: %d, %s, last: %t, length: %d]", v.ContextID, kind, v.Last, len(v.Data))
}

// PDataTF is a P-DATA-TF carrying one or more PDVs.
type PDataTF struct {
	Items []PDV
}

func (*PDataTF) Type() byte { return types.TypePDataTF }

func (p *PDataTF) encode(b *bytes.Buffer) error {
	for i := range p.Items {
		v := &p.Items[i]
		_ = binary.Write(b, binary.BigEndian, uint32(len(v.Data)+2))
		b.WriteByte(v.ContextID)
		b.WriteByte(v.controlHeader())
		b.Write(v.Data)
	}
	return nil
}

// Length is the body length of the encoded PDU.
func (p *PDataTF) Length() int {
	n := 0
	for i := range p.Items {
		n += p.Items[i].WireLength()
	}
	return n
}

func decodePDataTF(body []byte) (*PDataTF, error) {
	p := &PDataTF{}
	offset := 0
	for offset < len(body) {
		if offset+4 > len(body) {
			return nil, dcmerrors.NewPDUError(types.TypePDataTF, "truncated PDV length")
		}
		length := int(binary.BigEndian.Uint32(body[offset : offset+4]))
		if length < 2 || offset+4+length > len(body) {
			return nil, dcmerrors.NewPDUError(types.TypePDataTF, fmt.Sprintf("invalid PDV length %d", length))
		}
		value := body[offset+4 : offset+4+length]
		p.Items = append(p.Items, PDV{
			ContextID: value[0],
			Command:   value[1]&types.PDVFlagCommand != 0,
			Last:      value[1]&types.PDVFlagLast != 0,
			Data:      value[2:],
		})
		offset += 4 + length
	}
	if len(p.Items) == 0 {
		return nil, dcmerrors.NewPDUError(types.TypePDataTF, "no PDV items")
	}
	return p, nil
}
