package dimse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/types"
)

func TestCommand_EncodeDecode(t *testing.T) {
	req := NewCStoreRequest(7, types.CTImageStorage, "1.2.3.4.5", types.PriorityHigh)
	req.SetMoveOriginator("MOVESCU", 42)
	req.SetHasDataset(true)

	data, err := req.Encode()
	require.NoError(t, err)
	assert.Equal(t, req.EncodedLength(), int64(len(data)))

	got, err := DecodeCommand(data)
	require.NoError(t, err)
	assert.Equal(t, types.CStoreRQ, got.CommandField())
	assert.Equal(t, uint16(7), got.MessageID())
	assert.Equal(t, types.CTImageStorage, got.AffectedSOPClassUID())
	assert.Equal(t, "1.2.3.4.5", got.AffectedSOPInstanceUID())
	assert.Equal(t, types.PriorityHigh, got.Priority())
	assert.Equal(t, "MOVESCU", got.MoveOriginatorAETitle())
	assert.Equal(t, uint16(42), got.MoveOriginatorMessageID())
	assert.True(t, got.HasDataset())
	assert.False(t, got.IsResponse())
}

func TestCommand_GroupLengthFirst(t *testing.T) {
	data, err := NewCEchoRequest(1).Encode()
	require.NoError(t, err)
	// (0000,0000) UL with a 4 byte value holding the length of the rest.
	require.GreaterOrEqual(t, len(data), 12)
	assert.Equal(t, []byte{0, 0, 0, 0, 4, 0, 0, 0}, data[:8])
	length := uint32(data[8]) | uint32(data[9])<<8 | uint32(data[10])<<16 | uint32(data[11])<<24
	assert.Equal(t, uint32(len(data)-12), length)
}

func TestDecodeCommand_MissingCommandField(t *testing.T) {
	ds := dicom.NewDatasetWithSyntax(types.ImplicitLittleEndian)
	ds.AddUint16(types.MessageIDTag, types.VR_US, 1)
	data, err := dicom.EncodeDataset(ds, types.ImplicitLittleEndian, CommandWriteOptions)
	require.NoError(t, err)

	_, err = DecodeCommand(data)
	assert.ErrorIs(t, err, dcmerrors.ErrInvalidMessage)
}

func TestNewResponse(t *testing.T) {
	tests := []struct {
		name      string
		req       *Command
		wantField uint16
		wantInst  string
	}{
		{"echo", NewCEchoRequest(3), types.CEchoRSP, ""},
		{"store", NewCStoreRequest(3, types.MRImageStorage, "1.2.3", types.PriorityMedium), types.CStoreRSP, "1.2.3"},
		{"find", NewCFindRequest(3, types.StudyRootQueryRetrieveInformationModelFind, types.PriorityLow), types.CFindRSP, ""},
		{"n-get", NewNRequest(types.NGetRQ, 3, "1.2.840.10008.3.1.2.3.3", "9.8.7"), types.NGetRSP, "9.8.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rsp := NewResponse(tt.req, types.StatusSuccess)
			assert.Equal(t, tt.wantField, rsp.CommandField())
			assert.Equal(t, uint16(3), rsp.MessageIDBeingRespondedTo())
			assert.Equal(t, tt.req.SOPClassUID(), rsp.AffectedSOPClassUID())
			assert.Equal(t, tt.wantInst, rsp.AffectedSOPInstanceUID())
			assert.True(t, rsp.IsResponse())
			assert.False(t, rsp.HasDataset())
		})
	}
}

func TestNRequest_UsesRequestedUIDs(t *testing.T) {
	c := NewNRequest(types.NSetRQ, 1, "1.2.3", "4.5.6")
	assert.Equal(t, "1.2.3", c.RequestedSOPClassUID())
	assert.Equal(t, "4.5.6", c.RequestedSOPInstanceUID())
	assert.Empty(t, c.AffectedSOPClassUID())
	assert.Equal(t, "1.2.3", c.SOPClassUID())

	c = NewNRequest(types.NCreateRQ, 1, "1.2.3", "4.5.6")
	assert.Equal(t, "1.2.3", c.AffectedSOPClassUID())
	assert.Equal(t, "4.5.6", c.AffectedSOPInstanceUID())
}

func TestCommand_SubOperations(t *testing.T) {
	req := NewCMoveRequest(5, types.StudyRootQueryRetrieveInformationModelMove, "STORESCP", types.PriorityMedium)
	assert.Equal(t, "STORESCP", req.MoveDestination())

	counts := SubOperations{Remaining: 4, Completed: 2, Failed: 1, Warning: 1}

	pending := NewResponse(req, types.StatusPending)
	pending.SetSubOperations(counts)
	assert.Equal(t, counts, pending.SubOperations())

	final := NewResponse(req, types.StatusSuccess)
	final.SetSubOperations(counts)
	assert.Equal(t, SubOperations{Completed: 2, Failed: 1, Warning: 1}, final.SubOperations())
	assert.False(t, final.Dataset().Contains(types.NumberOfRemainingSuboperationsTag))
}

func TestCommand_ErrorCommentTruncated(t *testing.T) {
	rsp := NewResponse(NewCEchoRequest(1), types.StatusProcessingFailure)
	rsp.SetErrorComment(strings.Repeat("x", 100))
	assert.Len(t, rsp.ErrorComment(), 64)
}

func TestCommand_String(t *testing.T) {
	assert.Contains(t, NewCEchoRequest(9).String(), "[id: 9]")
	rsp := NewResponse(NewCEchoRequest(9), types.StatusSuccess)
	assert.Contains(t, rsp.String(), "status: 0x0000")
}

func TestCCancelRequest(t *testing.T) {
	c := NewCCancelRequest(11)
	assert.Equal(t, types.CCancelRQ, c.CommandField())
	assert.Equal(t, uint16(11), c.MessageIDBeingRespondedTo())
	assert.False(t, c.HasDataset())
}
