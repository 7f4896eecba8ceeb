package pdu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dcmstream/association"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/types"
)

func roundTrip(t *testing.T, p PDU) PDU {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WritePDU(&buf, p))
	got, err := ReadPDU(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, buf.Len(), "PDU not fully consumed")
	return got
}

func TestReadPDU_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pdu  PDU
	}{
		{"release request", &ReleaseRQ{}},
		{"release response", &ReleaseRP{}},
		{"abort", &Abort{Source: AbortSourceServiceProvider, Reason: AbortReasonUnexpectedPDU}},
		{"reject", &AssociateRJ{Result: 1, Source: 1, Reason: 7}},
		{"data", &PDataTF{Items: []PDV{
			{ContextID: 1, Command: true, Last: true, Data: []byte{1, 2, 3}},
			{ContextID: 1, Data: []byte{4, 5}},
			{ContextID: 3, Last: true, Data: []byte{}},
		}}},
		{"associate request", &AssociateRQ{AssociateParams: AssociateParams{
			ProtocolVersion:    types.ProtocolVersion,
			CalledAE:           "ARCHIVE",
			CallingAE:          "MODALITY",
			ApplicationContext: types.ApplicationContextUID,
			PresentationContexts: []PresentationContextItem{
				{ID: 1, AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
				{ID: 3, AbstractSyntax: types.CTImageStorage, TransferSyntaxes: []string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian}},
			},
			UserInformation: UserInformation{
				MaxPDULength:           32768,
				ImplementationClassUID: "1.2.3",
				ImplementationVersion:  "TEST_1",
				MaxOperationsInvoked:   1,
				MaxOperationsPerformed: 1,
				RoleSelections:         []RoleSelection{{SOPClassUID: types.CTImageStorage, SCPRole: true}},
			},
		}}},
		{"associate accept", &AssociateAC{AssociateParams: AssociateParams{
			ProtocolVersion:    types.ProtocolVersion,
			CalledAE:           "ARCHIVE",
			CallingAE:          "MODALITY",
			ApplicationContext: types.ApplicationContextUID,
			PresentationContexts: []PresentationContextItem{
				{ID: 1, Result: 0, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
				{ID: 3, Result: 4},
			},
			UserInformation: UserInformation{MaxPDULength: 16384, ImplementationClassUID: "1.2.3"},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, tt.pdu)
			assert.Equal(t, tt.pdu.Type(), got.Type())
			assert.Equal(t, tt.pdu, got)
		})
	}
}

func TestEncode_ReleaseLayout(t *testing.T) {
	data, err := Encode(&ReleaseRP{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x06, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00}, data)
}

func TestEncode_PDataLayout(t *testing.T) {
	data, err := Encode(&PDataTF{Items: []PDV{{ContextID: 5, Command: true, Last: true, Data: []byte{0xAA}}}})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x04, 0x00, 0x00, 0x00, 0x00, 0x07,
		0x00, 0x00, 0x00, 0x03, 0x05, 0x03, 0xAA,
	}, data)
}

func TestReadPDU_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		max  uint32
	}{
		{"unknown type", []byte{0x09, 0x00, 0x00, 0x00, 0x00, 0x00}, 0},
		{"too long", []byte{0x04, 0x00, 0x00, 0x01, 0x00, 0x00}, 1024},
		{"truncated PDV", []byte{0x04, 0x00, 0x00, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00}, 0},
		{"PDV longer than body", []byte{0x04, 0x00, 0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x09, 0x01, 0x00}, 0},
		{"short associate", append([]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x04}, make([]byte, 4)...), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadPDU(bytes.NewReader(tt.data), tt.max)
			require.Error(t, err)
			var pduErr *dcmerrors.PDUError
			assert.True(t, errors.As(err, &pduErr), "got %T", err)
			assert.ErrorIs(t, err, dcmerrors.ErrInvalidPDU)
		})
	}
}

func TestDecodeAETitle(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"ARCHIVE         ", "ARCHIVE"},
		{"  PADDED        ", "PADDED"},
		{"NUL\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00", "NUL"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, decodeAETitle([]byte(tt.raw)))
	}
	assert.Equal(t, []byte("A_VERY_LONG_AE_T"), encodeAETitle("A_VERY_LONG_AE_TITLE"))
}

func TestAssociateRQ_Association(t *testing.T) {
	a := association.New("MODALITY", "ARCHIVE")
	a.MaxPDULength = 65536
	echo, err := a.AddPresentationContext(types.VerificationSOPClass, types.ImplicitLittleEndian)
	require.NoError(t, err)
	ct, err := a.AddPresentationContext(types.CTImageStorage, types.ExplicitLittleEndian, types.ImplicitLittleEndian)
	require.NoError(t, err)

	got := roundTrip(t, NewAssociateRQ(a))
	rq, ok := got.(*AssociateRQ)
	require.True(t, ok)

	remote, err := rq.Association()
	require.NoError(t, err)
	assert.Equal(t, "MODALITY", remote.CallingAE)
	assert.Equal(t, "ARCHIVE", remote.CalledAE)
	assert.Equal(t, uint32(65536), remote.RemoteMaxPDULength)
	assert.Equal(t, a.ImplementationClassUID, remote.RemoteImplementationClassUID)

	pc, ok := remote.PresentationContext(ct)
	require.True(t, ok)
	assert.Equal(t, association.ResultProposed, pc.Result)
	assert.Equal(t, []*types.TransferSyntax{types.ExplicitLittleEndian, types.ImplicitLittleEndian}, pc.TransferSyntaxes())
	_, ok = remote.PresentationContext(echo)
	assert.True(t, ok)
}

func TestAssociateRQ_AssociationEvenContextID(t *testing.T) {
	tests := []struct {
		name    string
		ids     []byte
		wantErr bool
	}{
		{"odd ids", []byte{1, 3, 255}, false},
		{"even id", []byte{1, 2}, true},
		{"zero id", []byte{0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rq := &AssociateRQ{AssociateParams: AssociateParams{
				ProtocolVersion: types.ProtocolVersion,
				CalledAE:        "ARCHIVE",
				CallingAE:       "MODALITY",
			}}
			for _, id := range tt.ids {
				rq.PresentationContexts = append(rq.PresentationContexts, PresentationContextItem{
					ID:               id,
					AbstractSyntax:   types.VerificationSOPClass,
					TransferSyntaxes: []string{types.ImplicitVRLittleEndian},
				})
			}

			got, ok := roundTrip(t, rq).(*AssociateRQ)
			require.True(t, ok)
			a, err := got.Association()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, dcmerrors.ErrInvalidPDU)
				assert.Nil(t, a)
				return
			}
			require.NoError(t, err)
			assert.Len(t, a.PresentationContexts(), len(tt.ids))
		})
	}
}

func TestAssociateAC_Apply(t *testing.T) {
	local := association.New("MODALITY", "ARCHIVE")
	echo, err := local.AddPresentationContext(types.VerificationSOPClass, types.ExplicitLittleEndian, types.ImplicitLittleEndian)
	require.NoError(t, err)
	ct, err := local.AddPresentationContext(types.CTImageStorage, types.ExplicitBigEndian)
	require.NoError(t, err)
	mr, err := local.AddPresentationContext(types.MRImageStorage, types.ImplicitLittleEndian)
	require.NoError(t, err)

	remote, err := NewAssociateRQ(local).Association()
	require.NoError(t, err)
	policy := association.DefaultPolicy()
	policy.TransferSyntaxes = []*types.TransferSyntax{types.ImplicitLittleEndian}
	policy.Refused = map[string]bool{types.MRImageStorage: true}
	policy.Negotiate(remote, nil)

	tests := []struct {
		name         string
		omitRejected bool
		wantMR       association.Result
	}{
		{"all contexts", false, association.ResultRejectUser},
		{"rejected omitted", true, association.ResultRejectNoReason},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := association.New("MODALITY", "ARCHIVE")
			for _, pc := range local.PresentationContexts() {
				require.NoError(t, a.SetPresentationContext(association.NewPresentationContext(pc.ID, pc.AbstractSyntax, pc.TransferSyntaxes()...)))
			}

			ac, ok := roundTrip(t, NewAssociateAC(remote, tt.omitRejected)).(*AssociateAC)
			require.True(t, ok)
			require.NoError(t, ac.Apply(a))

			assert.Equal(t, types.ImplicitLittleEndian, a.AcceptedTransferSyntax(echo))
			pc, _ := a.PresentationContext(ct)
			if tt.omitRejected {
				assert.Equal(t, association.ResultRejectNoReason, pc.Result)
			} else {
				assert.Equal(t, association.ResultRejectTransferSyntax, pc.Result)
			}
			pc, _ = a.PresentationContext(mr)
			assert.Equal(t, tt.wantMR, pc.Result)
			assert.Equal(t, types.DefaultMaxPDULength, a.RemoteMaxPDULength)
		})
	}
}

func TestAssociateAC_ApplyUnknownContext(t *testing.T) {
	ac := &AssociateAC{AssociateParams: AssociateParams{
		PresentationContexts: []PresentationContextItem{{ID: 7, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}}},
	}}
	assert.Error(t, ac.Apply(association.New("A", "B")))
}

func TestAssociateRJ_Err(t *testing.T) {
	rj := NewAssociateRJ(dcmerrors.NewAssociationError(dcmerrors.RejectSourceServiceUser,
		dcmerrors.RejectReasonCalledAETitleNotRecognized, "unknown AE"))
	assert.Equal(t, &AssociateRJ{Result: 1, Source: 1, Reason: 7}, rj)

	err := rj.Err()
	assert.True(t, errors.Is(err, dcmerrors.ErrAssociationRejected))
	assert.Equal(t, dcmerrors.RejectReasonCalledAETitleNotRecognized, err.Reason)
}
