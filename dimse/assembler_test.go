package dimse

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dcmstream/association"
	"github.com/caio-sobreiro/dcmstream/dicom"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/pdu"
	"github.com/caio-sobreiro/dcmstream/types"
)

func sampleDataset(ts *types.TransferSyntax, pixels int) *dicom.Dataset {
	ds := dicom.NewDatasetWithSyntax(ts)
	ds.AddUID(types.SOPClassUIDTag, types.CTImageStorage)
	ds.AddUID(types.SOPInstanceUIDTag, "1.2.826.0.1.3680043.2.1125.1")
	_ = ds.AddString(types.PatientNameTag, types.VR_PN, "DOE^JOHN")
	_ = ds.AddString(types.PatientIDTag, types.VR_LO, "PID-0001")
	ds.AddUint16(types.RowsTag, types.VR_US, 16)
	if pixels > 0 {
		data := make([]byte, pixels)
		for i := range data {
			data[i] = byte(i)
		}
		ds.AddBytes(types.PixelDataTag, types.VR_OB, data)
	}
	return ds
}

// acceptedAssociation has a C-STORE context with id 1 accepted for ts.
func acceptedAssociation(t *testing.T, ts *types.TransferSyntax) *association.Association {
	t.Helper()
	a := association.New("SCU", "SCP")
	id, err := a.AddPresentationContext(types.CTImageStorage, ts)
	require.NoError(t, err)
	pc, _ := a.PresentationContext(id)
	pc.SetResult(association.ResultAccept, ts)
	return a
}

// readPDataTFs decodes every PDU in buf.
func readPDataTFs(t *testing.T, buf *bytes.Buffer) []*pdu.PDataTF {
	t.Helper()
	var out []*pdu.PDataTF
	for buf.Len() > 0 {
		p, err := pdu.ReadPDU(buf, 0)
		require.NoError(t, err)
		data, ok := p.(*pdu.PDataTF)
		require.True(t, ok)
		out = append(out, data)
	}
	return out
}

func assemble(t *testing.T, asm *Assembler, pdus []*pdu.PDataTF) []*Message {
	t.Helper()
	var msgs []*Message
	for _, p := range pdus {
		done, err := asm.Add(p)
		require.NoError(t, err)
		msgs = append(msgs, done...)
	}
	return msgs
}

func TestAssembler_RoundTrip(t *testing.T) {
	tests := []struct {
		name        string
		ts          *types.TransferSyntax
		streamParse bool
		maxPDU      uint32
	}{
		{"buffered explicit", types.ExplicitLittleEndian, false, 256},
		{"streamed explicit", types.ExplicitLittleEndian, true, 256},
		{"streamed big endian", types.ExplicitBigEndian, true, 128},
		{"streamed implicit single PDU", types.ImplicitLittleEndian, true, 0},
		{"deflated", types.DeflatedLittleEndian, true, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := acceptedAssociation(t, tt.ts)
			ds := sampleDataset(types.ExplicitLittleEndian, 2000)
			cmd := NewCStoreRequest(1, types.CTImageStorage, "1.2.826.0.1.3680043.2.1125.1", types.PriorityMedium)

			var buf bytes.Buffer
			require.NoError(t, Send(&buf, cmd, ds, SendOptions{ContextID: 1, TransferSyntax: tt.ts, MaxPDULength: tt.maxPDU}))
			assert.Equal(t, types.ExplicitLittleEndian, ds.TransferSyntax(), "caller dataset changed")

			asm := NewAssembler(a, AssemblerOptions{StreamParse: tt.streamParse})
			msgs := assemble(t, asm, readPDataTFs(t, &buf))
			require.Len(t, msgs, 1)
			assert.Zero(t, asm.Pending())

			msg := msgs[0]
			assert.Equal(t, byte(1), msg.ContextID)
			assert.Equal(t, types.CStoreRQ, msg.Command.CommandField())
			assert.True(t, msg.Command.HasDataset())
			require.NotNil(t, msg.Dataset)
			assert.Equal(t, "DOE^JOHN", msg.Dataset.GetString(types.PatientNameTag))
			assert.Equal(t, "PID-0001", msg.Dataset.GetString(types.PatientIDTag))
			el, ok := msg.Dataset.GetElement(types.PixelDataTag)
			require.True(t, ok)
			pixels, err := el.Buffer().Bytes()
			require.NoError(t, err)
			assert.Len(t, pixels, 2000)
			assert.Equal(t, byte(255), pixels[255])
			assert.Positive(t, msg.Progress.BytesTransferred)
		})
	}
}

func TestAssembler_CommandOnly(t *testing.T) {
	a := acceptedAssociation(t, types.ImplicitLittleEndian)
	var buf bytes.Buffer
	require.NoError(t, Send(&buf, NewCEchoRequest(4), nil, SendOptions{ContextID: 1, MaxPDULength: 64}))

	asm := NewAssembler(a, AssemblerOptions{})
	msgs := assemble(t, asm, readPDataTFs(t, &buf))
	require.Len(t, msgs, 1)
	assert.Equal(t, types.CEchoRQ, msgs[0].Command.CommandField())
	assert.Equal(t, uint16(4), msgs[0].Command.MessageID())
	assert.Nil(t, msgs[0].Dataset)
}

func TestAssembler_InterleavedContexts(t *testing.T) {
	a := association.New("SCU", "SCP")
	for _, abstract := range []string{types.VerificationSOPClass, types.CTImageStorage} {
		id, err := a.AddPresentationContext(abstract, types.ExplicitLittleEndian)
		require.NoError(t, err)
		pc, _ := a.PresentationContext(id)
		pc.SetResult(association.ResultAccept, nil)
	}

	var echo, store bytes.Buffer
	require.NoError(t, Send(&echo, NewCEchoRequest(1), nil, SendOptions{ContextID: 1, TransferSyntax: types.ExplicitLittleEndian, MaxPDULength: 64}))
	require.NoError(t, Send(&store, NewCStoreRequest(2, types.CTImageStorage, "1.2.3", types.PriorityMedium),
		sampleDataset(types.ExplicitLittleEndian, 100), SendOptions{ContextID: 3, TransferSyntax: types.ExplicitLittleEndian, MaxPDULength: 64}))

	var storeItems, echoItems []pdu.PDV
	for _, p := range readPDataTFs(t, &store) {
		storeItems = append(storeItems, p.Items...)
	}
	for _, p := range readPDataTFs(t, &echo) {
		echoItems = append(echoItems, p.Items...)
	}
	require.Greater(t, len(storeItems), len(echoItems))

	// Both messages arrive inside one P-DATA-TF with their PDVs interleaved.
	interleaved := &pdu.PDataTF{}
	for i, v := range storeItems {
		interleaved.Items = append(interleaved.Items, v)
		if i < len(echoItems) {
			interleaved.Items = append(interleaved.Items, echoItems[i])
		}
	}

	asm := NewAssembler(a, AssemblerOptions{StreamParse: true})
	var begun []byte
	asm.OnBegin = func(m *Message) { begun = append(begun, m.ContextID) }
	msgs, err := asm.Add(interleaved)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.CEchoRQ, msgs[0].Command.CommandField())
	assert.Equal(t, types.CStoreRQ, msgs[1].Command.CommandField())
	assert.Equal(t, "DOE^JOHN", msgs[1].Dataset.GetString(types.PatientNameTag))
	assert.ElementsMatch(t, []byte{1, 3}, begun)
}

func TestAssembler_Hooks(t *testing.T) {
	a := acceptedAssociation(t, types.ExplicitLittleEndian)
	var buf bytes.Buffer
	require.NoError(t, Send(&buf, NewCStoreRequest(1, types.CTImageStorage, "1.2.3", types.PriorityMedium),
		sampleDataset(types.ExplicitLittleEndian, 1000), SendOptions{ContextID: 1, TransferSyntax: types.ExplicitLittleEndian, MaxPDULength: 128}))
	pdus := readPDataTFs(t, &buf)
	require.Greater(t, len(pdus), 2)

	asm := NewAssembler(a, AssemblerOptions{StreamParse: true})
	var begins, progress int
	var last int64
	asm.OnBegin = func(*Message) { begins++ }
	asm.OnProgress = func(m *Message) {
		progress++
		assert.GreaterOrEqual(t, m.Progress.BytesTransferred, last)
		last = m.Progress.BytesTransferred
	}
	msgs := assemble(t, asm, pdus)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, begins)
	assert.Equal(t, len(pdus)-1, progress)
}

func TestAssembler_Spill(t *testing.T) {
	dir := t.TempDir()
	a := acceptedAssociation(t, types.ExplicitLittleEndian)
	ds := sampleDataset(types.ExplicitLittleEndian, 3000)

	var buf bytes.Buffer
	cmd := NewCStoreRequest(1, types.CTImageStorage, "1.2.826.0.1.3680043.2.1125.1", types.PriorityMedium)
	require.NoError(t, Send(&buf, cmd, ds, SendOptions{ContextID: 1, TransferSyntax: types.ExplicitLittleEndian, MaxPDULength: 512}))

	path := filepath.Join(dir, "incoming.dcm")
	asm := NewAssembler(a, AssemblerOptions{
		SourceAE: "SCP",
		Spill: func(contextID byte, cmd *Command) string {
			assert.Equal(t, byte(1), contextID)
			return path
		},
	})
	msgs := assemble(t, asm, readPDataTFs(t, &buf))
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].Dataset)
	assert.Equal(t, path, msgs[0].DatasetFile)

	file, err := dicom.ReadFile(path, dicom.DefaultReadOptionsWithoutDeferredLoading)
	require.NoError(t, err)
	assert.Equal(t, types.CTImageStorage, file.Meta.GetUID(types.MediaStorageSOPClassUIDTag))
	assert.Equal(t, "1.2.826.0.1.3680043.2.1125.1", file.Meta.GetUID(types.MediaStorageSOPInstanceUIDTag))
	assert.Equal(t, types.ExplicitVRLittleEndian, file.Meta.GetUID(types.TransferSyntaxUIDTag))
	assert.Equal(t, "SCP", file.Meta.GetString(types.SourceApplicationEntityTitleTag))
	assert.True(t, ds.Equal(file.Dataset))
}

func TestAssembler_ResetRemovesSpillFile(t *testing.T) {
	dir := t.TempDir()
	a := acceptedAssociation(t, types.ExplicitLittleEndian)

	var buf bytes.Buffer
	require.NoError(t, Send(&buf, NewCStoreRequest(1, types.CTImageStorage, "1.2.3", types.PriorityMedium),
		sampleDataset(types.ExplicitLittleEndian, 3000), SendOptions{ContextID: 1, TransferSyntax: types.ExplicitLittleEndian, MaxPDULength: 512}))
	pdus := readPDataTFs(t, &buf)

	path := filepath.Join(dir, "partial.dcm")
	asm := NewAssembler(a, AssemblerOptions{Spill: func(byte, *Command) string { return path }})
	msgs := assemble(t, asm, pdus[:len(pdus)-1])
	assert.Empty(t, msgs)
	assert.Equal(t, 1, asm.Pending())
	assert.FileExists(t, path)

	require.NoError(t, asm.Reset())
	assert.Zero(t, asm.Pending())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAssembler_Errors(t *testing.T) {
	a := acceptedAssociation(t, types.ExplicitLittleEndian)
	rejected, err := a.AddPresentationContext(types.MRImageStorage, types.ExplicitLittleEndian)
	require.NoError(t, err)
	pc, _ := a.PresentationContext(rejected)
	pc.SetResult(association.ResultRejectAbstractSyntax, nil)

	echo, err := NewCEchoRequest(1).Encode()
	require.NoError(t, err)

	tests := []struct {
		name    string
		items   []pdu.PDV
		wantErr error
	}{
		{"unknown context", []pdu.PDV{{ContextID: 9, Command: true, Last: true, Data: echo}}, dcmerrors.ErrNoPresentationCtx},
		{"rejected context", []pdu.PDV{{ContextID: rejected, Command: true, Last: true, Data: echo}}, dcmerrors.ErrNoPresentationCtx},
		{"dataset before command", []pdu.PDV{{ContextID: 1, Last: true, Data: []byte{1, 2}}}, dcmerrors.ErrInvalidMessage},
		{"truncated command", []pdu.PDV{{ContextID: 1, Command: true, Last: true, Data: echo[:len(echo)-3]}}, dcmerrors.ErrInvalidMessage},
		{"command after command", []pdu.PDV{
			{ContextID: 1, Command: true, Last: true, Data: withDataset(t)},
			{ContextID: 1, Command: true, Last: true, Data: echo},
		}, dcmerrors.ErrInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asm := NewAssembler(a, AssemblerOptions{StreamParse: true})
			_, err := asm.Add(&pdu.PDataTF{Items: tt.items})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, asm.Pending())
		})
	}
}

func withDataset(t *testing.T) []byte {
	t.Helper()
	cmd := NewCStoreRequest(1, types.CTImageStorage, "1.2.3", types.PriorityMedium)
	cmd.SetHasDataset(true)
	data, err := cmd.Encode()
	require.NoError(t, err)
	return data
}
