package network

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dcmstream/association"
	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/dimse"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/metrics"
	"github.com/caio-sobreiro/dcmstream/pdu"
	"github.com/caio-sobreiro/dcmstream/types"
)

const waitTimeout = 5 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		Logger:       quietLogger(),
		PollInterval: 10 * time.Millisecond,
		StreamParse:  true,
	}
}

func proposal(t *testing.T, called string, abstractSyntaxes ...string) *association.Association {
	t.Helper()
	a := association.New("SCU", called)
	for _, uid := range abstractSyntaxes {
		_, err := a.AddPresentationContext(uid, types.ExplicitLittleEndian, types.ImplicitLittleEndian)
		require.NoError(t, err)
	}
	return a
}

// associate connects a client to a server over a pipe and waits for the
// association to be accepted.
func associate(t *testing.T, serverH Handlers, serverOpts Options, clientH Handlers, a *association.Association) (server, client *Conn) {
	t.Helper()
	sc, cc := net.Pipe()

	server = NewConn(sc, serverH, serverOpts)
	server.Start()

	accepted := make(chan struct{})
	onAccept := clientH.OnAssociateAccept
	clientH.OnAssociateAccept = func(c *Conn, a *association.Association) {
		if onAccept != nil {
			onAccept(c, a)
		}
		close(accepted)
	}
	client = Client(cc, clientH, testOptions())
	require.NoError(t, client.SendAssociateRequest(a))

	select {
	case <-accepted:
	case <-client.Done():
		t.Fatalf("association failed: %v", client.Err())
	case <-time.After(waitTimeout):
		t.Fatal("association not accepted")
	}
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return server, client
}

func waitDone(t *testing.T, c *Conn) error {
	t.Helper()
	select {
	case <-c.Done():
		return c.Err()
	case <-time.After(waitTimeout):
		t.Fatal("connection did not end")
		return nil
	}
}

func TestConn_EchoAndRelease(t *testing.T) {
	m := metrics.New()
	serverOpts := testOptions()
	serverOpts.Metrics = m

	serverH := Handlers{
		OnCEchoRequest: func(c *Conn, req *Request) {
			assert.Equal(t, types.VerificationSOPClass, req.SOPClassUID)
			require.NoError(t, c.Respond(req, types.StatusSuccess))
		},
	}
	responses := make(chan *Response, 1)
	clientH := Handlers{
		OnCEchoResponse: func(c *Conn, rsp *Response) { responses <- rsp },
	}

	server, client := associate(t, serverH, serverOpts, clientH, proposal(t, "ARCHIVE", types.VerificationSOPClass))
	assert.Equal(t, StateAssociated, client.State())
	assert.Equal(t, types.ExplicitLittleEndian, client.Association().AcceptedTransferSyntax(1))

	id, err := client.SendCEchoRequest()
	require.NoError(t, err)

	select {
	case rsp := <-responses:
		assert.Equal(t, id, rsp.MessageIDBeingRespondedTo)
		assert.Equal(t, types.StatusSuccess, rsp.Status)
		assert.Equal(t, byte(1), rsp.ContextID)
	case <-time.After(waitTimeout):
		t.Fatal("no C-ECHO-RSP")
	}

	require.NoError(t, client.Release(waitTimeout))
	assert.NoError(t, waitDone(t, server))
	assert.Equal(t, StateDisconnected, server.State())
	assert.Equal(t, StateDisconnected, client.State())
}

func TestConn_AssociateReject(t *testing.T) {
	serverOpts := testOptions()
	serverOpts.Policy = association.DefaultPolicy()
	serverOpts.Policy.CalledAETitles = []string{"ARCHIVE"}

	rejected := make(chan *dcmerrors.AssociationError, 1)
	sc, cc := net.Pipe()
	server := NewConn(sc, Handlers{}, serverOpts)
	server.Start()
	client := Client(cc, Handlers{
		OnAssociateReject: func(c *Conn, err *dcmerrors.AssociationError) { rejected <- err },
	}, testOptions())
	require.NoError(t, client.SendAssociateRequest(proposal(t, "ELSEWHERE", types.VerificationSOPClass)))

	select {
	case err := <-rejected:
		assert.Equal(t, dcmerrors.RejectReasonCalledAETitleNotRecognized, err.Reason)
	case <-time.After(waitTimeout):
		t.Fatal("no A-ASSOCIATE-RJ")
	}
	err := waitDone(t, client)
	assert.ErrorIs(t, err, dcmerrors.ErrAssociationRejected)
	assert.NoError(t, waitDone(t, server))
}

func TestConn_UnhandledCommandAborts(t *testing.T) {
	aborted := make(chan [2]byte, 1)
	server, client := associate(t, Handlers{}, testOptions(), Handlers{
		OnAbort: func(c *Conn, source, reason byte) { aborted <- [2]byte{source, reason} },
	}, proposal(t, "ARCHIVE", types.VerificationSOPClass))

	_, err := client.SendCEchoRequest()
	require.NoError(t, err)

	select {
	case got := <-aborted:
		assert.Equal(t, [2]byte{pdu.AbortSourceServiceProvider, pdu.AbortReasonNotSpecified}, got)
	case <-time.After(waitTimeout):
		t.Fatal("no A-ABORT")
	}

	var abortErr *dcmerrors.AbortError
	assert.True(t, errors.As(waitDone(t, client), &abortErr))
	assert.ErrorIs(t, waitDone(t, server), dcmerrors.ErrUnsupportedOperation)
}

func TestConn_SendOnUnacceptedContext(t *testing.T) {
	a := proposal(t, "ARCHIVE", types.VerificationSOPClass)
	serverOpts := testOptions()
	serverOpts.Policy = association.DefaultPolicy()
	serverOpts.Policy.Refused = map[string]bool{types.CTImageStorage: true}
	_, err := a.AddPresentationContext(types.CTImageStorage, types.ExplicitLittleEndian)
	require.NoError(t, err)

	_, client := associate(t, Handlers{}, serverOpts, Handlers{}, a)

	pc, ok := client.Association().PresentationContext(3)
	require.True(t, ok)
	assert.Equal(t, association.ResultRejectUser, pc.Result)

	err = client.SendDimse(3, dimse.NewRequest(types.CEchoRQ, 1, types.VerificationSOPClass), nil)
	assert.ErrorIs(t, err, dcmerrors.ErrNoPresentationCtx)

	ds := dicom.NewDatasetWithSyntax(types.ExplicitLittleEndian)
	ds.AddUID(types.SOPClassUIDTag, types.CTImageStorage)
	ds.AddUID(types.SOPInstanceUIDTag, "1.2.3")
	_, err = client.SendCStoreRequest(ds, types.PriorityMedium)
	assert.ErrorIs(t, err, dcmerrors.ErrNoPresentationCtx)
	assert.Equal(t, StateAssociated, client.State())
}

func TestConn_StoreSpill(t *testing.T) {
	dir := t.TempDir()
	spilled := filepath.Join(dir, "spill.dcm")

	handled := make(chan string, 1)
	serverH := Handlers{
		OnPreCStoreRequest: func(c *Conn, contextID byte, cmd *dimse.Command) string {
			return spilled
		},
		OnCStoreRequest: func(c *Conn, req *Request) {
			assert.Nil(t, req.Dataset)
			file, err := dicom.ReadFile(req.DatasetFile, dicom.DefaultReadOptionsWithoutDeferredLoading)
			if assert.NoError(t, err) {
				handled <- file.Dataset.GetString(types.PatientNameTag)
			}
			require.NoError(t, c.Respond(req, types.StatusSuccess))
		},
	}
	responses := make(chan *Response, 1)
	clientH := Handlers{
		OnCStoreResponse: func(c *Conn, rsp *Response) { responses <- rsp },
	}
	_, client := associate(t, serverH, testOptions(), clientH, proposal(t, "ARCHIVE", types.CTImageStorage))

	ds := dicom.NewDatasetWithSyntax(types.ExplicitLittleEndian)
	ds.AddUID(types.SOPClassUIDTag, types.CTImageStorage)
	ds.AddUID(types.SOPInstanceUIDTag, "1.2.3.4")
	require.NoError(t, ds.AddString(types.PatientNameTag, types.VR_PN, "DOE^JANE"))
	ds.AddBytes(types.PixelDataTag, types.VR_OB, make([]byte, 40000))

	_, err := client.SendCStoreRequest(ds, types.PriorityMedium)
	require.NoError(t, err)

	select {
	case name := <-handled:
		assert.Equal(t, "DOE^JANE", name)
	case <-time.After(waitTimeout):
		t.Fatal("C-STORE not handled")
	}
	select {
	case rsp := <-responses:
		assert.Equal(t, types.StatusSuccess, rsp.Status)
		assert.Equal(t, "1.2.3.4", rsp.SOPInstanceUID)
	case <-time.After(waitTimeout):
		t.Fatal("no C-STORE-RSP")
	}
	assert.Eventually(t, func() bool {
		_, err := os.Stat(spilled)
		return os.IsNotExist(err)
	}, waitTimeout, 10*time.Millisecond)
}

func TestConn_DimseTimeout(t *testing.T) {
	sc, raw := net.Pipe()
	defer raw.Close()

	opts := testOptions()
	opts.DimseTimeout = 50 * time.Millisecond
	timedOut := make(chan struct{})
	server := NewConn(sc, Handlers{OnDimseTimeout: func(*Conn) { close(timedOut) }}, opts)
	server.Start()

	require.NoError(t, raw.SetReadDeadline(time.Now().Add(waitTimeout)))
	p, err := pdu.ReadPDU(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, &pdu.Abort{Source: pdu.AbortSourceServiceUser, Reason: pdu.AbortReasonNotSpecified}, p)

	<-timedOut
	var timeoutErr *dcmerrors.TimeoutError
	assert.True(t, errors.As(waitDone(t, server), &timeoutErr))
}

func TestConn_UnrecognizedPDU(t *testing.T) {
	sc, raw := net.Pipe()
	defer raw.Close()

	server := NewConn(sc, Handlers{}, testOptions())
	server.Start()

	go func() {
		_, _ = raw.Write([]byte{0x09, 0x00, 0x00, 0x00, 0x00, 0x00})
	}()
	require.NoError(t, raw.SetReadDeadline(time.Now().Add(waitTimeout)))
	p, err := pdu.ReadPDU(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, &pdu.Abort{Source: pdu.AbortSourceServiceProvider, Reason: pdu.AbortReasonUnrecognizedPDU}, p)

	var pduErr *dcmerrors.PDUError
	assert.True(t, errors.As(waitDone(t, server), &pduErr))
}

func TestConn_UnexpectedPDU(t *testing.T) {
	sc, raw := net.Pipe()
	defer raw.Close()

	server := NewConn(sc, Handlers{}, testOptions())
	server.Start()

	// P-DATA-TF before any association.
	go func() {
		_ = pdu.WritePDU(raw, &pdu.PDataTF{Items: []pdu.PDV{{ContextID: 1, Command: true, Last: true, Data: []byte{0}}}})
	}()
	require.NoError(t, raw.SetReadDeadline(time.Now().Add(waitTimeout)))
	p, err := pdu.ReadPDU(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, &pdu.Abort{Source: pdu.AbortSourceServiceProvider, Reason: pdu.AbortReasonUnexpectedPDU}, p)
	assert.Error(t, waitDone(t, server))
}

func TestConn_EvenContextIDAborts(t *testing.T) {
	sc, raw := net.Pipe()
	defer raw.Close()

	server := NewConn(sc, Handlers{}, testOptions())
	server.Start()

	rq := &pdu.AssociateRQ{AssociateParams: pdu.AssociateParams{
		ProtocolVersion:    types.ProtocolVersion,
		CalledAE:           "ARCHIVE",
		CallingAE:          "SCU",
		ApplicationContext: types.ApplicationContextUID,
	}}
	rq.PresentationContexts = append(rq.PresentationContexts, pdu.PresentationContextItem{
		ID:               2,
		AbstractSyntax:   types.VerificationSOPClass,
		TransferSyntaxes: []string{types.ImplicitVRLittleEndian},
	})
	go func() { _ = pdu.WritePDU(raw, rq) }()

	require.NoError(t, raw.SetReadDeadline(time.Now().Add(waitTimeout)))
	p, err := pdu.ReadPDU(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, &pdu.Abort{Source: pdu.AbortSourceServiceProvider, Reason: pdu.AbortReasonInvalidPDUParameter}, p)
	assert.ErrorIs(t, waitDone(t, server), dcmerrors.ErrInvalidPDU)
}

func TestConn_PeerAbort(t *testing.T) {
	aborted := make(chan struct{})
	server, client := associate(t, Handlers{
		OnAbort: func(*Conn, byte, byte) { close(aborted) },
	}, testOptions(), Handlers{}, proposal(t, "ARCHIVE", types.VerificationSOPClass))

	require.NoError(t, client.SendAbort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified))
	select {
	case <-aborted:
	case <-time.After(waitTimeout):
		t.Fatal("abort handler was not called")
	}

	var abortErr *dcmerrors.AbortError
	require.True(t, errors.As(waitDone(t, server), &abortErr))
	assert.Equal(t, pdu.AbortSourceServiceUser, abortErr.Source)
	assert.ErrorIs(t, abortErr, dcmerrors.ErrConnectionClosed)
	assert.NoError(t, waitDone(t, client))
}

func TestConn_AbortThenClose(t *testing.T) {
	tests := []struct {
		name  string
		delay time.Duration
	}{
		{"close immediately", 0},
		{"close after a poll", 30 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, raw := net.Pipe()
			aborted := make(chan struct{})
			server := NewConn(sc, Handlers{
				OnAbort: func(*Conn, byte, byte) { close(aborted) },
			}, testOptions())
			server.Start()

			require.NoError(t, raw.SetWriteDeadline(time.Now().Add(waitTimeout)))
			require.NoError(t, pdu.WritePDU(raw, &pdu.Abort{Source: pdu.AbortSourceServiceUser, Reason: pdu.AbortReasonNotSpecified}))
			time.Sleep(tt.delay)
			require.NoError(t, raw.Close())

			select {
			case <-aborted:
			case <-time.After(waitTimeout):
				t.Fatal("abort handler was not called")
			}
			var abortErr *dcmerrors.AbortError
			require.True(t, errors.As(waitDone(t, server), &abortErr))
			assert.Equal(t, pdu.AbortSourceServiceUser, abortErr.Source)
		})
	}
}

func TestConn_TransportFailure(t *testing.T) {
	sc, raw := net.Pipe()
	server := NewConn(sc, Handlers{}, testOptions())
	server.Start()

	require.NoError(t, raw.Close())
	err := waitDone(t, server)
	var netErr *dcmerrors.NetworkError
	assert.True(t, errors.As(err, &netErr))
}

func TestConn_CloseIsGraceful(t *testing.T) {
	closed := make(chan error, 1)
	server, client := associate(t, Handlers{}, testOptions(), Handlers{
		OnConnectionClosed: func(c *Conn, err error) { closed <- err },
	}, proposal(t, "ARCHIVE", types.VerificationSOPClass))

	require.NoError(t, client.Close())
	assert.NoError(t, waitDone(t, client))
	assert.NoError(t, <-closed)
	// The peer sees the transport vanish while associated.
	assert.Error(t, waitDone(t, server))
}

func TestConn_CloseBeforeStart(t *testing.T) {
	sc, cc := net.Pipe()
	defer cc.Close()
	c := NewConn(sc, Handlers{}, testOptions())
	require.NoError(t, c.Close())
	assert.NoError(t, waitDone(t, c))
}

func TestConn_NextMessageID(t *testing.T) {
	sc, cc := net.Pipe()
	defer cc.Close()
	c := NewConn(sc, Handlers{}, testOptions())
	defer c.Close()

	assert.Equal(t, uint16(1), c.NextMessageID())
	assert.Equal(t, uint16(2), c.NextMessageID())
	c.messageID.Store(0xFFFF)
	assert.Equal(t, uint16(1), c.NextMessageID(), "zero is skipped on wrap")
}

func TestConn_SendProgressHooks(t *testing.T) {
	var begins, completes int
	received := make(chan struct{})
	serverH := Handlers{
		OnCStoreRequest: func(c *Conn, req *Request) {
			require.NotNil(t, req.Dataset)
			close(received)
		},
	}
	clientH := Handlers{
		OnSendDimseBegin:    func(*Conn, byte, *dimse.Progress) { begins++ },
		OnSendDimseComplete: func(*Conn, byte, *dimse.Progress) { completes++ },
	}
	_, client := associate(t, serverH, testOptions(), clientH, proposal(t, "ARCHIVE", types.CTImageStorage))

	ds := dicom.NewDatasetWithSyntax(types.ExplicitLittleEndian)
	ds.AddUID(types.SOPClassUIDTag, types.CTImageStorage)
	ds.AddUID(types.SOPInstanceUIDTag, "1.2.3")
	_, err := client.SendCStoreRequest(ds, types.PriorityMedium)
	require.NoError(t, err)
	<-received

	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, completes)
}
