package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dcmstream/association"
	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/dimse"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/interfaces"
	"github.com/caio-sobreiro/dcmstream/network"
	"github.com/caio-sobreiro/dcmstream/services"
	"github.com/caio-sobreiro/dcmstream/types"
)

const waitTimeout = 5 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type streamFunc func(ctx context.Context, req *network.Request, responder interfaces.ResponseSender) error

func (f streamFunc) HandleDIMSEStreaming(ctx context.Context, req *network.Request, responder interfaces.ResponseSender) error {
	return f(ctx, req, responder)
}

// archive is an SCP with echo, store and find services.
type archive struct {
	registry *services.Registry
	index    *services.MemoryIndex
	policy   *association.Policy
}

func newArchive(t *testing.T) *archive {
	t.Helper()
	dir := t.TempDir()
	index := services.NewMemoryIndex()
	store, err := services.NewStoreService(filepath.Join(dir, "storage"), filepath.Join(dir, "incoming"), index, quietLogger())
	require.NoError(t, err)

	r := services.NewRegistry(quietLogger())
	r.RegisterHandler(types.CEchoRQ, services.NewEchoService(quietLogger()))
	r.RegisterHandler(types.CStoreRQ, store)
	r.RegisterStreamingHandler(types.CFindRQ, services.NewFindService(index, quietLogger()))
	return &archive{registry: r, index: index, policy: association.DefaultPolicy()}
}

// connect associates a client with the archive over a pipe.
func (s *archive) connect(t *testing.T, cfg Config) (*Association, *network.Conn, error) {
	t.Helper()
	sc, cc := net.Pipe()
	server := network.NewConn(sc, s.registry.Handlers(context.Background(), network.Handlers{}), network.Options{
		Logger:       quietLogger(),
		PollInterval: 10 * time.Millisecond,
		Policy:       s.policy,
	})
	server.Start()
	t.Cleanup(func() { _ = server.Close() })

	if cfg.CallingAETitle == "" {
		cfg.CallingAETitle = "SCU"
	}
	if cfg.CalledAETitle == "" {
		cfg.CalledAETitle = "ARCHIVE"
	}
	cfg.Logger = quietLogger()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	a, err := ConnectConn(ctx, cc, cfg)
	if err == nil {
		t.Cleanup(func() { _ = a.Conn().Close() })
	}
	return a, server, err
}

func ctInstance(instanceUID, patientName string) *dicom.Dataset {
	ds := dicom.NewDatasetWithSyntax(types.ExplicitLittleEndian)
	ds.AddUID(types.SOPClassUIDTag, types.CTImageStorage)
	ds.AddUID(types.SOPInstanceUIDTag, instanceUID)
	ds.AddUID(types.StudyInstanceUIDTag, instanceUID+".1")
	_ = ds.AddString(types.PatientNameTag, types.VR_PN, patientName)
	_ = ds.AddString(types.PatientIDTag, types.VR_LO, "PID-"+patientName)
	_ = ds.AddString(types.ModalityTag, types.VR_CS, "CT")
	ds.AddBytes(types.PixelDataTag, types.VR_OW, make([]byte, 1024))
	return ds
}

func patientQuery(name string) *dicom.Dataset {
	ds := dicom.NewDatasetWithSyntax(types.ExplicitLittleEndian)
	_ = ds.AddString(types.QueryRetrieveLevelTag, types.VR_CS, "PATIENT")
	_ = ds.AddString(types.PatientNameTag, types.VR_PN, name)
	ds.AddBytes(types.PatientIDTag, types.VR_LO, nil)
	return ds
}

func TestAssociation_EchoAndClose(t *testing.T) {
	a, server, err := newArchive(t).connect(t, Config{})
	require.NoError(t, err)

	rsp, err := a.Echo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, rsp.Status)
	assert.NotZero(t, rsp.MessageID)

	require.NoError(t, a.Close())
	select {
	case <-server.Done():
	case <-time.After(waitTimeout):
		t.Fatal("server still connected after release")
	}
	assert.NoError(t, server.Err())
}

func TestConnect_Rejected(t *testing.T) {
	s := newArchive(t)
	s.policy.CalledAETitles = []string{"ARCHIVE"}

	_, _, err := s.connect(t, Config{CalledAETitle: "ELSEWHERE"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, dcmerrors.ErrAssociationRejected))

	var assocErr *dcmerrors.AssociationError
	require.True(t, errors.As(err, &assocErr))
	assert.Equal(t, dcmerrors.RejectReasonCalledAETitleNotRecognized, assocErr.Reason)
}

func TestConnect_UnknownTransferSyntax(t *testing.T) {
	_, cc := net.Pipe()
	defer cc.Close()

	_, err := ConnectConn(context.Background(), cc, Config{
		PreferredTransferSyntaxes: []string{"1.2.3.4"},
		Logger:                    quietLogger(),
	})
	assert.True(t, errors.Is(err, dcmerrors.ErrUnsupportedTransfer))
}

func TestAssociation_StoreAndFind(t *testing.T) {
	s := newArchive(t)
	a, _, err := s.connect(t, Config{})
	require.NoError(t, err)
	ctx := context.Background()

	for i, name := range []string{"DOE^JOHN", "DOE^JANE", "SMITH^ANN"} {
		uid := "1.2.826.0.1.3680043.9." + string(rune('1'+i))
		rsp, err := a.Store(ctx, &CStoreRequest{Dataset: ctInstance(uid, name)})
		require.NoError(t, err)
		assert.Equal(t, types.StatusSuccess, rsp.Status)
		assert.Equal(t, uid, rsp.SOPInstanceUID)
	}
	assert.Equal(t, 3, s.index.Len())

	var seen int
	responses, err := a.Find(ctx, &CFindRequest{
		SOPClassUID: types.PatientRootQueryRetrieveInformationModelFind,
		Dataset:     patientQuery("DOE*"),
		OnResponse:  func(*CFindResponse) { seen++ },
	})
	require.NoError(t, err)
	require.Len(t, responses, 3)
	assert.Equal(t, 2, seen)

	names := []string{
		responses[0].Dataset.GetString(types.PatientNameTag),
		responses[1].Dataset.GetString(types.PatientNameTag),
	}
	assert.ElementsMatch(t, []string{"DOE^JOHN", "DOE^JANE"}, names)
	assert.Equal(t, types.StatusPending, responses[0].Status)
	assert.Equal(t, types.StatusSuccess, responses[2].Status)
	assert.Nil(t, responses[2].Dataset)
}

func TestAssociation_StoreFile(t *testing.T) {
	s := newArchive(t)
	a, _, err := s.connect(t, Config{})
	require.NoError(t, err)

	ds := ctInstance("1.2.826.0.1.3680043.9.77", "FILE^ONLY")
	path := filepath.Join(t.TempDir(), "ct.dcm")
	require.NoError(t, dicom.WriteFile(path, dicom.NewFileMetaInfoForDataset(ds, "SCU"), ds, dicom.DefaultWriteOptions))

	rsp, err := a.StoreFile(context.Background(), path, types.PriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, rsp.Status)

	inst, err := s.index.Get(context.Background(), "1.2.826.0.1.3680043.9.77")
	require.NoError(t, err)
	assert.Equal(t, "FILE^ONLY", inst.Attributes.GetString(types.PatientNameTag))
	assert.Equal(t, "SCU", inst.SourceAE)
}

func TestAssociation_StoreRequiresIdentity(t *testing.T) {
	a, _, err := newArchive(t).connect(t, Config{})
	require.NoError(t, err)

	_, err = a.Store(context.Background(), &CStoreRequest{Dataset: dicom.NewDatasetWithSyntax(types.ExplicitLittleEndian)})
	assert.True(t, errors.Is(err, dcmerrors.ErrInvalidMessage))

	_, err = a.Store(context.Background(), nil)
	assert.True(t, errors.Is(err, dcmerrors.ErrInvalidMessage))
}

func TestAssociation_NoPresentationContext(t *testing.T) {
	a, _, err := newArchive(t).connect(t, Config{AbstractSyntaxes: []string{types.VerificationSOPClass}})
	require.NoError(t, err)

	_, err = a.Store(context.Background(), &CStoreRequest{Dataset: ctInstance("1.2.3.4", "X")})
	assert.True(t, errors.Is(err, dcmerrors.ErrNoPresentationCtx))

	// The association stays usable.
	rsp, err := a.Echo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, rsp.Status)
}

// blockingFind sends one pending response and waits to be cancelled.
func blockingFind(started chan<- struct{}) streamFunc {
	return func(ctx context.Context, req *network.Request, responder interfaces.ResponseSender) error {
		if err := responder.SendResponse(services.NewCFindPendingResponse(req), req.Dataset); err != nil {
			return err
		}
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		return responder.SendResponse(services.NewResponseBuilder(req).Response(types.StatusCancel), nil)
	}
}

func TestAssociation_EchoAbandonedByContext(t *testing.T) {
	s := newArchive(t)
	started := make(chan struct{})
	s.registry.RegisterStreamingHandler(types.CEchoRQ, streamFunc(func(ctx context.Context, _ *network.Request, _ interfaces.ResponseSender) error {
		close(started)
		<-ctx.Done()
		return nil
	}))
	a, _, err := s.connect(t, Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err = a.Echo(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, dcmerrors.ErrOperationCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssociation_FindCancelledByContext(t *testing.T) {
	s := newArchive(t)
	s.registry.RegisterStreamingHandler(types.CFindRQ, blockingFind(nil))
	a, _, err := s.connect(t, Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	responses, err := a.Find(ctx, &CFindRequest{
		Dataset:    patientQuery("*"),
		OnResponse: func(*CFindResponse) { cancel() },
	})
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.Equal(t, types.StatusPending, responses[0].Status)
	assert.Equal(t, types.StatusCancel, responses[1].Status)
}

func TestAssociation_Cancel(t *testing.T) {
	s := newArchive(t)
	s.registry.RegisterStreamingHandler(types.CFindRQ, blockingFind(nil))
	a, _, err := s.connect(t, Config{})
	require.NoError(t, err)

	assert.True(t, errors.Is(a.Cancel(42), dcmerrors.ErrInvalidMessage))

	cancelErr := make(chan error, 1)
	responses, err := a.Find(context.Background(), &CFindRequest{
		Dataset:    patientQuery("*"),
		OnResponse: func(rsp *CFindResponse) { cancelErr <- a.Cancel(rsp.MessageID) },
	})
	require.NoError(t, err)
	require.NoError(t, <-cancelErr)
	assert.Equal(t, types.StatusCancel, responses[len(responses)-1].Status)
}

func TestAssociation_Move(t *testing.T) {
	s := newArchive(t)
	s.registry.RegisterStreamingHandler(types.CMoveRQ, streamFunc(func(ctx context.Context, req *network.Request, responder interfaces.ResponseSender) error {
		if req.MoveDestination != "WORKSTATION" {
			return dcmerrors.NewDIMSEError("C-MOVE", types.StatusMoveDestinationUnknown, req.MoveDestination)
		}
		b := services.NewResponseBuilder(req)
		if err := responder.SendResponse(b.CMoveResponse(types.StatusPending, dimse.SubOperations{Remaining: 1, Completed: 1}), nil); err != nil {
			return err
		}
		return responder.SendResponse(b.CMoveResponse(types.StatusSuccess, dimse.SubOperations{Completed: 2}), nil)
	}))
	a, _, err := s.connect(t, Config{})
	require.NoError(t, err)

	var progress []dimse.SubOperations
	rsp, err := a.Move(context.Background(), &CMoveRequest{
		Destination: "WORKSTATION",
		Dataset:     patientQuery("DOE*"),
		OnProgress:  func(p *CMoveResponse) { progress = append(progress, p.SubOperations) },
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, rsp.Status)
	assert.Equal(t, uint16(2), rsp.SubOperations.Completed)
	require.Len(t, progress, 1)
	assert.Equal(t, uint16(1), progress[0].Remaining)

	rsp, err = a.Move(context.Background(), &CMoveRequest{Destination: "NOWHERE", Dataset: patientQuery("*")})
	require.NoError(t, err)
	assert.Equal(t, types.StatusMoveDestinationUnknown, rsp.Status)
	assert.Equal(t, "NOWHERE", rsp.ErrorComment)

	_, err = a.Move(context.Background(), &CMoveRequest{Dataset: patientQuery("*")})
	assert.True(t, errors.Is(err, dcmerrors.ErrInvalidMessage))
}

func TestAssociation_ConnectionLossFailsOutstanding(t *testing.T) {
	s := newArchive(t)
	started := make(chan struct{})
	s.registry.RegisterStreamingHandler(types.CFindRQ, blockingFind(started))
	a, server, err := s.connect(t, Config{})
	require.NoError(t, err)

	go func() {
		<-started
		_ = server.Close()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := a.Find(context.Background(), &CFindRequest{Dataset: patientQuery("*")})
		done <- err
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("find did not fail after the connection was lost")
	}
}
