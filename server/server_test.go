package server

import (
	"context"
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

	"github.com/caio-sobreiro/dcmstream/client"
	"github.com/caio-sobreiro/dcmstream/dicom"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/services"
	"github.com/caio-sobreiro/dcmstream/types"
)

const waitTimeout = 5 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoRegistry() *services.Registry {
	r := services.NewRegistry(quietLogger())
	r.RegisterHandler(types.CEchoRQ, services.NewEchoService(quietLogger()))
	return r
}

// startServer serves srv on a loopback listener until the test ends and
// returns the listener address and the Serve result.
func startServer(t *testing.T, srv *Server) (string, <-chan error) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(waitTimeout):
			t.Error("server did not stop")
		}
	})
	return listener.Addr().String(), done
}

func connect(t *testing.T, address string) (*client.Association, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	return client.Connect(ctx, address, client.Config{
		CallingAETitle: "SCU",
		CalledAETitle:  "ARCHIVE",
		Logger:         quietLogger(),
	})
}

func TestServe_Validation(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	tests := []struct {
		name     string
		srv      *Server
		listener net.Listener
		want     string
	}{
		{"no listener", New("ARCHIVE", echoRegistry()), nil, "listener is required"},
		{"nil server", nil, listener, "server is nil"},
		{"no registry", New("ARCHIVE", nil), listener, "registry is required"},
		{"no AE title", New("", echoRegistry()), listener, "AE title is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.srv.Serve(context.Background(), tt.listener)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestServe_Echo(t *testing.T) {
	srv := New("ARCHIVE", echoRegistry(), WithLogger(quietLogger()))
	address, _ := startServer(t, srv)

	a, err := connect(t, address)
	require.NoError(t, err)

	rsp, err := a.Echo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, rsp.Status)
	require.NoError(t, a.Close())
}

func TestServe_StopsOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New("ARCHIVE", echoRegistry(), WithLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	a, err := connect(t, listener.Addr().String())
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(waitTimeout):
		t.Fatal("Serve did not return after cancel")
	}

	select {
	case <-a.Conn().Done():
	case <-time.After(waitTimeout):
		t.Fatal("open association was not aborted")
	}
}

func TestServe_RejectsOverLimit(t *testing.T) {
	srv := New("ARCHIVE", echoRegistry(), WithLogger(quietLogger()), WithMaxAssociations(1))
	address, _ := startServer(t, srv)

	first, err := connect(t, address)
	require.NoError(t, err)

	_, err = connect(t, address)
	require.Error(t, err)
	var assocErr *dcmerrors.AssociationError
	require.True(t, errors.As(err, &assocErr))
	assert.Equal(t, dcmerrors.RejectResultTransient, assocErr.Result)
	assert.Equal(t, dcmerrors.RejectReasonLocalLimitExceeded, assocErr.Reason)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		a, err := connect(t, address)
		if err != nil {
			return false
		}
		_ = a.Close()
		return true
	}, waitTimeout, 50*time.Millisecond)
}

func TestServe_SpillDir(t *testing.T) {
	dir := t.TempDir()
	spill := filepath.Join(dir, "incoming")
	index := services.NewMemoryIndex()
	store, err := services.NewStoreService(filepath.Join(dir, "storage"), "", index, quietLogger())
	require.NoError(t, err)

	r := echoRegistry()
	r.RegisterHandler(types.CStoreRQ, store)
	srv := New("ARCHIVE", r, WithLogger(quietLogger()), WithSpillDir(spill), WithStreamParse(true))
	address, _ := startServer(t, srv)

	a, err := connect(t, address)
	require.NoError(t, err)
	defer a.Close()

	info, err := os.Stat(spill)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	ds := ctDataset("1.2.3.4.5")
	rsp, err := a.Store(context.Background(), &client.CStoreRequest{Dataset: ds})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, rsp.Status)

	inst, err := index.Get(context.Background(), "1.2.3.4.5")
	require.NoError(t, err)
	assert.FileExists(t, inst.Path)

	leftovers, err := os.ReadDir(spill)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func ctDataset(instanceUID string) *dicom.Dataset {
	ds := dicom.NewDatasetWithSyntax(types.ExplicitLittleEndian)
	ds.AddUID(types.SOPClassUIDTag, types.CTImageStorage)
	ds.AddUID(types.SOPInstanceUIDTag, instanceUID)
	_ = ds.AddString(types.PatientNameTag, types.VR_PN, "DOE^JOHN")
	ds.AddBytes(types.PixelDataTag, types.VR_OW, make([]byte, 4096))
	return ds
}
