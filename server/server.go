package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/caio-sobreiro/dcmstream/association"
	"github.com/caio-sobreiro/dcmstream/dimse"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/metrics"
	"github.com/caio-sobreiro/dcmstream/network"
	"github.com/caio-sobreiro/dcmstream/pdu"
	"github.com/caio-sobreiro/dcmstream/services"
)

// DefaultMaxAssociations bounds concurrent associations when no limit is set.
const DefaultMaxAssociations = 64

// Option configures a Server instance.
type Option func(*Server)

// WithLogger overrides the logger used by the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// WithSocketTimeout sets the read and write timeout of one PDU.
func WithSocketTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.SocketTimeout = timeout
	}
}

// WithDimseTimeout sets how long an association may stay idle.
func WithDimseTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.DimseTimeout = timeout
	}
}

// WithPolicy sets the presentation context policy.
func WithPolicy(policy *association.Policy) Option {
	return func(s *Server) {
		s.Policy = policy
	}
}

// WithMetrics records connection and message metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.Metrics = m
	}
}

// WithSpillDir writes inbound C-STORE datasets to files in dir while they
// arrive, for handlers that do not choose a file themselves.
func WithSpillDir(dir string) Option {
	return func(s *Server) {
		s.SpillDir = dir
	}
}

// WithMaxAssociations bounds the number of concurrent associations; further
// requests are rejected as a transient local limit.
func WithMaxAssociations(n int) Option {
	return func(s *Server) {
		s.MaxAssociations = n
	}
}

// WithMaxPDULength sets the largest PDU accepted from peers.
func WithMaxPDULength(n uint32) Option {
	return func(s *Server) {
		s.MaxPDULength = n
	}
}

// WithStreamParse parses inbound datasets while their fragments arrive.
func WithStreamParse(enabled bool) Option {
	return func(s *Server) {
		s.StreamParse = enabled
	}
}

// Server exposes a reusable DICOM listener that runs a service registry on
// every accepted association.
type Server struct {
	AETitle         string
	Registry        *services.Registry
	Logger          *slog.Logger
	SocketTimeout   time.Duration // default: 30s
	DimseTimeout    time.Duration // default: 180s
	MaxPDULength    uint32
	StreamParse     bool
	Policy          *association.Policy
	Metrics         *metrics.Metrics
	SpillDir        string
	MaxAssociations int
}

// New builds a Server with the provided AE title and registry.
func New(aeTitle string, registry *services.Registry, opts ...Option) *Server {
	srv := &Server{AETitle: aeTitle, Registry: registry}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// ListenAndServe listens on the given address and serves until the context is done or an error occurs.
func ListenAndServe(ctx context.Context, address, aeTitle string, registry *services.Registry, opts ...Option) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	defer listener.Close()

	srv := New(aeTitle, registry, opts...)
	return srv.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is cancelled or an
// unrecoverable error occurs. Open associations are aborted when ctx ends.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if listener == nil {
		return errors.New("dicomserver: listener is required")
	}
	if s == nil {
		return errors.New("dicomserver: server is nil")
	}
	if s.Registry == nil {
		return errors.New("dicomserver: registry is required")
	}
	if s.AETitle == "" {
		return errors.New("dicomserver: AE title is required")
	}
	if s.SpillDir != "" {
		if err := os.MkdirAll(s.SpillDir, 0o755); err != nil {
			return fmt.Errorf("dicomserver: failed to create spill directory: %w", err)
		}
	}

	logger := s.logger()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	limit := s.MaxAssociations
	if limit <= 0 {
		limit = DefaultMaxAssociations
	}
	logger.Info("DICOM server listening",
		"address", listener.Addr().String(),
		"ae_title", s.AETitle,
		"max_associations", limit)

	var (
		associations errgroup.Group
		overflow     errgroup.Group
		serveErr     error
	)
	associations.SetLimit(limit)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.Warn("Accept timeout", "error", err)
				continue
			}
			serveErr = err
			break
		}

		started := associations.TryGo(func() error {
			s.handleConnection(ctx, conn, logger)
			return nil
		})
		if !started {
			overflow.Go(func() error {
				s.rejectConnection(conn, logger)
				return nil
			})
		}
	}

	_ = associations.Wait()
	_ = overflow.Wait()

	if serveErr != nil {
		return serveErr
	}

	return ctx.Err()
}

func (s *Server) handleConnection(ctx context.Context, nc net.Conn, logger *slog.Logger) {
	logger.Info("Accepted DICOM connection",
		"remote_addr", nc.RemoteAddr())

	conn := network.NewConn(nc, s.Registry.Handlers(ctx, s.baseHandlers()), s.options(logger))
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SendAbort(pdu.AbortSourceServiceProvider, pdu.AbortReasonNotSpecified)
		case <-conn.Done():
		}
	}()

	if err := conn.Run(); err != nil && ctx.Err() == nil {
		logger.Warn("DIMSE connection ended",
			"error", err,
			"remote_addr", nc.RemoteAddr())
	} else {
		logger.Info("DIMSE connection closed",
			"remote_addr", nc.RemoteAddr())
	}
}

// rejectConnection answers the association request of a connection over
// the limit with a transient rejection.
func (s *Server) rejectConnection(nc net.Conn, logger *slog.Logger) {
	logger.Warn("Association limit reached, rejecting connection", "remote_addr", nc.RemoteAddr())
	conn := network.NewConn(nc, network.Handlers{
		OnAssociateRequest: func(c *network.Conn, a *association.Association) {
			err := dcmerrors.NewAssociationError(dcmerrors.RejectSourceServiceProviderPresentation,
				dcmerrors.RejectReasonLocalLimitExceeded, "too many associations")
			err.Result = dcmerrors.RejectResultTransient
			_ = c.SendAssociateReject(err)
		},
	}, s.options(logger))
	_ = conn.Run()
}

func (s *Server) baseHandlers() network.Handlers {
	var h network.Handlers
	if s.SpillDir != "" {
		h.OnPreCStoreRequest = func(*network.Conn, byte, *dimse.Command) string {
			return filepath.Join(s.SpillDir, uuid.NewString()+".part")
		}
	}
	return h
}

func (s *Server) options(logger *slog.Logger) network.Options {
	return network.Options{
		Logger:        logger,
		Metrics:       s.Metrics,
		SocketTimeout: s.SocketTimeout,
		DimseTimeout:  s.DimseTimeout,
		MaxPDULength:  s.MaxPDULength,
		StreamParse:   s.StreamParse,
		Policy:        s.Policy,
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
