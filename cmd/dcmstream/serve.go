package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/caio-sobreiro/dcmstream/client"
	"github.com/caio-sobreiro/dcmstream/metrics"
	"github.com/caio-sobreiro/dcmstream/server"
	"github.com/caio-sobreiro/dcmstream/services"
	"github.com/caio-sobreiro/dcmstream/types"
)

var serveAddress string

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "run a storage and query/retrieve SCP",
	Args:    cobra.NoArgs,
	Example: `dcmstream serve --config dcmstream.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddress != "" {
			cfg.Server.Address = serveAddress
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "listen", "", "address to listen on (default: server.address)")
	rootCmd.AddCommand(serveCmd)
}

func buildRegistry(ctx context.Context, m *metrics.Metrics) (*services.Registry, error) {
	index := services.NewMemoryIndex()
	store, err := services.NewStoreService(cfg.Storage.Directory, cfg.Storage.SpillDir(), index, logger)
	if err != nil {
		return nil, err
	}
	n, err := store.Reindex(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded stored instances", "count", n, "directory", cfg.Storage.Directory)

	forwarder := &client.Forwarder{
		Destinations: cfg.Server.MoveDestinations,
		Config: client.Config{
			CallingAETitle: cfg.Server.AETitle,
			MaxPDULength:   cfg.Client.MaxPDULength,
			ConnectTimeout: cfg.Client.ConnectTimeout,
			SocketTimeout:  cfg.Client.SocketTimeout,
			DimseTimeout:   cfg.Client.DimseTimeout,
			ReleaseTimeout: cfg.Client.ReleaseTimeout,
			Logger:         logger,
			Metrics:        m,
		},
	}

	registry := services.NewRegistry(logger)
	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService(logger))
	registry.RegisterHandler(types.CStoreRQ, store)
	registry.RegisterStreamingHandler(types.CFindRQ, services.NewFindService(index, logger))
	registry.RegisterStreamingHandler(types.CMoveRQ, services.NewMoveService(index, forwarder, logger))
	return registry, nil
}

func runServer(ctx context.Context) error {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	registry, err := buildRegistry(ctx, m)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithSocketTimeout(cfg.Server.SocketTimeout),
		server.WithDimseTimeout(cfg.Server.DimseTimeout),
		server.WithPolicy(cfg.Negotiation.Policy()),
		server.WithMaxAssociations(cfg.Server.MaxAssociations),
		server.WithMaxPDULength(cfg.Server.MaxPDULength),
		server.WithStreamParse(cfg.Server.StreamParse),
	}
	if m != nil {
		opts = append(opts, server.WithMetrics(m))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx, cfg.Server.Address, cfg.Server.AETitle, registry, opts...)
	})
	if m != nil {
		g.Go(func() error {
			return serveMetrics(ctx, m)
		})
	}

	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("Server stopped")
		return nil
	default:
		logger.Error("Server terminated unexpectedly", "error", err)
		return err
	}
}

func serveMetrics(ctx context.Context, m *metrics.Metrics) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, m.Handler())
	srv := &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics endpoint listening", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
