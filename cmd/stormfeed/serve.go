package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stormfeed/stormfeed/internal/feed"
	"github.com/stormfeed/stormfeed/internal/position"
	"github.com/stormfeed/stormfeed/internal/server"
	"github.com/stormfeed/stormfeed/internal/store"
	"github.com/stormfeed/stormfeed/internal/stream"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the feed ingestion pipelines and the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.Strings("lightningEndpoints", cfg.Lightning.Endpoints),
		zap.Bool("vesselEnabled", cfg.VesselEnabled()),
		zap.String("positionURL", cfg.Position.URL),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Lightning pipeline
	lightningStore := store.New(cfg.Lightning.Capacity)
	lightningBC := stream.NewBroadcaster("lightning", logger)
	lightningConn := feed.NewConnector(feed.LightningOptions(cfg.Lightning), lightningStore, lightningBC, logger)
	lightningConn.Start(ctx)

	// Vessel pipeline; connector stays nil when the credential is absent
	vesselStore := store.New(cfg.Vessel.Capacity)
	vesselBC := stream.NewBroadcaster("vessel", logger)
	var vesselConn *feed.Connector
	if cfg.VesselEnabled() {
		vesselConn = feed.NewConnector(feed.VesselOptions(cfg.Vessel), vesselStore, vesselBC, logger)
		vesselConn.Start(ctx)
	} else {
		logger.Info("vessel feed disabled: no API key configured")
	}

	// Position poller
	poller := position.NewPoller(cfg.Position.URL, cfg.Position.PollInterval(), logger)
	go poller.Run(ctx)

	pipelines := []*server.Pipeline{
		{
			Name:        "lightning",
			Store:       lightningStore,
			Broadcaster: lightningBC,
			Connector:   lightningConn,
			History:     cfg.Lightning.History,
		},
		{
			Name:        "vessel",
			Store:       vesselStore,
			Broadcaster: vesselBC,
			Connector:   vesselConn,
			History:     cfg.Vessel.History,
		},
	}

	srv := server.NewServer(pipelines, poller, logger)
	router := server.NewRouter(srv)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: SSE responses stay open indefinitely.
	}

	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Stop connectors, poller, and open SSE sessions
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}
