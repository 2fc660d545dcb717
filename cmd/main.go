package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	grpcapi "voiceguard-service/internal/api/grpc"
	"voiceguard-service/internal/app"
	"voiceguard-service/internal/config"
	apihttp "voiceguard-service/internal/http"
	"voiceguard-service/internal/observability"
	"voiceguard-service/internal/observability/logging"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Load()

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Observability.LogLevel
	logCfg.Format = cfg.Observability.LogFormat
	logging.Init(logCfg)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("VoiceGuard service stopped with error")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg)
	if err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           apihttp.NewRouter(application),
		ReadHeaderTimeout: 10 * time.Second,
	}
	obsServer := observability.NewServer(":"+cfg.Service.MetricsPort, application.Ready, nil)
	grpcServer := grpcapi.NewServer(application.Ready, application.Metrics)

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		application.Shutdown(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Str("environment", cfg.Service.Environment).Msg("Starting HTTP API server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(obsServer.ListenAndServe)
	g.Go(func() error { return grpcServer.Serve(lis) })
	g.Go(func() error {
		grpcServer.WatchReadiness(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcServer.Stop()
		return errors.Join(
			httpServer.Shutdown(shutdownCtx),
			obsServer.Shutdown(shutdownCtx),
			application.Shutdown(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("VoiceGuard service stopped")
	return nil
}
