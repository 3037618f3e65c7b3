package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-procurement-cases/internal/app"
	"github.com/pesio-ai/be-procurement-cases/internal/common/config"
	"github.com/pesio-ai/be-procurement-cases/internal/common/logger"
	"github.com/pesio-ai/be-procurement-cases/internal/common/middleware"
	"github.com/pesio-ai/be-procurement-cases/internal/handler"
	"github.com/pesio-ai/be-procurement-cases/internal/notify"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Environment(),
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("storage", cfg.Database.Backend).
		Msg("Starting Procurement Cases Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	storage, err := app.OpenStorage(ctx, cfg, true, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer storage.Close()

	// Optional notification bus
	var bus notify.Publisher
	if cfg.NATS.URL != "" {
		nc, err := notify.Connect(cfg.NATS.URL, cfg.Service.Name, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Drain()
		bus = notify.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, log)
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS notification bus connected")
	}

	// Initialize services
	services := app.NewServices(cfg, storage.Store, bus, log)

	result, err := services.Workflow.BackfillReadyForReview(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Ready-for-review backfill failed")
	} else if result.Advanced > 0 {
		log.Info().Int("scanned", result.Scanned).Int("advanced", result.Advanced).Msg("Ready-for-review backfill complete")
	}

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(services.Services, handler.Options{
		RequireMFA: cfg.Auth.RequireMFA,
	}, log)
	mux := http.NewServeMux()
	httpHandler.Register(mux)

	devHeaders := cfg.Auth.JWTSecret == "" && cfg.Environment() != "production"
	if devHeaders {
		log.Warn().Msg("No JWT secret configured, trusting X-User-ID headers")
	}

	// Apply middleware
	var h http.Handler = mux
	h = middleware.Auth(middleware.AuthOptions{
		Secret:     []byte(cfg.Auth.JWTSecret),
		Issuer:     cfg.Auth.Issuer,
		DevHeaders: devHeaders,
		Skip:       handler.PublicPaths,
		Now:        time.Now,
	})(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)
	h = middleware.CORS(cfg.Server.AllowedOrigins)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.RequestID(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		// Notification streams end when the signal context is cancelled.
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	// gRPC health
	grpcHandler := handler.NewGRPCHandler(cfg.Service.Name, storage.Health, log)
	grpcServer := grpcHandler.NewServer()
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Int("port", cfg.GRPC.Port).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		grpcHandler.Watch(gctx, app.HealthInterval)
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		grpcHandler.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
	}
	log.Info().Msg("Server stopped")
}
