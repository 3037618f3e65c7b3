package handler

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-procurement-cases/internal/common/logger"
)

// HealthCheck reports whether a backing dependency is usable.
type HealthCheck func(ctx context.Context) error

// GRPCHandler serves the standard gRPC health service for the case service.
// Health follows the storage health check.
type GRPCHandler struct {
	service string
	health  *health.Server
	check   HealthCheck
	log     *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler. A nil check reports healthy.
func NewGRPCHandler(serviceName string, check HealthCheck, log *logger.Logger) *GRPCHandler {
	if log == nil {
		log = logger.Nop()
	}
	h := &GRPCHandler{
		service: serviceName,
		health:  health.NewServer(),
		check:   check,
		log:     log.With("grpc"),
	}
	h.setStatus(healthpb.HealthCheckResponse_SERVING)
	return h
}

// NewServer builds a gRPC server with logging and the health and reflection
// services registered.
func (h *GRPCHandler) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(h.logUnary))
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, h.health)
	reflection.Register(s)
	return s
}

// Check runs the health check once and updates the reported status.
func (h *GRPCHandler) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if h.check != nil {
		if err := h.check(ctx); err != nil {
			h.log.Warn().Err(err).Msg("Health check failed")
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.setStatus(st)
	return st
}

// Watch checks health every interval until ctx is done.
func (h *GRPCHandler) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			h.Check(checkCtx)
			cancel()
		}
	}
}

// Shutdown marks every service NOT_SERVING ahead of a graceful stop.
func (h *GRPCHandler) Shutdown() {
	h.health.Shutdown()
}

func (h *GRPCHandler) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", st)
	if h.service != "" {
		h.health.SetServingStatus(h.service, st)
	}
}

func (h *GRPCHandler) logUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	h.log.Debug().
		Str("method", info.FullMethod).
		Str("code", status.Code(err).String()).
		Dur("duration", time.Since(start)).
		Msg("gRPC request")
	return resp, err
}
