// Package grpcapi serves the gRPC health service. Its status follows the
// readiness of the call monitor.
package grpcapi

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"voiceguard-service/internal/observability"
	"voiceguard-service/internal/observability/logging"
	"voiceguard-service/internal/observability/metrics"
)

// ServiceName is the health service name of the call monitor.
const ServiceName = "voiceguard.CallMonitor"

// DefaultCheckInterval is how often readiness is re-evaluated.
const DefaultCheckInterval = 5 * time.Second

// Server wraps a grpc.Server with health and reflection registered.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	ready    observability.ReadyFunc
	interval time.Duration
	logger   zerolog.Logger
}

// NewServer creates the gRPC server. A nil m uses the default metrics.
func NewServer(ready observability.ReadyFunc, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	s := &Server{
		grpc:     g,
		health:   hs,
		ready:    ready,
		interval: DefaultCheckInterval,
		logger:   logging.WithComponent("grpc"),
	}
	s.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC server")
	return s.grpc.Serve(lis)
}

// WatchReadiness refreshes the health status right away and then every
// check interval until ctx is done.
func (s *Server) WatchReadiness(ctx context.Context) {
	s.Refresh(ctx)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Refresh(ctx)
		}
	}
}

// Refresh evaluates readiness once and publishes the result.
func (s *Server) Refresh(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	st := grpc_health_v1.HealthCheckResponse_SERVING
	if s.ready != nil {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.ready(checkCtx)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Msg("Service not ready")
			st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
	}
	s.setStatus(st)
	return st
}

func (s *Server) setStatus(st grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.logger.Info().Msg("Shutting down gRPC server")
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
