// Package grpcapi serves the gRPC health protocol for the service so mesh
// and Kubernetes gRPC probes can track model readiness.
package grpcapi

import (
	"errors"
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"stt-service/internal/observability"
	"stt-service/internal/observability/metrics"
)

// ServiceName is the health service name reported alongside "".
const ServiceName = "stt.TranscriptionService"

// Server wraps a grpc.Server exposing health and reflection.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer builds the server. Both health entries start NOT_SERVING.
func NewServer(m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	g := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	s := &Server{grpc: g, health: hs}
	s.SetModelLoaded(false)
	return s
}

// SetModelLoaded flips the serving status.
func (s *Server) SetModelLoaded(loaded bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if loaded {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve blocks serving lis until Stop or GracefulStop. A stop that races
// ahead of Serve is not an error.
func (s *Server) Serve(lis net.Listener) error {
	log.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// GracefulStop reports NOT_SERVING and drains in-flight calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
