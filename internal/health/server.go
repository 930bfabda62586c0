// Package health exposes the gRPC health protocol for orchestrators.
package health

import (
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"househub-chat/internal/observability"
)

// ChatService is the service name reported alongside the overall status.
const ChatService = "househub.chat"

// Server wraps a grpc.Server carrying only the health service.
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
}

// NewServer builds the server in NOT_SERVING state.
func NewServer() *Server {
	gs := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{grpc: gs, health: hs}
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetServing flips the status once dependencies are ready.
func (s *Server) SetServing() {
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ChatService, status)
}

// Serve blocks accepting connections on lis.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop reports NOT_SERVING to watchers and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
