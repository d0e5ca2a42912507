// Package grpc exposes the standard gRPC health service so orchestrators can
// probe the chat server without speaking HTTP.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"chatroom/backend/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall
// ("") status.
const ServiceName = "chatroom.Chat"

// HealthSource reports overall system health and notifies on each round.
type HealthSource interface {
	IsSystemHealthy() bool
	OnChange(fn func(healthy bool))
}

// Server serves grpc.health.v1 backed by the HTTP health checker.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	log        *logger.Logger
}

func NewServer(source HealthSource, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		log:        log.WithComponent("grpc"),
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	s.SetServing(source.IsSystemHealthy())
	source.OnChange(s.SetServing)
	return s
}

// SetServing updates the status of both the overall and the chat service.
func (s *Server) SetServing(healthy bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve blocks serving lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC server listening", "addr", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on port and serves.
func (s *Server) ListenAndServe(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", port, err)
	}
	return s.Serve(lis)
}

// Shutdown marks every service NOT_SERVING and stops gracefully, or
// forcibly once ctx ends.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}
