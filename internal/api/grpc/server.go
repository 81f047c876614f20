package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/clintrovert/wfsync/internal/synchronizer"
)

// ServiceName is the health service name reported for the synchronizer
const ServiceName = "wfsync.Synchronizer"

// StatusSource reports the orchestrator status
type StatusSource interface {
	Status() synchronizer.Status
}

// Server exposes the synchronizer through the standard gRPC health service
type Server struct {
	health *health.Server
	source StatusSource
	logger *zap.Logger

	last healthpb.HealthCheckResponse_ServingStatus
}

// NewServer creates a new gRPC health server
func NewServer(source StatusSource, logger *zap.Logger) *Server {
	s := &Server{
		health: health.NewServer(),
		source: source,
		logger: logger,
	}
	s.Refresh()
	return s
}

// Register registers the server with a gRPC server
func (s *Server) Register(grpcServer *grpc.Server) {
	healthpb.RegisterHealthServer(grpcServer, s.health)
}

// Refresh maps the current orchestrator status onto the health status. The
// synchronizer is serving while its loop runs and the last cycle succeeded.
func (s *Server) Refresh() healthpb.HealthCheckResponse_ServingStatus {
	st := s.source.Status()

	status := healthpb.HealthCheckResponse_SERVING
	if !st.Running || st.LastError != "" {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)

	if status != s.last {
		s.logger.Info("health status changed",
			zap.String("status", status.String()),
			zap.String("last_error", st.LastError),
		)
		s.last = status
	}
	return status
}

// Run refreshes the health status every interval until ctx is cancelled,
// then marks every service as not serving
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Refresh()
		}
	}
}
