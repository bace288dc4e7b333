package health

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name of the store node
const ServiceName = "triekv.StoreServer"

// GRPCHealthServer exposes the readiness of a HealthChecker through the
// standard grpc.health.v1 service.
type GRPCHealthServer struct {
	server *grpc.Server
	health *grpchealth.Server
	logger *zap.Logger
}

// NewGRPCHealthServer creates a gRPC health server that follows checker
func NewGRPCHealthServer(checker *HealthChecker, logger *zap.Logger) *GRPCHealthServer {
	s := &GRPCHealthServer{
		server: grpc.NewServer(),
		health: grpchealth.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	checker.OnReadinessChange(s.setServing)
	return s
}

func (s *GRPCHealthServer) setServing(ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve serves gRPC health checks on lis until Stop
func (s *GRPCHealthServer) Serve(lis net.Listener) error {
	s.logger.Info("Starting gRPC health server", zap.String("addr", lis.Addr().String()))
	if err := s.server.Serve(lis); err != nil {
		return fmt.Errorf("grpc health server failed: %w", err)
	}
	return nil
}

// Stop marks every service as not serving and stops the server
func (s *GRPCHealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
