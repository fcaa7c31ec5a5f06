// Package grpchealth exposes the standard grpc.health.v1 service so that
// orchestrators can check the process, and provides the matching client used
// by the healthcheck command.
package grpchealth

import (
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// OracleService is the health service name reporting whether predictions can
// be served. The empty name reports the process as a whole.
const OracleService = "oracle"

// Server wraps a gRPC server that only carries the health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewServer creates a health server. The oracle service is NOT_SERVING when
// no inference credential is configured.
func NewServer(oracleConfigured bool, logger *zap.Logger) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s := &Server{
		grpc:   grpc.NewServer(),
		health: hs,
		logger: logger.Named("grpc_health"),
	}
	s.SetOracleStatus(oracleConfigured)
	healthpb.RegisterHealthServer(s.grpc, hs)
	return s
}

// SetOracleStatus updates the status of OracleService.
func (s *Server) SetOracleStatus(configured bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if configured {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(OracleService, status)
}

// Serve blocks serving on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health listening", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains open streams.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
