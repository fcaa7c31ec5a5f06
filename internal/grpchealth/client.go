package grpchealth

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/currency-check/internal/logging"
)

// Check dials addr and returns the serving status of service.
func Check(ctx context.Context, addr, service string, logger *zap.Logger) (healthpb.HealthCheckResponse_ServingStatus, error) {
	return check(ctx, addr, service, logger)
}

func check(ctx context.Context, addr, service string, logger *zap.Logger, extra ...grpc.DialOption) (healthpb.HealthCheckResponse_ServingStatus, error) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, extra...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpchealth.new_client", "", err)
		logger.Error("failed to create health client", zap.Error(wrapped), zap.String("addr", addr))
		return healthpb.HealthCheckResponse_UNKNOWN, wrapped
	}
	defer conn.Close()

	// the connection is established lazily; an unreachable server fails the RPC
	resp, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		wrapped := logging.NewOperationError("grpchealth.check", "", err)
		logger.Error("health check failed", zap.Error(wrapped), zap.String("addr", addr), zap.String("service", service))
		return healthpb.HealthCheckResponse_UNKNOWN, wrapped
	}
	return resp.GetStatus(), nil
}
