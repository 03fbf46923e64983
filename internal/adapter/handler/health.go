package handler

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type BrokerStatus interface {
	IsHealthy() bool
}

// Health checks the dependencies an order cannot complete without. The
// broker is optional.
type Health struct {
	db     Pinger
	broker BrokerStatus
}

func NewHealth(db Pinger, broker BrokerStatus) *Health {
	return &Health{db: db, broker: broker}
}

func (h *Health) Check(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}
	if h.broker != nil && !h.broker.IsHealthy() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// HealthServer implements the gRPC health checking protocol.
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	health *Health
	log    *zap.Logger
}

func NewHealthServer(health *Health, log *zap.Logger) *HealthServer {
	return &HealthServer{health: health, log: log}
}

func (s *HealthServer) status(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if err := s.health.Check(ctx); err != nil {
		s.log.Error("health check failed", zap.Error(err))
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_SERVING
}

func (s *HealthServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	return &grpc_health_v1.HealthCheckResponse{Status: s.status(ctx)}, nil
}

// Watch sends the current status once.
func (s *HealthServer) Watch(_ *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	return stream.Send(&grpc_health_v1.HealthCheckResponse{Status: s.status(stream.Context())})
}
