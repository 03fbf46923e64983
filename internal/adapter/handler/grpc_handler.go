package handler

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/rl1809/keydrop/internal/core/service"
)

type GRPCHandler struct {
	orders      *service.OrderService
	fulfillment *service.FulfillmentService
	inventory   *service.InventoryService
	log         *zap.Logger
}

func NewGRPCHandler(
	orders *service.OrderService,
	fulfillment *service.FulfillmentService,
	inventory *service.InventoryService,
	log *zap.Logger,
) *GRPCHandler {
	return &GRPCHandler{orders: orders, fulfillment: fulfillment, inventory: inventory, log: log}
}

// NewGRPCServer builds a server with the order and health services
// registered.
func NewGRPCServer(h *GRPCHandler, health *Health, log *zap.Logger) *grpc.Server {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(LoggingInterceptor(log)),
	)
	srv.RegisterService(&OrderServiceDesc, h)
	grpc_health_v1.RegisterHealthServer(srv, NewHealthServer(health, log))
	return srv
}

func LoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("latency", time.Since(start)),
		}
		if err != nil {
			fields = append(fields, zap.String("code", status.Code(err).String()), zap.Error(err))
			if status.Code(err) == codes.Internal || status.Code(err) == codes.DataLoss {
				log.Error("gRPC request failed", fields...)
			} else {
				log.Info("gRPC request rejected", fields...)
			}
		} else {
			log.Debug("gRPC request completed", fields...)
		}
		return resp, err
	}
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderResponse, error) {
	r := requesterFromMetadata(ctx)
	if r.UserID == "" {
		return nil, status.Error(codes.Unauthenticated, "missing "+UserIDMetadataKey)
	}
	if len(req.Lines) == 0 {
		return nil, status.Error(codes.InvalidArgument, "order has no items")
	}
	order, err := h.orders.CreateOrder(ctx, req.toDomain(r.UserID))
	if err != nil {
		return nil, grpcError(err)
	}
	resp := newOrderResponse(order)
	return &resp, nil
}

func (h *GRPCHandler) GetDeliveredItems(ctx context.Context, req *GetDeliveredItemsRequest) (*DeliveredItemsResponse, error) {
	r := requesterFromMetadata(ctx)
	if r.UserID == "" {
		return nil, status.Error(codes.Unauthenticated, "missing "+UserIDMetadataKey)
	}
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	items, err := h.fulfillment.GetDeliveredItems(ctx, req.OrderID, r)
	if err != nil {
		return nil, grpcError(err)
	}
	return &DeliveredItemsResponse{OrderID: req.OrderID, Items: items}, nil
}

func (h *GRPCHandler) GetInventoryStats(ctx context.Context, req *InventoryStatsRequest) (*InventoryStatsResponse, error) {
	if err := requireAdminMetadata(ctx); err != nil {
		return nil, err
	}
	stats, err := h.inventory.GetInventoryStats(ctx, req.ProductID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &stats, nil
}

func (h *GRPCHandler) AddInventoryItems(ctx context.Context, req *AddInventoryItemsRequest) (*InventoryStatsResponse, error) {
	if err := requireAdminMetadata(ctx); err != nil {
		return nil, err
	}
	stats, err := h.inventory.AddInventoryItems(ctx, req.ProductID, req.Items, requesterFromMetadata(ctx).UserID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &stats, nil
}

func requireAdminMetadata(ctx context.Context) error {
	r := requesterFromMetadata(ctx)
	if r.UserID == "" {
		return status.Error(codes.Unauthenticated, "missing "+UserIDMetadataKey)
	}
	if !r.Admin {
		return status.Error(codes.PermissionDenied, "admin role required")
	}
	return nil
}

var _ OrderServiceServer = (*GRPCHandler)(nil)
