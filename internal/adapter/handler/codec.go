package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype for the order service. Messages are
// the same JSON documents the HTTP API serves.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const orderServiceName = "keydrop.v1.OrderService"

// OrderServiceServer is the gRPC surface of the engine.
type OrderServiceServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*OrderResponse, error)
	GetDeliveredItems(context.Context, *GetDeliveredItemsRequest) (*DeliveredItemsResponse, error)
	GetInventoryStats(context.Context, *InventoryStatsRequest) (*InventoryStatsResponse, error)
	AddInventoryItems(context.Context, *AddInventoryItemsRequest) (*InventoryStatsResponse, error)
}

func unaryMethod[Req, Resp any](name string, call func(OrderServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + orderServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrderServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OrderServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: orderServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateOrder", OrderServiceServer.CreateOrder),
		unaryMethod("GetDeliveredItems", OrderServiceServer.GetDeliveredItems),
		unaryMethod("GetInventoryStats", OrderServiceServer.GetInventoryStats),
		unaryMethod("AddInventoryItems", OrderServiceServer.AddInventoryItems),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "keydrop/v1/order_service",
}

// OrderServiceClient calls the order service with the JSON codec.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+orderServiceName+"/"+method, in, out, opts...)
}

func (c *OrderServiceClient) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "CreateOrder", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) GetDeliveredItems(ctx context.Context, in *GetDeliveredItemsRequest, opts ...grpc.CallOption) (*DeliveredItemsResponse, error) {
	out := new(DeliveredItemsResponse)
	if err := c.invoke(ctx, "GetDeliveredItems", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) GetInventoryStats(ctx context.Context, in *InventoryStatsRequest, opts ...grpc.CallOption) (*InventoryStatsResponse, error) {
	out := new(InventoryStatsResponse)
	if err := c.invoke(ctx, "GetInventoryStats", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) AddInventoryItems(ctx context.Context, in *AddInventoryItemsRequest, opts ...grpc.CallOption) (*InventoryStatsResponse, error) {
	out := new(InventoryStatsResponse)
	if err := c.invoke(ctx, "AddInventoryItems", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
