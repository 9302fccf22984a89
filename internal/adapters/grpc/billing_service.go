package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// BillingServiceName is the fully qualified gRPC service name.
const BillingServiceName = "paychain.v1.BillingService"

// BillingServiceServer is the server API for the billing service. Requests
// and responses are free-form structs so clients need no generated code.
type BillingServiceServer interface {
	Store(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Purchase(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Unstore(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Authorize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Capture(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Void(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refund(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Credit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Verify(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Scrub(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterBillingServiceServer registers srv with s.
func RegisterBillingServiceServer(s grpc.ServiceRegistrar, srv BillingServiceServer) {
	s.RegisterService(&BillingServiceDesc, srv)
}

type unaryMethod func(BillingServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + BillingServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BillingServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BillingServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// BillingServiceDesc describes the billing service for grpc.Server.
var BillingServiceDesc = grpc.ServiceDesc{
	ServiceName: BillingServiceName,
	HandlerType: (*BillingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Store", BillingServiceServer.Store),
		unaryHandler("Purchase", BillingServiceServer.Purchase),
		unaryHandler("Unstore", BillingServiceServer.Unstore),
		unaryHandler("Authorize", BillingServiceServer.Authorize),
		unaryHandler("Capture", BillingServiceServer.Capture),
		unaryHandler("Void", BillingServiceServer.Void),
		unaryHandler("Refund", BillingServiceServer.Refund),
		unaryHandler("Credit", BillingServiceServer.Credit),
		unaryHandler("Verify", BillingServiceServer.Verify),
		unaryHandler("Update", BillingServiceServer.Update),
		unaryHandler("Scrub", BillingServiceServer.Scrub),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "paychain/v1/billing.proto",
}

// BillingServiceClient calls a remote billing service.
type BillingServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewBillingServiceClient(cc grpc.ClientConnInterface) *BillingServiceClient {
	return &BillingServiceClient{cc: cc}
}

func (c *BillingServiceClient) Store(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Store", in, opts)
}

func (c *BillingServiceClient) Purchase(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Purchase", in, opts)
}

func (c *BillingServiceClient) Unstore(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Unstore", in, opts)
}

func (c *BillingServiceClient) Authorize(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Authorize", in, opts)
}

func (c *BillingServiceClient) Capture(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Capture", in, opts)
}

func (c *BillingServiceClient) Void(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Void", in, opts)
}

func (c *BillingServiceClient) Refund(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Refund", in, opts)
}

func (c *BillingServiceClient) Credit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Credit", in, opts)
}

func (c *BillingServiceClient) Verify(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Verify", in, opts)
}

func (c *BillingServiceClient) Update(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Update", in, opts)
}

func (c *BillingServiceClient) Scrub(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Scrub", in, opts)
}

func (c *BillingServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+BillingServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
