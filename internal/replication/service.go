package replication

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ServiceName is the gRPC service name registered with the server and
// dialed by the client, matching the "<package>.<Service>" convention
// protoc-gen-go-grpc would generate.
const ServiceName = "pgkeep.replication.SlotControl"

// SlotServer is implemented by whatever owns the actual replication
// slot catalog (the supervisor daemon, talking to the wire-compatible
// database on its own connection). This package only carries the RPCs
// across the wire.
type SlotServer interface {
	CreateSlot(ctx context.Context, req *CreateSlotRequest) (*CreateSlotResponse, error)
	AdvanceSlot(ctx context.Context, req *AdvanceSlotRequest) (*AdvanceSlotResponse, error)
	DropSlot(ctx context.Context, req *DropSlotRequest) (*DropSlotResponse, error)
}

func createSlotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateSlotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SlotServer).CreateSlot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/CreateSlot"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SlotServer).CreateSlot(ctx, req.(*CreateSlotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func advanceSlotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AdvanceSlotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SlotServer).AdvanceSlot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/AdvanceSlot"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SlotServer).AdvanceSlot(ctx, req.(*AdvanceSlotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func dropSlotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DropSlotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SlotServer).DropSlot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/DropSlot"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SlotServer).DropSlot(ctx, req.(*DropSlotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit for a three-method unary service.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SlotServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSlot", Handler: createSlotHandler},
		{MethodName: "AdvanceSlot", Handler: advanceSlotHandler},
		{MethodName: "DropSlot", Handler: dropSlotHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/replication/service.go",
}

// RegisterSlotServer registers srv with s, the same call shape as a
// generated RegisterXxxServer function.
func RegisterSlotServer(s grpc.ServiceRegistrar, srv SlotServer) {
	s.RegisterService(&serviceDesc, srv)
}
