package replication

import (
	"context"

	"google.golang.org/grpc"
)

// jsonCodecCallOption forces every call through this client to use the
// JSON codec registered in codec.go, regardless of what the server
// negotiates by default.
var jsonCodecCallOption = grpc.CallContentSubtype(codecName)

// SlotClient is a thin wrapper over a grpc.ClientConnInterface, mirroring
// the prior GrpcJobSource: a struct holding a generated-client-shaped
// connection plus the RPC methods that invoke it.
type SlotClient struct {
	cc grpc.ClientConnInterface
}

// NewSlotClient wraps an established gRPC connection. The caller owns
// dialing and connection lifecycle, same division of responsibility as
// the prior NewGrpcJobSource.
func NewSlotClient(cc grpc.ClientConnInterface) *SlotClient {
	return &SlotClient{cc: cc}
}

// CreateSlot asks the remote server to create a physical replication slot.
func (c *SlotClient) CreateSlot(ctx context.Context, req *CreateSlotRequest) (*CreateSlotResponse, error) {
	resp := new(CreateSlotResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/CreateSlot", req, resp, jsonCodecCallOption); err != nil {
		return nil, err
	}
	return resp, nil
}

// AdvanceSlot moves a slot's restart_lsn forward.
func (c *SlotClient) AdvanceSlot(ctx context.Context, req *AdvanceSlotRequest) (*AdvanceSlotResponse, error) {
	resp := new(AdvanceSlotResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/AdvanceSlot", req, resp, jsonCodecCallOption); err != nil {
		return nil, err
	}
	return resp, nil
}

// DropSlot removes a physical replication slot.
func (c *SlotClient) DropSlot(ctx context.Context, req *DropSlotRequest) (*DropSlotResponse, error) {
	resp := new(DropSlotResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/DropSlot", req, resp, jsonCodecCallOption); err != nil {
		return nil, err
	}
	return resp, nil
}
