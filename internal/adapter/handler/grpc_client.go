package handler

import (
	"context"

	"google.golang.org/grpc"
)

// AllocationServiceClient calls allocation.v1.AllocationService using the
// JSON codec.
type AllocationServiceClient struct {
	conn grpc.ClientConnInterface
}

func NewAllocationServiceClient(conn grpc.ClientConnInterface) *AllocationServiceClient {
	return &AllocationServiceClient{conn: conn}
}

func (c *AllocationServiceClient) Allocate(ctx context.Context, req *AllocateRequest, opts ...grpc.CallOption) (*AllocateResponse, error) {
	out := new(AllocateResponse)
	if err := c.invoke(ctx, "Allocate", req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AllocationServiceClient) AddBatch(ctx context.Context, req *AddBatchRequest, opts ...grpc.CallOption) (*AddBatchResponse, error) {
	out := new(AddBatchResponse)
	if err := c.invoke(ctx, "AddBatch", req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AllocationServiceClient) ChangeBatchQuantity(ctx context.Context, req *ChangeBatchQuantityRequest, opts ...grpc.CallOption) (*ChangeBatchQuantityResponse, error) {
	out := new(ChangeBatchQuantityResponse)
	if err := c.invoke(ctx, "ChangeBatchQuantity", req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AllocationServiceClient) Allocations(ctx context.Context, req *AllocationsRequest, opts ...grpc.CallOption) (*AllocationsResponse, error) {
	out := new(AllocationsResponse)
	if err := c.invoke(ctx, "Allocations", req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AllocationServiceClient) invoke(ctx context.Context, method string, req, out interface{}, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.conn.Invoke(ctx, fullMethod(method), req, out, opts...)
}
