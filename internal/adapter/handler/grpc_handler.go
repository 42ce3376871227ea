package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/allocation/internal/core/domain"
	"github.com/rl1809/allocation/internal/core/service"
	"github.com/rl1809/allocation/internal/port"
)

const serviceName = "allocation.v1.AllocationService"

type AllocateRequest struct {
	OrderID  string `json:"orderid"`
	SKU      string `json:"sku"`
	Quantity int    `json:"qty"`
}

type AllocateResponse struct {
	BatchRef string `json:"batchref"`
}

type AddBatchRequest struct {
	Ref      string `json:"ref"`
	SKU      string `json:"sku"`
	Quantity int    `json:"qty"`
	ETA      string `json:"eta,omitempty"`
}

type AddBatchResponse struct {
	Ref string `json:"ref"`
}

type ChangeBatchQuantityRequest struct {
	Ref      string `json:"ref"`
	Quantity int    `json:"qty"`
}

type ChangeBatchQuantityResponse struct {
	Ref string `json:"ref"`
}

type AllocationsRequest struct {
	OrderID string `json:"orderid"`
}

type AllocationsResponse struct {
	Allocations []port.AllocationView `json:"allocations"`
}

// AllocationServiceServer is the server side of allocation.v1.AllocationService.
type AllocationServiceServer interface {
	Allocate(context.Context, *AllocateRequest) (*AllocateResponse, error)
	AddBatch(context.Context, *AddBatchRequest) (*AddBatchResponse, error)
	ChangeBatchQuantity(context.Context, *ChangeBatchQuantityRequest) (*ChangeBatchQuantityResponse, error)
	Allocations(context.Context, *AllocationsRequest) (*AllocationsResponse, error)
}

type GRPCHandler struct {
	bus   *service.MessageBus
	views port.AllocationViewRepository
}

var _ AllocationServiceServer = (*GRPCHandler)(nil)

func NewGRPCHandler(bus *service.MessageBus, views port.AllocationViewRepository) *GRPCHandler {
	return &GRPCHandler{bus: bus, views: views}
}

func (h *GRPCHandler) Allocate(ctx context.Context, req *AllocateRequest) (*AllocateResponse, error) {
	results, err := h.bus.Handle(ctx, domain.Allocate{
		OrderID:  req.OrderID,
		SKU:      req.SKU,
		Quantity: req.Quantity,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return &AllocateResponse{BatchRef: first(results)}, nil
}

func (h *GRPCHandler) AddBatch(ctx context.Context, req *AddBatchRequest) (*AddBatchResponse, error) {
	eta, err := parseETA(req.ETA)
	if err != nil {
		return nil, grpcError(err)
	}

	results, err := h.bus.Handle(ctx, domain.CreateBatch{
		Ref:      batchRefOrNew(req.Ref),
		SKU:      req.SKU,
		Quantity: req.Quantity,
		ETA:      eta,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return &AddBatchResponse{Ref: first(results)}, nil
}

func (h *GRPCHandler) ChangeBatchQuantity(ctx context.Context, req *ChangeBatchQuantityRequest) (*ChangeBatchQuantityResponse, error) {
	results, err := h.bus.Handle(ctx, domain.ChangeBatchQuantity{
		Ref:      req.Ref,
		Quantity: req.Quantity,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return &ChangeBatchQuantityResponse{Ref: first(results)}, nil
}

func (h *GRPCHandler) Allocations(ctx context.Context, req *AllocationsRequest) (*AllocationsResponse, error) {
	views, err := h.views.Allocations(ctx, req.OrderID)
	if err != nil {
		return nil, grpcError(err)
	}
	if len(views) == 0 {
		return nil, status.Errorf(codes.NotFound, "no allocations for order %s", req.OrderID)
	}
	return &AllocationsResponse{Allocations: views}, nil
}

// RegisterAllocationServiceServer registers srv on s.
func RegisterAllocationServiceServer(s grpc.ServiceRegistrar, srv AllocationServiceServer) {
	s.RegisterService(&AllocationServiceDesc, srv)
}

// AllocationServiceDesc describes allocation.v1.AllocationService for
// messages carried by the JSON codec.
var AllocationServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AllocationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Allocate",
			Handler: unaryHandler("Allocate", func(srv AllocationServiceServer, ctx context.Context, req *AllocateRequest) (interface{}, error) {
				return srv.Allocate(ctx, req)
			}),
		},
		{
			MethodName: "AddBatch",
			Handler: unaryHandler("AddBatch", func(srv AllocationServiceServer, ctx context.Context, req *AddBatchRequest) (interface{}, error) {
				return srv.AddBatch(ctx, req)
			}),
		},
		{
			MethodName: "ChangeBatchQuantity",
			Handler: unaryHandler("ChangeBatchQuantity", func(srv AllocationServiceServer, ctx context.Context, req *ChangeBatchQuantityRequest) (interface{}, error) {
				return srv.ChangeBatchQuantity(ctx, req)
			}),
		},
		{
			MethodName: "Allocations",
			Handler: unaryHandler("Allocations", func(srv AllocationServiceServer, ctx context.Context, req *AllocationsRequest) (interface{}, error) {
				return srv.Allocations(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "allocation/v1/allocation.proto",
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

// unaryHandler adapts a typed method to grpc's method handler signature,
// going through the interceptor when one is installed.
func unaryHandler[Req any](method string, call func(AllocationServiceServer, context.Context, *Req) (interface{}, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(AllocationServiceServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(method),
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(server, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
