package port

import (
	"context"

	"github.com/rl1809/allocation/internal/core/domain"
)

// AllocationView is one row of the allocations read model.
type AllocationView struct {
	OrderID  string `json:"orderid"`
	SKU      string `json:"sku"`
	BatchRef string `json:"batchref"`
}

type EventPublisher interface {
	// Publish sends an event to external consumers
	Publish(ctx context.Context, event domain.Event) error

	// Notify sends a human readable notification about a SKU
	Notify(ctx context.Context, sku, message string) error
}

type AllocationViewRepository interface {
	// AddAllocation records that the order's SKU sits on batchRef
	AddAllocation(ctx context.Context, orderID, sku, batchRef string) error

	// RemoveAllocation forgets the order's SKU allocation
	RemoveAllocation(ctx context.Context, orderID, sku string) error

	// Allocations lists the allocations of an order, sorted by SKU
	Allocations(ctx context.Context, orderID string) ([]AllocationView, error)
}
