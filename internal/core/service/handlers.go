package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/allocation/internal/core/domain"
	"github.com/rl1809/allocation/internal/port"
)

// Handlers holds the use cases the message bus dispatches to, together with
// the collaborators the event handlers talk to.
type Handlers struct {
	publisher port.EventPublisher
	views     port.AllocationViewRepository
	logger    *zap.Logger
}

func NewHandlers(publisher port.EventPublisher, views port.AllocationViewRepository, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		publisher: publisher,
		views:     views,
		logger:    logger,
	}
}

// AddBatch registers a batch, creating the product on its first batch.
func (h *Handlers) AddBatch(ctx context.Context, uow port.UnitOfWork, cmd domain.CreateBatch) (string, error) {
	products, err := uow.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer uow.Rollback()

	owner, err := products.GetByBatchRef(ctx, cmd.Ref)
	if err != nil {
		return "", fmt.Errorf("lookup batch: %w", err)
	}
	if owner != nil {
		return "", domain.NewDuplicateBatchError(cmd.Ref)
	}

	product, err := products.Get(ctx, cmd.SKU)
	if err != nil {
		return "", fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		product = domain.NewProduct(cmd.SKU)
		if err := products.Add(ctx, product); err != nil {
			return "", err
		}
	}

	if err := product.AddBatch(cmd.Ref, cmd.Quantity, cmd.ETA); err != nil {
		return "", err
	}
	if err := uow.Commit(ctx); err != nil {
		return "", err
	}

	h.logger.Info("batch added",
		zap.String("ref", cmd.Ref),
		zap.String("sku", cmd.SKU),
		zap.Int("qty", cmd.Quantity),
	)
	return cmd.Ref, nil
}

// Allocate places the line on a batch and returns the batch reference.
func (h *Handlers) Allocate(ctx context.Context, uow port.UnitOfWork, cmd domain.Allocate) (string, error) {
	return h.allocate(ctx, uow, cmd.Line())
}

// allocate commits even when the product is out of stock, so the OutOfStock
// event it recorded is collected, then reports the failure.
func (h *Handlers) allocate(ctx context.Context, uow port.UnitOfWork, line domain.OrderLine) (string, error) {
	products, err := uow.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer uow.Rollback()

	product, err := products.Get(ctx, line.SKU)
	if err != nil {
		return "", fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		return "", domain.NewInvalidSkuError(line.SKU)
	}

	ref, allocErr := product.Allocate(line)
	if allocErr != nil && !domain.IsOutOfStockError(allocErr) {
		return "", allocErr
	}
	if err := uow.Commit(ctx); err != nil {
		return "", err
	}
	if allocErr != nil {
		return "", allocErr
	}
	return ref, nil
}

// ChangeBatchQuantity resizes a batch. Lines that no longer fit come back
// as Deallocated events.
func (h *Handlers) ChangeBatchQuantity(ctx context.Context, uow port.UnitOfWork, cmd domain.ChangeBatchQuantity) (string, error) {
	products, err := uow.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer uow.Rollback()

	product, err := products.GetByBatchRef(ctx, cmd.Ref)
	if err != nil {
		return "", fmt.Errorf("lookup batch: %w", err)
	}
	if product == nil {
		return "", domain.NewBatchNotFoundError(cmd.Ref)
	}

	if err := product.ChangeBatchQuantity(cmd.Ref, cmd.Quantity); err != nil {
		return "", err
	}
	if err := uow.Commit(ctx); err != nil {
		return "", err
	}
	return cmd.Ref, nil
}

func (h *Handlers) PublishAllocatedEvent(ctx context.Context, _ port.UnitOfWork, event domain.Allocated) error {
	return h.publisher.Publish(ctx, event)
}

func (h *Handlers) AddAllocationToReadModel(ctx context.Context, _ port.UnitOfWork, event domain.Allocated) error {
	return h.views.AddAllocation(ctx, event.OrderID, event.SKU, event.BatchRef)
}

func (h *Handlers) RemoveAllocationFromReadModel(ctx context.Context, _ port.UnitOfWork, event domain.Deallocated) error {
	return h.views.RemoveAllocation(ctx, event.OrderID, event.SKU)
}

// Reallocate tries to place a deallocated line somewhere else.
func (h *Handlers) Reallocate(ctx context.Context, uow port.UnitOfWork, event domain.Deallocated) error {
	ref, err := h.allocate(ctx, uow, event.Line())
	if err != nil {
		return fmt.Errorf("reallocate order=%s: %w", event.OrderID, err)
	}
	h.logger.Info("line reallocated",
		zap.String("orderid", event.OrderID),
		zap.String("sku", event.SKU),
		zap.String("batchref", ref),
	)
	return nil
}

func (h *Handlers) SendOutOfStockNotification(ctx context.Context, _ port.UnitOfWork, event domain.OutOfStock) error {
	return h.publisher.Notify(ctx, event.SKU, fmt.Sprintf("Out of stock for %s", event.SKU))
}

// Allocations queries the read model. It does not go through the bus.
func (h *Handlers) Allocations(ctx context.Context, orderID string) ([]port.AllocationView, error) {
	return h.views.Allocations(ctx, orderID)
}
