package service

import (
	"go.uber.org/zap"

	"github.com/rl1809/allocation/internal/core/domain"
	"github.com/rl1809/allocation/internal/port"
)

// NewDefaultMessageBus wires the standard handlers. On Deallocated the read
// model is updated before the line is reallocated, so a successful
// reallocation leaves the new batch in the view.
func NewDefaultMessageBus(uowFactory port.UnitOfWorkFactory, handlers *Handlers, logger *zap.Logger) *MessageBus {
	commands := CommandHandlers{
		Allocate:            handlers.Allocate,
		CreateBatch:         handlers.AddBatch,
		ChangeBatchQuantity: handlers.ChangeBatchQuantity,
	}
	events := EventHandlers{
		Allocated: []EventHandler[domain.Allocated]{
			handlers.PublishAllocatedEvent,
			handlers.AddAllocationToReadModel,
		},
		Deallocated: []EventHandler[domain.Deallocated]{
			handlers.RemoveAllocationFromReadModel,
			handlers.Reallocate,
		},
		OutOfStock: []EventHandler[domain.OutOfStock]{
			handlers.SendOutOfStockNotification,
		},
	}
	return NewMessageBus(uowFactory, commands, events, logger)
}
