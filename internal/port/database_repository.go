package port

import (
	"context"

	"github.com/rl1809/allocation/internal/core/domain"
)

type ProductRepository interface {
	// Add tracks a new product; it is written on the next commit
	Add(ctx context.Context, product *domain.Product) error

	// Get loads a product by SKU, returns nil when it does not exist
	Get(ctx context.Context, sku string) (*domain.Product, error)

	// GetByBatchRef loads the product owning the batch, returns nil when no batch has that reference
	GetByBatchRef(ctx context.Context, ref string) (*domain.Product, error)

	// List loads every committed product
	List(ctx context.Context) ([]*domain.Product, error)
}

// UnitOfWork scopes one repository session to one atomic commit. Usage:
//
//	products, err := uow.Begin(ctx)
//	if err != nil { ... }
//	defer uow.Rollback()
//	... mutate products ...
//	return uow.Commit(ctx)
//
// Nothing is written unless Commit is called. Rollback after a successful
// Commit is a no-op.
type UnitOfWork interface {
	Begin(ctx context.Context) (ProductRepository, error)

	// Commit writes every product seen in the session, checking each product's
	// version against the stored one; on mismatch it writes nothing and
	// returns a *domain.ConcurrencyConflictError
	Commit(ctx context.Context) error

	// Rollback abandons the session and discards pending events
	Rollback() error

	// CollectNewEvents drains the events of every product seen in the session
	CollectNewEvents() []domain.Event
}

// UnitOfWorkFactory returns a fresh unit of work for each handler invocation.
type UnitOfWorkFactory func() UnitOfWork
