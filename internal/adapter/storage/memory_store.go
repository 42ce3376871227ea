package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/rl1809/allocation/internal/core/domain"
	"github.com/rl1809/allocation/internal/port"
)

// MemoryStore keeps committed products in memory with the same optimistic
// locking contract as the MySQL store.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
	batches  map[string]string // batch reference -> sku
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*domain.Product),
		batches:  make(map[string]string),
	}
}

// NewUnitOfWork returns a session over the store. It satisfies
// port.UnitOfWorkFactory.
func (s *MemoryStore) NewUnitOfWork() port.UnitOfWork {
	return &memoryUnitOfWork{store: s}
}

func (s *MemoryStore) load(sku string) *domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[sku]
	if !ok {
		return nil
	}
	return p.Clone()
}

func (s *MemoryStore) skuForBatch(ref string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sku, ok := s.batches[ref]
	return sku, ok
}

func (s *MemoryStore) list() []*domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

// commit checks every version first and only then writes, so a conflict
// leaves the store untouched.
func (s *MemoryStore) commit(products []*domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range products {
		stored := 0
		if current, ok := s.products[p.SKU]; ok {
			stored = current.Version
		}
		if stored != p.Version {
			return domain.NewConcurrencyConflictError(p.SKU, p.Version)
		}
		for _, b := range p.Batches() {
			if owner, ok := s.batches[b.Reference]; ok && owner != p.SKU {
				return domain.NewDuplicateBatchError(b.Reference)
			}
		}
	}

	for _, p := range products {
		snapshot := p.Clone()
		snapshot.Version++
		s.products[p.SKU] = snapshot
		for _, b := range p.Batches() {
			s.batches[b.Reference] = p.SKU
		}
		p.Version++
	}
	return nil
}

var _ port.UnitOfWork = (*memoryUnitOfWork)(nil)
var _ port.ProductRepository = (*memoryProductRepository)(nil)

type memoryUnitOfWork struct {
	store     *MemoryStore
	seen      []*domain.Product
	committed bool
}

func (u *memoryUnitOfWork) Begin(ctx context.Context) (port.ProductRepository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.seen = nil
	u.committed = false
	return &memoryProductRepository{uow: u}, nil
}

func (u *memoryUnitOfWork) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := u.store.commit(u.seen); err != nil {
		return err
	}
	u.committed = true
	return nil
}

func (u *memoryUnitOfWork) Rollback() error {
	if u.committed {
		return nil
	}
	for _, p := range u.seen {
		p.PopEvents()
	}
	return nil
}

func (u *memoryUnitOfWork) CollectNewEvents() []domain.Event {
	var events []domain.Event
	for _, p := range u.seen {
		events = append(events, p.PopEvents()...)
	}
	return events
}

func (u *memoryUnitOfWork) tracked(sku string) *domain.Product {
	for _, p := range u.seen {
		if p.SKU == sku {
			return p
		}
	}
	return nil
}

type memoryProductRepository struct {
	uow *memoryUnitOfWork
}

func (r *memoryProductRepository) Add(ctx context.Context, product *domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.uow.tracked(product.SKU) == nil {
		r.uow.seen = append(r.uow.seen, product)
	}
	return nil
}

func (r *memoryProductRepository) Get(ctx context.Context, sku string) (*domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p := r.uow.tracked(sku); p != nil {
		return p, nil
	}
	p := r.uow.store.load(sku)
	if p == nil {
		return nil, nil
	}
	r.uow.seen = append(r.uow.seen, p)
	return p, nil
}

func (r *memoryProductRepository) GetByBatchRef(ctx context.Context, ref string) (*domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, p := range r.uow.seen {
		if _, ok := p.Batch(ref); ok {
			return p, nil
		}
	}
	sku, ok := r.uow.store.skuForBatch(ref)
	if !ok {
		return nil, nil
	}
	return r.Get(ctx, sku)
}

func (r *memoryProductRepository) List(ctx context.Context) ([]*domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.uow.store.list(), nil
}
