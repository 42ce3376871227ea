package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rl1809/allocation/internal/adapter/storage"
	"github.com/rl1809/allocation/internal/core/domain"
	"github.com/rl1809/allocation/internal/port"
)

type testEnv struct {
	bus      *MessageBus
	store    *storage.MemoryStore
	adapter  *storage.MemoryAdapter
	handlers *Handlers
}

func newTestEnv(t *testing.T) *testEnv {
	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStore()
	adapter := storage.NewMemoryAdapter()
	handlers := NewHandlers(adapter, adapter, logger)
	return &testEnv{
		bus:      NewDefaultMessageBus(store.NewUnitOfWork, handlers, logger),
		store:    store,
		adapter:  adapter,
		handlers: handlers,
	}
}

func (e *testEnv) product(t *testing.T, sku string) *domain.Product {
	uow := e.store.NewUnitOfWork()
	products, err := uow.Begin(context.Background())
	require.NoError(t, err)
	defer uow.Rollback()

	p, err := products.Get(context.Background(), sku)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func (e *testEnv) available(t *testing.T, sku, ref string) int {
	b, ok := e.product(t, sku).Batch(ref)
	require.True(t, ok, "batch %s not found", ref)
	return b.AvailableQuantity()
}

func mustHandle(t *testing.T, bus *MessageBus, msg domain.Message) []string {
	results, err := bus.Handle(context.Background(), msg)
	require.NoError(t, err)
	return results
}

func TestMessageBus_CreateBatchThenAllocate(t *testing.T) {
	env := newTestEnv(t)
	eta := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, []string{"b1"}, mustHandle(t, env.bus, domain.CreateBatch{Ref: "b1", SKU: "CHAIR", Quantity: 20}))
	assert.Equal(t, []string{"b2"}, mustHandle(t, env.bus, domain.CreateBatch{Ref: "b2", SKU: "CHAIR", Quantity: 20, ETA: &eta}))

	results := mustHandle(t, env.bus, domain.Allocate{OrderID: "o1", SKU: "CHAIR", Quantity: 5})
	assert.Equal(t, []string{"b1"}, results)
	assert.Equal(t, 15, env.available(t, "CHAIR", "b1"))
	assert.Equal(t, 20, env.available(t, "CHAIR", "b2"))

	assert.Equal(t, []domain.Event{
		domain.Allocated{OrderID: "o1", SKU: "CHAIR", Quantity: 5, BatchRef: "b1"},
	}, env.adapter.Published())

	views, err := env.handlers.Allocations(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, []port.AllocationView{{OrderID: "o1", SKU: "CHAIR", BatchRef: "b1"}}, views)
}

func TestMessageBus_AllocateUnknownSku(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.bus.Handle(context.Background(), domain.Allocate{OrderID: "o1", SKU: "NOPE", Quantity: 1})
	assert.True(t, domain.IsInvalidSkuError(err))
}

func TestMessageBus_InvalidCommandIsRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.bus.Handle(context.Background(), domain.Allocate{OrderID: "o1", SKU: "LAMP", Quantity: 0})
	assert.True(t, domain.IsInvalidCommandError(err))

	_, err = env.bus.Handle(context.Background(), domain.CreateBatch{SKU: "LAMP", Quantity: 1})
	assert.True(t, domain.IsInvalidCommandError(err))
}

func TestMessageBus_OutOfStockFailsCallerAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	mustHandle(t, env.bus, domain.CreateBatch{Ref: "b1", SKU: "LAMP", Quantity: 3})

	_, err := env.bus.Handle(context.Background(), domain.Allocate{OrderID: "o1", SKU: "LAMP", Quantity: 5})
	require.Error(t, err)
	assert.True(t, domain.IsOutOfStockError(err))

	assert.Equal(t, 3, env.available(t, "LAMP", "b1"))
	assert.Empty(t, env.adapter.Published())
	assert.Equal(t, []storage.Notification{
		{SKU: "LAMP", Message: "Out of stock for LAMP"},
	}, env.adapter.Notifications())
}

func TestMessageBus_ExhaustingProductNotifies(t *testing.T) {
	env := newTestEnv(t)
	mustHandle(t, env.bus, domain.CreateBatch{Ref: "b1", SKU: "LAMP", Quantity: 5})

	assert.Equal(t, []string{"b1"}, mustHandle(t, env.bus, domain.Allocate{OrderID: "o1", SKU: "LAMP", Quantity: 5}))
	assert.Len(t, env.adapter.Published(), 1)
	assert.Len(t, env.adapter.Notifications(), 1)
}

func TestMessageBus_AllocateSameLineTwice(t *testing.T) {
	env := newTestEnv(t)
	mustHandle(t, env.bus, domain.CreateBatch{Ref: "b1", SKU: "LAMP", Quantity: 10})

	first := mustHandle(t, env.bus, domain.Allocate{OrderID: "o1", SKU: "LAMP", Quantity: 2})
	second := mustHandle(t, env.bus, domain.Allocate{OrderID: "o1", SKU: "LAMP", Quantity: 2})

	assert.Equal(t, first, second)
	assert.Equal(t, 8, env.available(t, "LAMP", "b1"))
	assert.Len(t, env.adapter.Published(), 1)
}

func TestMessageBus_HandlerNotFound(t *testing.T) {
	store := storage.NewMemoryStore()
	bus := NewMessageBus(store.NewUnitOfWork, CommandHandlers{}, EventHandlers{}, zaptest.NewLogger(t))

	_, err := bus.Handle(context.Background(), domain.CreateBatch{Ref: "b1", SKU: "LAMP", Quantity: 1})
	assert.True(t, IsHandlerNotFoundError(err))
}

func TestMessageBus_EventWithoutHandlers(t *testing.T) {
	store := storage.NewMemoryStore()
	handlers := NewHandlers(storage.NewMemoryAdapter(), storage.NewMemoryAdapter(), nil)
	bus := NewMessageBus(store.NewUnitOfWork, CommandHandlers{
		CreateBatch: handlers.AddBatch,
		Allocate:    handlers.Allocate,
	}, EventHandlers{}, nil)

	mustHandle(t, bus, domain.CreateBatch{Ref: "b1", SKU: "LAMP", Quantity: 1})
	assert.Equal(t, []string{"b1"}, mustHandle(t, bus, domain.Allocate{OrderID: "o1", SKU: "LAMP", Quantity: 1}))

	results, err := bus.Handle(context.Background(), domain.OutOfStock{SKU: "LAMP"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMessageBus_EventHandlerFailureIsIsolated(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	store := storage.NewMemoryStore()
	adapter := storage.NewMemoryAdapter()
	handlers := NewHandlers(adapter, adapter, logger)

	var calls []string
	failing := func(ctx context.Context, _ port.UnitOfWork, e domain.Allocated) error {
		calls = append(calls, "failing")
		return errors.New("broker down")
	}
	recording := func(ctx context.Context, _ port.UnitOfWork, e domain.Allocated) error {
		calls = append(calls, "recording")
		return nil
	}
	notified := 0
	outOfStock := func(ctx context.Context, _ port.UnitOfWork, e domain.OutOfStock) error {
		notified++
		return nil
	}

	bus := NewMessageBus(store.NewUnitOfWork, CommandHandlers{
		CreateBatch: handlers.AddBatch,
		Allocate:    handlers.Allocate,
	}, EventHandlers{
		Allocated:  []EventHandler[domain.Allocated]{failing, recording},
		OutOfStock: []EventHandler[domain.OutOfStock]{outOfStock},
	}, logger)

	mustHandle(t, bus, domain.CreateBatch{Ref: "b1", SKU: "LAMP", Quantity: 1})
	results, err := bus.Handle(context.Background(), domain.Allocate{OrderID: "o1", SKU: "LAMP", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, results)

	assert.Equal(t, []string{"failing", "recording"}, calls)
	assert.Equal(t, 1, notified, "events after the failing handler must still run")

	failures := logs.FilterMessage("event handler failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, zapcore.ErrorLevel, failures[0].Level)
	assert.Equal(t, "Allocated", failures[0].ContextMap()["event"])
}

func TestMessageBus_ChangeBatchQuantityReallocatesBreadthFirst(t *testing.T) {
	store := storage.NewMemoryStore()
	adapter := storage.NewMemoryAdapter()
	logger := zaptest.NewLogger(t)
	handlers := NewHandlers(adapter, adapter, logger)

	var seen []domain.Event
	recordAllocated := func(ctx context.Context, _ port.UnitOfWork, e domain.Allocated) error {
		seen = append(seen, e)
		return nil
	}
	recordDeallocated := func(ctx context.Context, _ port.UnitOfWork, e domain.Deallocated) error {
		seen = append(seen, e)
		return nil
	}

	bus := NewMessageBus(store.NewUnitOfWork, CommandHandlers{
		Allocate:            handlers.Allocate,
		CreateBatch:         handlers.AddBatch,
		ChangeBatchQuantity: handlers.ChangeBatchQuantity,
	}, EventHandlers{
		Allocated: []EventHandler[domain.Allocated]{recordAllocated, handlers.AddAllocationToReadModel},
		Deallocated: []EventHandler[domain.Deallocated]{
			recordDeallocated,
			handlers.RemoveAllocationFromReadModel,
			handlers.Reallocate,
		},
	}, logger)

	later := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mustHandle(t, bus, domain.CreateBatch{Ref: "b1", SKU: "CHAIR", Quantity: 10})
	mustHandle(t, bus, domain.CreateBatch{Ref: "b2", SKU: "CHAIR", Quantity: 10, ETA: &later})
	mustHandle(t, bus, domain.Allocate{OrderID: "o1", SKU: "CHAIR", Quantity: 6})
	mustHandle(t, bus, domain.Allocate{OrderID: "o2", SKU: "CHAIR", Quantity: 4})
	seen = nil

	results := mustHandle(t, bus, domain.ChangeBatchQuantity{Ref: "b1", Quantity: 5})
	assert.Equal(t, []string{"b1"}, results)

	// both lines leave b1, newest first; each reallocation lands after
	// every Deallocated of the same generation
	assert.Equal(t, []domain.Event{
		domain.Deallocated{OrderID: "o2", SKU: "CHAIR", Quantity: 4},
		domain.Deallocated{OrderID: "o1", SKU: "CHAIR", Quantity: 6},
		domain.Allocated{OrderID: "o2", SKU: "CHAIR", Quantity: 4, BatchRef: "b1"},
		domain.Allocated{OrderID: "o1", SKU: "CHAIR", Quantity: 6, BatchRef: "b2"},
	}, seen)

	views, err := adapter.Allocations(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, []port.AllocationView{{OrderID: "o1", SKU: "CHAIR", BatchRef: "b2"}}, views)

	p := (&testEnv{store: store}).product(t, "CHAIR")
	b1, _ := p.Batch("b1")
	b2, _ := p.Batch("b2")
	assert.Equal(t, 1, b1.AvailableQuantity())
	assert.Equal(t, 4, b2.AvailableQuantity())
}

func TestMessageBus_ChangeBatchQuantityUnknownBatch(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.bus.Handle(context.Background(), domain.ChangeBatchQuantity{Ref: "missing", Quantity: 1})
	assert.True(t, domain.IsBatchNotFoundError(err))
}

func TestMessageBus_ConcurrentAllocationsNeverOverAllocate(t *testing.T) {
	env := newTestEnv(t)
	mustHandle(t, env.bus, domain.CreateBatch{Ref: "b1", SKU: "LAMP", Quantity: 10})

	const workers = 20
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		allocated  int
		outOfStock int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			cmd := domain.Allocate{OrderID: "order-" + string(rune('a'+id)), SKU: "LAMP", Quantity: 1}
			for {
				_, err := env.bus.Handle(context.Background(), cmd)
				if domain.IsConcurrencyConflictError(err) {
					continue
				}
				mu.Lock()
				switch {
				case err == nil:
					allocated++
				case domain.IsOutOfStockError(err):
					outOfStock++
				default:
					t.Errorf("unexpected error: %v", err)
				}
				mu.Unlock()
				return
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, allocated)
	assert.Equal(t, 10, outOfStock)
	assert.Equal(t, 0, env.available(t, "LAMP", "b1"))
}
