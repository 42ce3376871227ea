package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/rl1809/allocation/internal/core/domain"
	"github.com/rl1809/allocation/internal/port"
)

// Notification is a message sent through MemoryAdapter.Notify.
type Notification struct {
	SKU     string
	Message string
}

// MemoryAdapter is the in-process counterpart of RedisAdapter: it records
// published events and notifications and holds the allocations read model.
type MemoryAdapter struct {
	mu            sync.Mutex
	published     []domain.Event
	notifications []Notification
	allocations   map[string]map[string]string // orderid -> sku -> batchref
}

var _ port.EventPublisher = (*MemoryAdapter)(nil)
var _ port.AllocationViewRepository = (*MemoryAdapter)(nil)

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{allocations: make(map[string]map[string]string)}
}

func (m *MemoryAdapter) Publish(ctx context.Context, event domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, event)
	return nil
}

func (m *MemoryAdapter) Notify(ctx context.Context, sku, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, Notification{SKU: sku, Message: message})
	return nil
}

// Published returns a copy of every published event in order.
func (m *MemoryAdapter) Published() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Event(nil), m.published...)
}

// Notifications returns a copy of every notification in order.
func (m *MemoryAdapter) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.notifications...)
}

func (m *MemoryAdapter) AddAllocation(ctx context.Context, orderID, sku, batchRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bySku, ok := m.allocations[orderID]
	if !ok {
		bySku = make(map[string]string)
		m.allocations[orderID] = bySku
	}
	bySku[sku] = batchRef
	return nil
}

func (m *MemoryAdapter) RemoveAllocation(ctx context.Context, orderID, sku string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bySku, ok := m.allocations[orderID]
	if !ok {
		return nil
	}
	delete(bySku, sku)
	if len(bySku) == 0 {
		delete(m.allocations, orderID)
	}
	return nil
}

func (m *MemoryAdapter) Allocations(ctx context.Context, orderID string) ([]port.AllocationView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]port.AllocationView, 0, len(m.allocations[orderID]))
	for sku, ref := range m.allocations[orderID] {
		out = append(out, port.AllocationView{OrderID: orderID, SKU: sku, BatchRef: ref})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}
