package domain

import (
	"sort"
	"time"
)

// Product is the aggregate root for one SKU. It owns every batch of that SKU
// and is the unit of optimistic concurrency: Version is compared and bumped
// by the store on commit.
type Product struct {
	SKU     string
	Version int

	batches []*Batch
	events  []Event
}

// NewProduct creates a product that has never been stored.
func NewProduct(sku string, batches ...*Batch) *Product {
	return RestoreProduct(sku, 0, batches)
}

// RestoreProduct rebuilds a product loaded from storage at the given version.
func RestoreProduct(sku string, version int, batches []*Batch) *Product {
	return &Product{
		SKU:     sku,
		Version: version,
		batches: append([]*Batch(nil), batches...),
	}
}

// Batches returns copies of the product's batches in insertion order.
func (p *Product) Batches() []*Batch {
	out := make([]*Batch, 0, len(p.batches))
	for _, b := range p.batches {
		out = append(out, b.clone())
	}
	return out
}

// Batch returns a copy of the batch with the given reference.
func (p *Product) Batch(ref string) (*Batch, bool) {
	b := p.batch(ref)
	if b == nil {
		return nil, false
	}
	return b.clone(), true
}

func (p *Product) batch(ref string) *Batch {
	for _, b := range p.batches {
		if b.Reference == ref {
			return b
		}
	}
	return nil
}

// AvailableQuantity sums the available quantity of every batch.
func (p *Product) AvailableQuantity() int {
	total := 0
	for _, b := range p.batches {
		total += b.AvailableQuantity()
	}
	return total
}

// AddBatch registers a new batch of this product's SKU.
func (p *Product) AddBatch(ref string, quantity int, eta *time.Time) error {
	if ref == "" {
		return NewInvalidCommandError("ref", "cannot be empty", ref)
	}
	if quantity < 0 {
		return NewInvalidCommandError("qty", "must be non-negative", quantity)
	}
	if p.batch(ref) != nil {
		return NewDuplicateBatchError(ref)
	}
	p.batches = append(p.batches, NewBatch(ref, p.SKU, quantity, eta))
	return nil
}

// Allocate places the line on the preferred batch that can hold it and
// returns that batch's reference.
//
// On failure the product records OutOfStock and also returns an
// *OutOfStockError so the caller can react; both signals are intended.
// Allocating a line that is already held with the same quantity is a no-op.
func (p *Product) Allocate(line OrderLine) (string, error) {
	if line.SKU != p.SKU {
		return "", NewInvalidSkuError(line.SKU)
	}
	if err := line.Validate(); err != nil {
		return "", err
	}

	var previous *Batch
	var previousLine OrderLine
	for _, b := range p.batches {
		if held, ok := b.lineFor(line); ok {
			if held == line {
				return b.Reference, nil
			}
			previous, previousLine = b, held
			b.Deallocate(held)
			break
		}
	}

	for _, b := range p.allocationOrder() {
		if err := b.Allocate(line); err != nil {
			continue
		}
		p.record(Allocated{
			OrderID:  line.OrderID,
			SKU:      line.SKU,
			Quantity: line.Quantity,
			BatchRef: b.Reference,
		})
		if p.AvailableQuantity() == 0 {
			p.record(OutOfStock{SKU: p.SKU})
		}
		return b.Reference, nil
	}

	if previous != nil {
		// nothing else changed, so the old line still fits
		previous.Allocate(previousLine)
	}
	p.record(OutOfStock{SKU: p.SKU})
	return "", NewOutOfStockError(line.OrderID, line.SKU, line.Quantity)
}

// ChangeBatchQuantity sets the purchased quantity of a batch. Lines that no
// longer fit are removed, most recently allocated first, and a Deallocated
// event is recorded for each so they can be allocated elsewhere.
func (p *Product) ChangeBatchQuantity(ref string, quantity int) error {
	if quantity < 0 {
		return NewInvalidCommandError("qty", "must be non-negative", quantity)
	}
	b := p.batch(ref)
	if b == nil {
		return NewBatchNotFoundError(ref)
	}

	b.purchasedQuantity = quantity
	for b.AvailableQuantity() < 0 {
		line, ok := b.deallocateLast()
		if !ok {
			break
		}
		p.record(Deallocated{OrderID: line.OrderID, SKU: line.SKU, Quantity: line.Quantity})
	}
	return nil
}

// allocationOrder returns the batches sorted by preference. The sort is
// stable so batches with equal ETA keep insertion order.
func (p *Product) allocationOrder() []*Batch {
	ordered := append([]*Batch(nil), p.batches...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].allocatesBefore(ordered[j])
	})
	return ordered
}

func (p *Product) record(e Event) {
	p.events = append(p.events, e)
}

// PopEvents drains the pending events in the order they were recorded.
func (p *Product) PopEvents() []Event {
	events := p.events
	p.events = nil
	return events
}

// Clone deep-copies the product state. Pending events are not copied.
func (p *Product) Clone() *Product {
	return RestoreProduct(p.SKU, p.Version, p.Batches())
}
