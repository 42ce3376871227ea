package domain

import "time"

// Batch is a quantity of stock for one SKU, either on the shelf (no ETA) or
// on its way (ETA set). Batches are owned by a Product and only mutated
// through it.
type Batch struct {
	Reference string
	SKU       string
	ETA       *time.Time

	purchasedQuantity int
	allocations       []OrderLine // in allocation order
}

// NewBatch creates an empty batch.
func NewBatch(ref, sku string, quantity int, eta *time.Time) *Batch {
	return &Batch{
		Reference:         ref,
		SKU:               sku,
		ETA:               copyTime(eta),
		purchasedQuantity: quantity,
	}
}

// RestoreBatch rebuilds a batch from storage with its allocated lines.
func RestoreBatch(ref, sku string, quantity int, eta *time.Time, allocations []OrderLine) *Batch {
	b := NewBatch(ref, sku, quantity, eta)
	b.allocations = append([]OrderLine(nil), allocations...)
	return b
}

func (b *Batch) PurchasedQuantity() int {
	return b.purchasedQuantity
}

func (b *Batch) AllocatedQuantity() int {
	total := 0
	for _, line := range b.allocations {
		total += line.Quantity
	}
	return total
}

func (b *Batch) AvailableQuantity() int {
	return b.purchasedQuantity - b.AllocatedQuantity()
}

// Allocations returns a copy of the allocated lines in allocation order.
func (b *Batch) Allocations() []OrderLine {
	return append([]OrderLine(nil), b.allocations...)
}

// InStock reports whether the batch is physically available now.
func (b *Batch) InStock() bool {
	return b.ETA == nil
}

func (b *Batch) CanAllocate(line OrderLine) bool {
	return b.SKU == line.SKU && b.AvailableQuantity() >= line.Quantity
}

// IsAllocated reports whether exactly this line is allocated to the batch.
func (b *Batch) IsAllocated(line OrderLine) bool {
	for _, l := range b.allocations {
		if l == line {
			return true
		}
	}
	return false
}

// Allocate adds the line. Allocating a line already held by the batch is a
// no-op.
func (b *Batch) Allocate(line OrderLine) error {
	if b.IsAllocated(line) {
		return nil
	}
	if !b.CanAllocate(line) {
		return NewOutOfStockError(line.OrderID, line.SKU, line.Quantity)
	}
	b.allocations = append(b.allocations, line)
	return nil
}

// Deallocate removes the line. Removing a line the batch does not hold is a
// no-op.
func (b *Batch) Deallocate(line OrderLine) {
	for i, l := range b.allocations {
		if l == line {
			b.allocations = append(b.allocations[:i], b.allocations[i+1:]...)
			return
		}
	}
}

// deallocateLast pops the most recently allocated line.
func (b *Batch) deallocateLast() (OrderLine, bool) {
	n := len(b.allocations)
	if n == 0 {
		return OrderLine{}, false
	}
	line := b.allocations[n-1]
	b.allocations = b.allocations[:n-1]
	return line, true
}

// lineFor finds the line allocated for (orderID, sku), whatever its quantity.
func (b *Batch) lineFor(item OrderLine) (OrderLine, bool) {
	for _, l := range b.allocations {
		if l.sameOrderItem(item) {
			return l, true
		}
	}
	return OrderLine{}, false
}

// allocatesBefore is the allocation preference: batches on the shelf first,
// then the soonest ETA.
func (b *Batch) allocatesBefore(other *Batch) bool {
	switch {
	case b.ETA == nil:
		return other.ETA != nil
	case other.ETA == nil:
		return false
	default:
		return b.ETA.Before(*other.ETA)
	}
}

func (b *Batch) clone() *Batch {
	return RestoreBatch(b.Reference, b.SKU, b.purchasedQuantity, b.ETA, b.allocations)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
