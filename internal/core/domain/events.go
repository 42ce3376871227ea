package domain

// Message is anything the message bus dispatches: a Command or an Event.
// The interface is sealed; the variants are the types in this package.
type Message interface {
	MessageName() string
	isMessage()
}

// Event is an immutable fact recorded by the Product aggregate. An event can
// have any number of handlers.
type Event interface {
	Message
	isEvent()
}

// Allocated is recorded when a line is placed on a batch.
type Allocated struct {
	OrderID  string `json:"orderid"`
	SKU      string `json:"sku"`
	Quantity int    `json:"qty"`
	BatchRef string `json:"batchref"`
}

// Deallocated is recorded when a line is taken off a batch and needs to be
// allocated again.
type Deallocated struct {
	OrderID  string `json:"orderid"`
	SKU      string `json:"sku"`
	Quantity int    `json:"qty"`
}

// OutOfStock is recorded when a line cannot be allocated, or when an
// allocation leaves the SKU with nothing available.
type OutOfStock struct {
	SKU string `json:"sku"`
}

func (Allocated) MessageName() string   { return "Allocated" }
func (Deallocated) MessageName() string { return "Deallocated" }
func (OutOfStock) MessageName() string  { return "OutOfStock" }

func (Allocated) isMessage()   {}
func (Deallocated) isMessage() {}
func (OutOfStock) isMessage()  {}

func (Allocated) isEvent()   {}
func (Deallocated) isEvent() {}
func (OutOfStock) isEvent()  {}

// Line returns the order line that was deallocated.
func (e Deallocated) Line() OrderLine {
	return OrderLine{OrderID: e.OrderID, SKU: e.SKU, Quantity: e.Quantity}
}
