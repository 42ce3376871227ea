package domain

import "time"

// Command is a request with exactly one handler; failing to handle it is an
// error for the caller.
type Command interface {
	Message
	Validate() error
	isCommand()
}

// Allocate asks for an order line to be placed on a batch.
type Allocate struct {
	OrderID  string `json:"orderid"`
	SKU      string `json:"sku"`
	Quantity int    `json:"qty"`
}

// CreateBatch registers a new batch. A nil ETA means the stock is on the
// shelf.
type CreateBatch struct {
	Ref      string     `json:"ref"`
	SKU      string     `json:"sku"`
	Quantity int        `json:"qty"`
	ETA      *time.Time `json:"eta,omitempty"`
}

// ChangeBatchQuantity sets the purchased quantity of an existing batch.
type ChangeBatchQuantity struct {
	Ref      string `json:"ref"`
	Quantity int    `json:"qty"`
}

func (Allocate) MessageName() string            { return "Allocate" }
func (CreateBatch) MessageName() string         { return "CreateBatch" }
func (ChangeBatchQuantity) MessageName() string { return "ChangeBatchQuantity" }

func (Allocate) isMessage()            {}
func (CreateBatch) isMessage()         {}
func (ChangeBatchQuantity) isMessage() {}

func (Allocate) isCommand()            {}
func (CreateBatch) isCommand()         {}
func (ChangeBatchQuantity) isCommand() {}

// Line returns the order line to allocate.
func (c Allocate) Line() OrderLine {
	return OrderLine{OrderID: c.OrderID, SKU: c.SKU, Quantity: c.Quantity}
}

func (c Allocate) Validate() error {
	return c.Line().Validate()
}

func (c CreateBatch) Validate() error {
	if c.Ref == "" {
		return NewInvalidCommandError("ref", "cannot be empty", c.Ref)
	}
	if c.SKU == "" {
		return NewInvalidCommandError("sku", "cannot be empty", c.SKU)
	}
	if c.Quantity < 0 {
		return NewInvalidCommandError("qty", "must be non-negative", c.Quantity)
	}
	return nil
}

func (c ChangeBatchQuantity) Validate() error {
	if c.Ref == "" {
		return NewInvalidCommandError("ref", "cannot be empty", c.Ref)
	}
	if c.Quantity < 0 {
		return NewInvalidCommandError("qty", "must be non-negative", c.Quantity)
	}
	return nil
}
