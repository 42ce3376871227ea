package domain

// OrderLine is a value object: two lines are equal when order id, SKU and
// quantity all match.
type OrderLine struct {
	OrderID  string `json:"orderid"`
	SKU      string `json:"sku"`
	Quantity int    `json:"qty"`
}

// NewOrderLine validates the fields and returns the line.
func NewOrderLine(orderID, sku string, quantity int) (OrderLine, error) {
	line := OrderLine{OrderID: orderID, SKU: sku, Quantity: quantity}
	if err := line.Validate(); err != nil {
		return OrderLine{}, err
	}
	return line, nil
}

// Validate checks that the line can be allocated at all.
func (l OrderLine) Validate() error {
	if l.OrderID == "" {
		return NewInvalidCommandError("orderid", "cannot be empty", l.OrderID)
	}
	if l.SKU == "" {
		return NewInvalidCommandError("sku", "cannot be empty", l.SKU)
	}
	if l.Quantity <= 0 {
		return NewInvalidCommandError("qty", "must be positive", l.Quantity)
	}
	return nil
}

// sameOrderItem reports whether other refers to the same (orderid, sku) pair,
// whatever its quantity.
func (l OrderLine) sameOrderItem(other OrderLine) bool {
	return l.OrderID == other.OrderID && l.SKU == other.SKU
}
