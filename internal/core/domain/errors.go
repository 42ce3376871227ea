package domain

import (
	"errors"
	"fmt"
)

// OutOfStockError is returned when no batch can hold an order line. It is
// an expected business outcome, not a fault.
type OutOfStockError struct {
	OrderID  string
	SKU      string
	Quantity int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("out of stock: cannot allocate %d units of sku=%s for order=%s", e.Quantity, e.SKU, e.OrderID)
}

func (e *OutOfStockError) Is(target error) bool {
	_, ok := target.(*OutOfStockError)
	return ok
}

// InvalidSkuError is returned when a SKU has no product.
type InvalidSkuError struct {
	SKU string
}

func (e *InvalidSkuError) Error() string {
	return fmt.Sprintf("invalid sku: %s", e.SKU)
}

func (e *InvalidSkuError) Is(target error) bool {
	_, ok := target.(*InvalidSkuError)
	return ok
}

// BatchNotFoundError is returned when a batch reference is unknown.
type BatchNotFoundError struct {
	Reference string
}

func (e *BatchNotFoundError) Error() string {
	return fmt.Sprintf("batch not found: ref=%s", e.Reference)
}

func (e *BatchNotFoundError) Is(target error) bool {
	_, ok := target.(*BatchNotFoundError)
	return ok
}

// DuplicateBatchError is returned when a batch reference is already taken.
type DuplicateBatchError struct {
	Reference string
}

func (e *DuplicateBatchError) Error() string {
	return fmt.Sprintf("duplicate batch: ref=%s already exists", e.Reference)
}

func (e *DuplicateBatchError) Is(target error) bool {
	_, ok := target.(*DuplicateBatchError)
	return ok
}

// ConcurrencyConflictError is returned by a commit when the stored version
// of a product moved on since it was read. The whole command should be
// retried from a fresh read.
type ConcurrencyConflictError struct {
	SKU      string
	Expected int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict: sku=%s changed since version %d", e.SKU, e.Expected)
}

func (e *ConcurrencyConflictError) Is(target error) bool {
	_, ok := target.(*ConcurrencyConflictError)
	return ok
}

// InvalidCommandError is returned when a command or order line fails
// validation.
type InvalidCommandError struct {
	Field  string
	Reason string
	Value  interface{}
}

func (e *InvalidCommandError) Error() string {
	return fmt.Sprintf("invalid command: field=%s, reason=%s, value=%v", e.Field, e.Reason, e.Value)
}

func (e *InvalidCommandError) Is(target error) bool {
	_, ok := target.(*InvalidCommandError)
	return ok
}

func NewOutOfStockError(orderID, sku string, quantity int) error {
	return &OutOfStockError{OrderID: orderID, SKU: sku, Quantity: quantity}
}

func NewInvalidSkuError(sku string) error {
	return &InvalidSkuError{SKU: sku}
}

func NewBatchNotFoundError(ref string) error {
	return &BatchNotFoundError{Reference: ref}
}

func NewDuplicateBatchError(ref string) error {
	return &DuplicateBatchError{Reference: ref}
}

func NewConcurrencyConflictError(sku string, expected int) error {
	return &ConcurrencyConflictError{SKU: sku, Expected: expected}
}

func NewInvalidCommandError(field, reason string, value interface{}) error {
	return &InvalidCommandError{Field: field, Reason: reason, Value: value}
}

func IsOutOfStockError(err error) bool {
	var e *OutOfStockError
	return errors.As(err, &e)
}

func IsInvalidSkuError(err error) bool {
	var e *InvalidSkuError
	return errors.As(err, &e)
}

func IsBatchNotFoundError(err error) bool {
	var e *BatchNotFoundError
	return errors.As(err, &e)
}

func IsDuplicateBatchError(err error) bool {
	var e *DuplicateBatchError
	return errors.As(err, &e)
}

func IsConcurrencyConflictError(err error) bool {
	var e *ConcurrencyConflictError
	return errors.As(err, &e)
}

func IsInvalidCommandError(err error) bool {
	var e *InvalidCommandError
	return errors.As(err, &e)
}
