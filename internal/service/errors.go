package service

import (
	"errors"
	"fmt"

	"checkout-service/internal/models"
)

// User-facing error taxonomy. Handlers map these to HTTP statuses; none of
// them leave partial side effects behind.
var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrOrderNotFound      = errors.New("order not found")
	ErrGatewayUnavailable = errors.New("payment service unavailable")
	ErrCheckoutInProgress = errors.New("another checkout is already in progress")
	ErrAmountMismatch     = errors.New("notification amount does not match order total")
	ErrReturnNotAllowed   = errors.New("returns can only be requested for shipped orders")
)

// InsufficientStockError reports which item made the checkout fail. The
// whole assembly transaction was rolled back and the cart left untouched.
type InsufficientStockError struct {
	Shortage models.StockShortage
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.Shortage.ProductID, e.Shortage.Requested, e.Shortage.Available)
}

// IllegalTransitionError reports a status transition the lifecycle does not
// permit. No state was changed.
type IllegalTransitionError struct {
	From models.OrderStatus
	To   models.OrderStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// GatewayError wraps a payment gateway failure that happened after the
// local order was committed. The order stays PENDING; the caller may retry
// the payment step or wait for a webhook.
type GatewayError struct {
	OrderID int64
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment service unavailable for order %d: %v", e.OrderID, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGatewayUnavailable }
