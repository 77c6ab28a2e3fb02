package models

import "time"

// Event types
const (
	EventTypeOrderPlaced    = "ORDER_PLACED"
	EventTypeOrderApproved  = "ORDER_APPROVED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
	EventTypeOrderShipped   = "ORDER_SHIPPED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published when an order header and its lines are committed
type OrderPlacedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	UserID        int64           `json:"user_id"`
	TotalCents    int64           `json:"total_cents"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Items         []OrderLineData `json:"items"`
}

// OrderApprovedEvent published when payment is confirmed (or a COD order
// is accepted) and the order advances to APPROVED
type OrderApprovedEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	UserID        int64  `json:"user_id"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// OrderCancelledEvent published when an order is cancelled and its
// reservations released
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	UserID  int64  `json:"user_id"`
	Reason  string `json:"reason"`
}

// OrderShippedEvent published on the Processing -> Shipped transition
type OrderShippedEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
	UserID  int64 `json:"user_id"`
}

// OrderLineData represents line data carried inside events
type OrderLineData struct {
	ProductID      int64 `json:"product_id"`
	Quantity       int   `json:"quantity"`
	UnitPriceCents int64 `json:"unit_price_cents"`
}
