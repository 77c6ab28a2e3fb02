package models

import (
	"database/sql"
	"time"
)

// Product represents a product in the catalog
type Product struct {
	ID         int64     `db:"id" json:"id"`
	SKU        string    `db:"sku" json:"sku"`
	Name       string    `db:"name" json:"name"`
	PriceCents int64     `db:"price_cents" json:"price_cents"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Inventory represents the available stock for a product.
// Available is mutated only inside a reservation or release transaction
// and never drops below zero.
type Inventory struct {
	ProductID int64     `db:"product_id" json:"product_id"`
	Available int       `db:"available" json:"available"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CartLine is one product entry in a user's cart. UnitPriceCents is a
// display snapshot taken at add-to-cart time; the binding price is re-read
// from the product row inside the assembly transaction.
type CartLine struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	ProductID      int64     `db:"product_id" json:"product_id"`
	Quantity       int       `db:"quantity" json:"quantity"`
	UnitPriceCents int64     `db:"unit_price_cents" json:"unit_price_cents"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// User carries the profile fields snapshotted onto an order at checkout.
type User struct {
	ID        int64  `db:"id" json:"id"`
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
	Email     string `db:"email" json:"email"`
	Phone     string `db:"phone" json:"phone"`
	Street    string `db:"street" json:"street"`
	Building  string `db:"building" json:"building"`
	Floor     string `db:"floor" json:"floor"`
	Country   string `db:"country" json:"country"`
	State     string `db:"state" json:"state"`
}

// Address is the denormalized shipping/billing snapshot stored on the order
// header. It is captured from the user profile at order-creation time so
// historical orders stay accurate when the profile changes later.
type Address struct {
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
	Email     string `db:"email" json:"email"`
	Phone     string `db:"phone" json:"phone"`
	Street    string `db:"street" json:"street"`
	Building  string `db:"building" json:"building"`
	Floor     string `db:"floor" json:"floor"`
	Country   string `db:"country" json:"country"`
	State     string `db:"state" json:"state"`
}

// Order is the header record for a checkout. Line items are immutable after
// creation; cancellation transitions status instead of deleting anything.
type Order struct {
	ID              int64          `db:"id" json:"id"`
	UserID          int64          `db:"user_id" json:"user_id"`
	TotalCents      int64          `db:"total_cents" json:"total_cents"`
	Status          OrderStatus    `db:"status" json:"status"`
	PaymentStatus   PaymentStatus  `db:"payment_status" json:"payment_status"`
	PaymentMethod   PaymentMethod  `db:"payment_method" json:"payment_method"`
	GatewayOrderID  sql.NullInt64  `db:"gateway_order_id" json:"gateway_order_id,omitempty"`
	TransactionID   sql.NullString `db:"transaction_id" json:"transaction_id,omitempty"`
	CheckoutToken   sql.NullString `db:"checkout_token" json:"-"`
	IdempotencyKey  string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	ReturnRequested bool           `db:"return_requested" json:"return_requested"`
	Address
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	PaidAt    *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	ShippedAt *time.Time `db:"shipped_at" json:"shipped_at,omitempty"`
}

// OrderLine is one product-quantity-price record belonging to an order
// header. Every unit of stock decremented by an order is accounted for by
// exactly one line.
type OrderLine struct {
	ID             int64 `db:"id" json:"id"`
	OrderID        int64 `db:"order_id" json:"order_id"`
	ProductID      int64 `db:"product_id" json:"product_id"`
	Quantity       int   `db:"quantity" json:"quantity"`
	UnitPriceCents int64 `db:"unit_price_cents" json:"unit_price_cents"`
}

// StockShortage reports the line item that made a reservation fail.
type StockShortage struct {
	ProductID int64 `json:"product_id"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
}
