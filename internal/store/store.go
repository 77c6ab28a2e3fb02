package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetInventory retrieves current stock for a product
func (s *Store) GetInventory(ctx context.Context, productID int64) (*models.Inventory, error) {
	var inv models.Inventory
	err := s.db.GetContext(ctx, &inv, "SELECT * FROM inventory WHERE product_id = $1", productID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("inventory not found for product: %d", productID)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetUserByID retrieves the profile fields snapshotted at checkout
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// reserveStock performs the conditional decrement inside the caller's
// transaction. The row is locked first so concurrent checkouts against the
// same product serialize on it; the decrement only happens when enough
// stock remains.
func reserveStock(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int) (*models.StockShortage, error) {
	var available int
	err := tx.GetContext(ctx, &available,
		"SELECT available FROM inventory WHERE product_id = $1 FOR UPDATE", productID)
	if err == sql.ErrNoRows {
		return &models.StockShortage{ProductID: productID, Requested: quantity}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock inventory for product %d: %w", productID, err)
	}

	if available < quantity {
		return &models.StockShortage{ProductID: productID, Requested: quantity, Available: available}, nil
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE inventory SET available = available - $1, updated_at = NOW() WHERE product_id = $2",
		quantity, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve stock for product %d: %w", productID, err)
	}

	return nil, nil
}

// releaseOrderLines credits back every line of an order inside the caller's
// transaction. Callers guard it behind a conditional status transition so a
// duplicate notification never double-credits.
func releaseOrderLines(ctx context.Context, tx *sqlx.Tx, orderID int64) error {
	var lines []models.OrderLine
	if err := tx.SelectContext(ctx, &lines,
		"SELECT * FROM order_lines WHERE order_id = $1", orderID); err != nil {
		return fmt.Errorf("failed to load order lines: %w", err)
	}

	for _, line := range lines {
		_, err := tx.ExecContext(ctx,
			"UPDATE inventory SET available = available + $1, updated_at = NOW() WHERE product_id = $2",
			line.Quantity, line.ProductID)
		if err != nil {
			return fmt.Errorf("failed to release stock for product %d: %w", line.ProductID, err)
		}
	}

	return nil
}
