package store

import (
	"context"
	"database/sql"
	"fmt"

	"checkout-service/internal/models"
)

// GetCartLines retrieves all cart lines for a user
func (s *Store) GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT * FROM cart_lines WHERE user_id = $1 ORDER BY id", userID)
	return lines, err
}

// UpsertCartLine adds a product to a user's cart or replaces its quantity.
// The quantity is checked against available stock in the same transaction
// so a cart line never promises more than the shelf holds at mutation time.
func (s *Store) UpsertCartLine(ctx context.Context, userID, productID int64, quantity int) (*models.StockShortage, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var product models.Product
	err = tx.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", productID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: %d", productID)
	}
	if err != nil {
		return nil, err
	}

	var available int
	err = tx.GetContext(ctx, &available,
		"SELECT available FROM inventory WHERE product_id = $1", productID)
	if err == sql.ErrNoRows {
		return &models.StockShortage{ProductID: productID, Requested: quantity}, nil
	}
	if err != nil {
		return nil, err
	}
	if available < quantity {
		return &models.StockShortage{ProductID: productID, Requested: quantity, Available: available}, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cart_lines (user_id, product_id, quantity, unit_price_cents)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, unit_price_cents = EXCLUDED.unit_price_cents, updated_at = NOW()`,
		userID, productID, quantity, product.PriceCents)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert cart line: %w", err)
	}

	return nil, tx.Commit()
}

// DeleteCartLine removes a single product from a user's cart
func (s *Store) DeleteCartLine(ctx context.Context, userID, productID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_lines WHERE user_id = $1 AND product_id = $2", userID, productID)
	return err
}
