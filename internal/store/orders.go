package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"checkout-service/internal/models"
)

// AssembleOrder turns a set of cart lines into an order header plus line
// items inside one transaction. For each line it re-reads the product price,
// performs the conditional stock decrement, then inserts the header and
// lines and clears the consumed cart rows. A shortage on any line rolls the
// whole thing back and reports the failing product; nothing is half-done.
func (s *Store) AssembleOrder(ctx context.Context, order *models.Order, lines []models.OrderLine) (*models.StockShortage, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("no order lines to assemble")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var total int64
	for i := range lines {
		var priceCents int64
		err := tx.GetContext(ctx, &priceCents,
			"SELECT price_cents FROM products WHERE id = $1", lines[i].ProductID)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("product not found: %d", lines[i].ProductID)
		}
		if err != nil {
			return nil, err
		}

		shortage, err := reserveStock(ctx, tx, lines[i].ProductID, lines[i].Quantity)
		if err != nil {
			return nil, err
		}
		if shortage != nil {
			return shortage, nil
		}

		lines[i].UnitPriceCents = priceCents
		total += priceCents * int64(lines[i].Quantity)
	}
	order.TotalCents = total

	query := `
		INSERT INTO orders (
			user_id, total_cents, status, payment_status, payment_method,
			checkout_token, idempotency_key,
			first_name, last_name, email, phone,
			street, building, floor, country, state
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.UserID, order.TotalCents, order.Status, order.PaymentStatus, order.PaymentMethod,
		order.CheckoutToken, order.IdempotencyKey,
		order.FirstName, order.LastName, order.Email, order.Phone,
		order.Street, order.Building, order.Floor, order.Country, order.State,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	productIDs := make([]interface{}, 0, len(lines))
	placeholders := make([]string, 0, len(lines))
	for i := range lines {
		lines[i].OrderID = order.ID
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO order_lines (order_id, product_id, quantity, unit_price_cents)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			lines[i].OrderID, lines[i].ProductID, lines[i].Quantity, lines[i].UnitPriceCents,
		).Scan(&lines[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert order line: %w", err)
		}

		productIDs = append(productIDs, lines[i].ProductID)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
	}

	args := append([]interface{}{order.UserID}, productIDs...)
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM cart_lines WHERE user_id = $1 AND product_id IN (%s)",
			strings.Join(placeholders, ", ")),
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to clear cart lines: %w", err)
	}

	return nil, tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByGatewayOrderID correlates an inbound gateway notification with
// the local order that registered it
func (s *Store) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE gateway_order_id = $1", gatewayOrderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderLines retrieves all lines for an order
func (s *Store) GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", orderID)
	return lines, err
}

// GetOrdersByUserID retrieves orders for a user, newest first
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// SetGatewayOrderID persists the external mirror-order id before any
// redirect happens so later notifications can be correlated even when the
// redirect never completes.
func (s *Store) SetGatewayOrderID(ctx context.Context, orderID, gatewayOrderID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET gateway_order_id = $1, updated_at = NOW() WHERE id = $2",
		gatewayOrderID, orderID)
	return err
}

// ApproveOrder marks an order and its payment approved, stores the external
// transaction id and stamps the payment date. The write is conditional on
// the order still being PENDING on both axes, which makes a duplicate
// notification a no-op: the second delivery matches zero rows.
func (s *Store) ApproveOrder(ctx context.Context, orderID int64, transactionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, payment_status = $2, transaction_id = $3, paid_at = NOW(), updated_at = NOW()
		WHERE id = $4 AND status = $5 AND payment_status = $6`,
		models.OrderStatusApproved, models.PaymentStatusApproved, transactionID,
		orderID, models.OrderStatusPending, models.PaymentStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RejectOrder cancels a pending order after a failed payment and credits
// the reserved stock back, all in one transaction. The release only runs
// when the conditional transition actually applied, so delivering the same
// failure notification twice cannot double-credit inventory.
func (s *Store) RejectOrder(ctx context.Context, orderID int64) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, payment_status = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4 AND payment_status = $5`,
		models.OrderStatusCancelled, models.PaymentStatusRejected,
		orderID, models.OrderStatusPending, models.PaymentStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, tx.Commit()
	}

	if err := releaseOrderLines(ctx, tx, orderID); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// CancelOrder performs a user- or admin-initiated cancellation. The status
// row is locked, the guard checked, and the inventory released in the same
// transaction. When the order is not cancellable the current status is
// returned unchanged so the caller can report it.
func (s *Store) CancelOrder(ctx context.Context, orderID int64) (bool, models.OrderStatus, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, "", err
	}
	defer tx.Rollback()

	var current models.OrderStatus
	err = tx.GetContext(ctx, &current,
		"SELECT status FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return false, "", fmt.Errorf("order not found: %d", orderID)
	}
	if err != nil {
		return false, "", err
	}

	if !current.Cancellable() {
		return false, current, nil
	}

	// A still-pending payment is rejected alongside; an already approved
	// payment keeps its status (refunds are a separate concern).
	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_status = CASE WHEN payment_status = $2 THEN $3 ELSE payment_status END,
		    updated_at = NOW()
		WHERE id = $4`,
		models.OrderStatusCancelled, models.PaymentStatusPending, models.PaymentStatusRejected, orderID)
	if err != nil {
		return false, current, err
	}

	if err := releaseOrderLines(ctx, tx, orderID); err != nil {
		return false, current, err
	}

	return true, current, tx.Commit()
}

// SetOrderStatus applies a conditional fulfilment transition. The shipped
// date is stamped when the order moves to SHIPPED. Returns false when the
// order was not in the expected source status.
func (s *Store) SetOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) (bool, error) {
	query := `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`
	if to == models.OrderStatusShipped {
		query = `
		UPDATE orders SET status = $1, shipped_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3`
	}

	res, err := s.db.ExecContext(ctx, query, to, orderID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkReturnRequested records a return request on a shipped order. Returns
// are recorded only; they do not change the order status.
func (s *Store) MarkReturnRequested(ctx context.Context, orderID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET return_requested = TRUE, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		orderID, models.OrderStatusShipped)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
