package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/paymob"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReconcilerStore is the persistence surface for status reconciliation.
// Every transition method is conditional: it reports whether the write
// applied, which is what makes duplicate notifications no-ops.
type ReconcilerStore interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID int64) (*models.Order, error)
	ApproveOrder(ctx context.Context, orderID int64, transactionID string) (bool, error)
	RejectOrder(ctx context.Context, orderID int64) (bool, error)
	CancelOrder(ctx context.Context, orderID int64) (bool, models.OrderStatus, error)
	SetOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) (bool, error)
	MarkReturnRequested(ctx context.Context, orderID int64) (bool, error)
}

// Reconciler drives order/payment status transitions from gateway
// notifications, user cancellations and admin overrides.
type Reconciler struct {
	store    ReconcilerStore
	verifier *paymob.Verifier
	pending  PendingCheckoutStore
	events   LifecycleEvents
	logger   *zap.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(
	store ReconcilerStore,
	verifier *paymob.Verifier,
	pending PendingCheckoutStore,
	events LifecycleEvents,
) *Reconciler {
	return &Reconciler{
		store:    store,
		verifier: verifier,
		pending:  pending,
		events:   events,
		logger:   util.GetLogger(),
	}
}

// CallbackResult is what the synchronous return handler renders back to the
// shopper's browser.
type CallbackResult struct {
	OrderID int64              `json:"order_id"`
	Status  models.OrderStatus `json:"status"`
	Paid    bool               `json:"paid"`
}

// HandleWebhook authenticates and applies an asynchronous server-to-server
// notification. Verification happens before any state is touched; a failed
// signature is logged as a candidate forgery and nothing is mutated.
func (r *Reconciler) HandleWebhook(ctx context.Context, body []byte, receivedHMAC string) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleWebhook")
	defer span.End()

	event, err := r.verifier.VerifyWebhook(body, receivedHMAC)
	if err != nil {
		r.rejectNotification(err)
		return err
	}

	_, err = r.applyTransaction(ctx, event)
	return err
}

// HandleCallback authenticates and applies the synchronous browser return.
// It is safe against stale or replayed query parameters: the same checks
// and the same conditional writes as the webhook path apply.
func (r *Reconciler) HandleCallback(ctx context.Context, query url.Values) (*CallbackResult, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleCallback")
	defer span.End()

	event, err := r.verifier.VerifyCallback(query)
	if err != nil {
		r.rejectNotification(err)
		return nil, err
	}

	return r.applyTransaction(ctx, event)
}

// applyTransaction correlates the verified event with a local order and
// applies the approve or reject transition exactly once.
func (r *Reconciler) applyTransaction(ctx context.Context, event *paymob.TransactionEvent) (*CallbackResult, error) {
	order, err := r.resolveOrder(ctx, event)
	if err != nil {
		return nil, err
	}

	if event.AmountCents != order.TotalCents {
		util.WebhooksRejectedTotal.WithLabelValues("amount_mismatch").Inc()
		r.logger.Warn("Notification amount does not match order total",
			zap.Int64("order_id", order.ID),
			zap.Int64("order_total_cents", order.TotalCents),
			zap.Int64("notified_cents", event.AmountCents))
		return nil, ErrAmountMismatch
	}

	if event.Success {
		applied, err := r.store.ApproveOrder(ctx, order.ID, event.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("failed to approve order %d: %w", order.ID, err)
		}
		if applied {
			util.OrdersApprovedTotal.Inc()
			util.WebhooksTotal.WithLabelValues("approved").Inc()
			r.logger.Info("Payment confirmed",
				zap.Int64("order_id", order.ID),
				zap.String("transaction_id", event.TransactionID))
			r.publishApproved(ctx, order, event.TransactionID)
		} else {
			util.WebhooksTotal.WithLabelValues("duplicate").Inc()
			r.logger.Info("Duplicate payment confirmation ignored",
				zap.Int64("order_id", order.ID))
		}
		r.retirePendingCheckout(ctx, order)
		return &CallbackResult{OrderID: order.ID, Status: models.OrderStatusApproved, Paid: true}, nil
	}

	applied, err := r.store.RejectOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reject order %d: %w", order.ID, err)
	}
	if applied {
		util.OrdersCancelledTotal.WithLabelValues("payment_failed").Inc()
		util.WebhooksTotal.WithLabelValues("rejected").Inc()
		r.logger.Info("Payment rejected, order cancelled and stock released",
			zap.Int64("order_id", order.ID))
		r.publishCancelled(ctx, order, "payment_rejected")
	} else {
		util.WebhooksTotal.WithLabelValues("duplicate").Inc()
		r.logger.Info("Duplicate payment rejection ignored",
			zap.Int64("order_id", order.ID))
	}
	r.retirePendingCheckout(ctx, order)
	return &CallbackResult{OrderID: order.ID, Status: models.OrderStatusCancelled, Paid: false}, nil
}

// resolveOrder finds the local order for a notification, first by the
// stored gateway order id, then through the pending-checkout token carried
// as the merchant order ref.
func (r *Reconciler) resolveOrder(ctx context.Context, event *paymob.TransactionEvent) (*models.Order, error) {
	order, err := r.store.GetOrderByGatewayOrderID(ctx, event.GatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up order: %w", err)
	}

	if order == nil && event.MerchantOrderRef != "" {
		pc, err := r.pending.GetPendingCheckout(ctx, event.MerchantOrderRef)
		if err != nil {
			r.logger.Warn("Pending checkout lookup failed", zap.Error(err))
		} else if pc != nil {
			order, err = r.store.GetOrderByID(ctx, pc.OrderID)
			if err != nil {
				return nil, fmt.Errorf("failed to look up order: %w", err)
			}
		}
	}

	if order == nil {
		util.WebhooksRejectedTotal.WithLabelValues("unknown_order").Inc()
		r.logger.Warn("Notification references no known order",
			zap.Int64("gateway_order_id", event.GatewayOrderID),
			zap.String("merchant_order_ref", event.MerchantOrderRef))
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (r *Reconciler) retirePendingCheckout(ctx context.Context, order *models.Order) {
	if !order.CheckoutToken.Valid {
		return
	}
	if err := r.pending.DeletePendingCheckout(ctx, order.CheckoutToken.String); err != nil {
		r.logger.Warn("Failed to delete pending checkout record",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

func (r *Reconciler) rejectNotification(err error) {
	reason := "bad_signature"
	if errors.Is(err, paymob.ErrMissingFields) {
		reason = "missing_fields"
	}
	util.WebhooksRejectedTotal.WithLabelValues(reason).Inc()
	r.logger.Warn("Rejected payment notification", zap.String("reason", reason), zap.Error(err))
}

// Cancel performs a user- or admin-initiated cancellation. Only PENDING and
// APPROVED orders can be cancelled; the store releases the reserved stock
// in the same transaction as the transition.
func (r *Reconciler) Cancel(ctx context.Context, orderID int64, trigger string) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.Cancel")
	defer span.End()

	applied, current, err := r.store.CancelOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !applied {
		return &IllegalTransitionError{From: current, To: models.OrderStatusCancelled}
	}

	util.OrdersCancelledTotal.WithLabelValues(trigger).Inc()
	r.logger.Info("Order cancelled",
		zap.Int64("order_id", orderID),
		zap.String("trigger", trigger))

	if order, err := r.store.GetOrderByID(ctx, orderID); err == nil && order != nil {
		r.publishCancelled(ctx, order, trigger)
	}
	return nil
}

// SetStatus applies an admin-forced transition. Admins can push orders
// through fulfilment regardless of payment triggers, but terminal states
// stay terminal and unknown edges stay illegal.
func (r *Reconciler) SetStatus(ctx context.Context, orderID int64, to models.OrderStatus) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.SetStatus")
	defer span.End()

	if to == models.OrderStatusCancelled {
		return r.Cancel(ctx, orderID, "admin")
	}

	order, err := r.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrOrderNotFound
	}

	from := order.Status
	if !models.CanTransition(from, to) {
		return &IllegalTransitionError{From: from, To: to}
	}

	var applied bool
	if to == models.OrderStatusApproved {
		// Manual confirmation for pay-on-delivery stamps the payment too.
		applied, err = r.store.ApproveOrder(ctx, orderID, "")
	} else {
		applied, err = r.store.SetOrderStatus(ctx, orderID, from, to)
	}
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("order %d changed concurrently, not moved to %s", orderID, to)
	}

	r.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	if to == models.OrderStatusApproved {
		util.OrdersApprovedTotal.Inc()
		r.publishApproved(ctx, order, "")
	}
	if to == models.OrderStatusShipped {
		r.publishShipped(ctx, order)
	}
	return nil
}

// RequestReturn records a return request on a shipped order.
func (r *Reconciler) RequestReturn(ctx context.Context, orderID int64) error {
	applied, err := r.store.MarkReturnRequested(ctx, orderID)
	if err != nil {
		return err
	}
	if !applied {
		return ErrReturnNotAllowed
	}
	return nil
}

func (r *Reconciler) publishApproved(ctx context.Context, order *models.Order, transactionID string) {
	event := &models.OrderApprovedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderApproved,
			Timestamp: time.Now(),
		},
		OrderID:       order.ID,
		UserID:        order.UserID,
		TransactionID: transactionID,
	}
	if err := r.events.PublishOrderApproved(ctx, event); err != nil {
		r.logger.Error("Failed to publish OrderApproved event", zap.Error(err))
	}
}

func (r *Reconciler) publishCancelled(ctx context.Context, order *models.Order, reason string) {
	event := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCancelled,
			Timestamp: time.Now(),
		},
		OrderID: order.ID,
		UserID:  order.UserID,
		Reason:  reason,
	}
	if err := r.events.PublishOrderCancelled(ctx, event); err != nil {
		r.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}
}

func (r *Reconciler) publishShipped(ctx context.Context, order *models.Order) {
	event := &models.OrderShippedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderShipped,
			Timestamp: time.Now(),
		},
		OrderID: order.ID,
		UserID:  order.UserID,
	}
	if err := r.events.PublishOrderShipped(ctx, event); err != nil {
		r.logger.Error("Failed to publish OrderShipped event", zap.Error(err))
	}
}
