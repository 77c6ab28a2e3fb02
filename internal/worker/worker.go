package worker

import (
	"context"
	"fmt"
	"log"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/notify"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// NotificationWorker consumes order lifecycle events and dispatches the
// matching user notification. Delivery failures are logged and the event
// committed anyway; notifications never block or retry order processing.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	sender       notify.Sender
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, sender notify.Sender) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		sender:   sender,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPlaced(func(ctx context.Context, e *models.OrderPlacedEvent) error {
		return w.dispatch(ctx, notify.Notification{
			UserID:   e.UserID,
			OrderID:  e.OrderID,
			Template: notify.TemplateOrderPlaced,
			Body:     fmt.Sprintf("Your order #%d has been placed.", e.OrderID),
		})
	})
	eventHandler.OnOrderApproved(func(ctx context.Context, e *models.OrderApprovedEvent) error {
		return w.dispatch(ctx, notify.Notification{
			UserID:   e.UserID,
			OrderID:  e.OrderID,
			Template: notify.TemplateOrderApproved,
			Body:     fmt.Sprintf("Your order #%d has been confirmed.", e.OrderID),
		})
	})
	eventHandler.OnOrderCancelled(func(ctx context.Context, e *models.OrderCancelledEvent) error {
		return w.dispatch(ctx, notify.Notification{
			UserID:   e.UserID,
			OrderID:  e.OrderID,
			Template: notify.TemplateOrderCancelled,
			Body:     fmt.Sprintf("Your order #%d has been cancelled.", e.OrderID),
		})
	})
	eventHandler.OnOrderShipped(func(ctx context.Context, e *models.OrderShippedEvent) error {
		return w.dispatch(ctx, notify.Notification{
			UserID:   e.UserID,
			OrderID:  e.OrderID,
			Template: notify.TemplateOrderShipped,
			Body:     fmt.Sprintf("Your order #%d is on its way.", e.OrderID),
		})
	})
	w.eventHandler = eventHandler

	return w
}

// dispatch sends a notification, absorbing failures.
func (w *NotificationWorker) dispatch(ctx context.Context, n notify.Notification) error {
	if err := w.sender.Send(ctx, n); err != nil {
		util.NotificationsSentTotal.WithLabelValues("failed").Inc()
		w.logger.Error("Failed to send notification",
			zap.Int64("order_id", n.OrderID),
			zap.String("template", n.Template),
			zap.Error(err))
		return nil
	}
	util.NotificationsSentTotal.WithLabelValues("sent").Inc()
	return nil
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}
