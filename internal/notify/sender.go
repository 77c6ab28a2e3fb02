// Package notify dispatches user-facing order notifications. Sending is
// fire-and-forget: a failed notification is logged and counted, never
// propagated back into order processing.
package notify

import (
	"context"

	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// Notification is one message to a user about an order.
type Notification struct {
	UserID   int64
	OrderID  int64
	Template string
	Body     string
}

// Templates for the order lifecycle.
const (
	TemplateOrderPlaced    = "order_placed"
	TemplateOrderApproved  = "order_approved"
	TemplateOrderCancelled = "order_cancelled"
	TemplateOrderShipped   = "order_shipped"
)

// Sender delivers notifications through some channel (email, SMS).
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender is the default delivery channel when no real provider is
// configured: it writes the notification to the log so the pipeline is
// observable end to end.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a log-backed sender
func NewLogSender() *LogSender {
	return &LogSender{logger: util.GetLogger()}
}

// Send logs the notification
func (s *LogSender) Send(ctx context.Context, n Notification) error {
	s.logger.Info("Notification dispatched",
		zap.Int64("user_id", n.UserID),
		zap.Int64("order_id", n.OrderID),
		zap.String("template", n.Template))
	return nil
}
