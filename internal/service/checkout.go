package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/paymob"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutStore is the persistence surface the checkout flow needs.
type CheckoutStore interface {
	GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error)
	GetUserByID(ctx context.Context, userID int64) (*models.User, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	AssembleOrder(ctx context.Context, order *models.Order, lines []models.OrderLine) (*models.StockShortage, error)
	SetOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) (bool, error)
	SetGatewayOrderID(ctx context.Context, orderID, gatewayOrderID int64) error
	UpsertCartLine(ctx context.Context, userID, productID int64, quantity int) (*models.StockShortage, error)
	DeleteCartLine(ctx context.Context, userID, productID int64) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
}

// PaymentGateway is the external processor surface: token, mirror order,
// payment key, redirect.
type PaymentGateway interface {
	Authenticate(ctx context.Context) (string, error)
	RegisterOrder(ctx context.Context, authToken string, amountCents int64, merchantOrderRef string, items []paymob.OrderItem) (int64, error)
	PaymentKey(ctx context.Context, authToken string, gatewayOrderID, amountCents int64, billing paymob.BillingData) (string, error)
	BuildRedirectURL(paymentKey string) string
}

// PendingCheckoutStore keeps the time-bounded pending-checkout records for
// the online-payment path.
type PendingCheckoutStore interface {
	PutPendingCheckout(ctx context.Context, token string, pc redisclient.PendingCheckout, ttl time.Duration) error
	GetPendingCheckout(ctx context.Context, token string) (*redisclient.PendingCheckout, error)
	DeletePendingCheckout(ctx context.Context, token string) error
	AcquireCheckoutLock(ctx context.Context, userID int64, ttl time.Duration) (bool, error)
	ReleaseCheckoutLock(ctx context.Context, userID int64) error
}

// LifecycleEvents publishes order lifecycle events. Publishing is
// fire-and-forget: failures are logged and never change the outcome of the
// operation that triggered them.
type LifecycleEvents interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderApproved(ctx context.Context, event *models.OrderApprovedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderShipped(ctx context.Context, event *models.OrderShippedEvent) error
}

// CheckoutService converts carts into orders: reservation, header and line
// creation, and the hand-off to the hosted payment page.
type CheckoutService struct {
	store      CheckoutStore
	gateway    PaymentGateway
	pending    PendingCheckoutStore
	events     LifecycleEvents
	pendingTTL time.Duration
	lockTTL    time.Duration
	logger     *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	store CheckoutStore,
	gateway PaymentGateway,
	pending PendingCheckoutStore,
	events LifecycleEvents,
	pendingTTL time.Duration,
) *CheckoutService {
	if pendingTTL <= 0 {
		pendingTTL = 30 * time.Minute
	}
	return &CheckoutService{
		store:      store,
		gateway:    gateway,
		pending:    pending,
		events:     events,
		pendingTTL: pendingTTL,
		lockTTL:    15 * time.Second,
		logger:     util.GetLogger(),
	}
}

// CheckoutRequest represents a request to check out the user's cart
type CheckoutRequest struct {
	UserID         int64  `json:"user_id" binding:"required"`
	PaymentMethod  string `json:"payment_method" binding:"required"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// CheckoutResponse represents the outcome of a checkout
type CheckoutResponse struct {
	OrderID     int64              `json:"order_id"`
	Status      models.OrderStatus `json:"status"`
	TotalCents  int64              `json:"total_cents"`
	RedirectURL string             `json:"redirect_url,omitempty"`
}

// Checkout assembles the user's cart into an order. Reservation, header,
// lines and cart clearing all commit in one transaction; for online payment
// the committed PENDING order is then registered with the gateway and the
// shopper sent to the hosted payment page.
func (s *CheckoutService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout")
	defer span.End()

	util.CheckoutsTotal.Inc()

	method, err := models.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("invalid_method").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate checkout request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", existing.ID))
			return &CheckoutResponse{
				OrderID:    existing.ID,
				Status:     existing.Status,
				TotalCents: existing.TotalCents,
			}, nil
		}
	} else {
		req.IdempotencyKey = uuid.New().String()
	}

	acquired, err := s.pending.AcquireCheckoutLock(ctx, req.UserID, s.lockTTL)
	if err != nil {
		s.logger.Warn("Checkout lock unavailable, proceeding without it", zap.Error(err))
	} else if !acquired {
		util.CheckoutsFailedTotal.WithLabelValues("concurrent_checkout").Inc()
		return nil, ErrCheckoutInProgress
	} else {
		defer func() {
			if err := s.pending.ReleaseCheckoutLock(context.Background(), req.UserID); err != nil {
				s.logger.Warn("Failed to release checkout lock", zap.Error(err))
			}
		}()
	}

	cartLines, err := s.store.GetCartLines(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if len(cartLines) == 0 {
		util.CheckoutsFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, ErrEmptyCart
	}

	user, err := s.store.GetUserByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user profile: %w", err)
	}

	checkoutToken := uuid.New().String()
	order := &models.Order{
		UserID:         req.UserID,
		Status:         models.OrderStatusPending,
		PaymentStatus:  models.PaymentStatusPending,
		PaymentMethod:  method,
		IdempotencyKey: req.IdempotencyKey,
		Address:        snapshotAddress(user),
	}
	if method == models.PaymentMethodOnline {
		order.CheckoutToken = sql.NullString{String: checkoutToken, Valid: true}
	}

	lines := make([]models.OrderLine, len(cartLines))
	for i, cl := range cartLines {
		lines[i] = models.OrderLine{ProductID: cl.ProductID, Quantity: cl.Quantity}
	}

	shortage, err := s.store.AssembleOrder(ctx, order, lines)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to assemble order: %w", err)
	}
	if shortage != nil {
		util.StockShortagesTotal.Inc()
		util.CheckoutsFailedTotal.WithLabelValues("insufficient_stock").Inc()
		return nil, &InsufficientStockError{Shortage: *shortage}
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("total_cents", order.TotalCents),
		zap.String("payment_method", string(method)))

	s.publishPlaced(ctx, order, lines)

	if method == models.PaymentMethodCashOnDelivery {
		return s.approveCashOnDelivery(ctx, order)
	}

	return s.startOnlinePayment(ctx, order, lines, checkoutToken)
}

// approveCashOnDelivery advances a freshly committed COD order to APPROVED.
// The transition is conditional, so a racing cancellation wins cleanly.
func (s *CheckoutService) approveCashOnDelivery(ctx context.Context, order *models.Order) (*CheckoutResponse, error) {
	applied, err := s.store.SetOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to approve order: %w", err)
	}

	status := models.OrderStatusPending
	if applied {
		status = models.OrderStatusApproved
		util.OrdersApprovedTotal.Inc()
		s.publishApproved(ctx, order.ID, order.UserID, "")
	}

	return &CheckoutResponse{
		OrderID:    order.ID,
		Status:     status,
		TotalCents: order.TotalCents,
	}, nil
}

// startOnlinePayment registers the committed order with the gateway and
// builds the hosted-payment-page redirect. Any gateway failure leaves the
// order PENDING; a later webhook or a fresh payment attempt resolves it.
func (s *CheckoutService) startOnlinePayment(ctx context.Context, order *models.Order, lines []models.OrderLine, checkoutToken string) (*CheckoutResponse, error) {
	pc := redisclient.PendingCheckout{
		OrderID:     order.ID,
		AmountCents: order.TotalCents,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.pending.PutPendingCheckout(ctx, checkoutToken, pc, s.pendingTTL); err != nil {
		// Correlation falls back to the gateway order id.
		s.logger.Warn("Failed to store pending checkout record",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}

	authToken, err := s.gateway.Authenticate(ctx)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("gateway_auth").Inc()
		return nil, &GatewayError{OrderID: order.ID, Err: err}
	}

	items := make([]paymob.OrderItem, len(lines))
	for i, line := range lines {
		items[i] = paymob.OrderItem{
			Name:        fmt.Sprintf("product-%d", line.ProductID),
			AmountCents: line.UnitPriceCents,
			Quantity:    line.Quantity,
		}
	}

	gatewayOrderID, err := s.gateway.RegisterOrder(ctx, authToken, order.TotalCents, checkoutToken, items)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("gateway_register").Inc()
		return nil, &GatewayError{OrderID: order.ID, Err: err}
	}

	// Persisted before the redirect so notifications correlate even when
	// the shopper never comes back.
	if err := s.store.SetGatewayOrderID(ctx, order.ID, gatewayOrderID); err != nil {
		return nil, fmt.Errorf("failed to persist gateway order id for order %d: %w", order.ID, err)
	}

	paymentKey, err := s.gateway.PaymentKey(ctx, authToken, gatewayOrderID, order.TotalCents, billingData(order))
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("gateway_payment_key").Inc()
		return nil, &GatewayError{OrderID: order.ID, Err: err}
	}

	return &CheckoutResponse{
		OrderID:     order.ID,
		Status:      models.OrderStatusPending,
		TotalCents:  order.TotalCents,
		RedirectURL: s.gateway.BuildRedirectURL(paymentKey),
	}, nil
}

// AddToCart adds a product to the user's cart or replaces its quantity,
// enforcing the cart-line invariants.
func (s *CheckoutService) AddToCart(ctx context.Context, userID, productID int64, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("quantity must be at least 1")
	}

	shortage, err := s.store.UpsertCartLine(ctx, userID, productID, quantity)
	if err != nil {
		return err
	}
	if shortage != nil {
		return &InsufficientStockError{Shortage: *shortage}
	}
	return nil
}

// RemoveFromCart removes a product from the user's cart
func (s *CheckoutService) RemoveFromCart(ctx context.Context, userID, productID int64) error {
	return s.store.DeleteCartLine(ctx, userID, productID)
}

// ListOrders retrieves a user's orders, newest first
func (s *CheckoutService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.GetOrdersByUserID(ctx, userID)
}

// GetOrder retrieves an order and its lines
func (s *CheckoutService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderLine, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, ErrOrderNotFound
	}

	lines, err := s.store.GetOrderLines(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, lines, nil
}

func (s *CheckoutService) publishPlaced(ctx context.Context, order *models.Order, lines []models.OrderLine) {
	items := make([]models.OrderLineData, len(lines))
	for i, line := range lines {
		items[i] = models.OrderLineData{
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
		}
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:       order.ID,
		UserID:        order.UserID,
		TotalCents:    order.TotalCents,
		PaymentMethod: order.PaymentMethod,
		Items:         items,
	}
	if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}

func (s *CheckoutService) publishApproved(ctx context.Context, orderID, userID int64, transactionID string) {
	event := &models.OrderApprovedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderApproved,
			Timestamp: time.Now(),
		},
		OrderID:       orderID,
		UserID:        userID,
		TransactionID: transactionID,
	}
	if err := s.events.PublishOrderApproved(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderApproved event", zap.Error(err))
	}
}

// billingData maps the sanitized address snapshot into the gateway's
// billing fields.
func billingData(order *models.Order) paymob.BillingData {
	return paymob.BillingData{
		FirstName: order.FirstName,
		LastName:  order.LastName,
		Email:     order.Email,
		Phone:     order.Phone,
		Street:    order.Street,
		Building:  order.Building,
		Floor:     order.Floor,
		Apartment: "NA",
		City:      order.State,
		Country:   order.Country,
		State:     order.State,
	}
}
