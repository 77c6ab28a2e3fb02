package service

import (
	"context"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/paymob"
	"checkout-service/internal/redisclient"
)

// In-memory store implementing both CheckoutStore and ReconcilerStore with
// the same conditional-write semantics as the SQL layer.
type fakeStore struct {
	mu         sync.Mutex
	carts      map[int64][]models.CartLine
	users      map[int64]*models.User
	orders     map[int64]*models.Order
	orderLines map[int64][]models.OrderLine
	prices     map[int64]int64
	nextID     int64

	assembleShortage *models.StockShortage
	assembleErr      error
	upsertShortage   *models.StockShortage
	gatewayIDErr     error

	assembleCalls  int
	releasedOrders []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		carts:      make(map[int64][]models.CartLine),
		users:      make(map[int64]*models.User),
		orders:     make(map[int64]*models.Order),
		orderLines: make(map[int64][]models.OrderLine),
		prices:     make(map[int64]int64),
		nextID:     100,
	}
}

func (f *fakeStore) GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.carts[userID], nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID], nil
}

func (f *fakeStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.IdempotencyKey == key {
			return o, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) AssembleOrder(ctx context.Context, order *models.Order, lines []models.OrderLine) (*models.StockShortage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assembleCalls++
	if f.assembleErr != nil {
		return nil, f.assembleErr
	}
	if f.assembleShortage != nil {
		return f.assembleShortage, nil
	}

	f.nextID++
	order.ID = f.nextID
	order.CreatedAt = time.Now()
	var total int64
	for i := range lines {
		lines[i].OrderID = order.ID
		lines[i].UnitPriceCents = f.prices[lines[i].ProductID]
		total += lines[i].UnitPriceCents * int64(lines[i].Quantity)
	}
	order.TotalCents = total
	f.orders[order.ID] = order
	f.orderLines[order.ID] = lines
	delete(f.carts, order.UserID)
	return nil, nil
}

func (f *fakeStore) SetOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}

func (f *fakeStore) SetGatewayOrderID(ctx context.Context, orderID, gatewayOrderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gatewayIDErr != nil {
		return f.gatewayIDErr
	}
	if o, ok := f.orders[orderID]; ok {
		o.GatewayOrderID.Int64 = gatewayOrderID
		o.GatewayOrderID.Valid = true
	}
	return nil
}

func (f *fakeStore) UpsertCartLine(ctx context.Context, userID, productID int64, quantity int) (*models.StockShortage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertShortage != nil {
		return f.upsertShortage, nil
	}
	f.carts[userID] = append(f.carts[userID], models.CartLine{
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
	})
	return nil, nil
}

func (f *fakeStore) DeleteCartLine(ctx context.Context, userID, productID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := f.carts[userID][:0]
	for _, cl := range f.carts[userID] {
		if cl.ProductID != productID {
			lines = append(lines, cl)
		}
	}
	f.carts[userID] = lines
	return nil
}

func (f *fakeStore) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var orders []models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

func (f *fakeStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id], nil
}

func (f *fakeStore) GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orderLines[orderID], nil
}

func (f *fakeStore) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.GatewayOrderID.Valid && o.GatewayOrderID.Int64 == gatewayOrderID {
			return o, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ApproveOrder(ctx context.Context, orderID int64, transactionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.Status != models.OrderStatusPending || o.PaymentStatus != models.PaymentStatusPending {
		return false, nil
	}
	o.Status = models.OrderStatusApproved
	o.PaymentStatus = models.PaymentStatusApproved
	if transactionID != "" {
		o.TransactionID.String = transactionID
		o.TransactionID.Valid = true
	}
	now := time.Now()
	o.PaidAt = &now
	return true, nil
}

func (f *fakeStore) RejectOrder(ctx context.Context, orderID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.Status != models.OrderStatusPending || o.PaymentStatus != models.PaymentStatusPending {
		return false, nil
	}
	o.Status = models.OrderStatusCancelled
	o.PaymentStatus = models.PaymentStatusRejected
	f.releasedOrders = append(f.releasedOrders, orderID)
	return true, nil
}

func (f *fakeStore) CancelOrder(ctx context.Context, orderID int64) (bool, models.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return false, "", nil
	}
	if !o.Status.Cancellable() {
		return false, o.Status, nil
	}
	prev := o.Status
	o.Status = models.OrderStatusCancelled
	if o.PaymentStatus == models.PaymentStatusPending {
		o.PaymentStatus = models.PaymentStatusRejected
	}
	f.releasedOrders = append(f.releasedOrders, orderID)
	return true, prev, nil
}

func (f *fakeStore) MarkReturnRequested(ctx context.Context, orderID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.Status != models.OrderStatusShipped {
		return false, nil
	}
	o.ReturnRequested = true
	return true, nil
}

type fakePending struct {
	mu          sync.Mutex
	records     map[string]redisclient.PendingCheckout
	lockBusy    bool
	lockErr     error
	putErr      error
	deletedKeys []string
}

func newFakePending() *fakePending {
	return &fakePending{records: make(map[string]redisclient.PendingCheckout)}
}

func (f *fakePending) PutPendingCheckout(ctx context.Context, token string, pc redisclient.PendingCheckout, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.records[token] = pc
	return nil
}

func (f *fakePending) GetPendingCheckout(ctx context.Context, token string) (*redisclient.PendingCheckout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pc, ok := f.records[token]
	if !ok {
		return nil, nil
	}
	return &pc, nil
}

func (f *fakePending) DeletePendingCheckout(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, token)
	f.deletedKeys = append(f.deletedKeys, token)
	return nil
}

func (f *fakePending) AcquireCheckoutLock(ctx context.Context, userID int64, ttl time.Duration) (bool, error) {
	if f.lockErr != nil {
		return false, f.lockErr
	}
	return !f.lockBusy, nil
}

func (f *fakePending) ReleaseCheckoutLock(ctx context.Context, userID int64) error {
	return nil
}

type registeredOrder struct {
	amountCents int64
	merchantRef string
	items       []paymob.OrderItem
}

type fakeGateway struct {
	authErr     error
	registerErr error
	keyErr      error

	authCalls  int
	registered []registeredOrder
}

func (f *fakeGateway) Authenticate(ctx context.Context) (string, error) {
	f.authCalls++
	if f.authErr != nil {
		return "", f.authErr
	}
	return "auth-token", nil
}

func (f *fakeGateway) RegisterOrder(ctx context.Context, authToken string, amountCents int64, merchantOrderRef string, items []paymob.OrderItem) (int64, error) {
	if f.registerErr != nil {
		return 0, f.registerErr
	}
	f.registered = append(f.registered, registeredOrder{amountCents, merchantOrderRef, items})
	return 9000 + int64(len(f.registered)), nil
}

func (f *fakeGateway) PaymentKey(ctx context.Context, authToken string, gatewayOrderID, amountCents int64, billing paymob.BillingData) (string, error) {
	if f.keyErr != nil {
		return "", f.keyErr
	}
	return "payment-key", nil
}

func (f *fakeGateway) BuildRedirectURL(paymentKey string) string {
	return "https://pay.example.com/iframe?payment_token=" + paymentKey
}

type fakeEvents struct {
	mu        sync.Mutex
	placed    []*models.OrderPlacedEvent
	approved  []*models.OrderApprovedEvent
	cancelled []*models.OrderCancelledEvent
	shipped   []*models.OrderShippedEvent
}

func (f *fakeEvents) PublishOrderPlaced(ctx context.Context, e *models.OrderPlacedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, e)
	return nil
}

func (f *fakeEvents) PublishOrderApproved(ctx context.Context, e *models.OrderApprovedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approved = append(f.approved, e)
	return nil
}

func (f *fakeEvents) PublishOrderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, e)
	return nil
}

func (f *fakeEvents) PublishOrderShipped(ctx context.Context, e *models.OrderShippedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shipped = append(f.shipped, e)
	return nil
}
