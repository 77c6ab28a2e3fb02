package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkoutFixture() (*CheckoutService, *fakeStore, *fakeGateway, *fakePending, *fakeEvents) {
	store := newFakeStore()
	store.users[1] = &models.User{
		ID: 1, FirstName: "Jane", LastName: "Doe",
		Email: "jane@example.com", Phone: "0100000000",
		Street: "1 Main St", Building: "4", Floor: "2",
		Country: "EG", State: "Cairo",
	}
	store.prices[10] = 50000
	store.prices[11] = 25050
	store.carts[1] = []models.CartLine{
		{UserID: 1, ProductID: 10, Quantity: 2},
		{UserID: 1, ProductID: 11, Quantity: 2},
	}

	gateway := &fakeGateway{}
	pending := newFakePending()
	events := &fakeEvents{}
	svc := NewCheckoutService(store, gateway, pending, events, 30*time.Minute)
	return svc, store, gateway, pending, events
}

func TestCheckoutRejectsUnknownPaymentMethod(t *testing.T) {
	svc, store, _, _, _ := checkoutFixture()

	_, err := svc.Checkout(context.Background(), &CheckoutRequest{UserID: 1, PaymentMethod: "BITCOIN"})
	assert.Error(t, err)
	assert.Zero(t, store.assembleCalls)
}

func TestCheckoutRejectsEmptyCart(t *testing.T) {
	svc, store, _, _, _ := checkoutFixture()
	delete(store.carts, 1)

	_, err := svc.Checkout(context.Background(), &CheckoutRequest{UserID: 1, PaymentMethod: "CASH_ON_DELIVERY"})
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestCheckoutCashOnDelivery(t *testing.T) {
	svc, store, gateway, _, events := checkoutFixture()

	resp, err := svc.Checkout(context.Background(), &CheckoutRequest{UserID: 1, PaymentMethod: "CASH_ON_DELIVERY"})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusApproved, resp.Status)
	assert.Equal(t, int64(2*50000+2*25050), resp.TotalCents)
	assert.Empty(t, resp.RedirectURL)

	order := store.orders[resp.OrderID]
	require.NotNil(t, order)
	assert.Equal(t, models.OrderStatusApproved, order.Status)
	assert.False(t, order.CheckoutToken.Valid)

	// Cart was consumed by the assembly transaction.
	assert.Empty(t, store.carts[1])

	assert.Zero(t, gateway.authCalls)
	assert.Len(t, events.placed, 1)
	assert.Len(t, events.approved, 1)
	assert.Len(t, events.placed[0].Items, 2)
}

func TestCheckoutOnlineReturnsRedirect(t *testing.T) {
	svc, store, gateway, pending, events := checkoutFixture()

	resp, err := svc.Checkout(context.Background(), &CheckoutRequest{UserID: 1, PaymentMethod: "ONLINE"})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, resp.Status)
	assert.Equal(t, "https://pay.example.com/iframe?payment_token=payment-key", resp.RedirectURL)

	order := store.orders[resp.OrderID]
	require.NotNil(t, order)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	require.True(t, order.GatewayOrderID.Valid)
	require.True(t, order.CheckoutToken.Valid)

	// The mirror order carries the checkout token as its merchant ref and
	// the pending record is retrievable under the same token.
	require.Len(t, gateway.registered, 1)
	assert.Equal(t, order.CheckoutToken.String, gateway.registered[0].merchantRef)
	assert.Equal(t, resp.TotalCents, gateway.registered[0].amountCents)

	pc, err := pending.GetPendingCheckout(context.Background(), order.CheckoutToken.String)
	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Equal(t, order.ID, pc.OrderID)
	assert.Equal(t, resp.TotalCents, pc.AmountCents)

	assert.Len(t, events.placed, 1)
	assert.Empty(t, events.approved)
}

func TestCheckoutOnlineGatewayFailureLeavesOrderPending(t *testing.T) {
	svc, store, gateway, _, events := checkoutFixture()
	gateway.authErr = errors.New("connection refused")

	_, err := svc.Checkout(context.Background(), &CheckoutRequest{UserID: 1, PaymentMethod: "ONLINE"})
	require.Error(t, err)

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)

	// The local order committed before the gateway call and stays PENDING
	// for a later payment attempt or webhook.
	order := store.orders[gwErr.OrderID]
	require.NotNil(t, order)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Len(t, events.placed, 1)
}

func TestCheckoutStockShortage(t *testing.T) {
	svc, store, gateway, _, events := checkoutFixture()
	store.assembleShortage = &models.StockShortage{ProductID: 10, Requested: 2, Available: 1}

	_, err := svc.Checkout(context.Background(), &CheckoutRequest{UserID: 1, PaymentMethod: "ONLINE"})
	require.Error(t, err)

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(10), stockErr.Shortage.ProductID)
	assert.Equal(t, 1, stockErr.Shortage.Available)

	assert.Zero(t, gateway.authCalls)
	assert.Empty(t, events.placed)
}

func TestCheckoutIdempotentReplay(t *testing.T) {
	svc, store, gateway, _, _ := checkoutFixture()

	first, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID: 1, PaymentMethod: "CASH_ON_DELIVERY", IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	require.Equal(t, 1, store.assembleCalls)

	// Same key again: the existing order comes back, nothing is assembled.
	second, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID: 1, PaymentMethod: "CASH_ON_DELIVERY", IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.TotalCents, second.TotalCents)
	assert.Equal(t, 1, store.assembleCalls)
	assert.Zero(t, gateway.authCalls)
}

func TestCheckoutConcurrentAttemptBlocked(t *testing.T) {
	svc, store, _, pending, _ := checkoutFixture()
	pending.lockBusy = true

	_, err := svc.Checkout(context.Background(), &CheckoutRequest{UserID: 1, PaymentMethod: "ONLINE"})
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.Zero(t, store.assembleCalls)
}

func TestCheckoutProceedsWhenLockStoreDown(t *testing.T) {
	svc, _, _, pending, _ := checkoutFixture()
	pending.lockErr = errors.New("redis unavailable")

	resp, err := svc.Checkout(context.Background(), &CheckoutRequest{UserID: 1, PaymentMethod: "CASH_ON_DELIVERY"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusApproved, resp.Status)
}

func TestAddToCart(t *testing.T) {
	svc, store, _, _, _ := checkoutFixture()

	assert.Error(t, svc.AddToCart(context.Background(), 1, 10, 0))

	require.NoError(t, svc.AddToCart(context.Background(), 2, 10, 3))
	assert.Len(t, store.carts[2], 1)

	store.upsertShortage = &models.StockShortage{ProductID: 10, Requested: 50, Available: 3}
	err := svc.AddToCart(context.Background(), 2, 10, 50)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 50, stockErr.Shortage.Requested)
}

func TestGetOrder(t *testing.T) {
	svc, store, _, _, _ := checkoutFixture()

	_, _, err := svc.GetOrder(context.Background(), 404)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	resp, err := svc.Checkout(context.Background(), &CheckoutRequest{UserID: 1, PaymentMethod: "CASH_ON_DELIVERY"})
	require.NoError(t, err)

	order, lines, err := svc.GetOrder(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, resp.OrderID, order.ID)
	assert.Equal(t, store.orders[resp.OrderID].Status, order.Status)
	assert.Len(t, lines, 2)
}
