package paymob

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:       baseURL,
		APIKey:        "api-key-123",
		IntegrationID: 4321,
		IframeID:      "111222",
		Currency:      "EGP",
		Timeout:       2 * time.Second,
	})
}

func TestAuthenticate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, authPath, r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "api-key-123", req["api_key"])

		json.NewEncoder(w).Encode(map[string]string{"token": "bearer-token"})
	}))
	defer srv.Close()

	token, err := testClient(srv.URL).Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bearer-token", token)
}

func TestAuthenticateFailsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Authenticate(context.Background())
	assert.Error(t, err)
}

func TestAuthenticateFailsOnEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Authenticate(context.Background())
	assert.Error(t, err)
}

func TestRegisterOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, orderPath, r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "auth-tok", req["auth_token"])
		assert.Equal(t, "150050", req["amount_cents"])
		assert.Equal(t, "EGP", req["currency"])
		assert.Equal(t, "tok-abc", req["merchant_order_id"])

		json.NewEncoder(w).Encode(map[string]int64{"id": 777})
	}))
	defer srv.Close()

	items := []OrderItem{{Name: "product-1", AmountCents: 75025, Quantity: 2}}
	id, err := testClient(srv.URL).RegisterOrder(context.Background(), "auth-tok", 150050, "tok-abc", items)
	require.NoError(t, err)
	assert.Equal(t, int64(777), id)
}

func TestPaymentKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, paymentKeyPath, r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "150050", req["amount_cents"])
		assert.Equal(t, float64(777), req["order_id"])
		assert.Equal(t, float64(4321), req["integration_id"])

		billing, ok := req["billing_data"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "Jane", billing["first_name"])

		json.NewEncoder(w).Encode(map[string]string{"token": "payment-key"})
	}))
	defer srv.Close()

	key, err := testClient(srv.URL).PaymentKey(context.Background(), "auth-tok", 777, 150050,
		BillingData{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "payment-key", key)
}

func TestBuildRedirectURL(t *testing.T) {
	c := testClient("https://accept.example.com")

	url := c.BuildRedirectURL("pk 123")
	assert.Equal(t, "https://accept.example.com/api/acceptance/iframes/111222?payment_token=pk+123", url)
}

func TestGatewayTimeoutIsBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]string{"token": "late"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Timeout: 50 * time.Millisecond})
	_, err := c.Authenticate(context.Background())
	assert.Error(t, err)
}
