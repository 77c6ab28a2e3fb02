// Package paymob implements the hosted-payment-page flow of the Paymob
// acceptance API: exchange the API key for a short-lived token, mirror the
// order on the gateway, issue a payment key, and hand the shopper a redirect
// URL. It also verifies the HMAC signatures the gateway attaches to its
// callbacks and webhooks.
package paymob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"checkout-service/internal/util"

	"go.uber.org/zap"
)

const (
	authPath       = "/api/auth/tokens"
	orderPath      = "/api/ecommerce/orders"
	paymentKeyPath = "/api/acceptance/payment_keys"
	iframePath     = "/api/acceptance/iframes"
)

// Config carries the merchant credentials and endpoints.
type Config struct {
	BaseURL       string
	APIKey        string
	HMACSecret    string
	IntegrationID int64
	IframeID      string
	Currency      string
	Timeout       time.Duration
}

// Client talks to the gateway over HTTP. Every call is bounded by the
// configured timeout; the gateway being slow must not pin a checkout
// request forever.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a gateway client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: util.GetLogger(),
	}
}

// OrderItem mirrors one order line on the gateway side.
type OrderItem struct {
	Name        string `json:"name"`
	AmountCents int64  `json:"amount_cents"`
	Quantity    int    `json:"quantity"`
}

// BillingData is the sanitized address snapshot the gateway requires when
// issuing a payment key.
type BillingData struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone_number"`
	Street    string `json:"street"`
	Building  string `json:"building"`
	Floor     string `json:"floor"`
	Apartment string `json:"apartment"`
	City      string `json:"city"`
	Country   string `json:"country"`
	State     string `json:"state"`
}

// Authenticate exchanges the static API key for a short-lived bearer token.
// Nothing proceeds without it.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues("authenticate").Observe(time.Since(start).Seconds())
	}()

	var resp struct {
		Token string `json:"token"`
	}
	err := c.post(ctx, authPath, map[string]string{"api_key": c.cfg.APIKey}, &resp)
	if err != nil {
		return "", fmt.Errorf("gateway auth failed: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("gateway auth returned empty token")
	}
	return resp.Token, nil
}

// RegisterOrder creates a mirror of the local order on the gateway and
// returns its id. The merchant order ref is the checkout token so inbound
// notifications can be correlated even if the id lookup fails.
func (c *Client) RegisterOrder(ctx context.Context, authToken string, amountCents int64, merchantOrderRef string, items []OrderItem) (int64, error) {
	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues("register_order").Observe(time.Since(start).Seconds())
	}()

	req := map[string]interface{}{
		"auth_token":        authToken,
		"delivery_needed":   false,
		"amount_cents":      strconv.FormatInt(amountCents, 10),
		"currency":          c.cfg.Currency,
		"merchant_order_id": merchantOrderRef,
		"items":             items,
	}

	var resp struct {
		ID int64 `json:"id"`
	}
	if err := c.post(ctx, orderPath, req, &resp); err != nil {
		return 0, fmt.Errorf("gateway order registration failed: %w", err)
	}
	if resp.ID == 0 {
		return 0, fmt.Errorf("gateway order registration returned no id")
	}

	c.logger.Info("Registered order on gateway",
		zap.Int64("gateway_order_id", resp.ID),
		zap.String("merchant_order_ref", merchantOrderRef))
	return resp.ID, nil
}

// PaymentKey issues the single-use token that unlocks the hosted payment
// page. The amount must match the registered order's amount exactly.
func (c *Client) PaymentKey(ctx context.Context, authToken string, gatewayOrderID, amountCents int64, billing BillingData) (string, error) {
	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues("payment_key").Observe(time.Since(start).Seconds())
	}()

	req := map[string]interface{}{
		"auth_token":     authToken,
		"amount_cents":   strconv.FormatInt(amountCents, 10),
		"currency":       c.cfg.Currency,
		"order_id":       gatewayOrderID,
		"integration_id": c.cfg.IntegrationID,
		"billing_data":   billing,
		"expiration":     3600,
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, paymentKeyPath, req, &resp); err != nil {
		return "", fmt.Errorf("gateway payment key failed: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("gateway payment key returned empty token")
	}
	return resp.Token, nil
}

// BuildRedirectURL composes the hosted payment page URL. Pure string work,
// no side effects.
func (c *Client) BuildRedirectURL(paymentKey string) string {
	return fmt.Sprintf("%s%s/%s?payment_token=%s",
		c.cfg.BaseURL, iframePath, c.cfg.IframeID, url.QueryEscape(paymentKey))
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}
