package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	keyPendingCheckout = "checkout:pending:%s"
	keyCheckoutLock    = "checkout:lock:%d"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// PendingCheckout is the server-side record created for an online-payment
// checkout and keyed by the generated checkout token. It replaces stashing
// the checkout payload in a session: any instance can resolve it, and it
// expires on its own.
type PendingCheckout struct {
	OrderID     int64     `json:"order_id"`
	AmountCents int64     `json:"amount_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

// PutPendingCheckout stores a pending-checkout record under its token with
// a bounded TTL.
func (c *Client) PutPendingCheckout(ctx context.Context, token string, pc PendingCheckout, ttl time.Duration) error {
	payload, err := json.Marshal(pc)
	if err != nil {
		return fmt.Errorf("failed to marshal pending checkout: %w", err)
	}
	return c.rdb.Set(ctx, fmt.Sprintf(keyPendingCheckout, token), payload, ttl).Err()
}

// GetPendingCheckout resolves a checkout token. Returns nil when the token
// is unknown or has expired.
func (c *Client) GetPendingCheckout(ctx context.Context, token string) (*PendingCheckout, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(keyPendingCheckout, token)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var pc PendingCheckout
	if err := json.Unmarshal(raw, &pc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending checkout: %w", err)
	}
	return &pc, nil
}

// DeletePendingCheckout discards a pending-checkout record once the order
// has been reconciled.
func (c *Client) DeletePendingCheckout(ctx context.Context, token string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(keyPendingCheckout, token)).Err()
}

// AcquireCheckoutLock takes a short-lived per-user lock so a double-clicked
// checkout form cannot run two assemblies concurrently.
func (c *Client) AcquireCheckoutLock(ctx context.Context, userID int64, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf(keyCheckoutLock, userID), "1", ttl).Result()
}

// ReleaseCheckoutLock releases the per-user checkout lock
func (c *Client) ReleaseCheckoutLock(ctx context.Context, userID int64) error {
	return c.rdb.Del(ctx, fmt.Sprintf(keyCheckoutLock, userID)).Err()
}
