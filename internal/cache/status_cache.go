package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelgate/backend/internal/evm"
	"github.com/redis/go-redis/v9"
)

// StatusEntry is a last-known-valid payment verdict.
type StatusEntry struct {
	TransactionHash string    `json:"transaction_hash"`
	AmountWei       string    `json:"amount_wei"`
	PaymentTime     time.Time `json:"payment_time"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// StatusCache keeps payment status verdicts in Redis for a short time so UI
// polling does not hit the chain on every request.
type StatusCache struct {
	client *redis.Client
	prefix string
}

func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{client: client, prefix: "payment-status"}
}

func (c *StatusCache) key(category string, wallet evm.Address) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, category, wallet)
}

// Get returns nil without error on a miss.
func (c *StatusCache) Get(ctx context.Context, category string, wallet evm.Address) (*StatusEntry, error) {
	raw, err := c.client.Get(ctx, c.key(category, wallet)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var e StatusEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		// a corrupt entry is a miss
		_ = c.client.Del(ctx, c.key(category, wallet)).Err()
		return nil, nil
	}
	return &e, nil
}

// Set stores e for at most ttl. Non-positive ttl stores nothing.
func (c *StatusCache) Set(ctx context.Context, category string, wallet evm.Address, e StatusEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(category, wallet), data, ttl).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, category string, wallet evm.Address) error {
	return c.client.Del(ctx, c.key(category, wallet)).Err()
}
