package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stockKeyPrefix   = "stock:"
	paymentKeyPrefix = "payment:"
	paymentClaimTTL  = 24 * time.Hour
)

// Returns 1 on success, 0 when stock is insufficient and -1 when the product
// has no cached counter (the gate is open and SQL decides).
var decrementStockScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])

local current = redis.call('GET', key)
if not current then
	return -1
end

current = tonumber(current)
if current >= quantity then
	redis.call('DECRBY', key, quantity)
	return 1
end

return 0
`)

// Only restores a counter that still exists, so a give-back after a cache
// flush does not invent stock.
var incrementStockScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return redis.call('INCRBY', KEYS[1], tonumber(ARGV[1]))
end
return -1
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) DecrementStock(ctx context.Context, productID string, quantity int) (bool, error) {
	key := stockKeyPrefix + productID

	result, err := decrementStockScript.Run(ctx, r.client, []string{key}, quantity).Int()
	if err != nil {
		return false, err
	}

	return result != 0, nil
}

func (r *RedisAdapter) IncrementStock(ctx context.Context, productID string, quantity int) error {
	key := stockKeyPrefix + productID
	return incrementStockScript.Run(ctx, r.client, []string{key}, quantity).Err()
}

func (r *RedisAdapter) ClaimPayment(ctx context.Context, reference string) (bool, error) {
	ok, err := r.client.SetNX(ctx, paymentKeyPrefix+reference, 1, paymentClaimTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleasePayment(ctx context.Context, reference string) error {
	return r.client.Del(ctx, paymentKeyPrefix+reference).Err()
}

func (r *RedisAdapter) SetStock(ctx context.Context, productID string, quantity int) error {
	key := stockKeyPrefix + productID
	return r.client.Set(ctx, key, quantity, 0).Err()
}
