package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// CartCache is the process-wide read-through copy of cart aggregates.
type CartCache interface {
	Get(ctx context.Context, userID int64) (*domain.Cart, error)
	// Set stores cart unless a newer version is already cached.
	Set(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, userID int64) error
}

const (
	baseTTL   = 15 * time.Minute
	maxJitter = 4 * time.Minute
)

// setIfNewer keeps the highest cart version so a slow reader cannot
// overwrite the refresh written by a later mutation.
var setIfNewer = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("cart:%d", userID)
}

func ttl() time.Duration {
	return baseTTL + time.Duration(rand.Int63n(int64(maxJitter)))
}

func (c *RedisCache) Get(ctx context.Context, userID int64) (*domain.Cart, error) {
	data, err := c.client.HGet(ctx, cacheKey(userID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("decode cached cart: %w", err)
	}
	return &cart, nil
}

func (c *RedisCache) Set(ctx context.Context, cart *domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	err = setIfNewer.Run(ctx, c.client,
		[]string{cacheKey(cart.UserID)},
		cart.Version, string(data), ttl().Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, userID int64) error {
	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete cart: %w", err)
	}
	return nil
}

// NopCache never stores anything. It is used when Redis is not configured.
type NopCache struct{}

func (NopCache) Get(context.Context, int64) (*domain.Cart, error) { return nil, ErrCacheMiss }
func (NopCache) Set(context.Context, *domain.Cart) error          { return nil }
func (NopCache) Delete(context.Context, int64) error              { return nil }
