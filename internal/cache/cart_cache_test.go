package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client), mr
}

func testCart(version int64) *domain.Cart {
	return &domain.Cart{
		ID:      1,
		UserID:  42,
		Version: version,
		Items:   []domain.CartItem{{ID: 1, ProductID: 7, Quantity: int(version)}},
	}
}

func TestGet_Miss(t *testing.T) {
	c, _ := setupTestRedis(t)

	_, err := c.Get(context.Background(), 42)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestSetThenGet(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, testCart(3)))

	got, err := c.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, 3, got.Items[0].Quantity)

	ttl := mr.TTL(cacheKey(42))
	assert.GreaterOrEqual(t, ttl, baseTTL)
	assert.Less(t, ttl, baseTTL+maxJitter)
}

func TestSet_OlderVersionIgnored(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, testCart(5)))
	require.NoError(t, c.Set(ctx, testCart(4)))

	got, err := c.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Version)

	require.NoError(t, c.Set(ctx, testCart(6)))
	got, err = c.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Version)
}

func TestDelete(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, testCart(1)))
	require.NoError(t, c.Delete(ctx, 42))

	assert.False(t, mr.Exists(cacheKey(42)))
	_, err := c.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestGet_RedisDown(t *testing.T) {
	c, mr := setupTestRedis(t)
	mr.Close()

	_, err := c.Get(context.Background(), 42)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}
