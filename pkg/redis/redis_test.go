package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/exitengine/pkg/config"
)

func TestNewClient_Disabled(t *testing.T) {
	client, err := New(context.Background(), &config.Config{Redis: config.RedisConfig{Enabled: false}})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Ping(context.Background()))
	assert.NoError(t, client.Close())
}

func TestCache_Disabled(t *testing.T) {
	client, _ := New(context.Background(), &config.Config{})
	cache := NewCache(client, "test")
	ctx := context.Background()

	var result string
	found, err := cache.Get(ctx, "key", &result)
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, cache.Set(ctx, "key", "value", time.Minute))
	assert.NoError(t, cache.Delete(ctx, "key"))
	assert.False(t, cache.Enabled())
}

func TestCache_NilSafe(t *testing.T) {
	var cache *Cache
	assert.False(t, cache.Enabled())
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "tolerance:BTCUSDT", ToleranceProfileKey("BTCUSDT"))
	assert.Equal(t, "quote:ETHUSDT", QuoteKey("ETHUSDT"))

	c := NewCache(&Client{}, "exitengine")
	assert.Equal(t, "exitengine:cache:quote:ETHUSDT", c.key(QuoteKey("ETHUSDT")))
}
