package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/config"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("BK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BK_TEST_REDIS_ADDR not set")
	}
	c, err := NewClient(config.RedisConfig{Addr: addr, PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestIsNilError(t *testing.T) {
	assert.True(t, IsNilError(Nil))
	assert.True(t, IsNilError(fmt.Errorf("get: %w", Nil)))
	assert.False(t, IsNilError(nil))
}

func TestDelAndFlushByPattern(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	prefix := fmt.Sprintf("bigknn-test-%d:", time.Now().UnixNano())

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("%s%d", prefix, i), "0.5", time.Minute))
	}
	require.NoError(t, c.Del(ctx, prefix+"0"))
	_, err := c.Get(ctx, prefix+"0")
	assert.True(t, IsNilError(err))

	deleted, err := c.FlushByPattern(ctx, prefix+"*")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	_, err = c.Get(ctx, prefix+"1")
	assert.True(t, IsNilError(err))
	require.NoError(t, c.Ping(ctx))
}
