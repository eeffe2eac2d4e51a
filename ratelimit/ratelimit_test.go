package ratelimit

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestFixedWindowAllowsUpToLimit(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rl := NewFixedWindow(3, time.Minute, WithClock(clock.Now))
	defer rl.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := rl.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "attempt %d", i+1)
		assert.Equal(t, 2-i, d.Remaining)
	}

	clock.Advance(10 * time.Second)
	d, err := rl.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 50*time.Second, d.RetryAfter)

	// Other keys are unaffected.
	d, err = rl.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestFixedWindowResetsAfterWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rl := NewFixedWindow(1, time.Minute, WithClock(clock.Now))
	defer rl.Close()
	ctx := context.Background()

	d, _ := rl.Allow(ctx, "k")
	assert.True(t, d.Allowed)
	d, _ = rl.Allow(ctx, "k")
	assert.False(t, d.Allowed)

	clock.Advance(time.Minute)
	d, _ = rl.Allow(ctx, "k")
	assert.True(t, d.Allowed)
}

func TestFixedWindowReset(t *testing.T) {
	rl := NewFixedWindow(1, time.Hour)
	defer rl.Close()
	ctx := context.Background()

	d, _ := rl.Allow(ctx, "k")
	assert.True(t, d.Allowed)
	rl.Reset("k")
	d, _ = rl.Allow(ctx, "k")
	assert.True(t, d.Allowed)
}

func TestFixedWindowSweep(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rl := NewFixedWindow(5, time.Hour, WithClock(clock.Now))
	defer rl.Close()

	for i := 0; i < 10; i++ {
		_, _ = rl.Allow(context.Background(), fmt.Sprintf("ip-%d", i))
	}
	assert.Equal(t, 10, rl.len())

	clock.Advance(30 * time.Minute)
	rl.sweep()
	assert.Equal(t, 10, rl.len())

	clock.Advance(30 * time.Minute)
	rl.sweep()
	assert.Equal(t, 0, rl.len())
}

func TestFixedWindowConcurrent(t *testing.T) {
	rl := NewFixedWindow(50, time.Hour)
	defer rl.Close()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := rl.Allow(context.Background(), "shared")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestFixedWindowCloseIdempotent(t *testing.T) {
	rl := NewFixedWindow(1, time.Second)
	assert.NoError(t, rl.Close())
	assert.NoError(t, rl.Close())
}

func TestRedisFixedWindowFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	var logs bytes.Buffer
	rl := NewRedisFixedWindow(rdb, 1, time.Minute, WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))

	for i := 0; i < 3; i++ {
		d, err := rl.Allow(context.Background(), "k")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	assert.Contains(t, logs.String(), "rate limiter unavailable")
}

func TestRedisFixedWindow(t *testing.T) {
	addr := os.Getenv("GATEHOUSE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("GATEHOUSE_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()

	prefix := fmt.Sprintf("gatehouse-test:%d:", time.Now().UnixNano())
	rl := NewRedisFixedWindow(rdb, 2, 500*time.Millisecond, WithPrefix(prefix))
	t.Cleanup(func() { rdb.Del(context.Background(), prefix+"k") })

	d, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	d, _ = rl.Allow(ctx, "k")
	assert.True(t, d.Allowed)

	d, _ = rl.Allow(ctx, "k")
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, 500*time.Millisecond)

	time.Sleep(600 * time.Millisecond)
	d, _ = rl.Allow(ctx, "k")
	assert.True(t, d.Allowed)
}
