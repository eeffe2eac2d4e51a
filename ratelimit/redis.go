package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments the counter and starts the window on the first
// hit. It returns the new count and the remaining TTL in milliseconds.
var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return { count, ttl }
`)

// RedisFixedWindow is a Limiter shared by every process pointed at the
// same Redis. Redis failures are logged and the attempt is allowed.
type RedisFixedWindow struct {
	rdb    redis.Scripter
	limit  int
	period time.Duration
	prefix string
	logger *slog.Logger
}

// RedisOption configures a RedisFixedWindow.
type RedisOption func(*RedisFixedWindow)

// WithPrefix sets the key namespace. The default is "gatehouse:ratelimit:".
func WithPrefix(prefix string) RedisOption {
	return func(r *RedisFixedWindow) {
		r.prefix = prefix
	}
}

// WithLogger sets the logger used to report Redis failures.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(r *RedisFixedWindow) {
		r.logger = logger
	}
}

// NewRedisFixedWindow returns a limiter allowing limit attempts per period.
func NewRedisFixedWindow(rdb redis.Scripter, limit int, period time.Duration, opts ...RedisOption) *RedisFixedWindow {
	r := &RedisFixedWindow{
		rdb:    rdb,
		limit:  limit,
		period: period,
		prefix: "gatehouse:ratelimit:",
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	r.logger = r.logger.With("component", "ratelimit")
	return r
}

// Allow implements Limiter.
func (r *RedisFixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	count, ttl, err := r.incr(ctx, r.prefix+key)
	if err != nil {
		r.logger.Warn("rate limiter unavailable, allowing attempt", "error", err)
		return Decision{Allowed: true, Remaining: r.limit}, nil
	}
	if count > int64(r.limit) {
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Remaining: r.limit - int(count)}, nil
}

func (r *RedisFixedWindow) incr(ctx context.Context, key string) (int64, time.Duration, error) {
	vals, err := incrScript.Run(ctx, r.rdb, []string{key}, r.period.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("running limiter script: %w", err)
	}
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("unexpected limiter script result %v", vals)
	}
	return vals[0], time.Duration(vals[1]) * time.Millisecond, nil
}
