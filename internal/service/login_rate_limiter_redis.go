package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisLoginFailureScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

type redisLimiterClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisLoginRateLimiter struct {
	client  redisLimiterClient
	window  time.Duration
	max     int
	prefix  string
	timeout time.Duration
}

// NewRedisLoginRateLimiter cuenta fallos en una ventana fija por clave
// (INCR + EXPIRE atómicos vía Lua). Ante errores de Redis deja pasar la petición.
func NewRedisLoginRateLimiter(client redis.UniversalClient, window time.Duration, max int) LoginRateLimiter {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return &redisLoginRateLimiter{
		client:  client,
		window:  window,
		max:     max,
		prefix:  "login:rl:",
		timeout: 500 * time.Millisecond,
	}
}

func (l *redisLoginRateLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	normalizedKey := normalizeLimiterKey(key)
	if normalizedKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	// redis.Nil significa que no hay fallos registrados.
	count, err := l.client.Get(ctx, l.prefix+normalizedKey).Int()
	if err != nil {
		return true
	}
	return count < l.max
}

func (l *redisLoginRateLimiter) RecordFailure(ctx context.Context, key string) {
	if l == nil || l.client == nil {
		return
	}
	normalizedKey := normalizeLimiterKey(key)
	if normalizedKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	seconds := int(l.window.Seconds())
	if seconds <= 0 {
		seconds = 60
	}
	_ = l.client.Eval(ctx, redisLoginFailureScript, []string{l.prefix + normalizedKey}, seconds).Err()
}

func (l *redisLoginRateLimiter) Reset(ctx context.Context, key string) {
	if l == nil || l.client == nil {
		return
	}
	normalizedKey := normalizeLimiterKey(key)
	if normalizedKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	_ = l.client.Del(ctx, l.prefix+normalizedKey).Err()
}
