package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// KEYS[1] counter; ARGV[1] limit; ARGV[2] window in ms (0 = no expiry).
var incrementScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return 0
end
current = redis.call('INCR', KEYS[1])
if current == 1 and tonumber(ARGV[2]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

var decrementScript = redis.NewScript(`
local current = redis.call('DECR', KEYS[1])
if current <= 0 then
	redis.call('DEL', KEYS[1])
end
return current
`)

// RedisCounter is a Counter shared by every process pointing at the same Redis.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

var _ Counter = (*RedisCounter)(nil)

// NewRedisCounter connects to redisURL and verifies it with a ping.
func NewRedisCounter(redisURL, prefix string) (*RedisCounter, error) {
	if redisURL == "" {
		return nil, errors.New("redis: url is required")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisCounterFromClient(c, prefix), nil
}

// NewRedisCounterFromClient wraps an existing client.
func NewRedisCounterFromClient(client *redis.Client, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

func (r *RedisCounter) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ok, err := incrementScript.Run(ctx, r.client, []string{r.prefix + key}, limit, window.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return ok == 1, nil
}

func (r *RedisCounter) Decrement(ctx context.Context, key string) error {
	err := decrementScript.Run(ctx, r.client, []string{r.prefix + key}).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

// Close closes the underlying client.
func (r *RedisCounter) Close() error {
	return r.client.Close()
}
