package lockout

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "terminguard:attempts:"

// RedisStore keeps counters in Redis so that every server instance sees the
// same lockout state. Each key is a hash (count, first, last) whose TTL is
// refreshed on every failure; idle entries expire on their own.
type RedisStore struct {
	client *redis.Client
	prefix string
	idle   time.Duration
}

var _ Store = (*RedisStore)(nil)

// incrScript atomically bumps the counter, records timestamps and refreshes
// the TTL.
var incrScript = redis.NewScript(`
local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('HSETNX', KEYS[1], 'first', ARGV[1])
redis.call('HSET', KEYS[1], 'last', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {count, redis.call('HGET', KEYS[1], 'first')}
`)

// NewRedisStore returns a Redis-backed Store. idle is the expiry applied
// after the last failure; zero selects DefaultIdle.
func NewRedisStore(client *redis.Client, prefix string, idle time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &RedisStore{client: client, prefix: prefix, idle: idle}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (Attempt, bool, error) {
	vals, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return Attempt{}, false, fmt.Errorf("loading attempt counter: %w", err)
	}
	if len(vals) == 0 {
		return Attempt{}, false, nil
	}
	count, err := strconv.Atoi(vals["count"])
	if err != nil {
		return Attempt{}, false, fmt.Errorf("decoding attempt count: %w", err)
	}
	return Attempt{
		Count: count,
		First: parseMillis(vals["first"]),
		Last:  parseMillis(vals["last"]),
	}, true, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, now time.Time) (Attempt, error) {
	res, err := incrScript.Run(ctx, s.client, []string{s.key(key)},
		now.UnixMilli(), s.idle.Milliseconds()).Slice()
	if err != nil {
		return Attempt{}, fmt.Errorf("recording failed attempt: %w", err)
	}
	count, _ := res[0].(int64)
	first, _ := res[1].(string)
	return Attempt{Count: int(count), First: parseMillis(first), Last: now.Truncate(time.Millisecond)}, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// Sweep is a no-op: Redis expires idle counters through their TTL.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
