package admission

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "livetranslate:ratelimit"

// admitScript prunes, counts and records in one round trip so concurrent
// replicas never admit past the limit.
//
// KEYS[1] window sorted set, KEYS[2] set of client ids
// ARGV: now_ms, cutoff_ms, limit, member, ttl_ms, client_id
var admitScript = redis.NewScript(`
redis.call('SADD', KEYS[2], ARGV[6])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis address must not be empty")
	}

	var rdb *redis.Client
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		rdb = redis.NewClient(opt)
	} else {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func (s *RedisStore) Admit(ctx context.Context, clientID string, now time.Time, window time.Duration, limit int) (bool, error) {
	cutoff := now.Add(-window)
	res, err := admitScript.Run(ctx, s.rdb,
		[]string{s.windowKey(clientID), s.clientsKey()},
		now.UnixMilli(),
		cutoff.UnixMilli(),
		limit,
		uuid.NewString(),
		window.Milliseconds(),
		clientID,
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) TrackedClients(ctx context.Context) (int, error) {
	n, err := s.rdb.SCard(ctx, s.clientsKey()).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *RedisStore) windowKey(clientID string) string {
	return s.prefix + ":window:" + clientID
}

func (s *RedisStore) clientsKey() string {
	return s.prefix + ":clients"
}
