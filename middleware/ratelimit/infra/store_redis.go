package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript incrementa o contador e, no primeiro hit da janela, define
// a expiração. Devolve {count, pttl}. PTTL < 0 significa chave sem expiração
// (ex: perdeu o PEXPIRE), então reaplica.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisWindowStore implementa a janela fixa no Redis, para várias réplicas do
// gateway dividirem o mesmo contador por chave.
//
// A janela começa no primeiro hit da chave (igual ao WindowStore) e termina
// quando a chave expira.
type RedisWindowStore struct {
	rdb    redis.Scripter
	cfg    domain.Config
	prefix string
}

type RedisStoreOption func(*RedisWindowStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisWindowStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisWindowStore(rdb redis.Scripter, cfg domain.Config, opts ...RedisStoreOption) *RedisWindowStore {
	s := &RedisWindowStore{
		rdb:    rdb,
		cfg:    cfg,
		prefix: "admission:ratelimit",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisWindowStore) Config() domain.Config { return s.cfg }

// Hit implementa domain.LimiterStore. A atomicidade vem do script Lua.
func (s *RedisWindowStore) Hit(ctx context.Context, key domain.Key, now time.Time) (domain.Decision, error) {
	res, err := fixedWindowScript.Run(ctx, s.rdb, []string{s.redisKey(key)}, s.cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return domain.Decision{}, fmt.Errorf("redis fixed window: %w", err)
	}
	if len(res) != 2 {
		return domain.Decision{}, fmt.Errorf("redis fixed window: unexpected reply %v", res)
	}
	return decisionFromCount(s.cfg, int(res[0]), time.Duration(res[1])*time.Millisecond, now), nil
}

func (s *RedisWindowStore) redisKey(key domain.Key) string {
	return s.prefix + ":" + string(key)
}

func decisionFromCount(cfg domain.Config, count int, ttl time.Duration, now time.Time) domain.Decision {
	dec := domain.Decision{
		Allowed: count <= cfg.MaxRequests,
		Limit:   cfg.MaxRequests,
		ResetAt: now.Add(ttl),
	}
	if dec.Allowed {
		dec.Remaining = cfg.MaxRequests - count
		return dec
	}
	dec.RetryAfter = ttl
	return dec
}
