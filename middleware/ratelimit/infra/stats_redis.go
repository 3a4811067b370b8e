package infra

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava as decisões do rate limit em hashes do Redis, com a
// série temporal alinhada à janela do limiter (uma entrada por janela):
//
//	<prefix>:total                allowed/denied/failed cumulativos
//	<prefix>:window:<unix início> allowed/denied/failed + retry_ms da janela (com TTL)
//	<prefix>:retry                histograma das esperas devolvidas nas negações
//	<prefix>:route                "<METHOD> <rota>|<campo>", só rotas conhecidas
//	<prefix>:key:<chave>          por identidade, se trackKeys (com TTL)
//
// Todos os comandos de um evento vão em um único pipeline.
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// window zero desliga a série por janela.
	window time.Duration
	// ttl aplica nas séries por janela e por chave. total, retry e route são
	// cumulativos e não expiram.
	ttl time.Duration

	trackKeys bool
}

// WindowStats é o recorte de uma janela do limiter.
type WindowStats struct {
	Start time.Time `json:"start"`
	Counters
	// RetryAfter soma as esperas devolvidas aos clientes negados na janela.
	RetryAfter time.Duration `json:"retry_after"`
}

// retryBuckets são os limites (em segundos, inclusive) do histograma de espera.
var retryBuckets = []int{1, 5, 15, 60, 300}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsWindow alinha a série temporal à janela do limiter. Zero desliga.
func WithStatsWindow(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.window = d }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "admission:stats",
		window: time.Minute,
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := outcomeField(ev)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if s.window > 0 {
		wk := s.windowKey(at)
		pipe.HIncrBy(ctx, wk, field, 1)
		if field == "denied" && ev.RetryAfter > 0 {
			pipe.HIncrBy(ctx, wk, "retry_ms", ev.RetryAfter.Milliseconds())
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, wk, s.ttl)
		}
	}

	if field == "denied" {
		pipe.HIncrBy(ctx, s.prefix+":retry", retryBucket(ev.RetryAfter), 1)
	}

	// sem rota conhecida não grava: o rótulo viria do cliente
	if ev.Route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", ev.RouteLabel()+"|"+field, 1)
	}

	if s.trackKeys {
		if k := strings.TrimSpace(string(ev.Key)); k != "" {
			kk := s.prefix + ":key:" + k
			pipe.HIncrBy(ctx, kk, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, kk, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Total lê os contadores cumulativos.
func (s *RedisStatsStore) Total(ctx context.Context) (Counters, error) {
	vals, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return Counters{}, err
	}
	return parseCounters(vals)
}

// Window lê a janela do limiter que contém at.
func (s *RedisStatsStore) Window(ctx context.Context, at time.Time) (WindowStats, error) {
	if s.window <= 0 {
		return WindowStats{}, errors.New("window series disabled")
	}
	vals, err := s.rdb.HGetAll(ctx, s.windowKey(at)).Result()
	if err != nil {
		return WindowStats{}, err
	}
	c, err := parseCounters(vals)
	if err != nil {
		return WindowStats{}, err
	}
	ws := WindowStats{Start: windowStart(at, s.window), Counters: c}
	if raw, ok := vals["retry_ms"]; ok {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return WindowStats{}, fmt.Errorf("stats field retry_ms: %w", err)
		}
		ws.RetryAfter = time.Duration(ms) * time.Millisecond
	}
	return ws, nil
}

// RetryHistogram devolve quantas negações caíram em cada faixa de espera
// ("le_1", "le_5", ..., "le_inf").
func (s *RedisStatsStore) RetryHistogram(ctx context.Context) (map[string]int64, error) {
	vals, err := s.rdb.HGetAll(ctx, s.prefix+":retry").Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(vals))
	for k, raw := range vals {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stats field %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func (s *RedisStatsStore) windowKey(at time.Time) string {
	return s.prefix + ":window:" + strconv.FormatInt(windowStart(at, s.window).Unix(), 10)
}

func windowStart(at time.Time, window time.Duration) time.Time {
	return at.UTC().Truncate(window)
}

func outcomeField(ev domain.StatsEvent) string {
	switch {
	case ev.Failed:
		return "failed"
	case ev.Allowed:
		return "allowed"
	default:
		return "denied"
	}
}

// retryBucket arredonda para cima em segundos, como o Retry-After da resposta.
func retryBucket(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	for _, b := range retryBuckets {
		if secs <= b {
			return "le_" + strconv.Itoa(b)
		}
	}
	return "le_inf"
}

func parseCounters(vals map[string]string) (Counters, error) {
	var c Counters
	for field, raw := range vals {
		var dst *int64
		switch field {
		case "allowed":
			dst = &c.Allowed
		case "denied":
			dst = &c.Denied
		case "failed":
			dst = &c.Failed
		default:
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Counters{}, fmt.Errorf("stats field %s: %w", field, err)
		}
		*dst = n
	}
	return c, nil
}
