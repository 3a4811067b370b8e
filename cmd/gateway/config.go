package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/cors"
	"admission-gateway/server"
)

type config struct {
	server   server.Config
	logLevel string

	rateBackend   string
	redisAddr     string
	redisPassword string
	redisDB       int
	redisPrefix   string

	rateStatsEnabled   bool
	rateStatsPrefix    string
	rateStatsTTL       time.Duration
	rateStatsSeries    bool
	rateStatsTrackKeys bool

	upstreamURL    string
	upstreamPrefix string
}

const (
	backendMemory = "memory"
	backendRedis  = "redis"
)

func readConfig() (config, error) {
	cfg := config{server: server.DefaultConfig()}
	s := &cfg.server
	env := &envReader{}

	s.Host = env.str("API_HOST", s.Host)
	s.Port = env.integer("API_PORT", s.Port)
	s.BodyLimitBytes = env.integer64("API_BODY_LIMIT", s.BodyLimitBytes)
	// vazio: nenhuma origem cruzada é aceita; "*" libera todas
	s.CORSOrigins = cors.ParseAllowedOrigins(os.Getenv("API_ALLOWED_ORIGINS"))
	s.CORSAllowCredentials = env.boolean("CORS_ALLOW_CREDENTIALS", false)
	s.CORSMaxAge = env.duration("CORS_MAX_AGE", 10*time.Minute)

	s.RateLimit.MaxRequests = env.integer("API_MAX_REQUESTS_PER_MINUTE", s.RateLimit.MaxRequests)
	s.RateLimit.Window = env.duration("RATE_WINDOW", s.RateLimit.Window)
	s.RateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	s.TrustXForwardedFor = env.boolean("TRUST_XFF", false)
	s.AddRateLimitHeaders = env.boolean("ADD_RATELIMIT_HEADERS", s.AddRateLimitHeaders)

	s.ConcurrencyMax = env.integer("CONCURRENCY_MAX", 100)
	s.ConcurrencyTimeout = env.duration("CONCURRENCY_TIMEOUT", 0)

	s.DocsPath = env.str("API_DOCS_PATH", s.DocsPath)
	s.ReadHeaderTimeout = env.duration("HTTP_READ_HEADER_TIMEOUT", s.ReadHeaderTimeout)
	s.ReadTimeout = env.duration("HTTP_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = env.duration("HTTP_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = env.duration("HTTP_IDLE_TIMEOUT", s.IdleTimeout)

	cfg.logLevel = env.str("LOG_LEVEL", "info")

	cfg.rateBackend = strings.ToLower(env.str("RATE_LIMIT_BACKEND", backendMemory))
	cfg.redisAddr = os.Getenv("REDIS_ADDR")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = env.integer("REDIS_DB", 0)
	cfg.redisPrefix = env.str("RATE_LIMIT_REDIS_PREFIX", "admission:window")

	cfg.rateStatsEnabled = env.boolean("RATE_STATS_ENABLED", false)
	cfg.rateStatsPrefix = env.str("RATE_STATS_PREFIX", "admission:stats")
	cfg.rateStatsTTL = env.duration("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsSeries = env.boolean("RATE_STATS_SERIES", true)
	cfg.rateStatsTrackKeys = env.boolean("RATE_STATS_TRACK_KEYS", false)

	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.upstreamPrefix = env.str("UPSTREAM_PREFIX", "/api")

	if env.err != nil {
		return config{}, env.err
	}

	switch cfg.rateBackend {
	case backendMemory, backendRedis:
	default:
		return config{}, &server.ConfigError{
			Field:  "RATE_LIMIT_BACKEND",
			Reason: fmt.Sprintf("must be %q or %q, got %q", backendMemory, backendRedis, cfg.rateBackend),
		}
	}
	if cfg.needsRedis() && strings.TrimSpace(cfg.redisAddr) == "" {
		return config{}, &server.ConfigError{
			Field:  "REDIS_ADDR",
			Reason: "required when RATE_LIMIT_BACKEND=redis or RATE_STATS_ENABLED=true",
		}
	}
	if err := s.Validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) needsRedis() bool {
	return c.rateBackend == backendRedis || c.rateStatsEnabled
}

// envReader lê variáveis com valor padrão quando ausentes. Valor presente mas
// inválido não cai no padrão: o primeiro erro fica em err como *server.ConfigError.
type envReader struct {
	err error
}

func (e *envReader) fail(k, v, want string) {
	if e.err == nil {
		e.err = &server.ConfigError{Field: k, Reason: fmt.Sprintf("invalid %s %q", want, v)}
	}
}

func (e *envReader) str(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func (e *envReader) integer(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, v, "integer")
		return def
	}
	return i
}

func (e *envReader) integer64(k string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(k, v, "integer")
		return def
	}
	return i
}

func (e *envReader) boolean(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(k, v, "boolean")
		return def
	}
	return b
}

func (e *envReader) duration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, v, "duration")
		return def
	}
	return d
}
