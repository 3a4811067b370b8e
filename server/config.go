package server

import (
	"net"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/cors"
	"admission-gateway/middleware/ratelimit/domain"
)

const DefaultDocsPath = "/swagger"

// Config é lida uma vez antes do Start e não muda durante o processo.
type Config struct {
	Host           string
	Port           int
	BodyLimitBytes int64

	CORSOrigins          cors.AllowedOriginSet
	CORSAllowCredentials bool
	CORSMaxAge           time.Duration

	RateLimit           domain.Config
	RateKeyHeader       string
	TrustXForwardedFor  bool
	AddRateLimitHeaders bool

	ConcurrencyMax     int
	ConcurrencyTimeout time.Duration

	DocsPath string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// DefaultConfig traz os mesmos valores padrão do binário.
func DefaultConfig() Config {
	return Config{
		Host:                "0.0.0.0",
		Port:                6000,
		BodyLimitBytes:      50 << 20,
		RateLimit:           domain.Config{MaxRequests: 100, Window: time.Minute},
		AddRateLimitHeaders: true,
		DocsPath:            DefaultDocsPath,
		ReadHeaderTimeout:   10 * time.Second,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        30 * time.Second,
		IdleTimeout:         90 * time.Second,
	}
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate devolve *ConfigError no primeiro campo inválido.
// Porta 0 é aceita (porta efêmera, usada em testes).
func (c Config) Validate() error {
	if strings.ContainsAny(c.Host, " /") {
		return &ConfigError{Field: "host", Reason: "invalid host " + strconv.Quote(c.Host)}
	}
	if c.Port < 0 || c.Port > 65535 {
		return &ConfigError{Field: "port", Reason: "must be between 0 and 65535"}
	}
	if c.BodyLimitBytes <= 0 {
		return &ConfigError{Field: "body_limit", Reason: "must be > 0"}
	}
	if err := c.RateLimit.Validate(); err != nil {
		return &ConfigError{Field: "rate_limit", Reason: err.Error()}
	}
	if c.ConcurrencyMax < 0 {
		return &ConfigError{Field: "concurrency_max", Reason: "must be >= 0"}
	}
	if c.docsPath() == "/" || !strings.HasPrefix(c.docsPath(), "/") {
		return &ConfigError{Field: "docs_path", Reason: "must start with / and not be the root"}
	}
	return nil
}

func (c Config) docsPath() string {
	if c.DocsPath == "" {
		return DefaultDocsPath
	}
	return strings.TrimRight(c.DocsPath, "/")
}
