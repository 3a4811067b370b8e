package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
	"admission-gateway/routes/proxy"
	"admission-gateway/routes/system"
	"admission-gateway/server"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := readConfig()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.logLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.WithField("level", cfg.logLevel).Warn("unknown LOG_LEVEL, using info")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := []server.Option{server.WithLogger(logger)}

	memStats := infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.rateStatsTrackKeys))
	stats := infra.MultiStats{memStats}

	if cfg.needsRedis() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancelPing()
		if err != nil {
			logger.Fatalf("redis ping error: %v", err)
		}

		if cfg.rateBackend == backendRedis {
			opts = append(opts, server.WithLimiterStore(
				infra.NewRedisWindowStore(rdb, cfg.server.RateLimit, infra.WithKeyPrefix(cfg.redisPrefix)),
			))
		}
		if cfg.rateStatsEnabled {
			// série por janela alinhada à janela do limiter
			var window time.Duration
			if cfg.rateStatsSeries {
				window = cfg.server.RateLimit.Window
			}
			stats = append(stats, infra.NewRedisStatsStore(
				rdb,
				infra.WithStatsPrefix(cfg.rateStatsPrefix),
				infra.WithStatsTTL(cfg.rateStatsTTL),
				infra.WithStatsWindow(window),
				infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
			))
		}
	}
	opts = append(opts, server.WithStats(domain.StatsStore(stats)))

	ctrl := server.NewController(cfg.server, opts...)

	groups := []server.RouteGroup{system.Group(system.Options{
		Stats:       memStats,
		Concurrency: func() application.ConcurrencySnapshot { return ctrl.ConcurrencySnapshot() },
		Logger:      logger,
	})}
	if cfg.upstreamURL != "" {
		g, err := proxy.Group(proxy.Options{
			Upstream: cfg.upstreamURL,
			Prefix:   cfg.upstreamPrefix,
			Logger:   logger,
		})
		if err != nil {
			logger.Fatalf("UPSTREAM_URL: %v", err)
		}
		groups = append(groups, g)
	}
	if err := ctrl.Register(groups...); err != nil {
		logger.Fatalf("register routes: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"backend":     cfg.rateBackend,
		"stats_redis": cfg.rateStatsEnabled,
		"key_header":  cfg.server.RateKeyHeader,
		"trust_xff":   cfg.server.TrustXForwardedFor,
		"concurrency": cfg.server.ConcurrencyMax,
		"upstream":    cfg.upstreamURL,
	}).Info("starting gateway")

	if err := ctrl.Start(ctx); err != nil {
		logger.Fatalf("start error: %v", err)
	}

	select {
	case <-ctx.Done():
	case err, ok := <-ctrl.Err():
		if ok && err != nil {
			logger.WithError(err).Error("server error")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown")
	}
}
