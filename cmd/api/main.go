package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/pahana-edu/bookshop-checkout/internal/analytics"
	"github.com/pahana-edu/bookshop-checkout/internal/auth"
	"github.com/pahana-edu/bookshop-checkout/internal/bookshop"
	"github.com/pahana-edu/bookshop-checkout/internal/cache"
	"github.com/pahana-edu/bookshop-checkout/internal/checkout"
	"github.com/pahana-edu/bookshop-checkout/internal/common"
	"github.com/pahana-edu/bookshop-checkout/internal/config"
	"github.com/pahana-edu/bookshop-checkout/internal/events"
	"github.com/pahana-edu/bookshop-checkout/internal/health"
	"github.com/pahana-edu/bookshop-checkout/internal/lock"
	"github.com/pahana-edu/bookshop-checkout/internal/money"
	"github.com/pahana-edu/bookshop-checkout/internal/notify"
	"github.com/pahana-edu/bookshop-checkout/internal/obs"
	"github.com/pahana-edu/bookshop-checkout/internal/order"
	"github.com/pahana-edu/bookshop-checkout/internal/pricing"
	"github.com/pahana-edu/bookshop-checkout/internal/ratelimit"
	"github.com/pahana-edu/bookshop-checkout/internal/resilience"
	"github.com/pahana-edu/bookshop-checkout/internal/store"
)

const metricsNamespace = "bookshop"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("service", "checkout-api").Logger()

	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := cfg.OTelEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   cfg.OTelServiceName,
			Endpoint:      cfg.OTelEndpoint,
			Exporter:      "otlp",
			SamplingRatio: cfg.OTelSampleRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.DBAutoMigrate {
		if err := store.MigrateUp(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "bookshop-checkout"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	queries := store.New(pool)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Secret:        cfg.JWTSecret,
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
		ClockSkew:     30 * time.Second,
		RequireExpiry: cfg.IsProduction(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise token verifier")
	}
	authMiddleware := auth.Middleware{Verifier: verifier, AccessCookie: envOrDefault("AUTH_ACCESS_COOKIE", "token")}

	breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
		WithHalfOpenProbes(cfg.BreakerHalfOpenMaxCall).
		WithTarget("bookshop").
		WithLogger(logger)
	backendHTTP := resilience.HTTPClient{
		Client:      bookshop.NewHTTPClient(cfg.BookshopTimeout),
		Breaker:     breaker,
		BaseBackoff: cfg.BookshopRetryBase,
		MaxBackoff:  cfg.BookshopRetryMax,
		MaxAttempts: cfg.BookshopRetryAttempts,
		Jitter:      cfg.BookshopRetryJitter,
		Timeout:     cfg.BookshopTimeout,
		Target:      "bookshop",
	}
	backend := bookshop.NewCachedClient(
		bookshop.NewClient(bookshop.Options{
			BaseURL:           cfg.BookshopBaseURL,
			HTTP:              backendHTTP,
			Logger:            logger,
			EnrichConcurrency: envInt("BOOKSHOP_ENRICH_CONCURRENCY", 4),
		}),
		cache.New(redisClient, cfg.OptionsCacheTTL),
		logger,
	)

	redisConnOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse asynq redis url")
	}
	taskClient := asynq.NewClient(redisConnOpt)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()
	bus := &events.Bus{
		Store:     queries,
		Notifiers: []events.Notifier{notify.ConfirmationNotifier{Queue: taskClient, Enabled: cfg.NotifyEmail}},
	}

	formatter, err := money.NewFormatter(cfg.Currency, money.DefaultLanguage)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise currency formatter")
	}
	policy, err := pricing.ParsePolicy(cfg.DiscountPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse discount policy")
	}

	checkoutSvc := &checkout.Service{
		Backend:        backend,
		Ledger:         queries,
		Events:         bus,
		Locker:         lock.Locker{R: redisClient, RetryBackoff: 50 * time.Millisecond},
		Sequencer:      &checkout.Sequencer{R: redisClient, TTL: cfg.QuoteTTL},
		Quotes:         &checkout.QuoteStore{Cache: cache.New(redisClient, cfg.QuoteTTL), TTL: cfg.QuoteTTL},
		Policy:         policy,
		PaymentMethods: cfg.PaymentMethods,
		Currency:       cfg.Currency,
		Formatter:      formatter,
		LockTTL:        cfg.CheckoutLockTTL,
		Logger:         logger,
	}

	analyticsSvc := &analytics.Service{
		Q:            queries,
		Cache:        cache.New(redisClient, cfg.AnalyticsTTL),
		DefaultRange: envInt("ANALYTICS_DEFAULT_RANGE_DAYS", 30),
		Logger:       logger,
	}

	ipLimit, err := ratelimit.NewIPLimiter(redisClient, cfg.APIRateLimit, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise ip rate limiter")
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	var pprofHandler http.Handler
	if envBool("OBS_ENABLE_PPROF", !cfg.IsProduction()) {
		pprofHandler = protectPprof(newPprofMux(),
			envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", ""),
			envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", ""))
	}

	handler := newRouter(routes{
		Logger:         logger,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		BodyLimit:      cfg.BodyLimitBytes,
		Tracing:        tracingEnabled,
		HTTPMetrics:    httpMetrics,
		IPLimit:        ipLimit,
		CheckoutLimit: ratelimit.Handler{
			Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "ratelimit:checkout"},
			Config:  ratelimit.Config{Key: ratelimit.SessionKey("checkout"), Window: cfg.CheckoutRateWin, Max: cfg.CheckoutRateMax},
			OnError: func(err error) { logger.Warn().Err(err).Msg("checkout rate limiter unavailable") },
		},
		Idem: common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL},
		Auth: authMiddleware,
		Health: health.Handler{
			Checker:      health.Probes{DB: pool, Redis: redisClient},
			DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
			RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
			Upstream:     func() string { return breaker.State().String() },
		},
		Checkout: &checkout.Handler{Svc: checkoutSvc},
		Orders:   &order.Handler{Q: queries, Logger: logger},
		Reports:  &analytics.Handler{Svc: analyticsSvc},
		Pprof:    pprofHandler,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("backend", cfg.BookshopBaseURL).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
		return
	case <-sigCtx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
