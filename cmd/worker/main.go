package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pahana-edu/bookshop-checkout/internal/config"
	"github.com/pahana-edu/bookshop-checkout/internal/lock"
	"github.com/pahana-edu/bookshop-checkout/internal/money"
	"github.com/pahana-edu/bookshop-checkout/internal/notify"
	"github.com/pahana-edu/bookshop-checkout/internal/obs"
	"github.com/pahana-edu/bookshop-checkout/internal/store"
)

const resendLockKey = "lock:notify:resend"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics("bookshop", nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, queries := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	redisConnOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse asynq redis url")
	}

	formatter, err := money.NewFormatter(cfg.Currency, money.DefaultLanguage)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise currency formatter")
	}

	var mailer notify.Mailer = notify.NopMailer{}
	if cfg.NotifyEmail {
		mailer = notify.LogMailer{Logger: logger, From: cfg.NotifyEmailFrom}
	}

	mux := asynq.NewServeMux()
	mux.Handle(notify.TypeOrderConfirmation, notify.EmailHandler{
		Mail:      mailer,
		Formatter: formatter,
		Replay:    notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL: envDuration("NOTIFY_REPLAY_TTL", 7*24*time.Hour),
		Logger:    logger,
	})

	srv := asynq.NewServer(redisConnOpt, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		ShutdownTimeout: 20 * time.Second,
		Logger:          asynqLogger{logger: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Warn().Err(err).Str("task_type", task.Type()).Msg("task failed")
		}),
	})

	taskClient := asynq.NewClient(redisConnOpt)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()
	resendLost(ctx, cfg, logger, lock.Locker{R: redisClient, RetryBackoff: 100 * time.Millisecond},
		notify.ConfirmationNotifier{Queue: taskClient, Enabled: cfg.NotifyEmail}, queries)

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")

	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

// resendLost re-enqueues confirmations that never reached the queue. Only one worker replica
// runs it per startup window.
func resendLost(ctx context.Context, cfg *config.Config, logger zerolog.Logger, locker lock.Locker, n notify.ConfirmationNotifier, src notify.EventLister) {
	if !cfg.NotifyEmail {
		return
	}
	since := time.Now().Add(-envDuration("NOTIFY_RESEND_WINDOW", 24*time.Hour))
	err := locker.TryWithLock(ctx, resendLockKey, time.Minute, func(lockCtx context.Context) error {
		count, err := n.Resend(lockCtx, src, since, 500)
		logger.Info().Int("events", count).Time("since", since).Msg("confirmation resend")
		return err
	})
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		logger.Debug().Msg("confirmation resend already running elsewhere")
	case err != nil:
		logger.Error().Err(err).Msg("confirmation resend")
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, *store.Queries) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	poolConfig.MaxConns = 4
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool, store.New(pool)
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

// asynqLogger adapts zerolog to asynq.Logger.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }

func envDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
