// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds the settings shared by the API and the worker.
type Config struct {
	AppEnv             string
	Port               string
	LogFormat          string
	LogLevel           string
	DatabaseURL        string
	DBAutoMigrate      bool
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	CORSAllowedOrigins []string
	BodyLimitBytes     int64

	BookshopBaseURL        string
	BookshopTimeout        time.Duration
	BookshopRetryAttempts  int
	BookshopRetryBase      time.Duration
	BookshopRetryMax       time.Duration
	BookshopRetryJitter    float64
	BreakerMinRequests     int
	BreakerFailureRatio    float64
	BreakerOpenFor         time.Duration
	BreakerHalfOpenMaxCall int
	OptionsCacheTTL        time.Duration

	Currency          string
	DiscountPolicy    string
	PaymentMethods    []string
	QuoteTTL          time.Duration
	IdempotencyTTL    time.Duration
	CheckoutLockTTL   time.Duration
	CheckoutRateWin   time.Duration
	CheckoutRateMax   int
	APIRateLimit      string
	AnalyticsTTL      time.Duration
	NotifyEmail       bool
	NotifyEmailFrom   string
	WorkerConcurrency int

	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string
	OTelSampleRatio float64
}

// DefaultPaymentMethods are the payment options the storefront offers.
var DefaultPaymentMethods = []string{"Online Payment", "Cash on Delivery"}

// Load reads the environment, plus a .env file outside production. Malformed values are
// reported together with any missing required setting.
func Load() (*Config, error) {
	if !strings.EqualFold(os.Getenv("APP_ENV"), "production") {
		_ = godotenv.Load()
	}

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	r := reader{k: k}

	cfg := &Config{
		AppEnv:             r.str("APP_ENV", "development"),
		Port:               r.str("PORT", "8080"),
		LogFormat:          r.str("LOG_FORMAT", "json"),
		LogLevel:           r.str("LOG_LEVEL", "info"),
		DatabaseURL:        r.required("DATABASE_URL"),
		DBAutoMigrate:      r.flag("DB_AUTO_MIGRATE"),
		RedisURL:           r.required("REDIS_URL"),
		JWTSecret:          r.required("JWT_SECRET"),
		JWTIssuer:          r.str("JWT_ISSUER", ""),
		JWTAudience:        r.str("JWT_AUDIENCE", ""),
		CORSAllowedOrigins: r.list("CORS_ALLOWED_ORIGINS"),
		BodyLimitBytes:     int64(r.positiveInt("BODY_LIMIT_BYTES", 1<<20)),

		BookshopBaseURL:        strings.TrimRight(r.required("BOOKSHOP_API_BASE_URL"), "/"),
		BookshopTimeout:        r.duration("BOOKSHOP_API_TIMEOUT", 10*time.Second),
		BookshopRetryAttempts:  r.positiveInt("BOOKSHOP_RETRY_MAX_ATTEMPTS", 3),
		BookshopRetryBase:      r.duration("BOOKSHOP_RETRY_BASE", 100*time.Millisecond),
		BookshopRetryMax:       r.duration("BOOKSHOP_RETRY_MAX", 2*time.Second),
		BookshopRetryJitter:    r.fraction("BOOKSHOP_RETRY_JITTER", 0.2),
		BreakerMinRequests:     r.positiveInt("BOOKSHOP_BREAKER_MIN_REQUESTS", 10),
		BreakerFailureRatio:    r.fraction("BOOKSHOP_BREAKER_FAILURE_RATIO", 0.5),
		BreakerOpenFor:         r.duration("BOOKSHOP_BREAKER_OPEN_FOR", 30*time.Second),
		BreakerHalfOpenMaxCall: r.positiveInt("BOOKSHOP_BREAKER_HALF_OPEN_MAX", 2),
		OptionsCacheTTL:        r.duration("OPTIONS_CACHE_TTL", 5*time.Minute),

		Currency:          strings.ToUpper(r.str("CHECKOUT_CURRENCY", "LKR")),
		DiscountPolicy:    strings.ToLower(r.str("CHECKOUT_DISCOUNT_POLICY", "clamp")),
		PaymentMethods:    r.list("CHECKOUT_PAYMENT_METHODS"),
		QuoteTTL:          r.duration("QUOTE_TTL", 30*time.Minute),
		IdempotencyTTL:    r.duration("IDEMPOTENCY_TTL", 24*time.Hour),
		CheckoutLockTTL:   r.duration("CHECKOUT_LOCK_TTL", 30*time.Second),
		CheckoutRateWin:   r.duration("CHECKOUT_RATE_WINDOW", time.Minute),
		CheckoutRateMax:   r.positiveInt("CHECKOUT_RATE_MAX", 5),
		APIRateLimit:      r.str("API_RATE_LIMIT", "300-M"),
		AnalyticsTTL:      r.duration("ANALYTICS_CACHE_TTL", 5*time.Minute),
		NotifyEmail:       r.flag("NOTIFY_EMAIL_ENABLED"),
		NotifyEmailFrom:   r.str("NOTIFY_EMAIL_FROM", "orders@pahanaedu.lk"),
		WorkerConcurrency: r.positiveInt("WORKER_CONCURRENCY", 10),

		OTelEnabled:     r.flag("OTEL_ENABLED"),
		OTelEndpoint:    r.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelServiceName: r.str("OTEL_SERVICE_NAME", "bookshop-checkout"),
		OTelSampleRatio: r.fraction("OTEL_TRACES_SAMPLER_RATIO", 1),
	}

	if len(cfg.PaymentMethods) == 0 {
		cfg.PaymentMethods = append([]string(nil), DefaultPaymentMethods...)
	}
	switch cfg.DiscountPolicy {
	case "clamp", "reject":
	default:
		r.fail(fmt.Errorf("CHECKOUT_DISCOUNT_POLICY must be clamp or reject, got %q", cfg.DiscountPolicy))
	}

	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HTTPAddr is the listen address for the API.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	switch {
	case port == "":
		return ":8080"
	case strings.HasPrefix(port, ":"):
		return port
	default:
		return ":" + port
	}
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// reader pulls typed values out of koanf and records every malformed one.
type reader struct {
	k    *koanf.Koanf
	errs []error
}

func (r *reader) fail(err error) { r.errs = append(r.errs, err) }

func (r *reader) raw(key string) string { return strings.TrimSpace(r.k.String(key)) }

func (r *reader) str(key, def string) string {
	if v := r.raw(key); v != "" {
		return v
	}
	return def
}

func (r *reader) required(key string) string {
	v := r.raw(key)
	if v == "" {
		r.fail(fmt.Errorf("%s is required", key))
	}
	return v
}

func (r *reader) flag(key string) bool {
	switch strings.ToLower(r.raw(key)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(r.raw(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *reader) positiveInt(key string, def int) int {
	v := r.raw(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		r.fail(fmt.Errorf("%s must be a positive integer, got %q", key, v))
		return def
	}
	return n
}

// fraction accepts values in [0, 1].
func (r *reader) fraction(key string, def float64) float64 {
	v := r.raw(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f > 1 {
		r.fail(fmt.Errorf("%s must be between 0 and 1, got %q", key, v))
		return def
	}
	return f
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.raw(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		r.fail(fmt.Errorf("%s must be a positive duration, got %q", key, v))
		return def
	}
	return d
}
