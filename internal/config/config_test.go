package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, overrides map[string]string) {
	t.Helper()
	env := map[string]string{
		"APP_ENV":               "test",
		"DATABASE_URL":          "postgres://localhost/checkout",
		"REDIS_URL":             "redis://localhost:6379/0",
		"JWT_SECRET":            "secret",
		"BOOKSHOP_API_BASE_URL": "http://bookshop.local:12345/",
	}
	for k, v := range overrides {
		env[k] = v
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t, nil)
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "http://bookshop.local:12345", cfg.BookshopBaseURL)
	require.Equal(t, 10*time.Second, cfg.BookshopTimeout)
	require.Equal(t, "clamp", cfg.DiscountPolicy)
	require.Equal(t, "LKR", cfg.Currency)
	require.Equal(t, DefaultPaymentMethods, cfg.PaymentMethods)
	require.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	setEnv(t, map[string]string{
		"CHECKOUT_DISCOUNT_POLICY":    "Reject",
		"CHECKOUT_PAYMENT_METHODS":    "Cash on Delivery, Card ,",
		"BOOKSHOP_RETRY_MAX_ATTEMPTS": "5",
		"QUOTE_TTL":                   "45m",
		"OTEL_TRACES_SAMPLER_RATIO":   "0.25",
		"PORT":                        ":9090",
	})
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "reject", cfg.DiscountPolicy)
	require.Equal(t, []string{"Cash on Delivery", "Card"}, cfg.PaymentMethods)
	require.Equal(t, 5, cfg.BookshopRetryAttempts)
	require.Equal(t, 45*time.Minute, cfg.QuoteTTL)
	require.Equal(t, 0.25, cfg.OTelSampleRatio)
	require.Equal(t, ":9090", cfg.HTTPAddr())
}

func TestLoadRequiresBookshopURL(t *testing.T) {
	setEnv(t, map[string]string{"BOOKSHOP_API_BASE_URL": ""})
	_, err := Load()
	require.EqualError(t, err, "BOOKSHOP_API_BASE_URL is required")
}

func TestLoadReportsEveryMalformedValue(t *testing.T) {
	setEnv(t, map[string]string{
		"QUOTE_TTL":                      "not-a-duration",
		"CHECKOUT_RATE_MAX":              "-2",
		"BOOKSHOP_BREAKER_FAILURE_RATIO": "1.5",
		"CHECKOUT_DISCOUNT_POLICY":       "ignore",
	})
	_, err := Load()
	require.Error(t, err)
	for _, key := range []string{"QUOTE_TTL", "CHECKOUT_RATE_MAX", "BOOKSHOP_BREAKER_FAILURE_RATIO", "CHECKOUT_DISCOUNT_POLICY"} {
		require.ErrorContains(t, err, key)
	}
}
