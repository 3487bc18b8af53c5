package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pahana-edu/bookshop-checkout/internal/resilience"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newBreaker(minRequests int, ratio float64, openFor time.Duration) (*resilience.Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)}
	return resilience.NewBreaker(minRequests, ratio, openFor).WithClock(clock.Now), clock
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	breaker, clock := newBreaker(2, 0.5, 30*time.Second)
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	assert.Equal(t, resilience.Closed, breaker.State(), "below minimum request count")

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())
	assert.False(t, breaker.Allow(ctx))

	clock.Advance(29 * time.Second)
	assert.False(t, breaker.Allow(ctx))

	clock.Advance(time.Second)
	require.True(t, breaker.Allow(ctx))
	assert.Equal(t, resilience.HalfOpen, breaker.State())
	breaker.Report(ctx, true)
	assert.Equal(t, resilience.Closed, breaker.State())
	assert.True(t, breaker.Allow(ctx))
}

func TestBreakerKeepsMixedTrafficClosed(t *testing.T) {
	breaker, _ := newBreaker(4, 0.5, time.Minute)
	ctx := context.Background()

	for _, ok := range []bool{true, false, true, true, false, true} {
		require.True(t, breaker.Allow(ctx))
		breaker.Report(ctx, ok)
	}
	assert.Equal(t, resilience.Closed, breaker.State())
}

func TestBreakerForgetsOutcomesOutsideWindow(t *testing.T) {
	breaker, clock := newBreaker(3, 0.5, time.Minute)
	breaker.WithWindow(time.Minute)
	ctx := context.Background()

	breaker.Report(ctx, false)
	breaker.Report(ctx, false)
	clock.Advance(2 * time.Minute)

	breaker.Report(ctx, false)
	assert.Equal(t, resilience.Closed, breaker.State(), "old failures aged out")

	breaker.Report(ctx, false)
	breaker.Report(ctx, true)
	assert.Equal(t, resilience.Open, breaker.State())
}

func TestBreakerHalfOpenProbeLimit(t *testing.T) {
	breaker, clock := newBreaker(1, 0.5, 10*time.Second)
	breaker.WithHalfOpenProbes(2)
	ctx := context.Background()

	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())

	clock.Advance(10 * time.Second)
	assert.True(t, breaker.Allow(ctx))
	assert.True(t, breaker.Allow(ctx))
	assert.False(t, breaker.Allow(ctx), "probe budget spent")

	breaker.Report(ctx, false)
	assert.Equal(t, resilience.Open, breaker.State())
	assert.False(t, breaker.Allow(ctx))
}

func TestBreakerExportsTransitions(t *testing.T) {
	const target = "bookshop-metrics-test"
	breaker, clock := newBreaker(1, 0.5, time.Second)
	breaker.WithTarget(target)
	ctx := context.Background()

	assert.Equal(t, 0.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues(target)))

	breaker.Report(ctx, false)
	assert.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues(target)))

	clock.Advance(time.Second)
	require.True(t, breaker.Allow(ctx))
	assert.Equal(t, 2.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues(target)))

	breaker.Report(ctx, true)
	assert.Equal(t, 0.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues(target)))

	assert.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues(target)))
	for _, step := range [][2]string{{"closed", "open"}, {"open", "half_open"}, {"half_open", "closed"}} {
		got := testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues(target, step[0], step[1]))
		assert.Equal(t, 1.0, got, "%s -> %s", step[0], step[1])
	}
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, base, resilience.Backoff(base, 0, 0))
	assert.Equal(t, base, resilience.Backoff(base, 1, 0))
	assert.Equal(t, 4*base, resilience.Backoff(base, 3, 0))

	for range 50 {
		d := resilience.Backoff(base, 2, 0.2)
		assert.GreaterOrEqual(t, d, 160*time.Millisecond)
		assert.LessOrEqual(t, d, 240*time.Millisecond)
	}

	assert.Equal(t, 250*time.Millisecond, resilience.BackoffCapped(base, 5, 0, 250*time.Millisecond))
	assert.Equal(t, 200*time.Millisecond, resilience.BackoffCapped(base, 2, 0, 0))
}
