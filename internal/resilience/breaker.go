// Package resilience wraps calls to the bookshop backend with retries and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the breaker refuses a call.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is a breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// gauge is the value exported on the breaker_state metric.
func (s State) gauge() float64 {
	switch s {
	case Closed, Open, HalfOpen:
		return float64(s)
	default:
		return -1
	}
}

const (
	defaultWindow = time.Minute
	windowBuckets = 6
)

type bucket struct {
	epoch     int64
	successes int
	failures  int
}

// Breaker opens when the failure ratio over a rolling window reaches a threshold, once at
// least minRequests outcomes have been seen in that window. After openFor it admits a
// limited number of half-open probes; the first probe outcome closes or reopens it.
type Breaker struct {
	mu           sync.Mutex
	state        State
	minRequests  int
	failureRatio float64
	openFor      time.Duration
	openedAt     time.Time
	halfOpenMax  int
	probes       int

	bucketWidth time.Duration
	buckets     [windowBuckets]bucket

	target string
	logger zerolog.Logger
	now    func() time.Time
}

// NewBreaker returns a closed breaker. Out of range arguments fall back to 1 request, a 0.5
// ratio and a 30s cool-off.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 1
	}
	if failureRatio <= 0 || failureRatio > 1 {
		failureRatio = 0.5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		minRequests:  minRequests,
		failureRatio: failureRatio,
		openFor:      openFor,
		halfOpenMax:  1,
		bucketWidth:  defaultWindow / windowBuckets,
		target:       "default",
		logger:       zerolog.Nop(),
		now:          time.Now,
	}
}

// WithHalfOpenProbes sets how many calls the half-open state admits.
func (b *Breaker) WithHalfOpenProbes(n int) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > 0 {
		b.halfOpenMax = n
	}
	return b
}

// WithWindow sets the rolling window the failure ratio is computed over.
func (b *Breaker) WithWindow(d time.Duration) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d >= windowBuckets {
		b.bucketWidth = d / windowBuckets
		b.buckets = [windowBuckets]bucket{}
	}
	return b
}

// WithTarget names the dependency in metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t := strings.TrimSpace(target); t != "" {
		b.target = t
	}
	BreakerState.WithLabelValues(b.target).Set(b.state.gauge())
	return b
}

// WithLogger sets the fallback logger for transitions when the call context carries none.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// WithClock replaces time.Now.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.now = now
	}
	return b
}

// State returns the current state. An open breaker whose cool-off has elapsed still reports
// Open until the next Allow.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. Every admitted call must be followed by Report.
// A nil Breaker admits everything.
func (b *Breaker) Allow(ctx context.Context) bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.openFor {
			return false
		}
		b.transition(ctx, HalfOpen)
		b.probes = 1
		return true
	case HalfOpen:
		if b.probes >= b.halfOpenMax {
			return false
		}
		b.probes++
		return true
	}
	return true
}

// Report records the outcome of an admitted call.
func (b *Breaker) Report(ctx context.Context, success bool) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		if success {
			b.transition(ctx, Closed)
		} else {
			b.transition(ctx, Open)
		}
		return
	}

	cur := b.current()
	if success {
		cur.successes++
	} else {
		cur.failures++
	}

	successes, failures := b.totals()
	total := successes + failures
	if total >= b.minRequests && float64(failures)/float64(total) >= b.failureRatio {
		b.transition(ctx, Open)
	}
}

func (b *Breaker) current() *bucket {
	epoch := b.now().UnixNano() / int64(b.bucketWidth)
	cur := &b.buckets[epoch%windowBuckets]
	if cur.epoch != epoch {
		*cur = bucket{epoch: epoch}
	}
	return cur
}

func (b *Breaker) totals() (successes, failures int) {
	oldest := b.now().UnixNano()/int64(b.bucketWidth) - windowBuckets + 1
	for _, bk := range b.buckets {
		if bk.epoch >= oldest {
			successes += bk.successes
			failures += bk.failures
		}
	}
	return successes, failures
}

// transition must be called with mu held.
func (b *Breaker) transition(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.probes = 0
	b.buckets = [windowBuckets]bucket{}
	switch next {
	case Open:
		b.openedAt = b.now()
		BreakerOpenedTotal.WithLabelValues(b.target).Inc()
	case Closed:
		b.openedAt = time.Time{}
	}
	BreakerState.WithLabelValues(b.target).Set(next.gauge())
	BreakerTransitions.WithLabelValues(b.target, prev.String(), next.String()).Inc()

	logger := &b.logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = l
	}
	evt := logger.Info().Str("target", b.target).Str("from_state", prev.String()).Str("to_state", next.String())
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}
