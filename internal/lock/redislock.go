// Package lock serialises work per key with a Redis SET NX lease.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by TryWithLock when another holder owns the key.
var ErrNotAcquired = errors.New("lock: held by another caller")

const (
	defaultLease = 30 * time.Second
	defaultRetry = 50 * time.Millisecond
)

// Both scripts only touch the key while it still holds the caller's token, so a holder whose
// lease expired cannot release or extend a successor's lock.
var (
	releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
	extendLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker hands out Redis leases. While a callback runs its lease is renewed every third of
// the TTL, so a slow order submission does not let a second placement in.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// CheckoutKey is the lock guarding a user's order placement.
func CheckoutKey(userID string) string {
	return "lock:checkout:" + userID
}

// WithLock runs fn while holding key, polling every RetryBackoff until the current holder is
// done or ctx ends.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if err := l.check(fn); err != nil {
		return err
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = defaultRetry
	}
	ticker := time.NewTicker(retry)
	defer ticker.Stop()
	for {
		err := l.TryWithLock(ctx, key, ttl, fn)
		if !errors.Is(err, ErrNotAcquired) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryWithLock runs fn only if key is free, and returns ErrNotAcquired otherwise.
func (l Locker) TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if err := l.check(fn); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = defaultLease
	}
	token := uuid.NewString()
	ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go l.renew(key, token, ttl, stop, renewed)
	defer func() {
		close(stop)
		<-renewed
		_ = releaseLease.Run(context.Background(), l.R, []string{key}, token).Err()
	}()
	return fn(ctx)
}

func (l Locker) renew(key, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl/3)
			n, err := extendLease.Run(ctx, l.R, []string{key}, token, ttl.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				// lease lost to another holder
				return
			}
		}
	}
}

func (l Locker) check(fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	return nil
}
