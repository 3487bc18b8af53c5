package notify

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	guardSending = "sending"
	guardSent    = "sent"
	// sendLease bounds how long a crashed worker can block redelivery of a confirmation.
	sendLease = 5 * time.Minute
)

// ReplayProtector stops a redelivered task from mailing the same confirmation twice. A send
// is claimed with Acquire, then either made permanent with Confirm or given up with Release.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, lease time.Duration) (bool, error)
	Confirm(ctx context.Context, key string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// RedisReplayProtector keeps guards as plain Redis strings. A nil Client disables the guard.
type RedisReplayProtector struct {
	Client *redis.Client
}

func (r RedisReplayProtector) Acquire(ctx context.Context, key string, lease time.Duration) (bool, error) {
	if r.Client == nil {
		return true, nil
	}
	return r.Client.SetNX(ctx, key, guardSending, lease).Result()
}

func (r RedisReplayProtector) Confirm(ctx context.Context, key string, ttl time.Duration) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Set(ctx, key, guardSent, ttl).Err()
}

func (r RedisReplayProtector) Release(ctx context.Context, key string) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, key).Err()
}

func replayKey(reference string) string {
	return "notify:confirm:" + reference
}
