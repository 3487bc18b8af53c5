// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

var draining atomic.Bool

// SetReady flips readiness; the API clears it when draining for shutdown.
func SetReady(v bool) { draining.Store(!v) }

// Checker probes the stores the API cannot serve without.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Probes pings the order ledger and Redis.
type Probes struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
}

func (p Probes) PingDB(ctx context.Context, timeout time.Duration) error {
	if p.DB == nil {
		return errors.New("database not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.DB.Ping(ctx)
}

func (p Probes) PingRedis(ctx context.Context, timeout time.Duration) error {
	if p.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}

// Handler serves /health/live and /health/ready.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
	// Upstream reports the bookshop breaker state. It is informational: an open breaker
	// degrades checkout but the pod stays in rotation for order history and reports.
	Upstream func() string
}

type readiness struct {
	Status   string `json:"status"`
	DB       string `json:"db,omitempty"`
	Redis    string `json:"redis,omitempty"`
	Bookshop string `json:"bookshop,omitempty"`
}

func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready answers 503 while draining or when the database or Redis does not answer in time.
// Both are pinged concurrently.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	switch {
	case draining.Load():
		writeReadiness(w, http.StatusServiceUnavailable, readiness{Status: "draining"})
		return
	case h.Checker == nil:
		writeReadiness(w, http.StatusServiceUnavailable, readiness{Status: "dependencies unavailable"})
		return
	}

	out := readiness{Status: "ok", DB: "ok", Redis: "ok"}
	var g errgroup.Group
	g.Go(func() error {
		if err := h.Checker.PingDB(r.Context(), orDefault(h.DBTimeout, 500*time.Millisecond)); err != nil {
			out.DB = err.Error()
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := h.Checker.PingRedis(r.Context(), orDefault(h.RedisTimeout, 300*time.Millisecond)); err != nil {
			out.Redis = err.Error()
			return err
		}
		return nil
	})
	status := http.StatusOK
	if err := g.Wait(); err != nil {
		out.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if h.Upstream != nil {
		out.Bookshop = h.Upstream()
	}
	writeReadiness(w, status, out)
}

func writeReadiness(w http.ResponseWriter, status int, body readiness) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
