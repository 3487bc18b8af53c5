package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HTTPClient adds retries, a per-attempt timeout and a circuit breaker to an http.Client.
// Only GET, HEAD and OPTIONS are retried. Order submission is a POST and goes out once.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	Target      string
}

type outcome int

const (
	succeeded outcome = iota
	// throttled answers (429) are retried but do not count against the breaker.
	throttled
	failed
)

func classify(resp *http.Response, err error) outcome {
	switch {
	case err != nil:
		return failed
	case resp.StatusCode == http.StatusTooManyRequests:
		return throttled
	case resp.StatusCode >= http.StatusInternalServerError:
		return failed
	default:
		return succeeded
	}
}

// Do sends req. When the last attempt still answers 5xx or 429, that response is returned
// with a nil error so the caller can read the upstream error body. ErrOpenCircuit is returned
// when the breaker refuses the call.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	attempts := max(cl.MaxAttempts, 1)
	if !idempotent(req.Method) {
		attempts = 1
	}
	target := cl.Target
	if target == "" {
		target = "default"
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, fmt.Errorf("resilience: buffer request body: %w", err)
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if !cl.Breaker.Allow(ctx) {
			return nil, ErrOpenCircuit
		}
		resp, err := cl.send(ctx, req, body)
		result := classify(resp, err)
		if result != throttled {
			cl.Breaker.Report(ctx, result == succeeded)
		}
		if result == succeeded {
			return resp, nil
		}
		if err == nil && attempt == attempts {
			return resp, nil
		}
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == attempts {
			return nil, err
		}

		wait := BackoffCapped(cl.BaseBackoff, attempt, cl.Jitter, cl.MaxBackoff)
		if err == nil {
			wait = max(wait, retryAfter(resp, cl.MaxBackoff))
			lastErr = fmt.Errorf("resilience: upstream status %s", resp.Status)
			discard(resp)
		} else {
			lastErr = err
		}
		RetryAttempts.WithLabelValues(target).Inc()
		if err := sleep(ctx, wait); err != nil {
			return nil, errors.Join(err, lastErr)
		}
	}
}

// send performs one attempt. The attempt timeout is released when the caller closes the body.
func (cl HTTPClient) send(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if cl.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, cl.Timeout)
	}
	clone := req.Clone(attemptCtx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	}
	resp, err := cl.Client.Do(clone)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

func idempotent(method string) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// retryAfter reads a delay-seconds Retry-After header, capped at ceiling when positive.
func retryAfter(resp *http.Response, ceiling time.Duration) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	src := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		_ = req.Body.Close()
		src = fresh
	}
	defer src.Close()
	return io.ReadAll(src)
}
