package bookshop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/pahana-edu/bookshop-checkout/internal/auth"
	"github.com/pahana-edu/bookshop-checkout/internal/cart"
	"github.com/pahana-edu/bookshop-checkout/internal/obs"
	"github.com/pahana-edu/bookshop-checkout/internal/offer"
	"github.com/pahana-edu/bookshop-checkout/internal/resilience"
)

const maxBodyBytes = 1 << 20

// Doer performs an HTTP request. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	HTTP    Doer
	Logger  zerolog.Logger
	// EnrichConcurrency bounds the parallel product lookups of the legacy cart fallback.
	EnrichConcurrency int
}

// Client talks to the bookshop backend.
type Client struct {
	baseURL     string
	http        Doer
	logger      zerolog.Logger
	enrichLimit int
	latency     metric.Float64Histogram
}

// NewClient builds a Client.
func NewClient(opts Options) *Client {
	limit := opts.EnrichConcurrency
	if limit <= 0 {
		limit = 4
	}
	latency, _ := otel.Meter("bookshop").Float64Histogram(
		"bookshop.client.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of bookshop backend calls."),
	)
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		http:        opts.HTTP,
		logger:      opts.Logger,
		enrichLimit: limit,
		latency:     latency,
	}
}

// NewHTTPClient returns the transport used for backend calls, traced with otelhttp.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// CartRecords returns the raw cart records of the session's user, ready for cart.Normalize.
// The detailed cart endpoint is tried first; when it fails the legacy quantities endpoint is
// used and every product is looked up to recover its name and price.
func (c *Client) CartRecords(ctx context.Context, sess auth.Session) ([]map[string]any, error) {
	records, err := c.cartDetailsInfo(ctx, sess)
	if err == nil {
		return records, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	obs.LoggerFromContext(ctx, c.logger).Warn().Err(err).Str("user_id", sess.UserID).Msg("cart details unavailable, using legacy cart")

	records, fallbackErr := c.cartLegacy(ctx, sess)
	if fallbackErr != nil {
		return nil, fmt.Errorf("fetch cart: %w", errors.Join(err, fallbackErr))
	}
	return records, nil
}

func (c *Client) cartDetailsInfo(ctx context.Context, sess auth.Session) ([]map[string]any, error) {
	var body json.RawMessage
	q := url.Values{"userId": {sess.UserID}}
	if err := c.getJSON(ctx, sess, "cart_details_info", "/api/cart/detailsInfo?"+q.Encode(), &body); err != nil {
		return nil, err
	}
	var wrapped struct {
		Products []map[string]any `json:"products"`
	}
	if err := decodeListOrWrapped(body, &wrapped.Products, &wrapped); err != nil {
		return nil, fmt.Errorf("decode cart details: %w", err)
	}
	return wrapped.Products, nil
}

func (c *Client) cartLegacy(ctx context.Context, sess auth.Session) ([]map[string]any, error) {
	var body struct {
		ProductID map[string]any `json:"productId"`
	}
	q := url.Values{"userId": {sess.UserID}}
	if err := c.getJSON(ctx, sess, "cart_details", "/api/cart/details?"+q.Encode(), &body); err != nil {
		return nil, err
	}
	records := cart.FromQuantities(body.ProductID)
	if len(records) == 0 {
		return records, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.enrichLimit)
	for _, rec := range records {
		id := fmt.Sprint(rec["productId"])
		g.Go(func() error {
			product, err := c.product(gctx, sess, id)
			if err != nil {
				return fmt.Errorf("product %s: %w", id, err)
			}
			for _, key := range []string{"productName", "productPrice"} {
				if v, ok := product[key]; ok && v != nil {
					rec[key] = v
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) product(ctx context.Context, sess auth.Session, id string) (map[string]any, error) {
	var body map[string]any
	if err := c.getJSON(ctx, sess, "product", "/product/"+url.PathEscape(id), &body); err != nil {
		return nil, err
	}
	if inner, ok := body["product"].(map[string]any); ok {
		return inner, nil
	}
	return body, nil
}

// Offers lists the offers published by the backend.
func (c *Client) Offers(ctx context.Context, sess auth.Session) ([]offer.Offer, error) {
	var body json.RawMessage
	if err := c.getJSON(ctx, sess, "offers", "/offer", &body); err != nil {
		return nil, err
	}
	var wrapped struct {
		Offers []offer.Offer `json:"offers"`
	}
	if err := decodeListOrWrapped(body, &wrapped.Offers, &wrapped); err != nil {
		return nil, fmt.Errorf("decode offers: %w", err)
	}
	return wrapped.Offers, nil
}

// Branches lists the bookshop's branches.
func (c *Client) Branches(ctx context.Context, sess auth.Session) ([]Branch, error) {
	var body json.RawMessage
	if err := c.getJSON(ctx, sess, "branches", "/branch", &body); err != nil {
		return nil, err
	}
	var wrapped struct {
		Branches []Branch `json:"branches"`
	}
	if err := decodeListOrWrapped(body, &wrapped.Branches, &wrapped); err != nil {
		return nil, fmt.Errorf("decode branches: %w", err)
	}
	return wrapped.Branches, nil
}

// CreateOrder submits an order. It is attempted exactly once.
func (c *Client) CreateOrder(ctx context.Context, sess auth.Session, payload any) (CreatedOrder, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return CreatedOrder{}, fmt.Errorf("encode order: %w", err)
	}
	req, err := c.newRequest(ctx, sess, http.MethodPost, "/orders", bytes.NewReader(raw))
	if err != nil {
		return CreatedOrder{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out CreatedOrder
	if err := c.do(ctx, "create_order", req, &out); err != nil {
		return CreatedOrder{}, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, sess auth.Session, endpoint, path string, dst any) error {
	req, err := c.newRequest(ctx, sess, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(ctx, endpoint, req, dst)
}

func (c *Client) newRequest(ctx context.Context, sess auth.Session, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if sess.Token != "" {
		req.Header.Set("Authorization", "Bearer "+sess.Token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, endpoint string, req *http.Request, dst any) error {
	if c.http == nil {
		return fmt.Errorf("%s: %w: no http client", endpoint, ErrUnavailable)
	}
	start := time.Now()
	resp, err := c.http.Do(ctx, req)
	c.record(ctx, endpoint, start, resp, err)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return fmt.Errorf("%s: %w: %w", endpoint, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s: %w: read body: %w", endpoint, ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return upstreamError(endpoint, resp.StatusCode, body)
	}
	if dst == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) record(ctx context.Context, endpoint string, start time.Time, resp *http.Response, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, resilience.ErrOpenCircuit):
		outcome = "circuit_open"
	case err != nil:
		outcome = "transport_error"
	case resp.StatusCode >= 500:
		outcome = "server_error"
	case resp.StatusCode >= 400:
		outcome = "client_error"
	}
	obs.IncUpstream(endpoint, outcome)
	if c.latency != nil {
		c.latency.Record(ctx, obs.DurationMillis(time.Since(start)),
			metric.WithAttributes(attribute.String("endpoint", endpoint), attribute.String("outcome", outcome)))
	}
}

func upstreamError(endpoint string, status int, body []byte) *UpstreamError {
	ue := &UpstreamError{Endpoint: endpoint, Status: status}
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		ue.Message = eb.Error
		if ue.Message == "" {
			ue.Message = eb.Message
		}
		if eb.Status != 0 {
			ue.Status = eb.Status
		}
	}
	if ue.Message == "" {
		ue.Message = strings.TrimSpace(string(body))
		if len(ue.Message) > 200 {
			ue.Message = ue.Message[:200]
		}
	}
	return ue
}

// decodeListOrWrapped decodes either a bare JSON array into list or an object into wrapped.
func decodeListOrWrapped(body json.RawMessage, list any, wrapped any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	dec := func(dst any) error {
		d := json.NewDecoder(bytes.NewReader(trimmed))
		d.UseNumber()
		return d.Decode(dst)
	}
	if trimmed[0] == '[' {
		return dec(list)
	}
	return dec(wrapped)
}
