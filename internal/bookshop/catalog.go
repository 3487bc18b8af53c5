package bookshop

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pahana-edu/bookshop-checkout/internal/auth"
	"github.com/pahana-edu/bookshop-checkout/internal/cache"
	"github.com/pahana-edu/bookshop-checkout/internal/obs"
	"github.com/pahana-edu/bookshop-checkout/internal/offer"
)

// CachedClient serves offers and branches from Redis, falling through to the backend on a miss.
// Carts and order creation are never cached.
type CachedClient struct {
	*Client
	cache  *cache.JSON
	logger zerolog.Logger
}

// NewCachedClient wraps client with the options cache.
func NewCachedClient(client *Client, c *cache.JSON, logger zerolog.Logger) *CachedClient {
	return &CachedClient{Client: client, cache: c, logger: logger}
}

// Offers returns the cached offer list.
func (c *CachedClient) Offers(ctx context.Context, sess auth.Session) ([]offer.Offer, error) {
	var offers []offer.Offer
	if c.lookup(ctx, cache.KeyOffers(), &offers) {
		return offers, nil
	}
	offers, err := c.Client.Offers(ctx, sess)
	if err != nil {
		return nil, err
	}
	c.store(ctx, cache.KeyOffers(), offers)
	return offers, nil
}

// Branches returns the cached branch list.
func (c *CachedClient) Branches(ctx context.Context, sess auth.Session) ([]Branch, error) {
	var branches []Branch
	if c.lookup(ctx, cache.KeyBranches(), &branches) {
		return branches, nil
	}
	branches, err := c.Client.Branches(ctx, sess)
	if err != nil {
		return nil, err
	}
	c.store(ctx, cache.KeyBranches(), branches)
	return branches, nil
}

// Invalidate drops the cached options.
func (c *CachedClient) Invalidate(ctx context.Context) error {
	return c.cache.Delete(ctx, cache.KeyOffers(), cache.KeyBranches())
}

func (c *CachedClient) lookup(ctx context.Context, key string, dst any) bool {
	hit, err := c.cache.Get(ctx, key, dst)
	if err != nil {
		obs.LoggerFromContext(ctx, c.logger).Warn().Err(err).Str("key", key).Msg("options cache read failed")
		return false
	}
	return hit
}

func (c *CachedClient) store(ctx context.Context, key string, v any) {
	if err := c.cache.Set(ctx, key, v); err != nil {
		obs.LoggerFromContext(ctx, c.logger).Warn().Err(err).Str("key", key).Msg("options cache write failed")
	}
}
