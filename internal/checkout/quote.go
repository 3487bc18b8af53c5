package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pahana-edu/bookshop-checkout/internal/cache"
	"github.com/pahana-edu/bookshop-checkout/internal/cart"
	"github.com/pahana-edu/bookshop-checkout/internal/money"
	"github.com/pahana-edu/bookshop-checkout/internal/pricing"
)

// Display holds the breakdown rendered for the storefront.
type Display struct {
	Subtotal        string `json:"subtotal"`
	TaxAmount       string `json:"taxAmount"`
	DeliveryCharges string `json:"deliveryCharges"`
	DiscountAmount  string `json:"discountAmount"`
	FinalTotal      string `json:"finalTotal"`
}

// Quote is a priced snapshot of the user's cart.
type Quote struct {
	Generation  int64             `json:"generation"`
	Items       []cart.Line       `json:"items"`
	Corrections []cart.Correction `json:"corrections,omitempty"`
	OfferID     *string           `json:"offerId"`
	OfferNotice string            `json:"offerNotice,omitempty"`
	Breakdown   pricing.Breakdown `json:"breakdown"`
	Display     Display           `json:"display"`
	Currency    string            `json:"currency"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
}

func display(f *money.Formatter, b pricing.Breakdown) Display {
	if f == nil {
		return Display{
			Subtotal:        b.Subtotal.String(),
			TaxAmount:       b.TaxAmount.String(),
			DeliveryCharges: b.DeliveryCharges.String(),
			DiscountAmount:  b.DiscountAmount.String(),
			FinalTotal:      b.FinalTotal.String(),
		}
	}
	return Display{
		Subtotal:        f.Format(b.Subtotal),
		TaxAmount:       f.Format(b.TaxAmount),
		DeliveryCharges: f.Format(b.DeliveryCharges),
		DiscountAmount:  f.Format(b.DiscountAmount),
		FinalTotal:      f.Format(b.FinalTotal),
	}
}

// Sequencer stamps quotes with a per-user, monotonically increasing generation.
type Sequencer struct {
	R   *redis.Client
	TTL time.Duration
}

// Next advances and returns the user's generation.
func (s Sequencer) Next(ctx context.Context, userID string) (int64, error) {
	key := cache.KeyGeneration(userID)
	pipe := s.R.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if s.TTL > 0 {
		pipe.Expire(ctx, key, s.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("advance quote generation: %w", err)
	}
	return incr.Val(), nil
}

// Current returns the user's latest generation, or 0 when none was issued.
func (s Sequencer) Current(ctx context.Context, userID string) (int64, error) {
	n, err := s.R.Get(ctx, cache.KeyGeneration(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("read quote generation: %w", err)
	}
	return n, nil
}

// QuoteStore keeps quote snapshots so a placement can be checked against what the user saw.
type QuoteStore struct {
	Cache *cache.JSON
	TTL   time.Duration
}

// Save stores q under its generation.
func (s QuoteStore) Save(ctx context.Context, userID string, q Quote) error {
	return s.Cache.SetTTL(ctx, cache.KeyQuote(userID, q.Generation), q, s.TTL)
}

// Load fetches the snapshot of generation.
func (s QuoteStore) Load(ctx context.Context, userID string, generation int64) (Quote, bool, error) {
	var q Quote
	ok, err := s.Cache.Get(ctx, cache.KeyQuote(userID, generation), &q)
	return q, ok, err
}
