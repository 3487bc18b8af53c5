// Package checkout prices the customer's cart and places orders with the bookshop backend.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pahana-edu/bookshop-checkout/internal/auth"
	"github.com/pahana-edu/bookshop-checkout/internal/bookshop"
	"github.com/pahana-edu/bookshop-checkout/internal/cart"
	"github.com/pahana-edu/bookshop-checkout/internal/events"
	"github.com/pahana-edu/bookshop-checkout/internal/lock"
	"github.com/pahana-edu/bookshop-checkout/internal/money"
	"github.com/pahana-edu/bookshop-checkout/internal/notify"
	"github.com/pahana-edu/bookshop-checkout/internal/obs"
	"github.com/pahana-edu/bookshop-checkout/internal/offer"
	"github.com/pahana-edu/bookshop-checkout/internal/pricing"
	"github.com/pahana-edu/bookshop-checkout/internal/store"
)

// Backend is the subset of the bookshop client used at checkout.
type Backend interface {
	CartRecords(ctx context.Context, sess auth.Session) ([]map[string]any, error)
	Offers(ctx context.Context, sess auth.Session) ([]offer.Offer, error)
	Branches(ctx context.Context, sess auth.Session) ([]bookshop.Branch, error)
	CreateOrder(ctx context.Context, sess auth.Session, payload any) (bookshop.CreatedOrder, error)
}

// Ledger records placement attempts.
type Ledger interface {
	InsertCheckoutOrder(ctx context.Context, arg store.InsertCheckoutOrderParams) (store.CheckoutOrder, error)
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (store.DomainEvent, error)
}

// Locker serialises placements per user.
type Locker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service coordinates quoting and order placement.
type Service struct {
	Backend        Backend
	Ledger         Ledger
	Events         Emitter
	Locker         Locker
	Sequencer      *Sequencer
	Quotes         *QuoteStore
	Policy         pricing.DiscountPolicy
	PaymentMethods []string
	Currency       string
	Formatter      *money.Formatter
	LockTTL        time.Duration
	Logger         zerolog.Logger
	Now            func() time.Time
}

// Options lists what the customer can choose from at checkout.
type Options struct {
	Branches       []bookshop.Branch `json:"branches"`
	Offers         []offer.Offer     `json:"offers"`
	PaymentMethods []string          `json:"paymentMethods"`
	Currency       string            `json:"currency"`
}

// QuoteRequest selects an optional offer for a quote.
type QuoteRequest struct {
	OfferID string `json:"offerId"`
}

// PlaceRequest is the customer's order placement.
type PlaceRequest struct {
	Fields
	OfferID         string `json:"offerId"`
	QuoteGeneration int64  `json:"quoteGeneration"`
}

// Placement is the outcome of a successful order placement.
type Placement struct {
	Reference       string            `json:"reference"`
	OrderID         string            `json:"orderId"`
	Message         string            `json:"message,omitempty"`
	Status          string            `json:"status"`
	Items           []cart.Line       `json:"items"`
	Branch          string            `json:"branch"`
	PaymentMethod   string            `json:"paymentMethod"`
	DeliveryAddress string            `json:"deliveryAddress"`
	OfferID         *string           `json:"offerId"`
	Breakdown       pricing.Breakdown `json:"breakdown"`
	Display         Display           `json:"display"`
	Currency        string            `json:"currency"`
	PlacedAt        time.Time         `json:"placedAt"`
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	return obs.LoggerFromContext(ctx, s.Logger)
}

// Options returns the branches, currently applicable offers and payment methods.
func (s *Service) Options(ctx context.Context, sess auth.Session) (Options, error) {
	var (
		branches []bookshop.Branch
		offers   []offer.Offer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		branches, err = s.Backend.Branches(gctx, sess)
		return err
	})
	g.Go(func() (err error) {
		offers, err = s.Backend.Offers(gctx, sess)
		return err
	})
	if err := g.Wait(); err != nil {
		return Options{}, err
	}
	if branches == nil {
		branches = []bookshop.Branch{}
	}
	return Options{
		Branches:       branches,
		Offers:         offer.Applicable(offers, s.now()),
		PaymentMethods: append([]string(nil), s.PaymentMethods...),
		Currency:       s.Currency,
	}, nil
}

// Quote prices the user's cart. An unknown or unusable offer yields no discount and a notice.
func (s *Service) Quote(ctx context.Context, sess auth.Session, req QuoteRequest) (Quote, error) {
	var (
		records []map[string]any
		offers  []offer.Offer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		records, err = s.Backend.CartRecords(gctx, sess)
		return err
	})
	if strings.TrimSpace(req.OfferID) != "" {
		g.Go(func() (err error) {
			offers, err = s.Backend.Offers(gctx, sess)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		obs.IncQuote("error")
		return Quote{}, err
	}

	lines, fixes := s.normalize(ctx, sess, records)
	q := Quote{Items: lines, Corrections: fixes, Currency: s.Currency}

	var bps int64
	selected, err := offer.Resolve(offers, req.OfferID, s.now())
	switch {
	case err != nil:
		q.OfferNotice = err.Error()
	case selected != nil:
		id := selected.OfferID
		q.OfferID = &id
		bps, _ = selected.PercentBps()
	}

	b, err := pricing.Calculate(lines, bps, s.Policy)
	if err != nil {
		obs.IncQuote("error")
		return Quote{}, err
	}
	q.Breakdown = b
	q.Display = display(s.Formatter, b)

	if s.Sequencer != nil {
		gen, err := s.Sequencer.Next(ctx, sess.UserID)
		if err != nil {
			obs.IncQuote("error")
			return Quote{}, err
		}
		q.Generation = gen
		if s.Quotes != nil {
			expires := s.now().Add(s.Quotes.TTL)
			q.ExpiresAt = &expires
			if err := s.Quotes.Save(ctx, sess.UserID, q); err != nil {
				obs.IncQuote("error")
				return Quote{}, fmt.Errorf("save quote: %w", err)
			}
		}
	}
	obs.IncQuote("ok")
	return q, nil
}

// PlaceOrder validates the checkout, re-prices the cart and submits the order to the backend.
// Placements of the same user are serialised; a concurrent attempt gets ErrCheckoutInProgress.
func (s *Service) PlaceOrder(ctx context.Context, sess auth.Session, req PlaceRequest) (Placement, error) {
	if strings.TrimSpace(sess.UserID) == "" {
		// the cart cannot be fetched without a user, so only the form is checked
		problems := append([]string{ProblemMissingUser}, missingFields(cleanFields(req.Fields))...)
		return Placement{}, &ValidationError{Problems: problems}
	}
	var out Placement
	run := func(ctx context.Context) error {
		var err error
		out, err = s.placeOrder(ctx, sess, req)
		return err
	}
	if s.Locker == nil {
		err := run(ctx)
		return out, err
	}
	err := s.Locker.TryWithLock(ctx, lock.CheckoutKey(sess.UserID), s.LockTTL, run)
	if errors.Is(err, lock.ErrNotAcquired) {
		obs.IncOrder("in_progress")
		return Placement{}, ErrCheckoutInProgress
	}
	return out, err
}

func (s *Service) placeOrder(ctx context.Context, sess auth.Session, req PlaceRequest) (Placement, error) {
	var (
		records  []map[string]any
		offers   []offer.Offer
		branches []bookshop.Branch
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		records, err = s.Backend.CartRecords(gctx, sess)
		return err
	})
	g.Go(func() (err error) {
		branches, err = s.Backend.Branches(gctx, sess)
		return err
	})
	if strings.TrimSpace(req.OfferID) != "" {
		g.Go(func() (err error) {
			offers, err = s.Backend.Offers(gctx, sess)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		obs.IncOrder("upstream_error")
		return Placement{}, err
	}

	lines, _ := s.normalize(ctx, sess, records)
	fields := cleanFields(req.Fields)

	var extra []string
	selected, err := offer.Resolve(offers, req.OfferID, s.now())
	if err != nil {
		extra = append(extra, "offer")
	}
	if branch, ok := bookshop.FindBranch(branches, fields.Branch); ok {
		fields.Branch = branch.Name
	} else if fields.Branch != "" {
		extra = append(extra, "branch")
	}
	if fields.PaymentMethod != "" && !s.paymentAllowed(fields.PaymentMethod) {
		extra = append(extra, "paymentMethod")
	}

	var bps int64
	if selected != nil {
		bps, _ = selected.PercentBps()
	}
	b, err := pricing.Calculate(lines, bps, s.Policy)
	switch {
	case errors.Is(err, pricing.ErrDiscountExceedsSubtotal):
		extra = append(extra, "offer")
	case errors.Is(err, pricing.ErrAmountOutOfRange):
		extra = append(extra, ProblemAmountOutOfRange)
	case err != nil:
		obs.IncOrder("rejected")
		return Placement{}, err
	}

	sub, err := BuildSubmission(sess, lines, fields, selected, b)
	if err != nil || len(extra) > 0 {
		obs.IncOrder("rejected")
		return Placement{}, mergeProblems(err, extra)
	}

	if err := s.checkGeneration(ctx, sess, req.QuoteGeneration, sub.OfferID, b); err != nil {
		obs.IncOrder("stale")
		return Placement{}, err
	}

	reference := ulid.Make().String()
	placedAt := s.now()
	ledgerID := uuid.New()
	logger := s.log(ctx).With().Str("reference", reference).Str("user_id", sess.UserID).Logger()

	created, err := s.Backend.CreateOrder(ctx, sess, sub)
	if err != nil {
		obs.IncOrder("upstream_error")
		logger.Warn().Err(err).Msg("order submission failed")
		s.record(ctx, &logger, ledgerID, reference, req.QuoteGeneration, sub, b, "", err)
		s.emit(ctx, &logger, events.TopicOrderFailed, ledgerID, map[string]any{
			"reference": reference,
			"userId":    sub.UserID,
			"reason":    err.Error(),
		})
		return Placement{}, err
	}

	s.record(ctx, &logger, ledgerID, reference, req.QuoteGeneration, sub, b, created.OrderID, nil)
	s.emit(ctx, &logger, events.TopicOrderSubmitted, ledgerID, notify.OrderConfirmation{
		Reference:       reference,
		UpstreamOrderID: created.OrderID,
		UserID:          sub.UserID,
		Email:           sub.UserEmail,
		Branch:          sub.Branch,
		PaymentMethod:   sub.PaymentMethod,
		DeliveryAddress: sub.DeliveryAddress,
		Items:           sub.Items,
		Subtotal:        b.Subtotal,
		TaxAmount:       sub.TaxAmount,
		DeliveryCharges: sub.DeliveryCharges,
		DiscountAmount:  sub.DiscountAmount,
		FinalAmount:     sub.FinalAmount,
		Currency:        s.Currency,
		PlacedAt:        placedAt,
	})

	obs.IncOrder("submitted")
	obs.ObserveOrderValue(int64(sub.FinalAmount))
	logger.Info().Str("order_id", created.OrderID).Str("final_amount", sub.FinalAmount.String()).Msg("order submitted")

	return Placement{
		Reference:       reference,
		OrderID:         created.OrderID,
		Message:         created.Message,
		Status:          store.StatusSubmitted,
		Items:           sub.Items,
		Branch:          sub.Branch,
		PaymentMethod:   sub.PaymentMethod,
		DeliveryAddress: sub.DeliveryAddress,
		OfferID:         sub.OfferID,
		Breakdown:       b,
		Display:         display(s.Formatter, b),
		Currency:        s.Currency,
		PlacedAt:        placedAt,
	}, nil
}

func (s *Service) normalize(ctx context.Context, sess auth.Session, records []map[string]any) ([]cart.Line, []cart.Correction) {
	lines, fixes := cart.Normalize(records)
	for _, fix := range fixes {
		obs.IncCartCorrection(fix.Field)
		s.log(ctx).Warn().
			Str("user_id", sess.UserID).
			Int("index", fix.Index).
			Str("field", fix.Field).
			Str("reason", fix.Reason).
			Interface("raw", fix.Raw).
			Msg("cart value defaulted")
	}
	return lines, fixes
}

func (s *Service) paymentAllowed(method string) bool {
	for _, m := range s.PaymentMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// checkGeneration compares the placement with the quote the customer confirmed. A zero
// generation skips the check.
func (s *Service) checkGeneration(ctx context.Context, sess auth.Session, generation int64, offerID *string, b pricing.Breakdown) error {
	if generation <= 0 || s.Sequencer == nil {
		return nil
	}
	current, err := s.Sequencer.Current(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if generation != current {
		return ErrStaleQuote
	}
	if s.Quotes == nil {
		return nil
	}
	snapshot, ok, err := s.Quotes.Load(ctx, sess.UserID, generation)
	if err != nil {
		return fmt.Errorf("load quote: %w", err)
	}
	if !ok {
		return ErrStaleQuote
	}
	if snapshot.Breakdown != b || stringValue(snapshot.OfferID) != stringValue(offerID) {
		return &QuoteChangedError{Generation: generation, Previous: snapshot.Breakdown, Current: b}
	}
	return nil
}

func (s *Service) record(ctx context.Context, logger *zerolog.Logger, id uuid.UUID, reference string, generation int64, sub Submission, b pricing.Breakdown, upstreamID string, failure error) {
	if s.Ledger == nil {
		return
	}
	items, err := json.Marshal(sub.Items)
	if err != nil {
		logger.Error().Err(err).Msg("encode ledger items")
		return
	}
	params := store.InsertCheckoutOrderParams{
		ID:              id,
		Reference:       reference,
		UserID:          sub.UserID,
		UserEmail:       sub.UserEmail,
		Branch:          sub.Branch,
		PaymentMethod:   sub.PaymentMethod,
		DeliveryAddress: sub.DeliveryAddress,
		OfferID:         sub.OfferID,
		Items:           items,
		Subtotal:        int64(b.Subtotal),
		Tax:             int64(sub.TaxAmount),
		Delivery:        int64(sub.DeliveryCharges),
		Discount:        int64(sub.DiscountAmount),
		Total:           int64(sub.FinalAmount),
		Currency:        s.Currency,
		QuoteGeneration: generation,
		Status:          store.StatusSubmitted,
	}
	if upstreamID != "" {
		params.UpstreamOrderID = &upstreamID
	}
	if failure != nil {
		reason := failure.Error()
		params.Status = store.StatusFailed
		params.FailureReason = &reason
	}
	// ledger failures are logged only; the backend outcome stands
	if _, err := s.Ledger.InsertCheckoutOrder(context.WithoutCancel(ctx), params); err != nil {
		logger.Error().Err(err).Str("status", params.Status).Msg("record checkout ledger")
	}
}

func (s *Service) emit(ctx context.Context, logger *zerolog.Logger, topic string, id uuid.UUID, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(context.WithoutCancel(ctx), topic, id, payload); err != nil {
		logger.Error().Err(err).Str("topic", topic).Msg("emit checkout event")
	}
}

func mergeProblems(err error, extra []string) error {
	var verr *ValidationError
	if err != nil && !errors.As(err, &verr) {
		return err
	}
	merged := &ValidationError{}
	if verr != nil {
		merged.Problems = append(merged.Problems, verr.Problems...)
	}
	for _, p := range extra {
		if !merged.Has(p) {
			merged.Problems = append(merged.Problems, p)
		}
	}
	return merged
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
