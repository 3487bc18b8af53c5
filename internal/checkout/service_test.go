package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pahana-edu/bookshop-checkout/internal/auth"
	"github.com/pahana-edu/bookshop-checkout/internal/bookshop"
	"github.com/pahana-edu/bookshop-checkout/internal/bookshop/bookshoptest"
	"github.com/pahana-edu/bookshop-checkout/internal/cache"
	"github.com/pahana-edu/bookshop-checkout/internal/cart"
	"github.com/pahana-edu/bookshop-checkout/internal/checkout"
	"github.com/pahana-edu/bookshop-checkout/internal/events"
	"github.com/pahana-edu/bookshop-checkout/internal/lock"
	"github.com/pahana-edu/bookshop-checkout/internal/money"
	"github.com/pahana-edu/bookshop-checkout/internal/offer"
	"github.com/pahana-edu/bookshop-checkout/internal/pricing"
	"github.com/pahana-edu/bookshop-checkout/internal/store"
)

type fakeLedger struct {
	mu   sync.Mutex
	rows []store.InsertCheckoutOrderParams
	err  error
}

func (f *fakeLedger) InsertCheckoutOrder(_ context.Context, arg store.InsertCheckoutOrderParams) (store.CheckoutOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return store.CheckoutOrder{}, f.err
	}
	f.rows = append(f.rows, arg)
	return store.CheckoutOrder{ID: arg.ID, Reference: arg.Reference, Status: arg.Status}, nil
}

func (f *fakeLedger) all() []store.InsertCheckoutOrderParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.InsertCheckoutOrderParams(nil), f.rows...)
}

type emitted struct {
	topic   string
	id      uuid.UUID
	payload any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) Emit(_ context.Context, topic string, id uuid.UUID, payload any) (store.DomainEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{topic: topic, id: id, payload: payload})
	return store.DomainEvent{Topic: topic, AggregateID: id}, nil
}

func (f *fakeEmitter) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.topic)
	}
	return out
}

type harness struct {
	svc     *checkout.Service
	srv     *bookshoptest.Server
	mr      *miniredis.Miniredis
	ledger  *fakeLedger
	emitter *fakeEmitter
}

var fixedNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	srv := bookshoptest.New(t)
	srv.Cart = []map[string]any{
		{"productId": "p1", "productName": "Madol Doova", "quantity": 2, "productPrice": 50},
		{"productId": "p2", "productName": "Viragaya", "quantity": 1, "productPrice": "30.00"},
	}
	srv.Branches = []map[string]any{
		{"branchId": "b1", "branchName": "Main Branch", "branchAddress": "Colombo 03"},
		{"id": "b2", "name": "Kandy"},
	}
	srv.Offers = []map[string]any{
		{"offerId": "o-20", "offerTitle": "Twenty off", "offerValue": "20%", "isActive": true},
		{"offerId": "o-off", "offerTitle": "Retired", "offerValue": "10%", "isActive": false},
		{"offerId": "o-150", "offerTitle": "Misprint", "offerValue": "150", "isActive": true},
	}

	h := &harness{srv: srv, mr: mr, ledger: &fakeLedger{}, emitter: &fakeEmitter{}}
	h.svc = &checkout.Service{
		Backend:        srv.Client(),
		Ledger:         h.ledger,
		Events:         h.emitter,
		Locker:         lock.Locker{R: rdb},
		Sequencer:      &checkout.Sequencer{R: rdb, TTL: time.Hour},
		Quotes:         &checkout.QuoteStore{Cache: cache.New(rdb, time.Hour), TTL: 30 * time.Minute},
		Policy:         pricing.PolicyClamp,
		PaymentMethods: []string{"Online Payment", "Cash on Delivery"},
		Currency:       "LKR",
		LockTTL:        5 * time.Second,
		Logger:         zerolog.Nop(),
		Now:            func() time.Time { return fixedNow },
	}
	return h
}

func placeRequest() checkout.PlaceRequest {
	return checkout.PlaceRequest{Fields: validFields()}
}

func TestQuotePricesCart(t *testing.T) {
	h := newHarness(t)

	q, err := h.svc.Quote(context.Background(), reader, checkout.QuoteRequest{})
	require.NoError(t, err)
	require.Equal(t, pricing.Breakdown{
		Subtotal:        13000,
		TaxAmount:       520,
		DeliveryCharges: 650,
		DiscountAmount:  0,
		FinalTotal:      14170,
	}, q.Breakdown)
	require.Equal(t, "141.70", q.Display.FinalTotal)
	require.Len(t, q.Items, 2)
	require.Nil(t, q.OfferID)
	require.Equal(t, int64(1), q.Generation)
	require.NotNil(t, q.ExpiresAt)
	require.Equal(t, fixedNow.Add(30*time.Minute), *q.ExpiresAt)
	require.Zero(t, h.srv.Calls("GET /offer"))
	require.Equal(t, []string{"Bearer tok"}, h.srv.AuthHeaders())
}

func TestQuoteAppliesPercentageOffer(t *testing.T) {
	h := newHarness(t)
	h.srv.Cart = []map[string]any{{"productId": "p9", "productName": "Gamperaliya", "quantity": 1, "productPrice": 1000}}

	q, err := h.svc.Quote(context.Background(), reader, checkout.QuoteRequest{OfferID: "o-20"})
	require.NoError(t, err)
	require.Equal(t, money.Money(20000), q.Breakdown.DiscountAmount)
	require.Equal(t, money.Money(89000), q.Breakdown.FinalTotal)
	require.NotNil(t, q.OfferID)
	require.Equal(t, "o-20", *q.OfferID)
	require.Empty(t, q.OfferNotice)
}

func TestQuoteUnknownOfferGivesNotice(t *testing.T) {
	h := newHarness(t)

	q, err := h.svc.Quote(context.Background(), reader, checkout.QuoteRequest{OfferID: "nope"})
	require.NoError(t, err)
	require.Equal(t, offer.ErrNotFound.Error(), q.OfferNotice)
	require.Nil(t, q.OfferID)
	require.Equal(t, money.Money(0), q.Breakdown.DiscountAmount)

	q, err = h.svc.Quote(context.Background(), reader, checkout.QuoteRequest{OfferID: "o-off"})
	require.NoError(t, err)
	require.Equal(t, offer.ErrInactive.Error(), q.OfferNotice)
}

func TestQuoteOversizedOfferFollowsPolicy(t *testing.T) {
	h := newHarness(t)

	q, err := h.svc.Quote(context.Background(), reader, checkout.QuoteRequest{OfferID: "o-150"})
	require.NoError(t, err)
	require.Equal(t, q.Breakdown.Subtotal, q.Breakdown.DiscountAmount)
	require.Equal(t, money.Money(1170), q.Breakdown.FinalTotal)

	h.svc.Policy = pricing.PolicyReject
	_, err = h.svc.Quote(context.Background(), reader, checkout.QuoteRequest{OfferID: "o-150"})
	require.ErrorIs(t, err, pricing.ErrDiscountExceedsSubtotal)
}

func TestQuoteReportsCorrections(t *testing.T) {
	h := newHarness(t)
	h.srv.Cart = []map[string]any{{"productId": "p1", "quantity": "two", "productPrice": "abc"}}

	q, err := h.svc.Quote(context.Background(), reader, checkout.QuoteRequest{})
	require.NoError(t, err)
	require.Equal(t, cartLine("p1", 1, 0), q.Items[0])
	require.NotEmpty(t, q.Corrections)
	require.Equal(t, money.Money(0), q.Breakdown.FinalTotal)
}

func TestQuoteGenerationIncrements(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.Quote(ctx, reader, checkout.QuoteRequest{})
	require.NoError(t, err)
	second, err := h.svc.Quote(ctx, reader, checkout.QuoteRequest{})
	require.NoError(t, err)
	require.Equal(t, first.Generation+1, second.Generation)

	other := reader
	other.UserID = "u-2"
	q, err := h.svc.Quote(ctx, other, checkout.QuoteRequest{})
	require.NoError(t, err)
	require.Equal(t, int64(1), q.Generation)
}

func TestQuoteUpstreamFailure(t *testing.T) {
	h := newHarness(t)
	h.srv.CartStatus = 500

	_, err := h.svc.Quote(context.Background(), reader, checkout.QuoteRequest{})
	require.Error(t, err)
	var upErr *bookshop.UpstreamError
	require.ErrorAs(t, err, &upErr)
}

func TestOptionsListsApplicableOffers(t *testing.T) {
	h := newHarness(t)

	opts, err := h.svc.Options(context.Background(), reader)
	require.NoError(t, err)
	require.Len(t, opts.Branches, 2)
	require.Equal(t, "Kandy", opts.Branches[1].Name)
	ids := make([]string, 0, len(opts.Offers))
	for _, o := range opts.Offers {
		ids = append(ids, o.OfferID)
	}
	require.Equal(t, []string{"o-20", "o-150"}, ids)
	require.Equal(t, []string{"Online Payment", "Cash on Delivery"}, opts.PaymentMethods)
	require.Equal(t, "LKR", opts.Currency)
}

func TestPlaceOrderSubmitsOrder(t *testing.T) {
	h := newHarness(t)
	req := placeRequest()
	req.Branch = "main branch"
	req.OfferID = "o-20"

	out, err := h.svc.PlaceOrder(context.Background(), reader, req)
	require.NoError(t, err)
	require.Equal(t, "ord_1001", out.OrderID)
	require.Equal(t, store.StatusSubmitted, out.Status)
	require.Equal(t, "Main Branch", out.Branch)
	require.NotEmpty(t, out.Reference)
	require.Equal(t, money.Money(2600), out.Breakdown.DiscountAmount)
	require.Equal(t, money.Money(11570), out.Breakdown.FinalTotal)

	orders := h.srv.Orders()
	require.Len(t, orders, 1)
	body := orders[0]
	require.Equal(t, "u-1", body["userId"])
	require.Equal(t, "reader@example.com", body["userEmail"])
	require.Equal(t, "Main Branch", body["branch"])
	require.Equal(t, "Cash on Delivery", body["paymentMethod"])
	require.Equal(t, "o-20", body["offerId"])
	require.InDelta(t, 5.2, body["taxAmount"], 1e-9)
	require.InDelta(t, 6.5, body["deliveryCharges"], 1e-9)
	require.InDelta(t, 26.0, body["discountAmount"], 1e-9)
	require.InDelta(t, 115.7, body["finalAmount"], 1e-9)
	items, ok := body["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	require.Equal(t, "p1", first["productId"])
	require.InDelta(t, 50.0, first["price"], 1e-9)
	require.InDelta(t, 2.0, first["quantity"], 1e-9)

	rows := h.ledger.all()
	require.Len(t, rows, 1)
	require.Equal(t, store.StatusSubmitted, rows[0].Status)
	require.Equal(t, out.Reference, rows[0].Reference)
	require.NotNil(t, rows[0].UpstreamOrderID)
	require.Equal(t, "ord_1001", *rows[0].UpstreamOrderID)
	require.Equal(t, int64(11570), rows[0].Total)
	require.Nil(t, rows[0].FailureReason)

	require.Equal(t, []string{events.TopicOrderSubmitted}, h.emitter.topics())
	require.Equal(t, rows[0].ID, h.emitter.events[0].id)
}

func TestPlaceOrderWithoutOfferSendsNullOfferID(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.PlaceOrder(context.Background(), reader, placeRequest())
	require.NoError(t, err)
	body := h.srv.Orders()[0]
	v, present := body["offerId"]
	require.True(t, present)
	require.Nil(t, v)
	require.InDelta(t, 141.7, body["finalAmount"], 1e-9)
	require.Zero(t, h.srv.Calls("GET /offer"))
}

func TestPlaceOrderEmptyCartNeverSubmits(t *testing.T) {
	h := newHarness(t)
	h.srv.Cart = nil

	_, err := h.svc.PlaceOrder(context.Background(), reader, placeRequest())
	var verr *checkout.ValidationError
	require.ErrorAs(t, err, &verr)
	require.True(t, verr.Has(checkout.ProblemEmptyCart))
	require.Zero(t, h.srv.Calls("POST /orders"))
	require.Empty(t, h.ledger.all())
	require.Empty(t, h.emitter.topics())
}

func TestPlaceOrderMissingUserSkipsBackend(t *testing.T) {
	h := newHarness(t)
	req := placeRequest()
	req.PaymentMethod = ""

	_, err := h.svc.PlaceOrder(context.Background(), auth.Session{Token: "tok"}, req)
	var verr *checkout.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{checkout.ProblemMissingUser, "paymentMethod"}, verr.Problems)
	require.Zero(t, h.srv.Calls("GET /api/cart/detailsInfo"))
	require.Zero(t, h.srv.Calls("POST /orders"))
}

func TestPlaceOrderRejectsUnknownChoices(t *testing.T) {
	h := newHarness(t)
	req := placeRequest()
	req.Branch = "Galle"
	req.PaymentMethod = "Cheque"
	req.OfferID = "o-off"

	_, err := h.svc.PlaceOrder(context.Background(), reader, req)
	var verr *checkout.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{"offer", "branch", "paymentMethod"}, verr.Problems)
	require.Zero(t, h.srv.Calls("POST /orders"))
}

func TestPlaceOrderMergesFormAndChoiceProblems(t *testing.T) {
	h := newHarness(t)
	req := placeRequest()
	req.DeliveryAddress = ""
	req.Branch = "Galle"

	_, err := h.svc.PlaceOrder(context.Background(), reader, req)
	var verr *checkout.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{"deliveryAddress", "branch"}, verr.Problems)
}

func TestPlaceOrderRejectPolicyReportsOfferWithOtherProblems(t *testing.T) {
	h := newHarness(t)
	h.svc.Policy = pricing.PolicyReject
	req := placeRequest()
	req.OfferID = "o-150"
	req.DeliveryAddress = ""

	_, err := h.svc.PlaceOrder(context.Background(), reader, req)
	var verr *checkout.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{"deliveryAddress", "offer"}, verr.Problems)

	h.srv.Cart = nil
	_, err = h.svc.PlaceOrder(context.Background(), reader, req)
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{checkout.ProblemEmptyCart, "deliveryAddress"}, verr.Problems)
	require.Zero(t, h.srv.Calls("POST /orders"))
}

func TestPlaceOrderCapsOversizedCartLines(t *testing.T) {
	h := newHarness(t)
	h.srv.Cart = []map[string]any{
		{"productId": "p1", "productName": "Madol Doova", "quantity": "2000000000", "productPrice": 50000000.0},
	}

	placed, err := h.svc.PlaceOrder(context.Background(), reader, placeRequest())
	require.NoError(t, err)
	b := placed.Breakdown
	require.Equal(t, money.Money(cart.MaxQuantity*5_000_000_000), b.Subtotal)
	require.Equal(t, b.Subtotal+b.TaxAmount+b.DeliveryCharges, b.FinalTotal)
	require.Positive(t, int64(b.FinalTotal))
}

func TestPlaceOrderUpstreamRejectionIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.srv.OrderStatus = 400
	h.srv.OrderError = "Product p2 is out of stock"

	_, err := h.svc.PlaceOrder(context.Background(), reader, placeRequest())
	var upErr *bookshop.UpstreamError
	require.ErrorAs(t, err, &upErr)
	require.Equal(t, 400, upErr.Status)
	require.Equal(t, "Product p2 is out of stock", upErr.Message)
	require.Equal(t, 1, h.srv.Calls("POST /orders"))

	rows := h.ledger.all()
	require.Len(t, rows, 1)
	require.Equal(t, store.StatusFailed, rows[0].Status)
	require.Nil(t, rows[0].UpstreamOrderID)
	require.NotNil(t, rows[0].FailureReason)
	require.Contains(t, *rows[0].FailureReason, "out of stock")
	require.Equal(t, []string{events.TopicOrderFailed}, h.emitter.topics())
}

func TestPlaceOrderServerErrorIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.srv.OrderStatus = 503

	_, err := h.svc.PlaceOrder(context.Background(), reader, placeRequest())
	require.Error(t, err)
	require.Equal(t, 1, h.srv.Calls("POST /orders"))
}

func TestPlaceOrderLedgerFailureKeepsOrder(t *testing.T) {
	h := newHarness(t)
	h.ledger.err = errors.New("db down")

	out, err := h.svc.PlaceOrder(context.Background(), reader, placeRequest())
	require.NoError(t, err)
	require.Equal(t, "ord_1001", out.OrderID)
}

func TestPlaceOrderMatchingQuote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	q, err := h.svc.Quote(ctx, reader, checkout.QuoteRequest{OfferID: "o-20"})
	require.NoError(t, err)

	req := placeRequest()
	req.OfferID = "o-20"
	req.QuoteGeneration = q.Generation
	out, err := h.svc.PlaceOrder(ctx, reader, req)
	require.NoError(t, err)
	require.Equal(t, q.Breakdown, out.Breakdown)
	require.Equal(t, q.Generation, h.ledger.all()[0].QuoteGeneration)
}

func TestPlaceOrderStaleQuote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.Quote(ctx, reader, checkout.QuoteRequest{})
	require.NoError(t, err)
	_, err = h.svc.Quote(ctx, reader, checkout.QuoteRequest{})
	require.NoError(t, err)

	req := placeRequest()
	req.QuoteGeneration = first.Generation
	_, err = h.svc.PlaceOrder(ctx, reader, req)
	require.ErrorIs(t, err, checkout.ErrStaleQuote)
	require.Zero(t, h.srv.Calls("POST /orders"))
}

func TestPlaceOrderExpiredQuoteSnapshotIsStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	q, err := h.svc.Quote(ctx, reader, checkout.QuoteRequest{})
	require.NoError(t, err)
	h.mr.Del(cache.KeyQuote(reader.UserID, q.Generation))

	req := placeRequest()
	req.QuoteGeneration = q.Generation
	_, err = h.svc.PlaceOrder(ctx, reader, req)
	require.ErrorIs(t, err, checkout.ErrStaleQuote)
}

func TestPlaceOrderQuoteChanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	q, err := h.svc.Quote(ctx, reader, checkout.QuoteRequest{})
	require.NoError(t, err)
	h.srv.Cart[1]["productPrice"] = "35.00"

	req := placeRequest()
	req.QuoteGeneration = q.Generation
	_, err = h.svc.PlaceOrder(ctx, reader, req)
	var changed *checkout.QuoteChangedError
	require.ErrorAs(t, err, &changed)
	require.Equal(t, money.Money(14170), changed.Previous.FinalTotal)
	require.Equal(t, money.Money(14715), changed.Current.FinalTotal)
	require.Zero(t, h.srv.Calls("POST /orders"))
}

func TestPlaceOrderWhileAnotherCheckoutHoldsLock(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.mr.Set(lock.CheckoutKey(reader.UserID), "other-holder"))

	_, err := h.svc.PlaceOrder(context.Background(), reader, placeRequest())
	require.ErrorIs(t, err, checkout.ErrCheckoutInProgress)
	require.Zero(t, h.srv.Calls("GET /api/cart/detailsInfo"))

	h.mr.Del(lock.CheckoutKey(reader.UserID))
	_, err = h.svc.PlaceOrder(context.Background(), reader, placeRequest())
	require.NoError(t, err)
	require.False(t, h.mr.Exists(lock.CheckoutKey(reader.UserID)))
}

func cartLine(id string, qty int, price money.Money) cart.Line {
	return cart.Line{ProductID: id, ProductName: cart.UnknownProductName, Quantity: qty, UnitPrice: price}
}
