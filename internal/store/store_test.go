package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/pahana-edu/bookshop-checkout/internal/store"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, store.MigrateUp(dsn))
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestLedgerRoundTrip(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback(ctx) })
	q := store.New(pool).WithTx(tx)

	user := "user-" + uuid.NewString()
	upstream := "ord_1"
	created, err := q.InsertCheckoutOrder(ctx, store.InsertCheckoutOrderParams{
		Reference:       "01J" + uuid.NewString(),
		UserID:          user,
		UserEmail:       "reader@example.com",
		UpstreamOrderID: &upstream,
		Branch:          "Main Branch",
		PaymentMethod:   "Cash on Delivery",
		DeliveryAddress: "12 Galle Road",
		Items:           []byte(`[{"productId":"p1","productName":"Book","quantity":2,"price":50.00}]`),
		Subtotal:        10000,
		Tax:             400,
		Delivery:        500,
		Total:           10900,
		Currency:        "LKR",
		QuoteGeneration: 3,
		Status:          store.StatusSubmitted,
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)

	got, err := q.GetCheckoutOrderByReference(ctx, created.Reference)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, &upstream, got.UpstreamOrderID)
	require.Nil(t, got.OfferID)

	n, err := q.CountCheckoutOrdersByUser(ctx, user)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	list, err := q.ListCheckoutOrdersByUser(ctx, user, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	from := time.Now().Add(-time.Hour)
	to := time.Now().Add(time.Hour)
	products, err := q.TopProducts(ctx, from, to, 100)
	require.NoError(t, err)
	var found bool
	for _, p := range products {
		if p.ProductID == "p1" {
			found = true
			require.GreaterOrEqual(t, p.Revenue, int64(10000))
		}
	}
	require.True(t, found)

	_, err = q.GetCheckoutOrderByReference(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	ev, err := q.InsertDomainEvent(ctx, store.InsertDomainEventParams{Topic: "checkout.order_submitted", AggregateID: created.ID, Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.Equal(t, created.ID, ev.AggregateID)
}
