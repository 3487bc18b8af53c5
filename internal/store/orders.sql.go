package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const checkoutOrderColumns = `id, reference, user_id, user_email, upstream_order_id, branch, payment_method,
delivery_address, offer_id, items, subtotal, tax, delivery, discount, total, currency, quote_generation,
status, failure_reason, created_at`

// InsertCheckoutOrderParams holds the columns written for a placement attempt.
type InsertCheckoutOrderParams struct {
	ID              uuid.UUID
	Reference       string
	UserID          string
	UserEmail       string
	UpstreamOrderID *string
	Branch          string
	PaymentMethod   string
	DeliveryAddress string
	OfferID         *string
	Items           []byte
	Subtotal        int64
	Tax             int64
	Delivery        int64
	Discount        int64
	Total           int64
	Currency        string
	QuoteGeneration int64
	Status          string
	FailureReason   *string
}

const insertCheckoutOrder = `INSERT INTO checkout_orders (
    id, reference, user_id, user_email, upstream_order_id, branch, payment_method, delivery_address,
    offer_id, items, subtotal, tax, delivery, discount, total, currency, quote_generation, status, failure_reason
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
RETURNING ` + checkoutOrderColumns

// InsertCheckoutOrder records a placement attempt.
func (q *Queries) InsertCheckoutOrder(ctx context.Context, arg InsertCheckoutOrderParams) (CheckoutOrder, error) {
	if arg.ID == uuid.Nil {
		arg.ID = uuid.New()
	}
	if len(arg.Items) == 0 {
		arg.Items = []byte("[]")
	}
	row := q.db.QueryRow(ctx, insertCheckoutOrder,
		arg.ID, arg.Reference, arg.UserID, arg.UserEmail, arg.UpstreamOrderID, arg.Branch, arg.PaymentMethod,
		arg.DeliveryAddress, arg.OfferID, arg.Items, arg.Subtotal, arg.Tax, arg.Delivery, arg.Discount,
		arg.Total, arg.Currency, arg.QuoteGeneration, arg.Status, arg.FailureReason,
	)
	return scanCheckoutOrder(row)
}

const getCheckoutOrderByReference = `SELECT ` + checkoutOrderColumns + ` FROM checkout_orders WHERE reference = $1`

// GetCheckoutOrderByReference fetches one ledger entry.
func (q *Queries) GetCheckoutOrderByReference(ctx context.Context, reference string) (CheckoutOrder, error) {
	order, err := scanCheckoutOrder(q.db.QueryRow(ctx, getCheckoutOrderByReference, reference))
	if err != nil {
		return CheckoutOrder{}, notFound(err)
	}
	return order, nil
}

const listCheckoutOrdersByUser = `SELECT ` + checkoutOrderColumns + ` FROM checkout_orders
WHERE user_id = $1 ORDER BY created_at DESC, reference DESC LIMIT $2 OFFSET $3`

// ListCheckoutOrdersByUser pages through a user's ledger, newest first.
func (q *Queries) ListCheckoutOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]CheckoutOrder, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := q.db.Query(ctx, listCheckoutOrdersByUser, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]CheckoutOrder, 0, limit)
	for rows.Next() {
		order, err := scanCheckoutOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

const countCheckoutOrdersByUser = `SELECT count(*) FROM checkout_orders WHERE user_id = $1`

// CountCheckoutOrdersByUser counts a user's ledger entries.
func (q *Queries) CountCheckoutOrdersByUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countCheckoutOrdersByUser, userID).Scan(&n)
	return n, err
}

const salesByDay = `SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day,
       count(*), coalesce(sum(total), 0), coalesce(sum(tax), 0), coalesce(sum(delivery), 0), coalesce(sum(discount), 0)
FROM checkout_orders
WHERE status = 'SUBMITTED' AND created_at >= $1 AND created_at < $2
GROUP BY day ORDER BY day`

// SalesByDay aggregates submitted orders per UTC day in [from, to).
func (q *Queries) SalesByDay(ctx context.Context, from, to time.Time) ([]SalesDay, error) {
	rows, err := q.db.Query(ctx, salesByDay, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SalesDay
	for rows.Next() {
		var d SalesDay
		if err := rows.Scan(&d.Day, &d.Orders, &d.Revenue, &d.Tax, &d.Delivery, &d.Discount); err != nil {
			return nil, err
		}
		d.Day = d.Day.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// item prices are stored as decimal major units, so revenue is rebuilt in cents
const topProducts = `SELECT item->>'productId' AS product_id,
       max(item->>'productName') AS product_name,
       coalesce(sum((item->>'quantity')::bigint), 0) AS quantity,
       coalesce(sum(round((item->>'price')::numeric * 100)::bigint * (item->>'quantity')::bigint), 0) AS revenue
FROM checkout_orders, jsonb_array_elements(items) AS item
WHERE status = 'SUBMITTED' AND created_at >= $1 AND created_at < $2
GROUP BY product_id
ORDER BY revenue DESC, product_id
LIMIT $3`

// TopProducts ranks products by revenue over submitted orders in [from, to).
func (q *Queries) TopProducts(ctx context.Context, from, to time.Time, limit int) ([]ProductSales, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := q.db.Query(ctx, topProducts, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductSales
	for rows.Next() {
		var p ProductSales
		if err := rows.Scan(&p.ProductID, &p.ProductName, &p.Quantity, &p.Revenue); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckoutOrder(row rowScanner) (CheckoutOrder, error) {
	var o CheckoutOrder
	err := row.Scan(&o.ID, &o.Reference, &o.UserID, &o.UserEmail, &o.UpstreamOrderID, &o.Branch, &o.PaymentMethod,
		&o.DeliveryAddress, &o.OfferID, &o.Items, &o.Subtotal, &o.Tax, &o.Delivery, &o.Discount, &o.Total,
		&o.Currency, &o.QuoteGeneration, &o.Status, &o.FailureReason, &o.CreatedAt)
	return o, err
}
