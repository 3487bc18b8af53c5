// Package analytics builds the admin sales reports from the checkout ledger.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pahana-edu/bookshop-checkout/internal/cache"
	"github.com/pahana-edu/bookshop-checkout/internal/money"
	"github.com/pahana-edu/bookshop-checkout/internal/store"
)

const dayLayout = "2006-01-02"

// Querier defines the database access required for analytics operations.
type Querier interface {
	SalesByDay(ctx context.Context, from, to time.Time) ([]store.SalesDay, error)
	TopProducts(ctx context.Context, from, to time.Time, limit int) ([]store.ProductSales, error)
}

// Service provides cached access to the ledger aggregates.
type Service struct {
	Q            Querier
	Cache        *cache.JSON
	DefaultRange int
	Logger       zerolog.Logger
	Now          func() time.Time
}

// SalesDay is one day of submitted orders.
type SalesDay struct {
	Day             string      `json:"day"`
	Orders          int64       `json:"orders"`
	Revenue         money.Money `json:"revenue"`
	TaxAmount       money.Money `json:"taxAmount"`
	DeliveryCharges money.Money `json:"deliveryCharges"`
	DiscountAmount  money.Money `json:"discountAmount"`
}

// SalesReport covers the submitted orders in [From, To).
type SalesReport struct {
	From   time.Time  `json:"from"`
	To     time.Time  `json:"to"`
	Days   []SalesDay `json:"days"`
	Totals SalesDay   `json:"totals"`
}

// ProductSales is one product's quantity and revenue.
type ProductSales struct {
	ProductID   string      `json:"productId"`
	ProductName string      `json:"productName"`
	Quantity    int64       `json:"quantity"`
	Revenue     money.Money `json:"revenue"`
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Sales returns per-day totals between from (inclusive) and to (exclusive).
func (s *Service) Sales(ctx context.Context, from, to time.Time) (SalesReport, error) {
	if s == nil || s.Q == nil {
		return SalesReport{}, fmt.Errorf("analytics service not configured")
	}
	from, to = from.UTC(), to.UTC()
	key := cache.Key("an", "sales", from.Format(time.RFC3339), to.Format(time.RFC3339))
	var report SalesReport
	if s.cached(ctx, key, &report) {
		return report, nil
	}

	rows, err := s.Q.SalesByDay(ctx, from, to)
	if err != nil {
		return SalesReport{}, fmt.Errorf("sales by day: %w", err)
	}
	report = SalesReport{From: from, To: to, Days: make([]SalesDay, 0, len(rows)), Totals: SalesDay{Day: "total"}}
	for _, row := range rows {
		day := SalesDay{
			Day:             row.Day.UTC().Format(dayLayout),
			Orders:          row.Orders,
			Revenue:         money.Money(row.Revenue),
			TaxAmount:       money.Money(row.Tax),
			DeliveryCharges: money.Money(row.Delivery),
			DiscountAmount:  money.Money(row.Discount),
		}
		report.Days = append(report.Days, day)
		report.Totals.Orders += day.Orders
		report.Totals.Revenue += day.Revenue
		report.Totals.TaxAmount += day.TaxAmount
		report.Totals.DeliveryCharges += day.DeliveryCharges
		report.Totals.DiscountAmount += day.DiscountAmount
	}
	s.store(ctx, key, report)
	return report, nil
}

// TopProducts ranks products by revenue between from and to.
func (s *Service) TopProducts(ctx context.Context, from, to time.Time, limit int) ([]ProductSales, error) {
	if s == nil || s.Q == nil {
		return nil, fmt.Errorf("analytics service not configured")
	}
	if limit <= 0 {
		limit = 10
	}
	from, to = from.UTC(), to.UTC()
	key := cache.Key("an", "top", from.Format(time.RFC3339), to.Format(time.RFC3339), limit)
	var out []ProductSales
	if s.cached(ctx, key, &out) {
		return out, nil
	}
	rows, err := s.Q.TopProducts(ctx, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("top products: %w", err)
	}
	out = make([]ProductSales, 0, len(rows))
	for _, row := range rows {
		out = append(out, ProductSales{
			ProductID:   row.ProductID,
			ProductName: row.ProductName,
			Quantity:    row.Quantity,
			Revenue:     money.Money(row.Revenue),
		})
	}
	s.store(ctx, key, out)
	return out, nil
}

func (s *Service) cached(ctx context.Context, key string, dst any) bool {
	ok, err := s.Cache.Get(ctx, key, dst)
	if err != nil {
		s.Logger.Warn().Err(err).Str("key", key).Msg("analytics cache read failed")
		return false
	}
	return ok
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if err := s.Cache.Set(ctx, key, value); err != nil {
		s.Logger.Warn().Err(err).Str("key", key).Msg("analytics cache write failed")
	}
}
