// Package order serves the checkout ledger back to its owners.
package order

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pahana-edu/bookshop-checkout/internal/cart"
	"github.com/pahana-edu/bookshop-checkout/internal/money"
	"github.com/pahana-edu/bookshop-checkout/internal/store"
)

// View is a ledger entry as returned to clients.
type View struct {
	Reference       string      `json:"reference"`
	OrderID         *string     `json:"orderId"`
	Status          string      `json:"status"`
	FailureReason   *string     `json:"failureReason,omitempty"`
	Items           []cart.Line `json:"items"`
	Branch          string      `json:"branch"`
	PaymentMethod   string      `json:"paymentMethod"`
	DeliveryAddress string      `json:"deliveryAddress"`
	OfferID         *string     `json:"offerId"`
	Subtotal        money.Money `json:"subtotal"`
	TaxAmount       money.Money `json:"taxAmount"`
	DeliveryCharges money.Money `json:"deliveryCharges"`
	DiscountAmount  money.Money `json:"discountAmount"`
	FinalAmount     money.Money `json:"finalAmount"`
	Currency        string      `json:"currency"`
	QuoteGeneration int64       `json:"quoteGeneration,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// ToView decodes the stored items and converts amounts back to Money.
func ToView(o store.CheckoutOrder) (View, error) {
	items := []cart.Line{}
	if len(o.Items) > 0 {
		if err := json.Unmarshal(o.Items, &items); err != nil {
			return View{}, fmt.Errorf("decode items of %s: %w", o.Reference, err)
		}
	}
	return View{
		Reference:       o.Reference,
		OrderID:         o.UpstreamOrderID,
		Status:          o.Status,
		FailureReason:   o.FailureReason,
		Items:           items,
		Branch:          o.Branch,
		PaymentMethod:   o.PaymentMethod,
		DeliveryAddress: o.DeliveryAddress,
		OfferID:         o.OfferID,
		Subtotal:        money.Money(o.Subtotal),
		TaxAmount:       money.Money(o.Tax),
		DeliveryCharges: money.Money(o.Delivery),
		DiscountAmount:  money.Money(o.Discount),
		FinalAmount:     money.Money(o.Total),
		Currency:        o.Currency,
		QuoteGeneration: o.QuoteGeneration,
		CreatedAt:       o.CreatedAt.UTC(),
	}, nil
}
