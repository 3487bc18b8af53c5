// Package pricing computes the checkout breakdown shown before an order is placed.
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pahana-edu/bookshop-checkout/internal/cart"
	"github.com/pahana-edu/bookshop-checkout/internal/money"
)

// Flat rates applied to the subtotal, in basis points.
const (
	TaxRateBps      int64 = 400
	DeliveryRateBps int64 = 500
)

var (
	// ErrDiscountExceedsSubtotal is returned under PolicyReject when an offer would discount more than the subtotal.
	ErrDiscountExceedsSubtotal = errors.New("discount exceeds subtotal")
	// ErrAmountOutOfRange is returned when a cart total does not fit the money type.
	ErrAmountOutOfRange = fmt.Errorf("order amount out of range: %w", money.ErrOverflow)
)

// DiscountPolicy decides what happens when an offer is worth more than the subtotal.
type DiscountPolicy int

const (
	// PolicyClamp caps the discount at the subtotal.
	PolicyClamp DiscountPolicy = iota
	// PolicyReject refuses the offer.
	PolicyReject
)

// ParsePolicy maps "clamp" or "reject" to a DiscountPolicy.
func ParsePolicy(s string) (DiscountPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "clamp":
		return PolicyClamp, nil
	case "reject":
		return PolicyReject, nil
	default:
		return PolicyClamp, fmt.Errorf("unknown discount policy %q", s)
	}
}

func (p DiscountPolicy) String() string {
	if p == PolicyReject {
		return "reject"
	}
	return "clamp"
}

// Breakdown is the itemised subtotal, tax, delivery, discount and total for a cart.
type Breakdown struct {
	Subtotal        money.Money `json:"subtotal"`
	TaxAmount       money.Money `json:"taxAmount"`
	DeliveryCharges money.Money `json:"deliveryCharges"`
	DiscountAmount  money.Money `json:"discountAmount"`
	FinalTotal      money.Money `json:"finalTotal"`
}

// Subtotal sums UnitPrice*Quantity over the lines, ignoring non-positive ones.
func Subtotal(lines []cart.Line) (money.Money, error) {
	var total money.Money
	for _, l := range lines {
		if l.Quantity <= 0 || l.UnitPrice <= 0 {
			continue
		}
		lt, err := l.Total()
		if err == nil {
			total, err = money.Add(total, lt)
		}
		if err != nil {
			return 0, ErrAmountOutOfRange
		}
	}
	return total, nil
}

// Calculate prices the lines with an optional percentage discount expressed in basis points.
// A non-positive discountBps means no offer applies. An offer of 100% or more discounts the
// whole subtotal, unless PolicyReject refuses it.
func Calculate(lines []cart.Line, discountBps int64, policy DiscountPolicy) (Breakdown, error) {
	subtotal, err := Subtotal(lines)
	if err != nil {
		return Breakdown{}, err
	}
	tax, taxErr := money.Percent(subtotal, TaxRateBps)
	delivery, deliveryErr := money.Percent(subtotal, DeliveryRateBps)
	if taxErr != nil || deliveryErr != nil {
		return Breakdown{}, ErrAmountOutOfRange
	}
	b := Breakdown{Subtotal: subtotal, TaxAmount: tax, DeliveryCharges: delivery}

	switch {
	case discountBps <= 0:
	case discountBps > money.BpsScale && policy == PolicyReject && subtotal > 0:
		return Breakdown{}, ErrDiscountExceedsSubtotal
	case discountBps >= money.BpsScale:
		b.DiscountAmount = subtotal
	default:
		// Below 100% the result never exceeds the subtotal.
		b.DiscountAmount, _ = money.Percent(subtotal, discountBps)
	}

	final, err := money.Add(subtotal-b.DiscountAmount, tax)
	if err == nil {
		final, err = money.Add(final, delivery)
	}
	if err != nil {
		return Breakdown{}, ErrAmountOutOfRange
	}
	b.FinalTotal = final
	return b, nil
}
