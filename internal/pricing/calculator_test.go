package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pahana-edu/bookshop-checkout/internal/cart"
	"github.com/pahana-edu/bookshop-checkout/internal/money"
	"github.com/pahana-edu/bookshop-checkout/internal/offer"
)

func TestCalculateTwoItemCartWithoutOffer(t *testing.T) {
	lines := []cart.Line{
		{ProductID: "p1", ProductName: "A", Quantity: 2, UnitPrice: 5000},
		{ProductID: "p2", ProductName: "B", Quantity: 1, UnitPrice: 3000},
	}
	b, err := Calculate(lines, 0, PolicyClamp)
	require.NoError(t, err)
	require.Equal(t, Breakdown{
		Subtotal:        13000,
		TaxAmount:       520,
		DeliveryCharges: 650,
		DiscountAmount:  0,
		FinalTotal:      14170,
	}, b)
	require.Equal(t, "141.70", b.FinalTotal.String())
}

func TestCalculateTwentyPercentOffer(t *testing.T) {
	bps, ok := offer.Offer{Value: "20%"}.PercentBps()
	require.True(t, ok)

	b, err := Calculate([]cart.Line{{ProductID: "p", Quantity: 1, UnitPrice: 100000}}, bps, PolicyClamp)
	require.NoError(t, err)
	require.Equal(t, money.Money(20000), b.DiscountAmount)
	require.Equal(t, money.Money(4000), b.TaxAmount)
	require.Equal(t, money.Money(5000), b.DeliveryCharges)
	require.Equal(t, money.Money(89000), b.FinalTotal)
}

func TestCalculateOversizedOffer(t *testing.T) {
	lines := []cart.Line{{ProductID: "p", Quantity: 1, UnitPrice: 10000}}

	b, err := Calculate(lines, 15000, PolicyClamp)
	require.NoError(t, err)
	require.Equal(t, b.Subtotal, b.DiscountAmount)
	require.Equal(t, b.TaxAmount+b.DeliveryCharges, b.FinalTotal)
	require.GreaterOrEqual(t, int64(b.FinalTotal), int64(0))

	_, err = Calculate(lines, 15000, PolicyReject)
	require.ErrorIs(t, err, ErrDiscountExceedsSubtotal)

	b, err = Calculate(lines, 10000, PolicyReject)
	require.NoError(t, err)
	require.Equal(t, b.Subtotal, b.DiscountAmount)
}

func TestCalculateEmptyCart(t *testing.T) {
	b, err := Calculate(nil, 2000, PolicyClamp)
	require.NoError(t, err)
	require.Equal(t, Breakdown{}, b)
}

func TestCalculateRejectPolicyIgnoresEmptyCart(t *testing.T) {
	b, err := Calculate(nil, 15000, PolicyReject)
	require.NoError(t, err)
	require.Equal(t, Breakdown{}, b)
}

func TestCalculateHugeOfferDiscountsWholeSubtotal(t *testing.T) {
	bps, ok := offer.Offer{Value: "99999999999999%"}.PercentBps()
	require.True(t, ok)

	lines := []cart.Line{{ProductID: "p", Quantity: 3, UnitPrice: cart.MaxUnitPrice}}
	b, err := Calculate(lines, bps, PolicyClamp)
	require.NoError(t, err)
	require.Equal(t, b.Subtotal, b.DiscountAmount)
	require.Equal(t, b.TaxAmount+b.DeliveryCharges, b.FinalTotal)
	require.Positive(t, int64(b.FinalTotal))
}

func TestCalculateLargestNormalizedCart(t *testing.T) {
	lines, _ := cart.Normalize([]map[string]any{
		{"productId": "p1", "productName": "A", "quantity": "2000000000", "price": 50000000.0},
		{"productId": "p2", "productName": "B", "quantity": 1, "price": "999999999999999"},
	})
	b, err := Calculate(lines, 2000, PolicyClamp)
	require.NoError(t, err)

	subtotal := money.Money(cart.MaxQuantity*5_000_000_000) + cart.MaxUnitPrice
	require.Equal(t, subtotal, b.Subtotal)
	require.Positive(t, int64(b.DiscountAmount))
	require.Positive(t, int64(b.DeliveryCharges))
	require.Equal(t, b.Subtotal-b.DiscountAmount+b.TaxAmount+b.DeliveryCharges, b.FinalTotal)
}

func TestCalculateReportsOverflow(t *testing.T) {
	line := cart.Line{ProductID: "p", Quantity: cart.MaxQuantity, UnitPrice: cart.MaxUnitPrice}
	lines := make([]cart.Line, 100_000)
	for i := range lines {
		lines[i] = line
	}
	_, err := Calculate(lines, 0, PolicyClamp)
	require.ErrorIs(t, err, ErrAmountOutOfRange)
	require.ErrorIs(t, err, money.ErrOverflow)

	_, err = Calculate([]cart.Line{{ProductID: "p", Quantity: 1 << 30, UnitPrice: 1 << 40}}, 0, PolicyClamp)
	require.ErrorIs(t, err, ErrAmountOutOfRange)
}

func TestSubtotalIgnoresNonPositiveLines(t *testing.T) {
	total, err := Subtotal([]cart.Line{
		{Quantity: 2, UnitPrice: 250},
		{Quantity: 0, UnitPrice: 999},
		{Quantity: 3, UnitPrice: -10},
	})
	require.NoError(t, err)
	require.Equal(t, money.Money(500), total)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("Reject")
	require.NoError(t, err)
	require.Equal(t, PolicyReject, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyClamp, p)

	_, err = ParsePolicy("ignore")
	require.Error(t, err)
}
