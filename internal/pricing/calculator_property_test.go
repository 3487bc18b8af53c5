package pricing

import (
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pahana-edu/bookshop-checkout/internal/cart"
	"github.com/pahana-edu/bookshop-checkout/internal/money"
)

// roundHalfUp computes subtotal*percent/100 with integer division and an explicit remainder check.
func roundHalfUp(subtotal, percent int64) int64 {
	q, r := (subtotal*percent)/100, (subtotal*percent)%100
	if r >= 50 {
		q++
	}
	return q
}

func TestTaxAndDeliveryRates(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("tax is 4% and delivery 5% of the subtotal to the cent", prop.ForAll(
		func(price int64, qty int) bool {
			b, err := Calculate([]cart.Line{{ProductID: "p", Quantity: qty, UnitPrice: money.Money(price)}}, 0, PolicyClamp)
			if err != nil {
				return false
			}
			subtotal := int64(b.Subtotal)
			return subtotal == price*int64(qty) &&
				int64(b.TaxAmount) == roundHalfUp(subtotal, 4) &&
				int64(b.DeliveryCharges) == roundHalfUp(subtotal, 5) &&
				b.FinalTotal == b.Subtotal+b.TaxAmount+b.DeliveryCharges
		},
		gen.Int64Range(0, 10_000_000),
		gen.IntRange(1, 100),
	))

	properties.Property("rates are exact when the subtotal is a multiple of 100 cents", prop.ForAll(
		func(units int64) bool {
			b, _ := Calculate([]cart.Line{{ProductID: "p", Quantity: 1, UnitPrice: money.Money(units * 100)}}, 0, PolicyClamp)
			return int64(b.TaxAmount) == units*4 && int64(b.DeliveryCharges) == units*5
		},
		gen.Int64Range(0, 1_000_000),
	))

	properties.TestingRun(t)
}

func TestDiscountNeverExceedsSubtotal(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("clamped discount stays within the subtotal and the identity holds", prop.ForAll(
		func(price int64, bps int64) bool {
			b, err := Calculate([]cart.Line{{ProductID: "p", Quantity: 1, UnitPrice: money.Money(price)}}, bps, PolicyClamp)
			if err != nil {
				return false
			}
			return b.DiscountAmount >= 0 &&
				b.DiscountAmount <= b.Subtotal &&
				b.FinalTotal == b.Subtotal-b.DiscountAmount+b.TaxAmount+b.DeliveryCharges &&
				b.FinalTotal >= 0
		},
		gen.Int64Range(0, 5_000_000),
		gen.Int64Range(-10_000, 50_000),
	))

	properties.TestingRun(t)
}

var (
	quantityVariants = []string{"quantity", "productQuantity", "qty"}
	priceVariants    = []string{"productPrice", "price", "unitPrice"}
)

// recordFor renders a line the way different upstream payloads spell it. seed picks the
// field names and whether numbers arrive as JSON numbers or strings.
func recordFor(qty int, cents int64, seed int) map[string]any {
	rec := map[string]any{"productId": "p" + strconv.Itoa(seed), "productName": "Book"}
	qKey := quantityVariants[seed%len(quantityVariants)]
	pKey := priceVariants[(seed/3)%len(priceVariants)]
	if seed%2 == 0 {
		rec[qKey] = float64(qty)
	} else {
		rec[qKey] = strconv.Itoa(qty)
	}
	if (seed/2)%2 == 0 {
		rec[pKey] = money.Money(cents).Float64()
	} else {
		rec[pKey] = money.Money(cents).String()
	}
	return rec
}

func TestSubtotalIndependentOfFieldVariants(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("subtotal equals sum of unitPrice*quantity after normalization", prop.ForAll(
		func(seeds []int64) bool {
			records := make([]map[string]any, 0, len(seeds))
			var want int64
			for i, s := range seeds {
				qty := int(1 + s%50)
				cents := (s / 50) % 1_000_000
				records = append(records, recordFor(qty, cents, i+int(s%7)))
				want += int64(qty) * cents
			}
			lines, corrections := cart.Normalize(records)
			if len(lines) != len(seeds) {
				return false
			}
			for _, c := range corrections {
				// Zero prices are falsy and legitimately reported as missing.
				if c.Field != "unitPrice" {
					return false
				}
			}
			total, err := Subtotal(lines)
			return err == nil && int64(total) == want
		},
		gen.SliceOf(gen.Int64Range(0, 1<<40)),
	))

	properties.TestingRun(t)
}
