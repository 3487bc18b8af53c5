package checkout

import (
	"errors"
	"fmt"

	"github.com/pahana-edu/bookshop-checkout/internal/pricing"
)

var (
	// ErrStaleQuote is returned when an order carries a quote generation that is no longer current.
	ErrStaleQuote = errors.New("checkout: quote is stale")
	// ErrCheckoutInProgress is returned while another placement for the same user holds the lock.
	ErrCheckoutInProgress = errors.New("checkout: another checkout is in progress")
)

// QuoteChangedError reports that the recomputed totals differ from the quote the customer saw.
type QuoteChangedError struct {
	Generation int64
	Previous   pricing.Breakdown
	Current    pricing.Breakdown
}

func (e *QuoteChangedError) Error() string {
	return fmt.Sprintf("checkout: quote %d changed: total %s is now %s",
		e.Generation, e.Previous.FinalTotal, e.Current.FinalTotal)
}
