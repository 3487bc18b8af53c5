package checkout

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pahana-edu/bookshop-checkout/internal/pricing"
)

func TestWriteErrorPricingFailures(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{pricing.ErrDiscountExceedsSubtotal, "INVALID_OFFER"},
		{fmt.Errorf("quote: %w", pricing.ErrAmountOutOfRange), "AMOUNT_OUT_OF_RANGE"},
		{&ValidationError{Problems: []string{ProblemAmountOutOfRange}}, "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tc.err)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

			var env struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			require.Equal(t, tc.code, env.Error.Code)
		})
	}
}
