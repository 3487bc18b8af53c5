package checkout

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/pahana-edu/bookshop-checkout/internal/auth"
	"github.com/pahana-edu/bookshop-checkout/internal/bookshop"
	"github.com/pahana-edu/bookshop-checkout/internal/common"
	"github.com/pahana-edu/bookshop-checkout/internal/pricing"
	"github.com/pahana-edu/bookshop-checkout/internal/resilience"
)

// Handler exposes checkout over HTTP.
type Handler struct {
	Svc *Service
}

// Options handles GET /checkout/options.
func (h *Handler) Options(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	out, err := h.Svc.Options(r.Context(), sess)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

// Quote handles POST /checkout/quote. The body is optional.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req QuoteRequest
	if err := common.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		common.JSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	out, err := h.Svc.Quote(r.Context(), sess, req)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

// PlaceOrder handles POST /checkout/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req PlaceRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	out, err := h.Svc.PlaceOrder(r.Context(), sess, req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+out.Reference)
	common.Data(w, http.StatusCreated, out)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (auth.Session, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return auth.Session{}, false
	}
	sess, ok := auth.SessionFrom(r.Context())
	if !ok || !sess.Valid() {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return auth.Session{}, false
	}
	return sess, true
}

func writeError(w http.ResponseWriter, err error) {
	var (
		verr    *ValidationError
		changed *QuoteChangedError
		upErr   *bookshop.UpstreamError
	)
	switch {
	case errors.As(err, &verr):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", verr.Error(), map[string]any{"problems": verr.Problems})
	case errors.Is(err, pricing.ErrDiscountExceedsSubtotal):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_OFFER", "offer discount exceeds the subtotal", nil)
	case errors.Is(err, pricing.ErrAmountOutOfRange):
		common.JSONError(w, http.StatusUnprocessableEntity, "AMOUNT_OUT_OF_RANGE", "cart total is too large", nil)
	case errors.Is(err, ErrStaleQuote):
		common.JSONError(w, http.StatusConflict, "STALE_QUOTE", "quote is out of date, request a new quote", nil)
	case errors.As(err, &changed):
		common.JSONError(w, http.StatusConflict, "QUOTE_CHANGED", "order total changed since the quote", map[string]any{
			"generation": changed.Generation,
			"previous":   changed.Previous,
			"breakdown":  changed.Current,
		})
	case errors.Is(err, ErrCheckoutInProgress):
		common.JSONError(w, http.StatusConflict, "CHECKOUT_IN_PROGRESS", "another checkout is in progress", nil)
	case errors.As(err, &upErr):
		common.JSONError(w, http.StatusBadGateway, "UPSTREAM_ERROR", upErr.Message, map[string]any{
			"endpoint": upErr.Endpoint,
			"status":   upErr.Status,
		})
	case errors.Is(err, bookshop.ErrUnavailable), errors.Is(err, resilience.ErrOpenCircuit):
		common.JSONError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "bookshop backend unavailable", nil)
	case errors.Is(err, context.DeadlineExceeded):
		common.JSONError(w, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "bookshop backend timed out", nil)
	default:
		if common.WriteAppError(w, err) {
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
