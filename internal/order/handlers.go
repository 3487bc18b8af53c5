package order

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/pahana-edu/bookshop-checkout/internal/auth"
	"github.com/pahana-edu/bookshop-checkout/internal/common"
	"github.com/pahana-edu/bookshop-checkout/internal/obs"
	"github.com/pahana-edu/bookshop-checkout/internal/store"
)

// Querier is the ledger access needed by the history endpoints.
type Querier interface {
	ListCheckoutOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]store.CheckoutOrder, error)
	CountCheckoutOrdersByUser(ctx context.Context, userID string) (int64, error)
	GetCheckoutOrderByReference(ctx context.Context, reference string) (store.CheckoutOrder, error)
}

type Handler struct {
	Q      Querier
	Logger zerolog.Logger
}

// List handles GET /orders for the signed-in user, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	total, err := h.Q.CountCheckoutOrdersByUser(r.Context(), sess.UserID)
	if err != nil {
		h.internal(w, r, err, "failed to count orders")
		return
	}
	rows, err := h.Q.ListCheckoutOrdersByUser(r.Context(), sess.UserID, perPage, common.Offset(page, perPage))
	if err != nil {
		h.internal(w, r, err, "failed to list orders")
		return
	}
	views := make([]View, 0, len(rows))
	for _, row := range rows {
		v, err := ToView(row)
		if err != nil {
			h.internal(w, r, err, "failed to read order")
			return
		}
		views = append(views, v)
	}
	common.SetTotalCount(w, total)
	common.JSON(w, http.StatusOK, map[string]any{
		"data": views,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: int(total),
		},
	})
}

// Get handles GET /orders/{reference}. Admins may read any entry; other users only their own.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "missing order reference", nil)
		return
	}
	row, err := h.Q.GetCheckoutOrderByReference(r.Context(), reference)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		h.internal(w, r, err, "failed to load order")
		return
	}
	// other users' orders are reported as missing
	if row.UserID != sess.UserID && !sess.IsAdmin() {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	v, err := ToView(row)
	if err != nil {
		h.internal(w, r, err, "failed to read order")
		return
	}
	common.Data(w, http.StatusOK, v)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (auth.Session, bool) {
	if h.Q == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order queries not configured", nil)
		return auth.Session{}, false
	}
	sess, ok := auth.SessionFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return auth.Session{}, false
	}
	return sess, true
}

func (h *Handler) internal(w http.ResponseWriter, r *http.Request, err error, msg string) {
	obs.LoggerFromContext(r.Context(), h.Logger).Error().Err(err).Msg(msg)
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", msg, nil)
}
