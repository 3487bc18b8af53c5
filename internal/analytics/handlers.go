package analytics

import (
	"net/http"
	"time"

	"github.com/pahana-edu/bookshop-checkout/internal/common"
)

// Handler exposes analytics read endpoints.
type Handler struct {
	Svc *Service
}

// Sales returns aggregated sales metrics for the requested range.
func (h *Handler) Sales(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	from, to, ok := h.window(w, r)
	if !ok {
		return
	}
	report, err := h.Svc.Sales(r.Context(), from, to)
	if err != nil {
		h.Svc.Logger.Error().Err(err).Msg("sales report")
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", "failed to build sales report", nil)
		return
	}
	common.Data(w, http.StatusOK, report)
}

// TopProducts returns the best selling products of the requested range.
func (h *Handler) TopProducts(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	from, to, ok := h.window(w, r)
	if !ok {
		return
	}
	limit := common.QueryInt(r, "limit", 10)
	if limit > 100 {
		limit = 10
	}
	rows, err := h.Svc.TopProducts(r.Context(), from, to, limit)
	if err != nil {
		h.Svc.Logger.Error().Err(err).Msg("product report")
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", "failed to build product report", nil)
		return
	}
	common.Data(w, http.StatusOK, rows)
}

// window reads from/to (RFC 3339 or YYYY-MM-DD) or falls back to the last `days` days.
func (h *Handler) window(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	query := r.URL.Query()
	fromStr, toStr := query.Get("from"), query.Get("to")
	var (
		from, to time.Time
		err      error
	)
	if fromStr != "" && toStr != "" {
		if from, err = parseBound(fromStr); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid from date", nil)
			return from, to, false
		}
		if to, err = parseBound(toStr); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid to date", nil)
			return from, to, false
		}
	} else {
		days := h.Svc.DefaultRange
		if days <= 0 {
			days = 30
		}
		days = common.QueryInt(r, "days", days)
		to = h.Svc.now().Truncate(time.Minute)
		from = to.AddDate(0, 0, -days)
	}
	if !from.Before(to) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "from must be before to", nil)
		return from, to, false
	}
	return from, to, true
}

func parseBound(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
