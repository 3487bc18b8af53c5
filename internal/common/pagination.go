package common

import (
	"net/http"
	"strconv"
	"strings"
)

const maxPerPage = 100

// Pagination is the paging block of list responses.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
}

// QueryInt reads a positive integer query parameter, returning def when it is missing or invalid.
func QueryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(name)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// ParsePagination reads ?page and ?limit. perPage never exceeds 100.
func ParsePagination(r *http.Request, defaultPerPage int) (page, perPage int) {
	page = QueryInt(r, "page", 1)
	perPage = min(QueryInt(r, "limit", defaultPerPage), maxPerPage)
	return page, perPage
}

// Offset is the row offset of page.
func Offset(page, perPage int) int {
	return (max(page, 1) - 1) * perPage
}

// SetTotalCount exposes the total row count through X-Total-Count.
func SetTotalCount(w http.ResponseWriter, total int64) {
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
}
