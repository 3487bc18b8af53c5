// Package bookshop is the client for the bookshop backend: carts, products, offers, branches and
// order creation.
package bookshop

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pahana-edu/bookshop-checkout/internal/money"
)

// ErrUnavailable marks transport failures and an open circuit breaker.
var ErrUnavailable = errors.New("bookshop backend unavailable")

// UpstreamError is a non-2xx answer from the backend.
type UpstreamError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bookshop %s: status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("bookshop %s: status %d: %s", e.Endpoint, e.Status, e.Message)
}

// Branch is a physical store location an order is fulfilled from.
type Branch struct {
	BranchID string `json:"branchId"`
	Name     string `json:"branchName"`
	Address  string `json:"branchAddress,omitempty"`
}

// Matches reports whether value names this branch by name or id.
func (b Branch) Matches(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	return strings.EqualFold(b.Name, value) || strings.EqualFold(b.BranchID, value)
}

// UnmarshalJSON accepts the backend's branch records as well as short field names.
func (b *Branch) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Branch{
		BranchID: pickString(raw, "branchId", "id"),
		Name:     pickString(raw, "branchName", "name"),
		Address:  pickString(raw, "branchAddress", "address"),
	}
	return nil
}

// FindBranch returns the branch matching value.
func FindBranch(branches []Branch, value string) (Branch, bool) {
	for _, b := range branches {
		if b.Matches(value) {
			return b, true
		}
	}
	return Branch{}, false
}

// CreatedOrder is the backend's answer to a successful order creation.
type CreatedOrder struct {
	Message     string      `json:"message"`
	OrderID     string      `json:"orderId"`
	FinalAmount money.Money `json:"finalAmount"`
}

// errorBody is the backend's error envelope; older handlers use message instead of error.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func pickString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		switch t := raw[key].(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case json.Number:
			return t.String()
		case float64:
			return fmt.Sprintf("%v", t)
		}
	}
	return ""
}
