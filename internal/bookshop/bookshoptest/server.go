// Package bookshoptest provides an in-process stand-in for the bookshop backend.
package bookshoptest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pahana-edu/bookshop-checkout/internal/bookshop"
	"github.com/pahana-edu/bookshop-checkout/internal/resilience"
)

// Server answers the backend endpoints used at checkout. Configure the exported fields before
// issuing requests.
type Server struct {
	*httptest.Server

	// Cart is served by /api/cart/detailsInfo. CartStatus, when set, fails that endpoint.
	Cart       []map[string]any
	CartStatus int
	// Legacy is the {productId: quantity} map served by /api/cart/details.
	Legacy map[string]any
	// Products are served by /product/{id}.
	Products map[string]map[string]any
	Offers   []map[string]any
	Branches []map[string]any
	// OrderStatus and OrderError make POST /orders fail.
	OrderStatus int
	OrderError  string
	OrderID     string

	mu     sync.Mutex
	calls  map[string]int
	orders []map[string]any
	auth   []string
}

// New starts a Server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{calls: map[string]int{}, OrderID: "ord_1001"}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Client returns a bookshop client pointed at the server with retries disabled.
func (s *Server) Client() *bookshop.Client {
	return bookshop.NewClient(bookshop.Options{
		BaseURL: s.URL,
		HTTP:    resilience.HTTPClient{Client: s.Server.Client(), MaxAttempts: 1},
		Logger:  zerolog.Nop(),
	})
}

// Calls returns how many requests hit the method and path, e.g. "POST /orders".
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Orders returns the decoded bodies of every POST /orders.
func (s *Server) Orders() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.orders...)
}

// AuthHeaders returns the Authorization headers received, in order.
func (s *Server) AuthHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + r.URL.Path
	if strings.HasPrefix(r.URL.Path, "/product/") {
		route = r.Method + " /product/{id}"
	}
	s.mu.Lock()
	s.calls[route]++
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	s.mu.Unlock()

	switch route {
	case "GET /api/cart/detailsInfo":
		if s.CartStatus != 0 {
			writeJSON(w, s.CartStatus, map[string]any{"error": "cart unavailable", "status": s.CartStatus})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": nonNil(s.Cart), "totalAmount": 0})
	case "GET /api/cart/details":
		writeJSON(w, http.StatusOK, map[string]any{"userId": r.URL.Query().Get("userId"), "productId": s.Legacy})
	case "GET /product/{id}":
		id := strings.TrimPrefix(r.URL.Path, "/product/")
		product, ok := s.Products[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "Product not found", "status": 404})
			return
		}
		writeJSON(w, http.StatusOK, product)
	case "GET /offer":
		writeJSON(w, http.StatusOK, nonNil(s.Offers))
	case "GET /branch":
		writeJSON(w, http.StatusOK, nonNil(s.Branches))
	case "POST /orders":
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		s.mu.Lock()
		s.orders = append(s.orders, body)
		s.mu.Unlock()
		if s.OrderStatus != 0 {
			writeJSON(w, s.OrderStatus, map[string]any{"error": s.OrderError, "status": s.OrderStatus})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"message":     "Order created successfully",
			"orderId":     s.OrderID,
			"finalAmount": body["finalAmount"],
		})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": fmt.Sprintf("no route %s", route)})
	}
}

func nonNil(v []map[string]any) []map[string]any {
	if v == nil {
		return []map[string]any{}
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
