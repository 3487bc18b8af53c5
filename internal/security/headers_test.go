package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func serveHeaders(h Headers, req *http.Request) http.Header {
	rr := httptest.NewRecorder()
	h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})).ServeHTTP(rr, req)
	return rr.Result().Header
}

func TestHeadersOnErrorResponses(t *testing.T) {
	headers := serveHeaders(Headers{Enable: true}, httptest.NewRequest(http.MethodPost, "/api/v1/checkout/quote", nil))

	assert.Equal(t, "nosniff", headers.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", headers.Get("X-Frame-Options"))
	assert.Equal(t, "no-store", headers.Get("Cache-Control"))
	assert.Contains(t, headers.Get("Content-Security-Policy"), "default-src 'none'")
	assert.Empty(t, headers.Get("Strict-Transport-Security"))
}

func TestHeadersHSTS(t *testing.T) {
	tlsReq := httptest.NewRequest(http.MethodGet, "https://shop.example/api/v1/orders", nil)
	tlsReq.TLS = &tls.ConnectionState{}

	proxied := httptest.NewRequest(http.MethodGet, "http://shop.example/api/v1/orders", nil)
	proxied.Header.Set("X-Forwarded-Proto", "HTTPS")

	plain := httptest.NewRequest(http.MethodGet, "http://shop.example/api/v1/orders", nil)

	h := Headers{Enable: true, EnableHSTS: true}
	assert.Equal(t, "max-age=31536000", serveHeaders(h, tlsReq).Get("Strict-Transport-Security"))
	assert.Equal(t, "max-age=31536000", serveHeaders(h, proxied).Get("Strict-Transport-Security"))
	assert.Empty(t, serveHeaders(h, plain).Get("Strict-Transport-Security"))

	h = Headers{Enable: true, EnableHSTS: true, HSTSMaxAge: 24 * time.Hour, HSTSIncludeSubdomains: true}
	assert.Equal(t, "max-age=86400; includeSubDomains", serveHeaders(h, tlsReq).Get("Strict-Transport-Security"))
}

func TestHeadersDisabled(t *testing.T) {
	headers := serveHeaders(Headers{EnableHSTS: true}, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, headers.Get("X-Content-Type-Options"))
}
