package security_test

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mena-commerce/nbe-checkout/internal/security"
)

func TestHeadersMiddlewareSetsDefaults(t *testing.T) {
	handler := security.Headers{}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	require.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestHeadersMiddlewareHSTSOnlyOverTLS(t *testing.T) {
	handler := security.Headers{EnableHSTS: true, HSTSMaxAge: 600, HSTSIncludeSubdomains: true}.
		Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	plain := httptest.NewRecorder()
	handler.ServeHTTP(plain, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, plain.Header().Get("Strict-Transport-Security"))

	req := httptest.NewRequest(http.MethodGet, "https://shop.example/", nil)
	req.TLS = &tls.ConnectionState{}
	secure := httptest.NewRecorder()
	handler.ServeHTTP(secure, req)
	require.Equal(t, "max-age=600; includeSubDomains", secure.Header().Get("Strict-Transport-Security"))
}
