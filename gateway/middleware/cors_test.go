package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCORSEchoesAllowedOrigin(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://pay.example"}})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/track", nil)
	req.Header.Set("Origin", "https://pay.example")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, "https://pay.example", res.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, res.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
	require.Equal(t, "Origin", res.Header().Get("Vary"))

	req.Header.Set("Origin", "https://evil.example")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Empty(t, res.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, http.StatusOK, res.Code)
}

func TestCORSPreflight(t *testing.T) {
	called := false
	handler := CORS(CORSConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	req := httptest.NewRequest(http.MethodOptions, "/v1/invoices", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusNoContent, res.Code)
	require.False(t, called)
	require.Equal(t, "http://localhost:3000", res.Header().Get("Access-Control-Allow-Origin"))
}
