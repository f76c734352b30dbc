package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "ledger-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func newTestAuthenticator(now time.Time) *Authenticator {
	auth := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "settler-ops",
		Audience:   "settler-gateway",
		ClockSkew:  time.Minute,
	}, nil)
	auth.now = func() time.Time { return now }
	return auth
}

func serveWithToken(handler http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/ledger", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAuthenticatorScopes(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	auth := newTestAuthenticator(now)

	var seen []string
	handler := auth.Middleware("ledger:read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ScopesFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	base := jwt.MapClaims{
		"iss": "settler-ops",
		"aud": []any{"other", "settler-gateway"},
		"exp": now.Add(time.Hour).Unix(),
	}

	withScope := jwt.MapClaims{"scope": "ledger:read ledger:export"}
	for k, v := range base {
		withScope[k] = v
	}
	res := serveWithToken(handler, signToken(t, withScope))
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, []string{"ledger:read", "ledger:export"}, seen)

	noScope := jwt.MapClaims{"scope": "invoices:write"}
	for k, v := range base {
		noScope[k] = v
	}
	res = serveWithToken(handler, signToken(t, noScope))
	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestAuthenticatorRejects(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	auth := newTestAuthenticator(now)
	handler := auth.Middleware("ledger:read")(okHandler())

	cases := map[string]jwt.MapClaims{
		"expired beyond skew": {"iss": "settler-ops", "aud": "settler-gateway", "scope": "ledger:read", "exp": now.Add(-2 * time.Minute).Unix()},
		"wrong issuer":        {"iss": "someone", "aud": "settler-gateway", "scope": "ledger:read", "exp": now.Add(time.Hour).Unix()},
		"wrong audience":      {"iss": "settler-ops", "aud": "elsewhere", "scope": "ledger:read", "exp": now.Add(time.Hour).Unix()},
	}
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			res := serveWithToken(handler, signToken(t, claims))
			require.Equal(t, http.StatusUnauthorized, res.Code)
		})
	}

	require.Equal(t, http.StatusUnauthorized, serveWithToken(handler, "").Code)
	require.Equal(t, http.StatusUnauthorized, serveWithToken(handler, "not.a.jwt").Code)
}

func TestAuthenticatorAllowsExpiryWithinSkew(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	auth := newTestAuthenticator(now)
	handler := auth.Middleware("ledger:read")(okHandler())

	claims := jwt.MapClaims{"iss": "settler-ops", "aud": "settler-gateway", "scope": []any{"ledger:read"}, "exp": now.Add(-30 * time.Second).Unix()}
	require.Equal(t, http.StatusOK, serveWithToken(handler, signToken(t, claims)).Code)
}

func TestAuthenticatorDisabled(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: false}, nil)
	require.Equal(t, http.StatusOK, serveWithToken(auth.Middleware("ledger:read")(okHandler()), "").Code)
}

func TestExtractBearer(t *testing.T) {
	require.Equal(t, "abc", extractBearer("bearer abc"))
	require.Empty(t, extractBearer("Basic abc"))
	require.Empty(t, extractBearer("Bearer"))
}

func TestAuthenticatorAttachesOperator(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	auth := newTestAuthenticator(now)

	var op Operator
	handler := auth.Middleware("ledger:read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op, _ = OperatorFromContext(r.Context())
	}))
	claims := jwt.MapClaims{"iss": "settler-ops", "aud": "settler-gateway", "sub": "treasury-bot", "scope": "ledger:read", "exp": now.Add(time.Hour).Unix()}
	require.Equal(t, http.StatusOK, serveWithToken(handler, signToken(t, claims)).Code)
	require.Equal(t, "treasury-bot", op.Subject)

	res := serveWithToken(handler, "")
	require.Contains(t, res.Header().Get("WWW-Authenticate"), `error="invalid_request"`)
}

func TestAuthenticatorRejectsNoneAlgorithm(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	auth := newTestAuthenticator(now)
	claims := jwt.MapClaims{"iss": "settler-ops", "aud": "settler-gateway", "scope": "ledger:read", "exp": now.Add(time.Hour).Unix()}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, serveWithToken(auth.Middleware("ledger:read")(okHandler()), unsigned).Code)
}
