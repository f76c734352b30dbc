package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig guards the operator (ledger) routes. Invoice, track and lookup
// routes are public.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	ClockSkew  time.Duration
}

// Operator is the authenticated caller of a ledger route.
type Operator struct {
	Subject string
	Scopes  []string
}

type operatorKey struct{}

// OperatorFromContext returns the operator attached by Authenticator.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorKey{}).(Operator)
	return op, ok
}

// ScopesFromContext returns the scopes of the authenticated request.
func ScopesFromContext(ctx context.Context) []string {
	op, _ := OperatorFromContext(ctx)
	return op.Scopes
}

// Authenticator validates HMAC-signed bearer tokens issued to operators.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		now:    time.Now,
	}
}

// Middleware admits requests whose token carries every required scope.
func (a *Authenticator) Middleware(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			raw := extractBearer(r.Header.Get("Authorization"))
			if raw == "" {
				deny(w, http.StatusUnauthorized, "invalid_request", "missing bearer token")
				return
			}
			op, err := a.authenticate(raw)
			if err != nil {
				a.logger.Info("ledger token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
				deny(w, http.StatusUnauthorized, "invalid_token", "invalid token")
				return
			}
			if missing := missingScope(op.Scopes, required); missing != "" {
				a.logger.Info("ledger token lacks scope",
					slog.String("path", r.URL.Path),
					slog.String("subject", op.Subject),
					slog.String("scope", missing))
				deny(w, http.StatusForbidden, "insufficient_scope", "insufficient scope")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey{}, op)))
		})
	}
}

func (a *Authenticator) parser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithTimeFunc(a.now),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	return jwt.NewParser(opts...)
}

func (a *Authenticator) authenticate(raw string) (Operator, error) {
	if len(a.secret) == 0 {
		return Operator{}, errors.New("ledger auth secret not configured")
	}
	claims := jwt.MapClaims{}
	if _, err := a.parser().ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return Operator{}, err
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return Operator{}, fmt.Errorf("sub: %w", err)
	}
	return Operator{Subject: subject, Scopes: scopesOf(claims[a.cfg.ScopeClaim])}, nil
}

// scopesOf accepts both the space-delimited OAuth form and a JSON array.
func scopesOf(raw any) []string {
	switch v := raw.(type) {
	case string:
		if fields := strings.Fields(v); len(fields) > 0 {
			return fields
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func missingScope(have, required []string) string {
	for _, want := range required {
		found := false
		for _, s := range have {
			if s == want {
				found = true
				break
			}
		}
		if !found {
			return want
		}
	}
	return ""
}

func deny(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="settler-ledger", error=%q`, code))
	http.Error(w, message, status)
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
