package routes

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"settler/bridge"
	"settler/gateway/idempotency"
	"settler/gateway/middleware"
	"settler/identity"
	"settler/ledger"
	"settler/observability"
	"settler/tracker"
	"settler/treasury"
)

// Resolver is satisfied by *identity.Resolver.
type Resolver interface {
	ResolveRecipient(ctx context.Context, input string, expected identity.Chain) (string, error)
	Resolve(ctx context.Context, name string) (string, error)
}

// Balances is satisfied by *treasury.Service.
type Balances interface {
	Summary(ctx context.Context, ethOwner, stacksOwner string) treasury.Summary
}

// Ledger is satisfied by *ledger.Store.
type Ledger interface {
	List(ctx context.Context, filter ledger.Filter) ([]ledger.Transfer, error)
	ExportParquet(ctx context.Context, w io.Writer, filter ledger.Filter) (int, error)
	Observe(ctx context.Context, sourceTx string, state tracker.State) error
}

type StreamConfig struct {
	MaxSessions  int
	WriteTimeout time.Duration
	Linger       time.Duration
}

// Route groups keyed into the rate limiter.
const (
	RateLimitInvoices = "invoices"
	RateLimitTrack    = "track"
	RateLimitLookup   = "lookup"
)

type Config struct {
	// BaseURL is the public origin pay and track links are built on.
	BaseURL        string
	Network        bridge.Network
	Sources        tracker.Sources
	TrackerOptions []tracker.Option
	RunnerOptions  []tracker.RunnerOption
	Resolver       Resolver
	Balances       Balances
	Ledger         Ledger
	Idempotency    *idempotency.Store
	Stream         StreamConfig
	LedgerScope    string
	Authenticator  *middleware.Authenticator
	RateLimiter    *middleware.RateLimiter
	Observability  *middleware.Observability
	CORS           middleware.CORSConfig
	Metrics        *observability.SettlerMetrics
	Logger         *slog.Logger
}

// Gateway is the HTTP surface. Close stops the live tracking sessions.
type Gateway struct {
	http.Handler
	cfg Config
	hub *Hub
}

func New(cfg Config) (*Gateway, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("routes: resolver required")
	}
	if cfg.Sources.Ethereum == nil || cfg.Sources.Stacks == nil {
		return nil, errors.New("routes: tracker sources required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LedgerScope == "" {
		cfg.LedgerScope = "ledger:read"
	}
	g := &Gateway{cfg: cfg}
	g.hub = NewHub(g.newRunner, cfg.Stream.MaxSessions, cfg.Stream.Linger, g.recordOutcome, cfg.Logger)

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(gr chi.Router) {
			g.limit(gr, RateLimitInvoices)
			create := http.Handler(http.HandlerFunc(g.createInvoice))
			if cfg.Idempotency != nil {
				create = cfg.Idempotency.Middleware("invoices", cfg.Logger)(create)
			}
			gr.Method(http.MethodPost, "/invoices", create)
			gr.Get("/invoices/decode", g.decodeInvoice)
		})
		v1.Group(func(gr chi.Router) {
			g.limit(gr, RateLimitTrack)
			gr.Get("/track", g.track)
			gr.Post("/track/refresh", g.refresh)
			gr.Get("/track/stream", g.stream)
		})
		v1.Group(func(gr chi.Router) {
			g.limit(gr, RateLimitLookup)
			gr.Get("/balances", g.balances)
			gr.Get("/resolve", g.resolve)
		})
		if cfg.Ledger != nil {
			v1.Group(func(gr chi.Router) {
				if cfg.Authenticator != nil {
					gr.Use(cfg.Authenticator.Middleware(cfg.LedgerScope))
				}
				gr.Get("/ledger", g.listLedger)
				gr.Get("/ledger/export", g.exportLedger)
			})
		}
	})

	g.Handler = r
	return g, nil
}

func (g *Gateway) limit(r chi.Router, key string) {
	if g.cfg.RateLimiter != nil {
		r.Use(g.cfg.RateLimiter.Middleware(key))
	}
}

// Close stops every live tracking session.
func (g *Gateway) Close() {
	g.hub.Close()
}

func (g *Gateway) newTracker(params tracker.Params) (*tracker.Tracker, error) {
	opts := append([]tracker.Option{
		tracker.WithLogger(g.cfg.Logger),
		tracker.WithMetrics(g.cfg.Metrics),
	}, g.cfg.TrackerOptions...)
	return tracker.New(params, g.cfg.Sources, opts...)
}

func (g *Gateway) newRunner(params tracker.Params) (*tracker.Runner, error) {
	t, err := g.newTracker(params)
	if err != nil {
		return nil, err
	}
	return tracker.NewRunner(t, g.cfg.RunnerOptions...), nil
}

func (g *Gateway) recordOutcome(ctx context.Context, params tracker.Params, state tracker.State) {
	if g.cfg.Ledger == nil {
		return
	}
	if err := g.cfg.Ledger.Observe(ctx, params.TxID, state); err != nil {
		g.cfg.Logger.Warn("ledger update failed", slog.String("tx", params.TxID), slog.Any("error", err))
	}
}
