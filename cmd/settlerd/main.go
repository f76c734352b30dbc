// Command settlerd serves the settler HTTP gateway: invoice creation and
// decoding, transfer tracking over HTTP and websockets, balances, name
// resolution and the operator ledger.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"settler/chain/evm"
	"settler/chain/stacks"
	"settler/config"
	gwconfig "settler/gateway/config"
	"settler/gateway/idempotency"
	"settler/gateway/middleware"
	"settler/gateway/routes"
	"settler/identity"
	"settler/ledger"
	"settler/observability"
	"settler/observability/logging"
	telemetry "settler/observability/otel"
	"settler/tracker"
	"settler/treasury"
)

const pruneInterval = time.Hour

type flags struct {
	configPath    string
	gatewayPath   string
	allowInsecure bool
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "settler.toml", "path to the network configuration (created with testnet defaults when missing)")
	flag.StringVar(&f.gatewayPath, "gateway-config", "", "path to the gateway YAML configuration (overrides GatewayConfig)")
	flag.BoolVar(&f.allowInsecure, "allow-insecure", false, "DEV ONLY: permit plaintext listeners on non-loopback interfaces")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f); err != nil {
		slog.Error("settlerd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	logger := logging.Setup("settlerd", cfg.Logging.Env,
		logging.WithLevel(cfg.Logging.Level),
		logging.WithFile(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups))

	gatewayPath := strings.TrimSpace(f.gatewayPath)
	if gatewayPath == "" {
		gatewayPath = cfg.GatewayConfig
	}
	gw, err := gwconfig.Load(gatewayPath)
	if err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}
	if err := gw.RequireSecret(); err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: gw.Observability.ServiceName,
		Environment: cfg.Logging.Env,
		Endpoint:    gw.Observability.OTLPEndpoint,
		Insecure:    gw.Observability.OTLPInsecure,
		Headers:     telemetry.ParseHeaders(gw.Observability.OTLPHeaders),
		Traces:      gw.Observability.Tracing && gw.Observability.OTLPEndpoint != "",
		Metrics:     gw.Observability.Metrics && gw.Observability.OTLPEndpoint != "",
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(flushCtx)
	}()

	network, err := cfg.Network()
	if err != nil {
		return err
	}
	metrics := observability.Settler()

	ethBackend, err := evm.Dial(ctx, cfg.Ethereum.RPC, telemetry.HTTPClient("eth-rpc", 15*time.Second))
	if err != nil {
		return err
	}
	defer ethBackend.Close()
	eth := evm.NewClient(ethBackend, cfg.Ethereum.ChainID, evm.WithLogger(logger))

	var ens identity.ENSLookup
	if strings.TrimSpace(cfg.Ethereum.ENSRPC) != "" {
		ensBackend, err := evm.Dial(ctx, cfg.Ethereum.ENSRPC, telemetry.HTTPClient("ens-rpc", 15*time.Second))
		if err != nil {
			return err
		}
		defer ensBackend.Close()
		ens = evm.NewClient(ensBackend, 1, evm.WithLogger(logger))
	}

	hiro := stacks.NewClient(cfg.Stacks.API,
		stacks.WithHTTPClient(telemetry.HTTPClient("hiro", 10*time.Second)),
		stacks.WithRateLimit(cfg.Stacks.RatePerSecond, cfg.Stacks.RateBurst))

	cache, err := identity.OpenLevelDBCache(cfg.Storage.NameCacheDir, cfg.Storage.NameCacheTTLDuration())
	if err != nil {
		return err
	}
	defer cache.Close()

	resolverOpts := []identity.Option{
		identity.WithCache(cache),
		identity.WithLogger(logger),
		identity.WithMetrics(metrics),
	}
	if registry := strings.TrimSpace(cfg.Ethereum.ENSRegistry); registry != "" {
		resolverOpts = append(resolverOpts, identity.WithENSRegistry(common.HexToAddress(registry)))
	}
	resolver := identity.NewResolver(hiro, ens, resolverOpts...)

	if err := ensureParent(cfg.Storage.LedgerDSN); err != nil {
		return err
	}
	ledgerStore, err := ledger.Open(cfg.Storage.LedgerDSN)
	if err != nil {
		return err
	}
	defer ledgerStore.Close()

	if err := ensureParent(cfg.Storage.IdempotencyDSN); err != nil {
		return err
	}
	idem, err := idempotency.Open(cfg.Storage.IdempotencyDSN, gw.IdempotencyTTL)
	if err != nil {
		return err
	}
	defer idem.Close()

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   gw.Observability.ServiceName,
		MetricsPrefix: gw.Observability.MetricsPrefix,
		LogRequests:   gw.Observability.LogRequests,
		Enabled:       gw.Observability.Metrics || gw.Observability.Tracing,
	}, logger)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    gw.Auth.Enabled,
		HMACSecret: gw.Auth.HMACSecret,
		Issuer:     gw.Auth.Issuer,
		Audience:   gw.Auth.Audience,
		ScopeClaim: gw.Auth.ScopeClaim,
		ClockSkew:  gw.Auth.ClockSkew,
	}, logger)

	rateLimits := make(map[string]middleware.RateLimit, len(gw.RateLimits))
	for _, entry := range gw.RateLimits {
		rateLimits[entry.ID] = middleware.RateLimit{
			RequestsPerMinute: entry.RequestsPerMinute,
			RatePerSecond:     entry.RatePerSecond,
			Burst:             entry.Burst,
		}
	}

	gateway, err := routes.New(routes.Config{
		BaseURL: gw.BaseURL(),
		Network: network,
		Sources: tracker.Sources{Ethereum: eth, Stacks: hiro, Network: network},
		TrackerOptions: []tracker.Option{
			tracker.WithSettleDelay(cfg.Tracker.SettleDelay()),
			tracker.WithEventLimit(cfg.Tracker.EventLimit),
			tracker.WithBlockWindow(cfg.Tracker.BlockWindow),
		},
		RunnerOptions: []tracker.RunnerOption{
			tracker.WithPollInterval(cfg.Tracker.PollInterval()),
			tracker.WithElapsedInterval(cfg.Tracker.ElapsedInterval()),
		},
		Resolver:      resolver,
		Balances:      treasury.NewService(eth, hiro, network, logger),
		Ledger:        ledgerStore,
		Idempotency:   idem,
		Stream:        routes.StreamConfig(gw.Stream),
		LedgerScope:   gwconfig.LedgerScope,
		Authenticator: auth,
		RateLimiter:   middleware.NewRateLimiter(rateLimits, logger),
		Observability: obs,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   gw.CORS.AllowedOrigins,
			AllowedMethods:   gw.CORS.AllowedMethods,
			AllowedHeaders:   gw.CORS.AllowedHeaders,
			AllowCredentials: gw.CORS.AllowCredentials,
		},
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("configure routes: %w", err)
	}
	defer gateway.Close()

	handler := http.Handler(gateway)
	if gw.Observability.Tracing {
		handler = otelhttp.NewHandler(gateway, "settler-gateway")
	}

	configDir := ""
	if gatewayPath != "" {
		configDir = filepath.Dir(gatewayPath)
	}
	tlsConfig, err := buildTLSConfig(configDir, gw.Security)
	if err != nil {
		return fmt.Errorf("configure TLS: %w", err)
	}
	if tlsConfig == nil && !f.allowInsecure && !isLoopbackAddress(gw.ListenAddress) {
		return errors.New("plaintext gateway mode is restricted to loopback listeners; configure security.tlsCertFile/tlsKeyFile or pass --allow-insecure")
	}

	server := &http.Server{
		Addr:         gw.ListenAddress,
		Handler:      handler,
		ReadTimeout:  gw.ReadTimeout,
		WriteTimeout: gw.WriteTimeout,
		IdleTimeout:  gw.IdleTimeout,
		TLSConfig:    tlsConfig,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	listener, err := net.Listen("tcp", gw.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		scheme := "http"
		if tlsConfig != nil {
			scheme = "https"
			listener = tls.NewListener(listener, tlsConfig)
		}
		logger.Info("gateway listening",
			slog.String("addr", scheme+"://"+listener.Addr().String()),
			slog.String("stacks_api", cfg.Stacks.API),
			slog.Int64("eth_chain_id", cfg.Ethereum.ChainID))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		prune(groupCtx, logger, idem, cache)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gw.ShutdownTimeout)
		defer cancel()
		gateway.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", slog.Any("error", err))
		}
		return nil
	})
	return group.Wait()
}

// prune drops expired idempotency records and cached names until ctx ends.
func prune(ctx context.Context, logger *slog.Logger, idem *idempotency.Store, cache *identity.LevelDBCache) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if n, err := idem.Prune(ctx); err != nil {
			logger.Warn("idempotency prune failed", slog.Any("error", err))
		} else if n > 0 {
			logger.Debug("idempotency records pruned", slog.Int64("count", n))
		}
		if n, err := cache.Prune(ctx); err != nil {
			logger.Warn("name cache prune failed", slog.Any("error", err))
		} else if n > 0 {
			logger.Debug("name cache entries pruned", slog.Int("count", n))
		}
	}
}

// ensureParent creates the directory of a file-backed sqlite DSN.
func ensureParent(dsn string) error {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, "://") || strings.Contains(dsn, "host=") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
