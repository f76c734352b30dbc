// Command settler is the operator CLI for the USDC/USDCx bridge: it creates
// and decodes invoices, submits deposits and burns, follows transfers to
// completion and keeps a local ledger of everything it submitted.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"settler/bridge"
	"settler/config"
	"settler/observability/logging"
)

var configPath = defaultConfigPath()

func defaultConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("SETTLER_CONFIG")); v != "" {
		return v
	}
	return "settler.toml"
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "invoice":
		return runInvoice(args[1:], stdout, stderr)
	case "hookdata":
		return runHookData(args[1:], stdout, stderr)
	case "recipient":
		return runRecipient(args[1:], stdout, stderr)
	case "deposit":
		return runDeposit(args[1:], stdout, stderr)
	case "burn":
		return runBurn(args[1:], stdout, stderr)
	case "track":
		return runTrack(args[1:], stdout, stderr)
	case "balance":
		return runBalance(args[1:], stdout, stderr)
	case "resolve":
		return runResolve(args[1:], stdout, stderr)
	case "wallet":
		return runWallet(args[1:], stdout, stderr)
	case "ledger":
		return runLedger(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.Join([]string{
		"Usage: settler [--config path] <command> [flags]",
		"",
		"Commands:",
		"  invoice create|decode    build or read a payment invoice",
		"  hookdata                 print a fresh deposit correlation token",
		"  recipient encode|decode  convert addresses to and from bytes32",
		"  deposit                  bridge USDC from Ethereum to Stacks",
		"  burn                     bridge USDCx from Stacks to Ethereum",
		"  track                    follow a transfer until it settles",
		"  balance                  show USDC and USDCx holdings",
		"  resolve                  resolve a BNS or ENS name",
		"  wallet show|set|disconnect",
		"  ledger list|export",
	}, "\n")
}

// applyGlobalFlags strips --config from anywhere in args.
func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --config")
			}
			configPath = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			configPath = strings.TrimPrefix(arg, "--config=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

// env is what every networked command needs: the loaded configuration, the
// bridge view derived from it and a logger writing to stderr or the
// configured file.
type env struct {
	cfg     *config.Config
	network bridge.Network
	logger  *slog.Logger
}

func loadEnv(stderr io.Writer) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	network, err := cfg.Network()
	if err != nil {
		return nil, err
	}
	// Only warnings reach the terminal unless debug is configured.
	level := "warn"
	if strings.EqualFold(cfg.Logging.Level, "debug") {
		level = "debug"
	}
	opts := []logging.Option{logging.WithWriter(stderr), logging.WithLevel(level)}
	if cfg.Logging.File != "" {
		opts = append(opts, logging.WithFile(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups))
	}
	logger := logging.Setup("settler", cfg.Logging.Env, opts...)
	return &env{cfg: cfg, network: network, logger: logger}, nil
}

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
