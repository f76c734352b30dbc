package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"settler/bridge"
	"settler/chain/evm"
	"settler/chain/stacks"
	"settler/cmd/internal/passphrase"
	"settler/config"
	"settler/crypto"
	"settler/identity"
	"settler/tracker"
	"settler/treasury"
)

// stacksNode is everything the CLI reads from or sends to the Hiro API.
type stacksNode interface {
	tracker.StacksSource
	bridge.StacksBroadcaster
	treasury.StacksBalances
	identity.BNSLookup
}

// ethNode is everything the CLI reads from or sends to Ethereum.
type ethNode interface {
	bridge.SourceChain
	tracker.EthereumSource
	Address() common.Address
}

var (
	_ stacksNode = (*stacks.Client)(nil)
	_ ethNode    = (*evm.Client)(nil)
)

// Chain access, replaced in tests.
var (
	openStacks   = defaultOpenStacks
	dialEthereum = defaultDialEthereum
	dialENS      = defaultDialENS
	newSecret    = func(envVar, label string) secretSource { return passphrase.NewSource(envVar, label) }
)

// secretSource yields a passphrase or key from the environment or a prompt.
type secretSource interface {
	Get() (string, error)
}

func defaultOpenStacks(cfg *config.Config) stacksNode {
	return stacks.NewClient(cfg.Stacks.API, stacks.WithRateLimit(cfg.Stacks.RatePerSecond, cfg.Stacks.RateBurst))
}

// defaultDialEthereum connects to the configured RPC. key may be nil for
// read-only use.
func defaultDialEthereum(ctx context.Context, cfg *config.Config, key *crypto.PrivateKey, logger *slog.Logger) (ethNode, func(), error) {
	backend, err := evm.Dial(ctx, cfg.Ethereum.RPC, nil)
	if err != nil {
		return nil, nil, err
	}
	opts := []evm.Option{evm.WithLogger(logger)}
	if key != nil {
		opts = append(opts, evm.WithSigner(key))
	}
	return evm.NewClient(backend, cfg.Ethereum.ChainID, opts...), backend.Close, nil
}

// defaultDialENS connects to the mainnet endpoint used for ENS. It returns
// a nil lookup when none is configured.
func defaultDialENS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (identity.ENSLookup, func(), error) {
	if strings.TrimSpace(cfg.Ethereum.ENSRPC) == "" {
		return nil, func() {}, nil
	}
	backend, err := evm.Dial(ctx, cfg.Ethereum.ENSRPC, nil)
	if err != nil {
		return nil, nil, err
	}
	return evm.NewClient(backend, 1, evm.WithLogger(logger)), backend.Close, nil
}

// newResolver wires BNS through Hiro and ENS through the mainnet endpoint,
// backed by the on-disk name cache. The returned func releases both.
func newResolver(ctx context.Context, e *env, node stacksNode) (*identity.Resolver, func(), error) {
	ens, closeENS, err := dialENS(ctx, e.cfg, e.logger)
	if err != nil {
		return nil, nil, err
	}
	opts := []identity.Option{identity.WithLogger(e.logger)}
	if registry := strings.TrimSpace(e.cfg.Ethereum.ENSRegistry); registry != "" {
		opts = append(opts, identity.WithENSRegistry(common.HexToAddress(registry)))
	}
	release := closeENS
	if dir := strings.TrimSpace(e.cfg.Storage.NameCacheDir); dir != "" {
		cache, err := identity.OpenLevelDBCache(dir, e.cfg.Storage.NameCacheTTLDuration())
		if err != nil {
			e.logger.Warn("name cache unavailable", slog.String("dir", dir), slog.Any("error", err))
		} else {
			opts = append(opts, identity.WithCache(cache))
			release = func() {
				_ = cache.Close()
				closeENS()
			}
		}
	}
	return identity.NewResolver(node, ens, opts...), release, nil
}

// loadEthKey decrypts the configured keystore, prompting for the passphrase
// when the environment does not provide it.
func loadEthKey(e *env, keystore string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(keystore) == "" {
		keystore = e.cfg.Ethereum.Keystore
	}
	pass, err := newSecret(e.cfg.Ethereum.PassphraseEnv, "keystore passphrase").Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(keystore, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore %s: %w", keystore, err)
	}
	return key, nil
}

func timeoutContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
