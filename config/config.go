// Package config loads the TOML network and daemon configuration shared by
// settlerd and the settler CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"settler/bridge"
	"settler/chain/evm"
	"settler/chain/stacks"
)

// Environment variables that override the corresponding file settings.
const (
	EnvEthRPC    = "SETTLER_ETH_RPC"
	EnvStacksAPI = "SETTLER_STACKS_API"
)

type Config struct {
	Ethereum Ethereum `toml:"ethereum"`
	Stacks   Stacks   `toml:"stacks"`
	Bridge   Bridge   `toml:"bridge"`
	Tracker  Tracker  `toml:"tracker"`
	Storage  Storage  `toml:"storage"`
	Logging  Logging  `toml:"logging"`
	// GatewayConfig is the path of the YAML file consumed by gateway/config.
	GatewayConfig string `toml:"GatewayConfig"`
}

// Testnet returns the Sepolia / Stacks testnet defaults.
func Testnet() *Config {
	network := bridge.Sepolia()
	return &Config{
		Ethereum: Ethereum{
			RPC:           "https://ethereum-sepolia.publicnode.com",
			ChainID:       network.EthChainID,
			USDC:          network.USDC.Hex(),
			XReserve:      network.XReserve.Hex(),
			Explorer:      "https://sepolia.etherscan.io",
			Faucet:        "https://faucet.circle.com",
			ENSRPC:        "https://ethereum.publicnode.com",
			ENSRegistry:   evm.ENSRegistry.Hex(),
			Keystore:      "./settler-data/eth.keystore",
			PassphraseEnv: "SETTLER_KEYSTORE_PASSPHRASE",
		},
		Stacks: Stacks{
			API:           stacks.DefaultTestnetAPI,
			Explorer:      "https://explorer.hiro.so",
			Faucet:        "https://explorer.hiro.so/sandbox/faucet?chain=testnet",
			Network:       "testnet",
			Deployer:      network.UsdcxDeployer,
			TokenContract: network.UsdcxTokenContract,
			BridgeName:    network.UsdcxBridgeName,
			TokenName:     network.UsdcxTokenName,
			RatePerSecond: 5,
			RateBurst:     10,
			KeyEnv:        "SETTLER_STACKS_KEY",
		},
		Bridge: Bridge{
			StacksDomain:       network.StacksDomain,
			EthereumDomain:     network.EthereumDomain,
			MinDeposit:         network.MinDeposit.String(),
			MinWithdraw:        network.MinWithdraw.String(),
			DepositETAMinutes:  int(network.DepositETA / time.Minute),
			WithdrawETAMinutes: int(network.WithdrawETA / time.Minute),
			PayBaseURL:         "http://localhost:8090",
			TrackBaseURL:       "http://localhost:8090",
		},
		Tracker: Tracker{
			PollSeconds:    10,
			ElapsedSeconds: 1,
			SettleMs:       2000,
			EventLimit:     50,
			BlockWindow:    evm.DefaultTransferWindow,
		},
		Storage: Storage{
			WalletDB:       "./settler-data/wallet.db",
			NameCacheDir:   "./settler-data/names",
			NameCacheTTL:   3600,
			LedgerDSN:      "./settler-data/ledger.db",
			IdempotencyDSN: "./settler-data/idempotency.db",
		},
		Logging: Logging{
			Level: "info",
			Env:   "testnet",
		},
		GatewayConfig: "",
	}
}

// Load reads path over the testnet defaults, applies environment overrides
// and validates the result. A missing file is created with the defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Testnet()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvEthRPC)); v != "" {
		c.Ethereum.RPC = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStacksAPI)); v != "" {
		c.Stacks.API = v
	}
}

// createDefault writes the testnet defaults to path and returns them.
func createDefault(path string) (*Config, error) {
	cfg := Testnet()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Network converts the configured coordinates into the bridge view.
func (c *Config) Network() (bridge.Network, error) {
	minDeposit, err := decimal.NewFromString(strings.TrimSpace(c.Bridge.MinDeposit))
	if err != nil {
		return bridge.Network{}, fmt.Errorf("config: bridge.MinDeposit: %w", err)
	}
	minWithdraw, err := decimal.NewFromString(strings.TrimSpace(c.Bridge.MinWithdraw))
	if err != nil {
		return bridge.Network{}, fmt.Errorf("config: bridge.MinWithdraw: %w", err)
	}
	network := bridge.Network{
		EthChainID:         c.Ethereum.ChainID,
		USDC:               common.HexToAddress(c.Ethereum.USDC),
		XReserve:           common.HexToAddress(c.Ethereum.XReserve),
		StacksDomain:       c.Bridge.StacksDomain,
		EthereumDomain:     c.Bridge.EthereumDomain,
		UsdcxDeployer:      c.Stacks.Deployer,
		UsdcxTokenContract: c.Stacks.TokenContract,
		UsdcxBridgeName:    c.Stacks.BridgeName,
		UsdcxTokenName:     c.Stacks.TokenName,
		StacksTestnet:      !strings.EqualFold(c.Stacks.Network, "mainnet"),
		MinDeposit:         minDeposit,
		MinWithdraw:        minWithdraw,
		DepositETA:         time.Duration(c.Bridge.DepositETAMinutes) * time.Minute,
		WithdrawETA:        time.Duration(c.Bridge.WithdrawETAMinutes) * time.Minute,
	}
	if err := network.Validate(); err != nil {
		return bridge.Network{}, err
	}
	return network, nil
}

// EthTxURL links a transaction on the Ethereum explorer.
func (c *Config) EthTxURL(hash string) string {
	return strings.TrimRight(c.Ethereum.Explorer, "/") + "/tx/" + hash
}

// StacksTxURL links a transaction on the Hiro explorer.
func (c *Config) StacksTxURL(txID string) string {
	if !strings.HasPrefix(txID, "0x") {
		txID = "0x" + txID
	}
	return strings.TrimRight(c.Stacks.Explorer, "/") + "/txid/" + txID + "?chain=" + c.Stacks.Network
}

// PollInterval is the source/destination poll period.
func (t Tracker) PollInterval() time.Duration {
	return time.Duration(t.PollSeconds) * time.Second
}

func (t Tracker) ElapsedInterval() time.Duration {
	return time.Duration(t.ElapsedSeconds) * time.Second
}

func (t Tracker) SettleDelay() time.Duration {
	return time.Duration(t.SettleMs) * time.Millisecond
}

func (s Storage) NameCacheTTLDuration() time.Duration {
	return time.Duration(s.NameCacheTTL) * time.Second
}
