package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"settler/crypto"
)

// MinPollSeconds keeps the tracker from hammering the Hiro API.
var MinPollSeconds = 2

// Validate checks the settings every binary depends on.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"ethereum.RPC": c.Ethereum.RPC,
		"stacks.API":   c.Stacks.API,
	} {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: %s must be an absolute URL", name)
		}
	}
	if c.Ethereum.ChainID <= 0 {
		return fmt.Errorf("config: ethereum.ChainID must be positive")
	}
	for name, addr := range map[string]string{
		"ethereum.USDC":     c.Ethereum.USDC,
		"ethereum.XReserve": c.Ethereum.XReserve,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("config: %s is not an address", name)
		}
	}
	if c.Ethereum.ENSRegistry != "" && !common.IsHexAddress(c.Ethereum.ENSRegistry) {
		return fmt.Errorf("config: ethereum.ENSRegistry is not an address")
	}
	switch strings.ToLower(strings.TrimSpace(c.Stacks.Network)) {
	case "testnet", "mainnet":
	default:
		return fmt.Errorf("config: stacks.Network must be testnet or mainnet")
	}
	if _, err := crypto.DecodeStacksAddress(c.Stacks.Deployer); err != nil {
		return fmt.Errorf("config: stacks.Deployer: %w", err)
	}
	if c.Stacks.RatePerSecond < 0 || c.Stacks.RateBurst < 0 {
		return fmt.Errorf("config: stacks rate limit must not be negative")
	}
	if c.Tracker.PollSeconds < MinPollSeconds {
		return fmt.Errorf("config: tracker.PollSeconds must be at least %d", MinPollSeconds)
	}
	if c.Tracker.ElapsedSeconds <= 0 || c.Tracker.SettleMs < 0 {
		return fmt.Errorf("config: tracker intervals must be positive")
	}
	if c.Tracker.EventLimit <= 0 || c.Tracker.EventLimit > 50 {
		return fmt.Errorf("config: tracker.EventLimit must be within 1..50")
	}
	if c.Tracker.BlockWindow == 0 {
		return fmt.Errorf("config: tracker.BlockWindow must be positive")
	}
	if _, err := c.Network(); err != nil {
		return err
	}
	return nil
}
