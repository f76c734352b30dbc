// Package treasury reports the USDC and USDCx holdings of a connected
// operator across both chains.
package treasury

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"settler/bridge"
)

// EthereumBalances is satisfied by *evm.Client.
type EthereumBalances interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// StacksBalances is satisfied by *stacks.Client.
type StacksBalances interface {
	TokenBalance(ctx context.Context, address, match string) (*big.Int, bool, error)
}

// Balance is one token line. Error is set instead of Amount when the chain
// could not be read.
type Balance struct {
	Symbol string          `json:"symbol"`
	Chain  string          `json:"chain"`
	Owner  string          `json:"owner"`
	Amount decimal.Decimal `json:"amount"`
	Error  string          `json:"error,omitempty"`
}

// Summary is the combined view; stablecoins are counted one to one.
type Summary struct {
	Balances  []Balance       `json:"balances"`
	Total     decimal.Decimal `json:"total"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Complete reports whether every requested chain was read.
func (s Summary) Complete() bool {
	for _, b := range s.Balances {
		if b.Error != "" {
			return false
		}
	}
	return true
}

type Service struct {
	eth     EthereumBalances
	stacks  StacksBalances
	network bridge.Network
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(eth EthereumBalances, stx StacksBalances, network bridge.Network, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{eth: eth, stacks: stx, network: network, logger: logger, now: time.Now}
}

// Summary reads the balances of the given owners concurrently. An empty
// owner skips that chain.
func (s *Service) Summary(ctx context.Context, ethOwner, stacksOwner string) Summary {
	ethOwner = strings.TrimSpace(ethOwner)
	stacksOwner = strings.TrimSpace(stacksOwner)

	var ethLine, stxLine *Balance
	var g errgroup.Group
	if ethOwner != "" {
		ethLine = &Balance{Symbol: "USDC", Chain: "Ethereum Sepolia", Owner: ethOwner}
		g.Go(func() error {
			s.readEthereum(ctx, ethLine)
			return nil
		})
	}
	if stacksOwner != "" {
		stxLine = &Balance{Symbol: "USDCx", Chain: "Stacks Testnet", Owner: stacksOwner}
		g.Go(func() error {
			s.readStacks(ctx, stxLine)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Balances: []Balance{}, Total: decimal.Zero, FetchedAt: s.now().UTC()}
	for _, line := range []*Balance{ethLine, stxLine} {
		if line == nil {
			continue
		}
		summary.Balances = append(summary.Balances, *line)
		if line.Error == "" {
			summary.Total = summary.Total.Add(line.Amount)
		}
	}
	return summary
}

func (s *Service) readEthereum(ctx context.Context, line *Balance) {
	if s.eth == nil || !common.IsHexAddress(line.Owner) {
		line.Error = "invalid or unsupported Ethereum address"
		return
	}
	units, err := s.eth.BalanceOf(ctx, s.network.USDC, common.HexToAddress(line.Owner))
	if err != nil {
		s.logger.Warn("usdc balance read failed", slog.String("owner", line.Owner), slog.Any("error", err))
		line.Error = "Failed to fetch USDC balance"
		return
	}
	line.Amount = bridge.BaseUnitsToDecimal(units)
}

func (s *Service) readStacks(ctx context.Context, line *Balance) {
	if s.stacks == nil {
		line.Error = "Stacks API not configured"
		return
	}
	units, _, err := s.stacks.TokenBalance(ctx, line.Owner, s.network.UsdcxTokenContract)
	if err != nil {
		s.logger.Warn("usdcx balance read failed", slog.String("owner", line.Owner), slog.Any("error", err))
		line.Error = "Failed to fetch USDCx balance"
		return
	}
	line.Amount = bridge.BaseUnitsToDecimal(units)
}
