package treasury

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"settler/bridge"
)

const (
	ethOwner = "0x1111111111111111111111111111111111111111"
	stxOwner = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"
)

type stubEth struct {
	token common.Address
	units *big.Int
	err   error
}

func (s *stubEth) BalanceOf(_ context.Context, token, _ common.Address) (*big.Int, error) {
	s.token = token
	return s.units, s.err
}

type stubStacks struct {
	match string
	units *big.Int
	err   error
}

func (s *stubStacks) TokenBalance(_ context.Context, _, match string) (*big.Int, bool, error) {
	s.match = match
	if s.err != nil {
		return nil, false, s.err
	}
	return s.units, s.units.Sign() > 0, nil
}

func TestSummarySumsBothChains(t *testing.T) {
	eth := &stubEth{units: big.NewInt(12_500_000)}
	stx := &stubStacks{units: big.NewInt(4_800_001)}
	svc := NewService(eth, stx, bridge.Sepolia(), nil)

	summary := svc.Summary(context.Background(), ethOwner, stxOwner)
	require.True(t, summary.Complete())
	require.Len(t, summary.Balances, 2)
	require.Equal(t, "USDC", summary.Balances[0].Symbol)
	require.Equal(t, "12.5", summary.Balances[0].Amount.String())
	require.Equal(t, "4.800001", summary.Balances[1].Amount.String())
	require.Equal(t, "17.300001", summary.Total.String())
	require.Equal(t, bridge.Sepolia().USDC, eth.token)
	require.Equal(t, "usdcx", stx.match)
}

func TestSummaryPartialFailure(t *testing.T) {
	eth := &stubEth{err: errors.New("rpc down")}
	stx := &stubStacks{units: big.NewInt(1_000_000)}
	svc := NewService(eth, stx, bridge.Sepolia(), nil)

	summary := svc.Summary(context.Background(), ethOwner, stxOwner)
	require.False(t, summary.Complete())
	require.Equal(t, "Failed to fetch USDC balance", summary.Balances[0].Error)
	require.Equal(t, "1", summary.Total.String())
}

func TestSummarySkipsMissingOwners(t *testing.T) {
	svc := NewService(&stubEth{units: big.NewInt(1)}, &stubStacks{units: big.NewInt(0)}, bridge.Sepolia(), nil)

	summary := svc.Summary(context.Background(), "", stxOwner)
	require.Len(t, summary.Balances, 1)
	require.Equal(t, "USDCx", summary.Balances[0].Symbol)
	require.True(t, summary.Total.IsZero())

	summary = svc.Summary(context.Background(), "", "")
	require.Empty(t, summary.Balances)

	summary = svc.Summary(context.Background(), "0x12", "")
	require.NotEmpty(t, summary.Balances[0].Error)
}
