package identity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"settler/chain/evm"
	"settler/chain/stacks"
	"settler/invoice"
)

const resolvedStacks = "ST2JHG361ZXG51QTKY2NQCVBPPRRE2KZB1HR05NNC"

var resolvedEth = common.HexToAddress("0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045")

type stubBNS struct {
	calls   []string
	address string
	err     error
}

func (s *stubBNS) ResolveName(_ context.Context, name string) (string, error) {
	s.calls = append(s.calls, name)
	return s.address, s.err
}

type stubENS struct {
	calls    []string
	registry common.Address
	address  common.Address
	err      error
}

func (s *stubENS) ResolveENS(_ context.Context, registry common.Address, name string) (common.Address, error) {
	s.calls = append(s.calls, name)
	s.registry = registry
	return s.address, s.err
}

func TestResolvePassesAddressesThrough(t *testing.T) {
	r := NewResolver(nil, nil)
	got, err := r.ResolveRecipient(context.Background(), "  0xabc  ", ChainEthereum)
	require.NoError(t, err)
	require.Equal(t, "0xabc", got)
}

func TestResolveBNS(t *testing.T) {
	bns := &stubBNS{address: resolvedStacks}
	r := NewResolver(bns, nil)
	got, err := r.ResolveRecipient(context.Background(), " Alice.btc ", ChainStacks)
	require.NoError(t, err)
	require.Equal(t, resolvedStacks, got)
	require.Equal(t, []string{"alice.btc"}, bns.calls)
}

func TestResolveENSNormalises(t *testing.T) {
	ens := &stubENS{address: resolvedEth}
	r := NewResolver(nil, ens)
	got, err := r.ResolveRecipient(context.Background(), "Vitalik.eth", ChainEthereum)
	require.NoError(t, err)
	require.Equal(t, resolvedEth.Hex(), got)
	require.Equal(t, []string{"vitalik.eth"}, ens.calls)
	require.Equal(t, evm.ENSRegistry, ens.registry)
}

func TestResolveWrongChain(t *testing.T) {
	r := NewResolver(&stubBNS{address: resolvedStacks}, &stubENS{address: resolvedEth})

	_, err := r.ResolveRecipient(context.Background(), "alice.btc", ChainEthereum)
	require.EqualError(t, err, "BNS names (.btc) can only be used for Stacks recipients")
	require.ErrorIs(t, err, ErrWrongChain)

	_, err = r.ResolveRecipient(context.Background(), "vitalik.eth", ChainStacks)
	require.EqualError(t, err, "ENS names (.eth) can only be used for Ethereum recipients")
}

func TestResolveUnresolved(t *testing.T) {
	r := NewResolver(&stubBNS{err: stacks.ErrNotFound}, &stubENS{err: evm.ErrENSNotFound})

	_, err := r.ResolveRecipient(context.Background(), "ghost.btc", ChainStacks)
	require.EqualError(t, err, "Could not resolve BNS name: ghost.btc")
	require.ErrorIs(t, err, stacks.ErrNotFound)

	_, err = r.ResolveRecipient(context.Background(), "ghost.eth", ChainEthereum)
	require.EqualError(t, err, "Could not resolve ENS name: ghost.eth")
	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr))
	require.Equal(t, "ghost.eth", resErr.Name)

	_, err = NewResolver(nil, nil).ResolveRecipient(context.Background(), "x.btc", ChainStacks)
	require.EqualError(t, err, "Could not resolve BNS name: x.btc")
}

func TestResolveUsesCache(t *testing.T) {
	cache, err := NewMemoryCache(time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	bns := &stubBNS{address: resolvedStacks}
	r := NewResolver(bns, nil, WithCache(cache))
	for i := 0; i < 3; i++ {
		got, err := r.ResolveRecipient(context.Background(), "alice.btc", ChainStacks)
		require.NoError(t, err)
		require.Equal(t, resolvedStacks, got)
	}
	require.Len(t, bns.calls, 1)
}

func TestResolveDoesNotCacheFailures(t *testing.T) {
	cache, err := NewMemoryCache(time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	bns := &stubBNS{err: stacks.ErrNotFound}
	r := NewResolver(bns, nil, WithCache(cache))
	_, err = r.ResolveRecipient(context.Background(), "alice.btc", ChainStacks)
	require.Error(t, err)

	bns.err = nil
	bns.address = resolvedStacks
	got, err := r.ResolveRecipient(context.Background(), "alice.btc", ChainStacks)
	require.NoError(t, err)
	require.Equal(t, resolvedStacks, got)
	require.Len(t, bns.calls, 2)
}

func TestResolveWithoutChain(t *testing.T) {
	r := NewResolver(&stubBNS{address: resolvedStacks}, &stubENS{address: resolvedEth})
	got, err := r.Resolve(context.Background(), "vitalik.eth")
	require.NoError(t, err)
	require.Equal(t, resolvedEth.Hex(), got)

	_, err = r.Resolve(context.Background(), "ST2JHG361ZXG51QTKY2NQCVBPPRRE2KZB1HR05NNC")
	require.Error(t, err)
}

func TestChainFor(t *testing.T) {
	require.Equal(t, ChainStacks, ChainFor(invoice.EthToStx))
	require.Equal(t, ChainEthereum, ChainFor(invoice.StxToEth))
}

func TestNormalizeENS(t *testing.T) {
	got, err := NormalizeENS("Nick.ETH")
	require.NoError(t, err)
	require.Equal(t, "nick.eth", got)

	_, err = NormalizeENS("foo..eth")
	require.Error(t, err)
}

func TestCacheExpiryAndPrune(t *testing.T) {
	cache, err := OpenLevelDBCache(filepath.Join(t.TempDir(), "names"), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, ServiceBNS, "alice.btc", resolvedStacks))
	require.NoError(t, cache.Put(ctx, ServiceENS, "vitalik.eth", resolvedEth.Hex()))

	got, ok, err := cache.Get(ctx, ServiceBNS, "alice.btc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, resolvedStacks, got)

	_, ok, err = cache.Get(ctx, ServiceENS, "alice.btc")
	require.NoError(t, err)
	require.False(t, ok, "services do not share entries")

	now = now.Add(30 * time.Second)
	require.NoError(t, cache.Put(ctx, ServiceENS, "vitalik.eth", resolvedEth.Hex()))

	now = now.Add(45 * time.Second)
	_, ok, err = cache.Get(ctx, ServiceBNS, "alice.btc")
	require.NoError(t, err)
	require.False(t, ok)

	removed, err := cache.Prune(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, ok, err = cache.Get(ctx, ServiceENS, "vitalik.eth")
	require.NoError(t, err)
	require.True(t, ok, "refreshed entry survives prune")
}
