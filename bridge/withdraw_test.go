package bridge

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"settler/chain/stacks"
	"settler/crypto"
)

func TestBuildBurnRequest(t *testing.T) {
	net := Sepolia()
	req, err := BuildBurnRequest(net, "4.80", testEthRecipient, testStacksRecipient)
	require.NoError(t, err)
	require.Equal(t, net.UsdcxDeployer, req.ContractAddress)
	require.Equal(t, "usdcx-v1", req.ContractName)
	require.Equal(t, "burn", req.FunctionName)
	require.Equal(t, "4800000", req.Amount.String())
	require.Equal(t, uint32(0), req.Domain)
	require.Equal(t, stacks.PostConditionDeny, req.PostConditionMode)
	require.Equal(t, testStacksRecipient, req.PostCondition.Principal)
	require.Equal(t, stacks.SentEq, req.PostCondition.Code)
	require.Equal(t, uint64(4800000), req.PostCondition.Amount)
	require.Equal(t, net.AssetID(), req.PostCondition.Asset.String())

	args, err := req.Args()
	require.NoError(t, err)
	require.Len(t, args, 3)
	require.Equal(t, stacks.TypeUint, args[0].Type)
	require.Equal(t, stacks.TypeUint, args[1].Type)
	require.Zero(t, args[1].Int.Sign())
	require.Equal(t, stacks.TypeBuffer, args[2].Type)
	require.Len(t, args[2].Bytes, 32)

	_, err = BuildBurnRequest(net, "0", testEthRecipient, testStacksRecipient)
	require.Error(t, err)
	_, err = BuildBurnRequest(net, "5", testStacksRecipient, testStacksRecipient)
	require.Error(t, err)
	_, err = BuildBurnRequest(net, "5", testEthRecipient, "nope")
	require.Error(t, err)
}

func TestBurnViaWalletOutcomes(t *testing.T) {
	req, err := BuildBurnRequest(Sepolia(), "5", testEthRecipient, testStacksRecipient)
	require.NoError(t, err)
	ctx := context.Background()

	ok := BurnViaWallet(ctx, FuncStacksWallet(func(ctx context.Context, r BurnRequest) (string, error) {
		require.Equal(t, req.Amount, r.Amount)
		return "0xabc", nil
	}), req)
	require.Equal(t, BurnSubmitted, ok.Status)
	require.Equal(t, "0xabc", ok.TxID)

	cancelled := BurnViaWallet(ctx, FuncStacksWallet(func(context.Context, BurnRequest) (string, error) {
		return "", ErrUserCancelled
	}), req)
	require.Equal(t, BurnCancelled, cancelled.Status)
	require.NoError(t, cancelled.Err)

	failed := BurnViaWallet(ctx, FuncStacksWallet(func(context.Context, BurnRequest) (string, error) {
		return "", errors.New("extension crashed")
	}), req)
	require.Equal(t, BurnFailed, failed.Status)
	require.Error(t, failed.Err)

	require.Equal(t, BurnFailed, BurnViaWallet(ctx, nil, req).Status)
}

func TestBurnViaWalletAsyncCallbacks(t *testing.T) {
	req, err := BuildBurnRequest(Sepolia(), "5", testEthRecipient, testStacksRecipient)
	require.NoError(t, err)

	run := func(walletErr error) (cancelled bool, failure error) {
		done := make(chan struct{})
		BurnViaWalletAsync(context.Background(), FuncStacksWallet(func(context.Context, BurnRequest) (string, error) {
			return "", walletErr
		}), req,
			func(string) { t.Error("unexpected success"); close(done) },
			func() { cancelled = true; close(done) },
			func(err error) { failure = err; close(done) })
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("no callback invoked")
		}
		return cancelled, failure
	}

	cancelled, failure := run(ErrUserCancelled)
	require.True(t, cancelled)
	require.NoError(t, failure)

	rejected := errors.New("wallet rejected the post-condition")
	cancelled, failure = run(rejected)
	require.False(t, cancelled)
	require.ErrorIs(t, failure, rejected)
}

type stubNode struct {
	nonce     uint64
	rate      uint64
	rateErr   error
	balance   *big.Int
	raw       []byte
	broadcast error
}

func (s *stubNode) Nonce(context.Context, string) (uint64, error) { return s.nonce, nil }

func (s *stubNode) FeeRate(context.Context) (uint64, error) { return s.rate, s.rateErr }

func (s *stubNode) Broadcast(_ context.Context, raw []byte) (string, error) {
	if s.broadcast != nil {
		return "", s.broadcast
	}
	s.raw = raw
	return "0xfeed", nil
}

func (s *stubNode) TokenBalance(context.Context, string, string) (*big.Int, bool, error) {
	if s.balance == nil {
		return new(big.Int), false, nil
	}
	return s.balance, true, nil
}

func testSigner(t *testing.T) (*crypto.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key, key.PubKey().StacksAddress(crypto.StacksTestnetSingleSig).String()
}

func TestBurnViaKeySignsAndBroadcasts(t *testing.T) {
	key, sender := testSigner(t)
	req, err := BuildBurnRequest(Sepolia(), "5", testEthRecipient, sender)
	require.NoError(t, err)

	node := &stubNode{nonce: 9, rate: 1, balance: big.NewInt(10_000_000)}
	res, err := BurnViaKey(context.Background(), node, req, key, nil)
	require.NoError(t, err)
	require.Equal(t, "0xfeed", res.TxID)
	require.Equal(t, uint64(9), res.Nonce)
	require.Equal(t, DefaultMinFee, res.Fee)
	require.NotEmpty(t, node.raw)
	require.Equal(t, byte(stacks.TestnetVersion), node.raw[0])
}

func TestBurnViaKeyUsesFeeEstimate(t *testing.T) {
	key, sender := testSigner(t)
	req, err := BuildBurnRequest(Sepolia(), "5", testEthRecipient, sender)
	require.NoError(t, err)

	node := &stubNode{rate: 100, balance: big.NewInt(10_000_000)}
	res, err := BurnViaKey(context.Background(), node, req, key, nil)
	require.NoError(t, err)
	require.Equal(t, 100*uint64(len(node.raw)), res.Fee)

	node = &stubNode{rateErr: errors.New("down"), balance: big.NewInt(10_000_000)}
	res, err = BurnViaKey(context.Background(), node, req, key, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultMinFee, res.Fee)
}

func TestBurnViaKeyRejections(t *testing.T) {
	key, sender := testSigner(t)
	_, other := testSigner(t)
	ctx := context.Background()

	req, err := BuildBurnRequest(Sepolia(), "5", testEthRecipient, other)
	require.NoError(t, err)
	_, err = BurnViaKey(ctx, &stubNode{balance: big.NewInt(10_000_000)}, req, key, nil)
	require.ErrorIs(t, err, ErrSenderMismatch)

	req, err = BuildBurnRequest(Sepolia(), "5", testEthRecipient, sender)
	require.NoError(t, err)
	_, err = BurnViaKey(ctx, &stubNode{balance: big.NewInt(1)}, req, key, nil)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	rejection := &stacks.RejectionError{Status: 400, Message: "transaction rejected", Reason: "NotEnoughFunds"}
	_, err = BurnViaKey(ctx, &stubNode{balance: big.NewInt(10_000_000), broadcast: rejection}, req, key, nil)
	var bErr *BroadcastError
	require.ErrorAs(t, err, &bErr)
	require.Equal(t, "Broadcast failed: NotEnoughFunds", bErr.Error())
}
