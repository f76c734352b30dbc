package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"settler/chain/stacks"
	"settler/crypto"
)

// BurnFunction is the usdcx-v1 entry point that burns and releases.
const BurnFunction = "burn"

// DefaultMinFee is the fee floor, in micro-STX, for key-signed burns.
const DefaultMinFee uint64 = 3000

// BurnRequest is a fully specified usdcx-v1 burn call.
type BurnRequest struct {
	ContractAddress   string
	ContractName      string
	FunctionName      string
	Amount            *big.Int
	Domain            uint32
	Recipient         RemoteRecipient
	EthRecipient      string
	Sender            string
	PostCondition     stacks.FungiblePostCondition
	PostConditionMode stacks.PostConditionMode
	Testnet           bool
}

// Args renders the Clarity arguments of the burn call.
func (r BurnRequest) Args() ([]stacks.Value, error) {
	amount, err := stacks.UintFromBig(r.Amount)
	if err != nil {
		return nil, err
	}
	domain := stacks.Value{Type: stacks.TypeUint, Int: new(big.Int).SetUint64(uint64(r.Domain))}
	return []stacks.Value{amount, domain, stacks.Buffer(r.Recipient[:])}, nil
}

// Transaction builds the unsigned contract-call transaction.
func (r BurnRequest) Transaction() (*stacks.Transaction, error) {
	args, err := r.Args()
	if err != nil {
		return nil, err
	}
	call := stacks.ContractCall{
		ContractAddress: r.ContractAddress,
		ContractName:    r.ContractName,
		FunctionName:    r.FunctionName,
		Args:            args,
	}
	return stacks.NewContractCall(r.Testnet, call, r.PostConditionMode, r.PostCondition), nil
}

// BuildBurnRequest prepares a burn of amount USDCx from sender, releasing
// USDC to ethRecipient. The post-condition requires sender to send exactly
// amount of the token, and deny mode rejects any other transfer.
func BuildBurnRequest(network Network, amount, ethRecipient, sender string) (BurnRequest, error) {
	value, err := ToBaseUnits(amount)
	if err != nil {
		return BurnRequest{}, err
	}
	if value.Sign() <= 0 {
		return BurnRequest{}, fmt.Errorf("bridge: burn amount must be positive")
	}
	if !value.IsUint64() {
		return BurnRequest{}, fmt.Errorf("bridge: burn amount %s exceeds post-condition range", value)
	}
	recipient, err := EncodeReverseRecipient(ethRecipient)
	if err != nil {
		return BurnRequest{}, err
	}
	if _, err := crypto.DecodeStacksAddress(sender); err != nil {
		return BurnRequest{}, &AddressFormatError{Input: sender, Chain: "stacks", Reason: "invalid burn sender", Err: err}
	}
	asset, err := stacks.ParseAssetID(network.AssetID())
	if err != nil {
		return BurnRequest{}, fmt.Errorf("bridge: asset id: %w", err)
	}
	return BurnRequest{
		ContractAddress: network.UsdcxDeployer,
		ContractName:    network.UsdcxBridgeName,
		FunctionName:    BurnFunction,
		Amount:          value,
		Domain:          network.EthereumDomain,
		Recipient:       recipient,
		EthRecipient:    ethRecipient,
		Sender:          sender,
		PostCondition: stacks.FungiblePostCondition{
			Principal: sender,
			Asset:     asset,
			Code:      stacks.SentEq,
			Amount:    value.Uint64(),
		},
		PostConditionMode: stacks.PostConditionDeny,
		Testnet:           network.StacksTestnet,
	}, nil
}

// StacksWallet is an interactive signer. RequestContractCall returns
// ErrUserCancelled when the user dismisses the prompt.
type StacksWallet interface {
	RequestContractCall(ctx context.Context, req BurnRequest) (string, error)
}

// FuncStacksWallet adapts a callback to the StacksWallet interface.
type FuncStacksWallet func(ctx context.Context, req BurnRequest) (string, error)

func (f FuncStacksWallet) RequestContractCall(ctx context.Context, req BurnRequest) (string, error) {
	if f == nil {
		return "", ErrNoWallet
	}
	return f(ctx, req)
}

// BurnStatus is the outcome class of a wallet burn.
type BurnStatus string

const (
	BurnSubmitted BurnStatus = "submitted"
	BurnCancelled BurnStatus = "cancelled"
	BurnFailed    BurnStatus = "failed"
)

// BurnOutcome reports a wallet burn. Cancelled carries no error.
type BurnOutcome struct {
	Status BurnStatus
	TxID   string
	Err    error
}

// BurnViaWallet hands the request to an interactive wallet.
func BurnViaWallet(ctx context.Context, wallet StacksWallet, req BurnRequest) BurnOutcome {
	if wallet == nil {
		return BurnOutcome{Status: BurnFailed, Err: ErrNoWallet}
	}
	txID, err := wallet.RequestContractCall(ctx, req)
	switch {
	case err == nil && txID != "":
		return BurnOutcome{Status: BurnSubmitted, TxID: txID}
	case err == nil:
		return BurnOutcome{Status: BurnFailed, Err: fmt.Errorf("bridge: wallet returned no transaction id")}
	case errors.Is(err, ErrUserCancelled), errors.Is(err, context.Canceled):
		return BurnOutcome{Status: BurnCancelled}
	default:
		return BurnOutcome{Status: BurnFailed, Err: err}
	}
}

// BurnViaWalletAsync runs BurnViaWallet in its own goroutine and reports
// exactly one of onSuccess, onCancel or onError. A user cancel is not an
// error and never reaches onError.
func BurnViaWalletAsync(ctx context.Context, wallet StacksWallet, req BurnRequest, onSuccess func(txID string), onCancel func(), onError func(err error)) {
	go func() {
		outcome := BurnViaWallet(ctx, wallet, req)
		switch outcome.Status {
		case BurnSubmitted:
			if onSuccess != nil {
				onSuccess(outcome.TxID)
			}
		case BurnCancelled:
			if onCancel != nil {
				onCancel()
			}
		default:
			if onError != nil {
				onError(outcome.Err)
			}
		}
	}()
}

// StacksBroadcaster is the node access BurnViaKey needs.
type StacksBroadcaster interface {
	Nonce(ctx context.Context, address string) (uint64, error)
	FeeRate(ctx context.Context) (uint64, error)
	Broadcast(ctx context.Context, raw []byte) (string, error)
}

// balanceReader is optionally implemented by a broadcaster so the burn can
// be refused locally when the sender cannot cover the post-condition.
type balanceReader interface {
	TokenBalance(ctx context.Context, address, match string) (*big.Int, bool, error)
}

// BurnResult is the outcome of a key-signed burn.
type BurnResult struct {
	TxID  string
	Nonce uint64
	Fee   uint64
}

// BurnViaKey signs req with key and broadcasts it.
func BurnViaKey(ctx context.Context, node StacksBroadcaster, req BurnRequest, key *crypto.PrivateKey, logger *slog.Logger) (BurnResult, error) {
	if node == nil {
		return BurnResult{}, fmt.Errorf("bridge: stacks node not configured")
	}
	if key == nil {
		return BurnResult{}, ErrNoWallet
	}
	if logger == nil {
		logger = slog.Default()
	}
	senderAddr, err := crypto.DecodeStacksAddress(req.Sender)
	if err != nil {
		return BurnResult{}, &AddressFormatError{Input: req.Sender, Chain: "stacks", Reason: "invalid burn sender", Err: err}
	}
	derived := key.PubKey().StacksAddress(senderAddr.Version)
	if derived != senderAddr {
		return BurnResult{}, fmt.Errorf("%w: key controls %s", ErrSenderMismatch, derived)
	}

	if reader, ok := node.(balanceReader); ok {
		balance, found, err := reader.TokenBalance(ctx, req.Sender, req.PostCondition.Asset.ContractName)
		if err == nil && (!found || balance.Cmp(req.Amount) < 0) {
			return BurnResult{}, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, FromBaseUnits(balance), FromBaseUnits(req.Amount))
		}
		if err != nil {
			logger.Warn("burn balance pre-check skipped", slog.String("sender", req.Sender), slog.Any("error", err))
		}
	}

	tx, err := req.Transaction()
	if err != nil {
		return BurnResult{}, err
	}
	nonce, err := node.Nonce(ctx, req.Sender)
	if err != nil {
		return BurnResult{}, fmt.Errorf("bridge: fetch nonce: %w", err)
	}
	tx.Nonce = nonce

	fee := DefaultMinFee
	if rate, err := node.FeeRate(ctx); err == nil {
		raw, serr := tx.Serialize()
		if serr == nil {
			if estimate := rate * uint64(len(raw)); estimate > fee {
				fee = estimate
			}
		}
	} else {
		logger.Warn("fee estimate unavailable, using floor", slog.Uint64("fee", fee), slog.Any("error", err))
	}
	tx.Fee = fee

	if err := tx.Sign(key); err != nil {
		return BurnResult{}, err
	}
	raw, err := tx.Serialize()
	if err != nil {
		return BurnResult{}, err
	}
	txID, err := node.Broadcast(ctx, raw)
	if err != nil {
		reason := err.Error()
		var rej *stacks.RejectionError
		if errors.As(err, &rej) && rej.Reason != "" {
			reason = rej.Reason
		}
		return BurnResult{}, &BroadcastError{Reason: reason, Err: err}
	}
	logger.Info("burn broadcast",
		slog.String("tx", txID),
		slog.String("sender", req.Sender),
		slog.String("recipient", req.EthRecipient),
		slog.Uint64("nonce", nonce),
		slog.Uint64("fee", fee))
	return BurnResult{TxID: txID, Nonce: nonce, Fee: fee}, nil
}
