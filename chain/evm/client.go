// Package evm reads and writes the Ethereum side of the bridge: USDC
// balances and approvals, xReserve deposits, receipts, Transfer logs and
// ENS names.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"settler/bridge"
	"settler/crypto"
)

// Backend is the subset of the Ethereum JSON-RPC the client uses.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
}

// Dial connects to an Ethereum JSON-RPC endpoint. hc, when set, carries
// HTTP(S) requests.
func Dial(ctx context.Context, endpoint string, hc *http.Client) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	var opts []rpc.ClientOption
	if hc != nil && (strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://")) {
		opts = append(opts, rpc.WithHTTPClient(hc))
	}
	client, err := rpc.DialOptions(ctx, trimmed, opts...)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", trimmed, err)
	}
	return ethclient.NewClient(client), nil
}

// ErrReadOnly is returned by write operations on a client without a key.
var ErrReadOnly = errors.New("evm: client has no signing key")

const (
	defaultPollInterval = 4 * time.Second
	// DefaultTransferWindow is how many recent blocks are scanned for
	// incoming USDC transfers.
	DefaultTransferWindow uint64 = 1000
	gasBufferPercent             = 20
)

// Client binds a Backend to an optional signing key.
type Client struct {
	backend      Backend
	key          *crypto.PrivateKey
	chainID      *big.Int
	pollInterval time.Duration
	logger       *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithSigner enables write operations signed by key.
func WithSigner(key *crypto.PrivateKey) Option {
	return func(c *Client) { c.key = key }
}

// WithPollInterval sets how often WaitForReceipt polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(backend Backend, chainID int64, opts ...Option) *Client {
	c := &Client{
		backend:      backend,
		chainID:      big.NewInt(chainID),
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ bridge.SourceChain = (*Client)(nil)

// Address returns the signer account, or the zero address when read-only.
func (c *Client) Address() common.Address {
	if c.key == nil {
		return common.Address{}
	}
	return c.key.PubKey().EthAddress()
}

// BalanceOf reads an ERC-20 balance.
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, erc20ABI, "balanceOf", owner)
}

// Allowance reads an ERC-20 allowance.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, erc20ABI, "allowance", owner, spender)
}

// Approve submits approve(spender, amount) on token.
func (c *Client) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: pack approve: %w", err)
	}
	return c.send(ctx, token, data)
}

// DepositToRemote submits xReserve.depositToRemote.
func (c *Client) DepositToRemote(ctx context.Context, reserve common.Address, call bridge.DepositCall) (common.Hash, error) {
	maxFee := call.MaxFee
	if maxFee == nil {
		maxFee = new(big.Int)
	}
	hookData := call.HookData
	if hookData == nil {
		hookData = []byte{}
	}
	data, err := xReserveABI.Pack("depositToRemote",
		call.Value,
		call.RemoteDomain,
		[32]byte(call.RemoteRecipient),
		call.LocalToken,
		maxFee,
		hookData,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: pack depositToRemote: %w", err)
	}
	return c.send(ctx, reserve, data)
}

// WaitForReceipt polls until hash is mined or ctx ends.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash) (*bridge.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return toReceipt(hash, receipt), nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			c.logger.Warn("receipt poll failed", slog.String("tx", hash.Hex()), slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Receipt fetches a receipt once. found is false while the transaction is
// pending or unknown.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (receipt *bridge.Receipt, found bool, err error) {
	raw, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) || (err == nil && raw == nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("evm: fetch receipt: %w", err)
	}
	return toReceipt(hash, raw), true, nil
}

// TransferLog is one ERC-20 Transfer event.
type TransferLog struct {
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
	From        common.Address
	To          common.Address
	Value       *big.Int
}

// RecentTransfers lists Transfer events of token to recipient over the last
// window blocks, in chain order.
func (c *Client) RecentTransfers(ctx context.Context, token, recipient common.Address, window uint64) ([]TransferLog, error) {
	if window == 0 {
		window = DefaultTransferWindow
	}
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("evm: block number: %w", err)
	}
	from := uint64(0)
	if head > window {
		from = head - window
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{token},
		Topics:    [][]common.Hash{{TransferTopic}, nil, {common.BytesToHash(recipient.Bytes())}},
	}
	logs, err := c.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("evm: filter transfer logs: %w", err)
	}
	out := make([]TransferLog, 0, len(logs))
	for _, l := range logs {
		if l.Removed || len(l.Topics) < 3 || l.Topics[0] != TransferTopic {
			continue
		}
		out = append(out, TransferLog{
			TxHash:      l.TxHash,
			BlockNumber: l.BlockNumber,
			LogIndex:    l.Index,
			From:        common.BytesToAddress(l.Topics[1].Bytes()),
			To:          common.BytesToAddress(l.Topics[2].Bytes()),
			Value:       new(big.Int).SetBytes(l.Data),
		})
	}
	return out, nil
}

func (c *Client) callUint(ctx context.Context, to common.Address, contract abiPacker, method string, args ...interface{}) (*big.Int, error) {
	out, err := c.call(ctx, to, contract, method, args...)
	if err != nil {
		return nil, err
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: %s returned %T", method, out[0])
	}
	return value, nil
}

func (c *Client) call(ctx context.Context, to common.Address, contract abiPacker, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: call %s: %w", method, err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("evm: unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("evm: %s returned no values", method)
	}
	return out, nil
}

type abiPacker interface {
	Pack(name string, args ...interface{}) ([]byte, error)
	Unpack(name string, data []byte) ([]interface{}, error)
}

// send signs a legacy EIP-155 transaction calling to with data.
func (c *Client) send(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, ErrReadOnly
	}
	from := c.Address()
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: gas price: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, classifySendError(fmt.Errorf("evm: estimate gas: %w", err))
	}
	gas += gas * gasBufferPercent / 100

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.NewEIP155Signer(c.chainID), c.key.PrivateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: sign: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, classifySendError(fmt.Errorf("evm: send: %w", err))
	}
	c.logger.Debug("transaction sent",
		slog.String("tx", signed.Hash().Hex()),
		slog.String("to", to.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas))
	return signed.Hash(), nil
}

// classifySendError tags node errors the orchestrator reports specially.
func classifySendError(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "insufficient funds") {
		return fmt.Errorf("%w: %v", bridge.ErrInsufficientFunds, err)
	}
	return err
}

func toReceipt(hash common.Hash, r *gethtypes.Receipt) *bridge.Receipt {
	out := &bridge.Receipt{
		TxHash:  hash,
		Success: r.Status == gethtypes.ReceiptStatusSuccessful,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}
