package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"settler/observability"
)

// Receipt is the part of a mined transaction the orchestrator inspects.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Success     bool
}

// DepositCall holds the arguments of xReserve.depositToRemote.
type DepositCall struct {
	Value           *big.Int
	RemoteDomain    uint32
	RemoteRecipient RemoteRecipient
	LocalToken      common.Address
	MaxFee          *big.Int
	HookData        []byte
}

// SourceChain captures what the orchestrator needs from the Ethereum side.
type SourceChain interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error)
	DepositToRemote(ctx context.Context, bridge common.Address, call DepositCall) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
}

// FuncSourceChain adapts callback functions to the SourceChain interface.
type FuncSourceChain struct {
	BalanceOfFunc       func(ctx context.Context, token, owner common.Address) (*big.Int, error)
	AllowanceFunc       func(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	ApproveFunc         func(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error)
	DepositToRemoteFunc func(ctx context.Context, bridge common.Address, call DepositCall) (common.Hash, error)
	WaitForReceiptFunc  func(ctx context.Context, hash common.Hash) (*Receipt, error)
}

func (f FuncSourceChain) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if f.BalanceOfFunc == nil {
		return new(big.Int), nil
	}
	return f.BalanceOfFunc(ctx, token, owner)
}

func (f FuncSourceChain) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	if f.AllowanceFunc == nil {
		return new(big.Int), nil
	}
	return f.AllowanceFunc(ctx, token, owner, spender)
}

func (f FuncSourceChain) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	if f.ApproveFunc == nil {
		return common.Hash{}, ErrNoWallet
	}
	return f.ApproveFunc(ctx, token, spender, amount)
}

func (f FuncSourceChain) DepositToRemote(ctx context.Context, bridge common.Address, call DepositCall) (common.Hash, error) {
	if f.DepositToRemoteFunc == nil {
		return common.Hash{}, ErrNoWallet
	}
	return f.DepositToRemoteFunc(ctx, bridge, call)
}

func (f FuncSourceChain) WaitForReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	if f.WaitForReceiptFunc == nil {
		return &Receipt{TxHash: hash, Success: true}, nil
	}
	return f.WaitForReceiptFunc(ctx, hash)
}

// DepositResult is what ExecuteFullDeposit hands to the tracker.
type DepositResult struct {
	ApproveTx *common.Hash
	DepositTx common.Hash
	HookData  HookData
}

// Depositor runs the Ethereum → Stacks direction.
type Depositor struct {
	chain   SourceChain
	network Network
	hooks   HookDataGenerator
	logger  *slog.Logger
	metrics *observability.SettlerMetrics
}

// DepositorOption customises the depositor.
type DepositorOption func(*Depositor)

// WithHookDataGenerator overrides the correlation token source.
func WithHookDataGenerator(g HookDataGenerator) DepositorOption {
	return func(d *Depositor) { d.hooks = g }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) DepositorOption {
	return func(d *Depositor) { d.logger = l }
}

// WithMetrics records submissions on m.
func WithMetrics(m *observability.SettlerMetrics) DepositorOption {
	return func(d *Depositor) { d.metrics = m }
}

func NewDepositor(chain SourceChain, network Network, opts ...DepositorOption) *Depositor {
	d := &Depositor{
		chain:   chain,
		network: network,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// GetAllowance returns how much USDC the bridge may pull from owner.
func (d *Depositor) GetAllowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	allowance, err := d.chain.Allowance(ctx, d.network.USDC, owner, d.network.XReserve)
	if err != nil {
		return nil, fmt.Errorf("bridge: read allowance: %w", err)
	}
	return allowance, nil
}

// GetBalance returns the USDC balance of owner in base units.
func (d *Depositor) GetBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	balance, err := d.chain.BalanceOf(ctx, d.network.USDC, owner)
	if err != nil {
		return nil, fmt.Errorf("bridge: read balance: %w", err)
	}
	return balance, nil
}

// Approve lets the bridge contract move up to amount USDC.
func (d *Depositor) Approve(ctx context.Context, amount string) (common.Hash, error) {
	value, err := ToBaseUnits(amount)
	if err != nil {
		return common.Hash{}, err
	}
	return d.approve(ctx, value)
}

func (d *Depositor) approve(ctx context.Context, value *big.Int) (common.Hash, error) {
	hash, err := d.chain.Approve(ctx, d.network.USDC, d.network.XReserve, value)
	if err != nil {
		d.metrics.RecordSubmission(string(OpApprove), string(ClassifyWalletError(err)))
		return common.Hash{}, fmt.Errorf("bridge: approve: %w", err)
	}
	d.metrics.RecordSubmission(string(OpApprove), "submitted")
	d.logger.Info("approval submitted", slog.String("tx", hash.Hex()), slog.String("amount", value.String()))
	return hash, nil
}

// Deposit submits depositToRemote for amount to a Stacks recipient, tagged
// with hook.
func (d *Depositor) Deposit(ctx context.Context, amount, recipient string, hook HookData) (common.Hash, error) {
	value, err := ToBaseUnits(amount)
	if err != nil {
		return common.Hash{}, err
	}
	return d.deposit(ctx, value, recipient, hook)
}

func (d *Depositor) deposit(ctx context.Context, value *big.Int, recipient string, hook HookData) (common.Hash, error) {
	if value.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("bridge: deposit amount must be positive")
	}
	remote, err := EncodeRemoteRecipient(recipient)
	if err != nil {
		return common.Hash{}, err
	}
	hookBytes, err := hook.Bytes()
	if err != nil {
		return common.Hash{}, err
	}
	call := DepositCall{
		Value:           value,
		RemoteDomain:    d.network.StacksDomain,
		RemoteRecipient: remote,
		LocalToken:      d.network.USDC,
		MaxFee:          new(big.Int),
		HookData:        hookBytes,
	}
	hash, err := d.chain.DepositToRemote(ctx, d.network.XReserve, call)
	if err != nil {
		d.metrics.RecordSubmission(string(OpDeposit), string(ClassifyWalletError(err)))
		return common.Hash{}, fmt.Errorf("bridge: deposit: %w", err)
	}
	d.metrics.RecordSubmission(string(OpDeposit), "submitted")
	d.logger.Info("deposit submitted",
		slog.String("tx", hash.Hex()),
		slog.String("recipient", recipient),
		slog.String("hook_data", string(hook)),
		slog.String("amount", value.String()))
	return hash, nil
}

// ExecuteFullDeposit reads the allowance, approves and waits for the
// approval to be mined when it is short, then deposits with a fresh
// correlation token. The deposit is never sent before a required approval
// has a successful receipt.
func (d *Depositor) ExecuteFullDeposit(ctx context.Context, owner common.Address, amount, recipient string) (DepositResult, error) {
	value, err := ToBaseUnits(amount)
	if err != nil {
		return DepositResult{}, err
	}
	if value.Sign() <= 0 {
		return DepositResult{}, fmt.Errorf("bridge: deposit amount must be positive")
	}
	if _, err := EncodeRemoteRecipient(recipient); err != nil {
		return DepositResult{}, err
	}

	allowance, err := d.GetAllowance(ctx, owner)
	if err != nil {
		return DepositResult{}, err
	}

	var result DepositResult
	if allowance.Cmp(value) < 0 {
		approveTx, err := d.approve(ctx, value)
		if err != nil {
			return DepositResult{}, err
		}
		result.ApproveTx = &approveTx
		receipt, err := d.chain.WaitForReceipt(ctx, approveTx)
		if err != nil {
			return result, fmt.Errorf("bridge: wait for approval %s: %w", approveTx.Hex(), err)
		}
		if receipt == nil || !receipt.Success {
			return result, fmt.Errorf("%w: %s", ErrApprovalReverted, approveTx.Hex())
		}
		d.logger.Info("approval confirmed", slog.String("tx", approveTx.Hex()), slog.Uint64("block", receipt.BlockNumber))
	}

	hook, err := d.hooks.Generate()
	if err != nil {
		return result, err
	}
	depositTx, err := d.deposit(ctx, value, recipient, hook)
	if err != nil {
		return result, err
	}
	result.DepositTx = depositTx
	result.HookData = hook
	return result, nil
}
