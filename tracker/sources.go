package tracker

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"settler/bridge"
	"settler/chain/evm"
	"settler/chain/stacks"
)

// EthereumSource is the Ethereum data the tracker polls. *evm.Client
// satisfies it.
type EthereumSource interface {
	Receipt(ctx context.Context, hash common.Hash) (*bridge.Receipt, bool, error)
	RecentTransfers(ctx context.Context, token, recipient common.Address, window uint64) ([]evm.TransferLog, error)
}

// StacksSource is the Stacks data the tracker polls. *stacks.Client
// satisfies it.
type StacksSource interface {
	GetTransaction(ctx context.Context, txID string) (stacks.TxInfo, error)
	ContractEvents(ctx context.Context, contractID string, limit int) ([]stacks.ContractEvent, error)
}

// Sources bundles both chains and the deployment being watched.
type Sources struct {
	Ethereum EthereumSource
	Stacks   StacksSource
	Network  bridge.Network
}

var (
	_ EthereumSource = (*evm.Client)(nil)
	_ StacksSource   = (*stacks.Client)(nil)
)

// FuncEthereumSource adapts callbacks to EthereumSource.
type FuncEthereumSource struct {
	ReceiptFunc         func(ctx context.Context, hash common.Hash) (*bridge.Receipt, bool, error)
	RecentTransfersFunc func(ctx context.Context, token, recipient common.Address, window uint64) ([]evm.TransferLog, error)
}

func (f FuncEthereumSource) Receipt(ctx context.Context, hash common.Hash) (*bridge.Receipt, bool, error) {
	if f.ReceiptFunc == nil {
		return nil, false, nil
	}
	return f.ReceiptFunc(ctx, hash)
}

func (f FuncEthereumSource) RecentTransfers(ctx context.Context, token, recipient common.Address, window uint64) ([]evm.TransferLog, error) {
	if f.RecentTransfersFunc == nil {
		return nil, nil
	}
	return f.RecentTransfersFunc(ctx, token, recipient, window)
}

// FuncStacksSource adapts callbacks to StacksSource.
type FuncStacksSource struct {
	GetTransactionFunc func(ctx context.Context, txID string) (stacks.TxInfo, error)
	ContractEventsFunc func(ctx context.Context, contractID string, limit int) ([]stacks.ContractEvent, error)
}

func (f FuncStacksSource) GetTransaction(ctx context.Context, txID string) (stacks.TxInfo, error) {
	if f.GetTransactionFunc == nil {
		return stacks.TxInfo{}, stacks.ErrNotFound
	}
	return f.GetTransactionFunc(ctx, txID)
}

func (f FuncStacksSource) ContractEvents(ctx context.Context, contractID string, limit int) ([]stacks.ContractEvent, error) {
	if f.ContractEventsFunc == nil {
		return nil, nil
	}
	return f.ContractEventsFunc(ctx, contractID, limit)
}
