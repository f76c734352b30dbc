package bridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"settler/invoice"
)

var (
	// ErrUserCancelled marks a wallet prompt the user dismissed. It is an
	// outcome, not a failure.
	ErrUserCancelled = errors.New("bridge: cancelled by user")
	// ErrInsufficientFunds is returned when the payer cannot cover the amount.
	ErrInsufficientFunds = errors.New("bridge: insufficient funds")
	// ErrApprovalReverted aborts a deposit whose approval did not succeed.
	ErrApprovalReverted = errors.New("bridge: approval transaction reverted")
	// ErrSenderMismatch is returned when the signing key cannot satisfy the
	// burn post-condition because it controls a different principal.
	ErrSenderMismatch = errors.New("bridge: signing key does not match burn sender")
	// ErrNoWallet is returned when an operation needs a signer that was not configured.
	ErrNoWallet = errors.New("bridge: wallet not configured")
)

// BroadcastError carries the node's rejection of a signed transaction.
type BroadcastError struct {
	Reason string
	Err    error
}

func (e *BroadcastError) Error() string {
	return "Broadcast failed: " + e.Reason
}

func (e *BroadcastError) Unwrap() error { return e.Err }

// MinimumError is returned for amounts below the bridge minimum.
type MinimumError struct {
	Minimum decimal.Decimal
	Asset   string
}

func (e *MinimumError) Error() string {
	return fmt.Sprintf("Amount must be at least %s %s", e.Minimum.String(), e.Asset)
}

// CheckMinimum enforces the per-direction bridge minimum.
func CheckMinimum(network Network, direction invoice.Direction, amount decimal.Decimal) error {
	minimum := network.MinDeposit
	if direction == invoice.StxToEth {
		minimum = network.MinWithdraw
	}
	if amount.LessThan(minimum) {
		return &MinimumError{Minimum: minimum, Asset: direction.SourceAsset()}
	}
	return nil
}

// WalletErrorKind is the user-facing category of a wallet or provider error.
type WalletErrorKind string

const (
	WalletRejected          WalletErrorKind = "rejected"
	WalletInsufficientFunds WalletErrorKind = "insufficient_funds"
	WalletGeneric           WalletErrorKind = "generic"
)

// ClassifyWalletError maps a provider error onto a WalletErrorKind.
func ClassifyWalletError(err error) WalletErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrUserCancelled) {
		return WalletRejected
	}
	if errors.Is(err, ErrInsufficientFunds) {
		return WalletInsufficientFunds
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"), strings.Contains(msg, "cancelled by user"):
		return WalletRejected
	case strings.Contains(msg, "insufficient funds"):
		return WalletInsufficientFunds
	default:
		return WalletGeneric
	}
}

// Operation names the step a wallet error happened in.
type Operation string

const (
	OpApprove Operation = "approve"
	OpDeposit Operation = "deposit"
	OpBurn    Operation = "burn"
)

// UserMessage renders an actionable message for a failed wallet operation.
func UserMessage(op Operation, err error) string {
	switch ClassifyWalletError(err) {
	case "":
		return ""
	case WalletRejected:
		if op == OpApprove {
			return "Approval rejected by user"
		}
		if op == OpBurn {
			return "Transaction was cancelled by user"
		}
		return "Transaction rejected by user"
	case WalletInsufficientFunds:
		return "Insufficient funds to complete transaction"
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	if op == OpApprove {
		return "Approval failed. Please try again."
	}
	return "Bridge failed. Please try again."
}
