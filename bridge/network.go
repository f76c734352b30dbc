// Package bridge orchestrates USDC deposits into the xReserve bridge and
// USDCx burns on Stacks.
package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"settler/crypto"
)

// Network holds the contract coordinates of one Ethereum/Stacks bridge pair.
type Network struct {
	EthChainID int64
	USDC       common.Address
	XReserve   common.Address

	StacksDomain   uint32
	EthereumDomain uint32

	// UsdcxDeployer is the principal owning both the token and the bridge contract.
	UsdcxDeployer      string
	UsdcxTokenContract string
	UsdcxBridgeName    string
	UsdcxTokenName     string
	StacksTestnet      bool

	MinDeposit  decimal.Decimal
	MinWithdraw decimal.Decimal
	DepositETA  time.Duration
	WithdrawETA time.Duration
}

// Sepolia returns the Ethereum Sepolia / Stacks testnet deployment.
func Sepolia() Network {
	return Network{
		EthChainID:         11155111,
		USDC:               common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"),
		XReserve:           common.HexToAddress("0x008888878f94C0d87defdf0B07f46B93C1934442"),
		StacksDomain:       10003,
		EthereumDomain:     0,
		UsdcxDeployer:      "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM",
		UsdcxTokenContract: "usdcx",
		UsdcxBridgeName:    "usdcx-v1",
		UsdcxTokenName:     "usdcx-token",
		StacksTestnet:      true,
		MinDeposit:         decimal.NewFromInt(1),
		MinWithdraw:        decimal.RequireFromString("4.80"),
		DepositETA:         15 * time.Minute,
		WithdrawETA:        25 * time.Minute,
	}
}

// BridgeContractID is the fully qualified usdcx-v1 contract identifier.
func (n Network) BridgeContractID() string {
	return n.UsdcxDeployer + "." + n.UsdcxBridgeName
}

// TokenContractID is the fully qualified usdcx token contract identifier.
func (n Network) TokenContractID() string {
	return n.UsdcxDeployer + "." + n.UsdcxTokenContract
}

// AssetID names the fungible token for post-conditions and balance lookups.
func (n Network) AssetID() string {
	return n.TokenContractID() + "::" + n.UsdcxTokenName
}

// StacksVersion is the single-sig address version of the Stacks side.
func (n Network) StacksVersion() byte {
	if n.StacksTestnet {
		return crypto.StacksTestnetSingleSig
	}
	return crypto.StacksMainnetSingleSig
}

// Validate checks the fields the orchestrator depends on.
func (n Network) Validate() error {
	if n.EthChainID <= 0 {
		return fmt.Errorf("bridge: ethereum chain id required")
	}
	if n.USDC == (common.Address{}) || n.XReserve == (common.Address{}) {
		return fmt.Errorf("bridge: usdc and xreserve addresses required")
	}
	if _, err := crypto.DecodeStacksAddress(n.UsdcxDeployer); err != nil {
		return fmt.Errorf("bridge: usdcx deployer: %w", err)
	}
	for name, value := range map[string]string{
		"usdcx token contract":  n.UsdcxTokenContract,
		"usdcx bridge contract": n.UsdcxBridgeName,
		"usdcx token name":      n.UsdcxTokenName,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("bridge: %s required", name)
		}
	}
	return nil
}
