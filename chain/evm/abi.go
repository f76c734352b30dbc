package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const erc20ABIJSON = `[
	{"name":"balanceOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"success","type":"bool"}]},
	{"name":"Transfer","type":"event","anonymous":false,
	 "inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

const xReserveABIJSON = `[
	{"name":"depositToRemote","type":"function","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"value","type":"uint256"},
		{"name":"remoteDomain","type":"uint32"},
		{"name":"remoteRecipient","type":"bytes32"},
		{"name":"localToken","type":"address"},
		{"name":"maxFee","type":"uint256"},
		{"name":"hookData","type":"bytes"}],
	 "outputs":[]}
]`

const ensABIJSON = `[
	{"name":"resolver","type":"function","stateMutability":"view",
	 "inputs":[{"name":"node","type":"bytes32"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"name":"addr","type":"function","stateMutability":"view",
	 "inputs":[{"name":"node","type":"bytes32"}],
	 "outputs":[{"name":"","type":"address"}]}
]`

var (
	erc20ABI    = mustParseABI(erc20ABIJSON)
	xReserveABI = mustParseABI(xReserveABIJSON)
	ensABI      = mustParseABI(ensABIJSON)

	// TransferTopic is keccak256("Transfer(address,address,uint256)").
	TransferTopic = gethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("evm: invalid embedded abi: " + err.Error())
	}
	return parsed
}
