package evm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ENSRegistry is the registry address shared by mainnet and Sepolia.
var ENSRegistry = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

// ErrENSNotFound is returned when a name has no resolver or no address.
var ErrENSNotFound = errors.New("evm: ens name not found")

// NameHash implements EIP-137 over an already normalised name.
func NameHash(name string) common.Hash {
	var node common.Hash
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		label := gethcrypto.Keccak256Hash([]byte(labels[i]))
		node = gethcrypto.Keccak256Hash(node.Bytes(), label.Bytes())
	}
	return node
}

// ResolveENS returns the address record of name through registry.
func (c *Client) ResolveENS(ctx context.Context, registry common.Address, name string) (common.Address, error) {
	if registry == (common.Address{}) {
		registry = ENSRegistry
	}
	node := NameHash(name)
	out, err := c.call(ctx, registry, ensABI, "resolver", [32]byte(node))
	if err != nil {
		return common.Address{}, err
	}
	resolver, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("evm: resolver returned %T", out[0])
	}
	if resolver == (common.Address{}) {
		return common.Address{}, ErrENSNotFound
	}
	out, err = c.call(ctx, resolver, ensABI, "addr", [32]byte(node))
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("evm: addr returned %T", out[0])
	}
	if addr == (common.Address{}) {
		return common.Address{}, ErrENSNotFound
	}
	return addr, nil
}
