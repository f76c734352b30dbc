package bridge

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"settler/crypto"
)

// stacksPadding is the number of zero bytes ahead of the version byte.
const stacksPadding = 11

// RemoteRecipient is the bytes32 form of a destination address.
type RemoteRecipient [32]byte

// Hex renders the value 0x-prefixed, as passed to contract calls.
func (r RemoteRecipient) Hex() string {
	return hexutil.Encode(r[:])
}

// ParseRemoteRecipient reads a 0x-prefixed 32-byte hex string.
func ParseRemoteRecipient(s string) (RemoteRecipient, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil || len(raw) != 32 {
		return RemoteRecipient{}, &AddressFormatError{Input: s, Chain: "bytes32", Reason: "expected 32 bytes of hex"}
	}
	var out RemoteRecipient
	copy(out[:], raw)
	return out, nil
}

// AddressFormatError reports an address that cannot be encoded or decoded.
type AddressFormatError struct {
	Input  string
	Chain  string
	Reason string
	Err    error
}

func (e *AddressFormatError) Error() string {
	msg := fmt.Sprintf("bridge: invalid %s address %q: %s", e.Chain, e.Input, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AddressFormatError) Unwrap() error { return e.Err }

// EncodeRemoteRecipient turns a Stacks address into the depositToRemote
// recipient: 11 zero bytes, the version byte, then the hash160.
func EncodeRemoteRecipient(stacksAddress string) (RemoteRecipient, error) {
	addr, err := crypto.DecodeStacksAddress(stacksAddress)
	if err != nil {
		return RemoteRecipient{}, &AddressFormatError{Input: stacksAddress, Chain: "stacks", Reason: "not a c32check address", Err: err}
	}
	var out RemoteRecipient
	out[stacksPadding] = addr.Version
	copy(out[stacksPadding+1:], addr.Hash160[:])
	return out, nil
}

// DecodeRemoteRecipient is the inverse of EncodeRemoteRecipient.
func DecodeRemoteRecipient(r RemoteRecipient) (string, error) {
	for i := 0; i < stacksPadding; i++ {
		if r[i] != 0 {
			return "", &AddressFormatError{Input: r.Hex(), Chain: "stacks", Reason: "non-zero padding"}
		}
	}
	addr, err := crypto.NewStacksAddress(r[stacksPadding], r[stacksPadding+1:])
	if err != nil {
		return "", &AddressFormatError{Input: r.Hex(), Chain: "stacks", Reason: "bad version byte", Err: err}
	}
	return addr.String(), nil
}

// EncodeReverseRecipient left-pads an Ethereum address to 32 bytes for
// the usdcx-v1 burn call.
func EncodeReverseRecipient(ethAddress string) (RemoteRecipient, error) {
	trimmed := strings.TrimSpace(ethAddress)
	if !common.IsHexAddress(trimmed) || !strings.HasPrefix(trimmed, "0x") {
		return RemoteRecipient{}, &AddressFormatError{Input: ethAddress, Chain: "ethereum", Reason: "expected 0x followed by 40 hex characters"}
	}
	var out RemoteRecipient
	copy(out[12:], common.HexToAddress(trimmed).Bytes())
	return out, nil
}

// DecodeReverseRecipient takes the rightmost 20 bytes.
func DecodeReverseRecipient(r RemoteRecipient) common.Address {
	return common.BytesToAddress(r[12:])
}
