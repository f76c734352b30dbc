package tracker

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"settler/bridge"
	"settler/chain/stacks"
	"settler/crypto"
)

const (
	testRecipient = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"
	testHook      = bridge.HookData("0xaabbccddeeff00112233445566778899")
)

// Captured from the usdcx-v1 events endpoint.
const (
	reprMintPlain   = `(tuple (amount u10000000) (hook-data 0xaabbccddeeff00112233445566778899) (remote-recipient 'ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM) (topic "mint"))`
	reprMintEscaped = `(tuple (amount u5000000) (hook-data 0x) (remote-recipient 'ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM) (topic \"mint\"))`
	reprMintOther   = `(tuple (amount u1000000) (hook-data 0x0102030405060708090a0b0c0d0e0f10) (remote-recipient 'ST2JHG361ZXG51QTKY2NQCVBPPRRE2KZB1HR05NNC) (topic "mint"))`
	reprBurn        = `(tuple (amount u4800000) (hook-data 0xaabbccddeeff00112233445566778899) (remote-recipient 'ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM) (topic "burn"))`
)

var otherStacks = func() string {
	addr, err := crypto.NewStacksAddress(crypto.StacksTestnetSingleSig, bytes.Repeat([]byte{0x11}, 20))
	if err != nil {
		panic(err)
	}
	return addr.String()
}()

func reprEvent(txID, repr string) stacks.ContractEvent {
	return stacks.ContractEvent{TxID: txID, EventType: "smart_contract_log", Repr: repr}
}

func mintHex(t *testing.T, topic string, hook []byte, recipient string) string {
	t.Helper()
	principal, err := stacks.PrincipalValue(recipient)
	require.NoError(t, err)
	raw, err := stacks.Tuple(map[string]stacks.Value{
		"topic":            stacks.StringASCII(topic),
		"amount":           stacks.Uint(uint256.NewInt(10_000_000)),
		"hook-data":        stacks.Buffer(hook),
		"remote-recipient": principal,
	}).Serialize()
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(raw)
}

func TestMatchReprByHookData(t *testing.T) {
	events := []stacks.ContractEvent{
		reprEvent("0xburn", reprBurn),
		reprEvent("0xother", reprMintOther),
		reprEvent("0xmine", reprMintPlain),
	}
	ev, kind, ok := MatchMint(events, testHook, testRecipient)
	require.True(t, ok)
	require.Equal(t, "0xmine", ev.TxID)
	require.Equal(t, MatchHookData, kind)

	_, _, ok = MatchMint(events, "0xAABBCCDDEEFF00112233445566778800", testRecipient)
	require.False(t, ok, "hook data never falls back to recipient")
}

func TestMatchReprHookDataCaseInsensitive(t *testing.T) {
	events := []stacks.ContractEvent{reprEvent("0xmine", reprMintPlain)}
	_, _, ok := MatchMint(events, "0xAABBCCDDEEFF00112233445566778899", "")
	require.True(t, ok)
}

func TestMatchReprByRecipient(t *testing.T) {
	events := []stacks.ContractEvent{
		reprEvent("0xother", reprMintOther),
		reprEvent("0xescaped", reprMintEscaped),
	}
	ev, kind, ok := MatchMint(events, bridge.EmptyHookData, testRecipient)
	require.True(t, ok)
	require.Equal(t, "0xescaped", ev.TxID)
	require.Equal(t, MatchRecipient, kind)

	_, _, ok = MatchMint(events, "", "")
	require.False(t, ok)
}

func TestMatchIgnoresOtherEventTypes(t *testing.T) {
	ev := reprEvent("0xmine", reprMintPlain)
	ev.EventType = "fungible_token_asset"
	_, _, ok := MatchMint([]stacks.ContractEvent{ev}, testHook, testRecipient)
	require.False(t, ok)
}

func TestMatchStructured(t *testing.T) {
	hook, err := testHook.Bytes()
	require.NoError(t, err)

	mine := stacks.ContractEvent{TxID: "0xmine", EventType: "smart_contract_log", Hex: mintHex(t, "mint", hook, testRecipient)}
	other := stacks.ContractEvent{TxID: "0xother", EventType: "smart_contract_log", Hex: mintHex(t, "mint", []byte{1, 2, 3}, otherStacks)}
	burn := stacks.ContractEvent{TxID: "0xburn", EventType: "smart_contract_log", Hex: mintHex(t, "burn", hook, testRecipient)}

	ev, kind, ok := MatchMint([]stacks.ContractEvent{burn, other, mine}, testHook, "")
	require.True(t, ok)
	require.Equal(t, "0xmine", ev.TxID)
	require.Equal(t, MatchHookData, kind)

	ev, kind, ok = MatchMint([]stacks.ContractEvent{burn, other, mine}, bridge.EmptyHookData, otherStacks)
	require.True(t, ok)
	require.Equal(t, "0xother", ev.TxID)
	require.Equal(t, MatchRecipient, kind)
}

func TestMatchStructuredWinsOverRepr(t *testing.T) {
	// The hex is authoritative when it decodes; a misleading repr is ignored.
	ev := stacks.ContractEvent{
		TxID:      "0xother",
		EventType: "smart_contract_log",
		Repr:      reprMintPlain,
		Hex:       mintHex(t, "mint", []byte{9}, otherStacks),
	}
	_, _, ok := MatchMint([]stacks.ContractEvent{ev}, testHook, "")
	require.False(t, ok)

	ev.Hex = "0xnot-hex"
	_, _, ok = MatchMint([]stacks.ContractEvent{ev}, testHook, "")
	require.True(t, ok, "undecodable hex falls back to repr")
}
