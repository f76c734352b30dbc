package stacks

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"settler/crypto"
)

const testDeployer = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"

func TestClarityUintEncoding(t *testing.T) {
	raw, err := Uint(uint256.NewInt(4_800_000)).Serialize()
	require.NoError(t, err)
	require.Equal(t, "01"+strings.Repeat("00", 13)+"493e00", hex.EncodeToString(raw))

	_, err = UintFromBig(new(big.Int).Lsh(big.NewInt(1), 128))
	require.Error(t, err)
}

func TestClarityIntNegative(t *testing.T) {
	raw, err := Value{Type: TypeInt, Int: big.NewInt(-1)}.Serialize()
	require.NoError(t, err)
	require.Equal(t, "00"+strings.Repeat("ff", 16), hex.EncodeToString(raw))

	v, err := DecodeValue(raw)
	require.NoError(t, err)
	require.Equal(t, int64(-1), v.Int.Int64())
}

func TestClarityTupleRoundTrip(t *testing.T) {
	hook, _ := hex.DecodeString("65f00000abababababababababababab")
	recipient, err := PrincipalValue(testDeployer)
	require.NoError(t, err)
	contract, err := PrincipalValue(testDeployer + ".usdcx-v1")
	require.NoError(t, err)

	original := Tuple(map[string]Value{
		"topic":            StringASCII("mint"),
		"hook-data":        Buffer(hook),
		"remote-recipient": recipient,
		"amount":           Uint(uint256.NewInt(10_000_000)),
		"caller":           contract,
		"nonce":            {Type: TypeSome, Inner: &Value{Type: TypeUint, Int: big.NewInt(3)}},
		"ok":               {Type: TypeTrue},
		"list":             {Type: TypeList, List: []Value{StringASCII("a"), StringASCII("b")}},
	})
	raw, err := original.Serialize()
	require.NoError(t, err)

	decoded, err := DecodeValueHex("0x" + hex.EncodeToString(raw))
	require.NoError(t, err)
	topic, ok := decoded.Field("topic")
	require.True(t, ok)
	text, ok := topic.Text()
	require.True(t, ok)
	require.Equal(t, "mint", text)

	hd, _ := decoded.Field("hook-data")
	require.Equal(t, hook, hd.Bytes)
	rr, _ := decoded.Field("remote-recipient")
	require.Equal(t, testDeployer, rr.Principal)
	caller, _ := decoded.Field("caller")
	require.Equal(t, TypeContractPrincipal, caller.Type)
	require.Equal(t, testDeployer+".usdcx-v1", caller.Principal)
	nonce, _ := decoded.Field("nonce")
	require.Equal(t, int64(3), nonce.Inner.Int.Int64())
	list, _ := decoded.Field("list")
	require.Len(t, list.List, 2)

	again, err := decoded.Serialize()
	require.NoError(t, err)
	require.Equal(t, raw, again)
}

func TestClarityDecodeRejectsMalformed(t *testing.T) {
	for _, in := range []string{"0x", "0x01", "0xff", "0x0c00000001", "zz", "0x0300"} {
		_, err := DecodeValueHex(in)
		require.ErrorIs(t, err, ErrClarityDecode, in)
	}
}

func TestParseAssetID(t *testing.T) {
	asset, err := ParseAssetID(testDeployer + ".usdcx::usdcx-token")
	require.NoError(t, err)
	require.Equal(t, "usdcx", asset.ContractName)
	require.Equal(t, "usdcx-token", asset.AssetName)

	for _, bad := range []string{"", testDeployer + ".usdcx", testDeployer + "::x", "bad.usdcx::x"} {
		_, err := ParseAssetID(bad)
		require.Error(t, err, bad)
	}
}

func burnTx(t *testing.T, sender string) *Transaction {
	t.Helper()
	asset, err := ParseAssetID(testDeployer + ".usdcx::usdcx-token")
	require.NoError(t, err)
	call := ContractCall{
		ContractAddress: testDeployer,
		ContractName:    "usdcx-v1",
		FunctionName:    "burn",
		Args: []Value{
			Uint(uint256.NewInt(5_000_000)),
			Uint(uint256.NewInt(0)),
			Buffer(make([]byte, 32)),
		},
	}
	return NewContractCall(true, call, PostConditionDeny, FungiblePostCondition{
		Principal: sender,
		Asset:     asset,
		Code:      SentEq,
		Amount:    5_000_000,
	})
}

func TestTransactionLayout(t *testing.T) {
	tx := burnTx(t, testDeployer)
	tx.Nonce = 1
	tx.Fee = 3000
	raw, err := tx.Serialize()
	require.NoError(t, err)

	require.Equal(t, byte(TestnetVersion), raw[0])
	require.Equal(t, "80000000", hex.EncodeToString(raw[1:5]))
	require.Equal(t, authStandard, raw[5])
	require.Equal(t, hashModeP2PKH, raw[6])
	// version+chain+auth type+hash mode+signer+nonce+fee+key encoding+signature
	modes := 1 + 4 + 1 + 1 + 20 + 8 + 8 + 1 + 65
	require.Equal(t, byte(AnchorAny), raw[modes])
	require.Equal(t, byte(PostConditionDeny), raw[modes+1])
	require.Equal(t, "00000001", hex.EncodeToString(raw[modes+2:modes+6]))
	require.Equal(t, postConditionFungible, raw[modes+6])
	require.Equal(t, principalStandard, raw[modes+7])

	id, err := tx.TxID()
	require.NoError(t, err)
	sum := sha512.Sum512_256(raw)
	require.Equal(t, "0x"+hex.EncodeToString(sum[:]), id)
}

func TestTransactionSignIsDeterministic(t *testing.T) {
	key, err := crypto.ParsePrivateKeyHex(strings.Repeat("11", 32) + "01")
	require.NoError(t, err)
	sender := key.PubKey().StacksAddress(crypto.StacksTestnetSingleSig).String()

	first := burnTx(t, sender)
	first.Nonce, first.Fee = 4, 5000
	require.NoError(t, first.Sign(key))
	second := burnTx(t, sender)
	second.Nonce, second.Fee = 4, 5000
	require.NoError(t, second.Sign(key))

	require.Equal(t, first.Signature, second.Signature)
	require.NotEqual(t, [65]byte{}, first.Signature)
	require.Equal(t, sender, first.SignerAddress(crypto.StacksTestnetSingleSig))
	require.LessOrEqual(t, first.Signature[0], byte(1))

	idA, err := first.TxID()
	require.NoError(t, err)
	second.Nonce = 5
	require.NoError(t, second.Sign(key))
	idB, err := second.TxID()
	require.NoError(t, err)
	require.NotEqual(t, idA, idB)
}

func newTestServer(t *testing.T, routes map[string]http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		if h, ok := routes[key]; ok {
			h(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, WithHTTPClient(srv.Client()), WithRateLimit(0, 0))
}

func TestClientReads(t *testing.T) {
	const txid = "0x" + "ab" + "00000000000000000000000000000000000000000000000000000000000000"
	client := newTestServer(t, map[string]http.HandlerFunc{
		"GET /extended/v1/tx/" + txid: func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"tx_id":%q,"tx_status":"abort_by_post_condition","block_height":120,"sender_address":%q}`, txid, testDeployer)
		},
		"GET /extended/v1/contract/" + testDeployer + ".usdcx-v1/events": func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "50", r.URL.Query().Get("limit"))
			fmt.Fprint(w, `{"results":[{"tx_id":"0x01","event_index":2,"event_type":"smart_contract_log","contract_log":{"value":{"repr":"(tuple (topic \"mint\"))","hex":"0x0c"}}}]}`)
		},
		"GET /extended/v1/address/" + testDeployer + "/balances": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"stx":{"balance":"1"},"fungible_tokens":{"%s.usdcx::usdcx-token":{"balance":"4800000"}}}`, testDeployer)
		},
		"GET /v2/accounts/" + testDeployer: func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"balance":"0x0","nonce":17}`)
		},
		"GET /v2/fees/transfer": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `1`)
		},
		"GET /v1/names/alice.btc": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"address":%q,"status":"name-register"}`, testDeployer)
		},
	})
	ctx := context.Background()

	info, err := client.GetTransaction(ctx, strings.TrimPrefix(txid, "0x"))
	require.NoError(t, err)
	require.True(t, info.Status.Aborted())
	require.Equal(t, uint64(120), info.BlockHeight)

	events, err := client.ContractEvents(ctx, testDeployer+".usdcx-v1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, `(tuple (topic "mint"))`, events[0].Repr)
	require.Equal(t, "0x0c", events[0].Hex)

	bal, ok, err := client.TokenBalance(ctx, testDeployer, "usdcx")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "4800000", bal.String())
	_, ok, err = client.TokenBalance(ctx, testDeployer, "sbtc")
	require.NoError(t, err)
	require.False(t, ok)

	nonce, err := client.Nonce(ctx, testDeployer)
	require.NoError(t, err)
	require.Equal(t, uint64(17), nonce)

	rate, err := client.FeeRate(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rate)

	owner, err := client.ResolveName(ctx, "alice.btc")
	require.NoError(t, err)
	require.Equal(t, testDeployer, owner)

	_, err = client.ResolveName(ctx, "nobody.btc")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestClientBroadcast(t *testing.T) {
	var got []byte
	client := newTestServer(t, map[string]http.HandlerFunc{
		"POST /v2/transactions": func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
			got, _ = io.ReadAll(r.Body)
			if len(got) == 1 {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"transaction rejected","reason":"NotEnoughFunds","reason_data":{"expected":"10","actual":"1"}}`)
				return
			}
			fmt.Fprint(w, `"c0ffee"`)
		},
	})
	ctx := context.Background()

	id, err := client.Broadcast(ctx, []byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, "0xc0ffee", id)
	require.Equal(t, []byte{1, 2, 3}, got)

	_, err = client.Broadcast(ctx, []byte{9})
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, "NotEnoughFunds", rej.Reason)
	require.Equal(t, http.StatusBadRequest, rej.Status)
	require.Contains(t, rej.ReasonData, "expected")
}
