package main

import (
	"context"
	"encoding/hex"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"settler/bridge"
	"settler/chain/evm"
	"settler/chain/stacks"
	"settler/crypto"
	"settler/invoice"
	"settler/ledger"
	"settler/tracker"
)

// writeKeystore stores key with light scrypt parameters.
func writeKeystore(t *testing.T, path string, key *crypto.PrivateKey, pass string) {
	t.Helper()
	blob, err := keystore.EncryptKey(&keystore.Key{
		Id:         uuid.New(),
		Address:    key.PubKey().EthAddress(),
		PrivateKey: key.PrivateKey,
	}, pass, keystore.LightScryptN, keystore.LightScryptP)
	if err != nil {
		t.Fatalf("encrypt keystore: %v", err)
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write keystore: %v", err)
	}
}

func newKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func stacksAddressOf(key *crypto.PrivateKey) string {
	return key.PubKey().StacksAddress(bridge.Sepolia().StacksVersion()).String()
}

func TestDepositPaysInvoice(t *testing.T) {
	dir := setupConfig(t)
	key := newKey(t)
	writeKeystore(t, filepath.Join(dir, "eth.keystore"), key, "correct horse")
	stubSecret(t, "correct horse")

	eth := &stubEth{addr: key.PubKey().EthAddress(), balance: big.NewInt(50_000_000), allowance: big.NewInt(0)}
	stubChains(t, eth, &stubStacks{}, nil)

	token, err := invoice.Encode(invoice.Invoice{Direction: invoice.EthToStx, Amount: "10", Recipient: testStacksAddr})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	code, stdout, stderr := runCLI("deposit", "--invoice", token)
	if code != 0 {
		t.Fatalf("deposit failed: %d %s", code, stderr)
	}
	if eth.approvals != 1 || len(eth.deposits) != 1 {
		t.Fatalf("expected one approval and one deposit, got %d and %d", eth.approvals, len(eth.deposits))
	}
	call := eth.deposits[0]
	if call.Value.Cmp(big.NewInt(10_000_000)) != 0 || call.RemoteDomain != bridge.Sepolia().StacksDomain {
		t.Fatalf("unexpected deposit call %+v", call)
	}
	depositTx := common.HexToHash("0x0b").Hex()
	if !strings.Contains(stdout, "Deposit: https://sepolia.etherscan.io/tx/"+depositTx) {
		t.Fatalf("missing deposit link:\n%s", stdout)
	}
	if !strings.Contains(stdout, "Track: https://pay.example/track?") {
		t.Fatalf("missing track link:\n%s", stdout)
	}

	row, err := openTestLedger(t, dir).Get(context.Background(), depositTx)
	if err != nil {
		t.Fatalf("ledger row: %v", err)
	}
	if row.Kind != ledger.KindDeposit || row.AmountBaseUnits != "10000000" || row.InvoiceToken != token {
		t.Fatalf("unexpected ledger row %+v", row)
	}
	if row.ApprovalTx != common.HexToHash("0x0a").Hex() || row.HookData == "" {
		t.Fatalf("approval or hook data not recorded: %+v", row)
	}
}

func TestDepositRejectsShortBalance(t *testing.T) {
	dir := setupConfig(t)
	key := newKey(t)
	writeKeystore(t, filepath.Join(dir, "eth.keystore"), key, "pw")
	stubSecret(t, "pw")

	eth := &stubEth{addr: key.PubKey().EthAddress(), balance: big.NewInt(2_000_000), allowance: big.NewInt(0)}
	stubChains(t, eth, &stubStacks{}, nil)

	code, _, stderr := runCLI("deposit", "--amount", "10", "--to", testStacksAddr)
	if code != 1 || !strings.Contains(stderr, "Insufficient funds to complete transaction") {
		t.Fatalf("expected insufficient funds, got %d %q", code, stderr)
	}
	if eth.approvals != 0 || len(eth.deposits) != 0 {
		t.Fatalf("nothing should be sent")
	}
}

func TestDepositRejectsWrongInvoiceDirection(t *testing.T) {
	setupConfig(t)
	token, err := invoice.Encode(invoice.Invoice{Direction: invoice.StxToEth, Amount: "10", Recipient: testEthAddr})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	code, _, stderr := runCLI("deposit", "--invoice", token)
	if code != 1 || !strings.Contains(stderr, "invoice is STX_TO_ETH") {
		t.Fatalf("expected direction error, got %q", stderr)
	}
}

func TestBurnWithKeyFile(t *testing.T) {
	dir := setupConfig(t)
	key := newKey(t)
	keyFile := filepath.Join(dir, "stacks.key")
	if err := os.WriteFile(keyFile, []byte(hex.EncodeToString(key.Bytes())+"\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	stx := &stubStacks{balance: big.NewInt(10_000_000)}
	stubChains(t, nil, stx, nil)

	code, stdout, stderr := runCLI("burn", "--key", keyFile, "--amount", "5", "--to", testEthAddr)
	if code != 0 {
		t.Fatalf("burn failed: %d %s", code, stderr)
	}
	if stx.broadcasts != 1 {
		t.Fatalf("expected one broadcast, got %d", stx.broadcasts)
	}
	txID := "0x" + strings.Repeat("ab", 32)
	if !strings.Contains(stdout, "Burn: https://explorer.hiro.so/txid/"+txID+"?chain=testnet") {
		t.Fatalf("missing explorer link:\n%s", stdout)
	}
	if !strings.Contains(stdout, "Nonce 7") {
		t.Fatalf("missing nonce:\n%s", stdout)
	}

	row, err := openTestLedger(t, dir).Get(context.Background(), txID)
	if err != nil {
		t.Fatalf("ledger row: %v", err)
	}
	if row.Kind != ledger.KindBurn || row.Sender != stacksAddressOf(key) || row.Recipient != testEthAddr {
		t.Fatalf("unexpected ledger row %+v", row)
	}
}

func TestBurnRefusesShortBalance(t *testing.T) {
	t.Setenv("SETTLER_TEST_STACKS_KEY", hex.EncodeToString(newKey(t).Bytes()))
	setupConfig(t)
	stx := &stubStacks{balance: big.NewInt(1_000_000)}
	stubChains(t, nil, stx, nil)

	code, _, stderr := runCLI("burn", "--key", "env", "--amount", "5", "--to", testEthAddr)
	if code != 1 || !strings.Contains(stderr, "Insufficient funds to complete transaction") {
		t.Fatalf("expected insufficient funds, got %d %q", code, stderr)
	}
	if stx.broadcasts != 0 {
		t.Fatalf("nothing should be broadcast")
	}
}

func TestBurnFlagsAreExclusive(t *testing.T) {
	code, _, stderr := runCLI("burn", "--amount", "5", "--to", testEthAddr)
	if code != 1 || !strings.Contains(stderr, "choose exactly one of --key or --interactive") {
		t.Fatalf("unexpected result %d %q", code, stderr)
	}
	code, _, _ = runCLI("burn", "--key", "env", "--interactive", "--amount", "5", "--to", testEthAddr)
	if code != 1 {
		t.Fatalf("expected both flags to be rejected")
	}
}

func TestBurnInteractiveCancel(t *testing.T) {
	setupConfig(t)
	stx := &stubStacks{balance: big.NewInt(10_000_000)}
	stubChains(t, nil, stx, nil)
	prev := stdin
	stdin = strings.NewReader("n\n")
	t.Cleanup(func() { stdin = prev })

	code, stdout, stderr := runCLI("burn", "--interactive", "--from", testStacksAddr, "--amount", "5", "--to", testEthAddr)
	if code != exitCancelled {
		t.Fatalf("expected cancelled exit, got %d %s", code, stderr)
	}
	if !strings.Contains(stdout, "Sign and broadcast? [y/N]") || !strings.Contains(stdout, "function:       burn") {
		t.Fatalf("call summary not shown:\n%s", stdout)
	}
	if !strings.Contains(stderr, "Transaction was cancelled by user") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
	if stx.broadcasts != 0 {
		t.Fatalf("cancelled burn must not broadcast")
	}
}

func TestBurnInteractiveConfirm(t *testing.T) {
	dir := setupConfig(t)
	key := newKey(t)
	stubSecret(t, hex.EncodeToString(key.Bytes()))
	stx := &stubStacks{balance: big.NewInt(10_000_000)}
	stubChains(t, nil, stx, nil)
	prev := stdin
	stdin = strings.NewReader("yes\n")
	t.Cleanup(func() { stdin = prev })

	code, _, stderr := runCLI("burn", "--interactive", "--from", stacksAddressOf(key), "--amount", "5", "--to", testEthAddr)
	if code != 0 {
		t.Fatalf("burn failed: %d %s", code, stderr)
	}
	if stx.broadcasts != 1 {
		t.Fatalf("expected one broadcast, got %d", stx.broadcasts)
	}
	if _, err := openTestLedger(t, dir).Get(context.Background(), "0x"+strings.Repeat("ab", 32)); err != nil {
		t.Fatalf("burn not recorded: %v", err)
	}
}

func TestTrackOnceReportsRevert(t *testing.T) {
	setupConfig(t)
	eth := &stubEth{receipt: &bridge.Receipt{BlockNumber: 3, Success: false}}
	stubChains(t, eth, &stubStacks{}, nil)

	tx := "0x" + strings.Repeat("12", 32)
	code, stdout, _ := runCLI("track", "--once", "--tx", tx, "--dir", "ETH_TO_STX", "--to", testStacksAddr)
	if code != 2 {
		t.Fatalf("expected failure exit, got %d", code)
	}
	if !strings.Contains(stdout, "failed: Transaction reverted on Ethereum") {
		t.Fatalf("unexpected output:\n%s", stdout)
	}
}

func TestTrackFollowsBurnToRelease(t *testing.T) {
	dir := setupConfig(t)
	txID := "0x" + strings.Repeat("cd", 32)
	release := common.HexToHash("0x0c")
	eth := &stubEth{transfers: []evm.TransferLog{{TxHash: release, To: common.HexToAddress(testEthAddr), Value: big.NewInt(5_000_000)}}}
	stx := &stubStacks{tx: stacks.TxInfo{TxID: txID, Status: stacks.TxSuccess, BlockHeight: 100}}
	stubChains(t, eth, stx, nil)

	store := openTestLedger(t, dir)
	if _, err := store.Record(context.Background(), ledger.Transfer{
		Kind: ledger.KindBurn, Direction: string(invoice.StxToEth), SourceTx: txID,
		Recipient: testEthAddr, AmountBaseUnits: "5000000",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	link := tracker.Params{TxID: txID, Direction: invoice.StxToEth, Recipient: testEthAddr}.URL("https://pay.example")
	code, stdout, stderr := runCLI("track", "--url", link, "--timeout", "30s")
	if code != 0 {
		t.Fatalf("track failed: %d %s\n%s", code, stderr, stdout)
	}
	if !strings.Contains(stdout, "complete: https://sepolia.etherscan.io/tx/"+release.Hex()) {
		t.Fatalf("missing completion line:\n%s", stdout)
	}
	if !strings.Contains(stdout, "matched by recipient only") {
		t.Fatalf("missing recipient-window note:\n%s", stdout)
	}

	row, err := store.Get(context.Background(), txID)
	if err != nil {
		t.Fatalf("ledger row: %v", err)
	}
	if row.Status != string(tracker.StatusComplete) || row.DestinationTx != release.Hex() || row.SettledAt == nil {
		t.Fatalf("ledger not updated: %+v", row)
	}
}

func TestTrackRequiresParams(t *testing.T) {
	code, _, stderr := runCLI("track", "--dir", "ETH_TO_STX")
	if code != 1 || !strings.Contains(stderr, "--tx and --dir are required") {
		t.Fatalf("unexpected result %d %q", code, stderr)
	}
}

func TestBalanceUsesConnectedWallet(t *testing.T) {
	setupConfig(t)
	eth := &stubEth{balance: big.NewInt(12_500_000)}
	stubChains(t, eth, &stubStacks{balance: big.NewInt(3_000_000)}, nil)

	if code, _, stderr := runCLI("wallet", "set", "--eth", testEthAddr, "--stx", testStacksAddr); code != 0 {
		t.Fatalf("wallet set failed: %s", stderr)
	}
	code, stdout, stderr := runCLI("balance")
	if code != 0 {
		t.Fatalf("balance failed: %d %s", code, stderr)
	}
	for _, want := range []string{"USDC ", "12.50", "USDCx", "3.00", "Total: 15.50"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("balance output missing %q:\n%s", want, stdout)
		}
	}
}

func TestBalanceWithoutOwners(t *testing.T) {
	setupConfig(t)
	stubChains(t, nil, &stubStacks{}, nil)
	code, _, stderr := runCLI("balance")
	if code != 1 || !strings.Contains(stderr, "no wallet connected") {
		t.Fatalf("unexpected result %d %q", code, stderr)
	}
}

func TestResolveNames(t *testing.T) {
	setupConfig(t)
	owner := common.HexToAddress("0x2222222222222222222222222222222222222222")
	stubChains(t, nil, &stubStacks{names: map[string]string{"alice.btc": testStacksAddr}}, stubENS{"bob.eth": owner})

	code, stdout, stderr := runCLI("resolve", "alice.btc")
	if code != 0 || strings.TrimSpace(stdout) != testStacksAddr {
		t.Fatalf("bns: %d %q %q", code, stdout, stderr)
	}
	code, stdout, stderr = runCLI("resolve", "bob.eth")
	if code != 0 || strings.TrimSpace(stdout) != owner.Hex() {
		t.Fatalf("ens: %d %q %q", code, stdout, stderr)
	}
	code, _, stderr = runCLI("resolve", "--dir", "ETH_TO_STX", "bob.eth")
	if code != 1 || !strings.Contains(stderr, "ENS names (.eth) can only be used for Ethereum recipients") {
		t.Fatalf("expected wrong-chain error, got %q", stderr)
	}
	code, _, stderr = runCLI("resolve", "carol.btc")
	if code != 1 || !strings.Contains(stderr, "Could not resolve BNS name: carol.btc") {
		t.Fatalf("expected unresolved error, got %q", stderr)
	}
}
