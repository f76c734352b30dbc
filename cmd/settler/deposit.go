package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"settler/bridge"
	"settler/identity"
	"settler/invoice"
	"settler/ledger"
	"settler/observability"
	"settler/tracker"
)

func runDeposit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("deposit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var amount, to, token, keystore string
	var wait bool
	fs.StringVar(&amount, "amount", "", "USDC to bridge, e.g. 10")
	fs.StringVar(&to, "to", "", "Stacks recipient address or .btc name")
	fs.StringVar(&token, "invoice", "", "pay an ETH_TO_STX invoice (token or pay URL) instead of --amount/--to")
	fs.StringVar(&keystore, "keystore", "", "encrypted Ethereum key (defaults to ethereum.Keystore)")
	fs.BoolVar(&wait, "wait", false, "follow the transfer until USDCx is minted")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var invoiceToken string
	if strings.TrimSpace(token) != "" {
		inv, raw, err := invoiceFromArg(token, invoice.EthToStx)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		amount, to, invoiceToken = inv.Amount, inv.Recipient, raw
	}
	if strings.TrimSpace(amount) == "" || strings.TrimSpace(to) == "" {
		fmt.Fprintln(stderr, "Error: --amount and --to are required (or pass --invoice)")
		return 1
	}
	value, err := invoice.ParseAmount(amount)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	e, err := loadEnv(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := bridge.CheckMinimum(e.network, invoice.EthToStx, value); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := commandContext()
	defer cancel()
	stx := openStacks(e.cfg)

	recipient := strings.TrimSpace(to)
	if invoice.IsBnsName(recipient) {
		resolver, release, err := newResolver(ctx, e, stx)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		resolved, err := resolver.ResolveRecipient(ctx, recipient, identity.ChainStacks)
		release()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Resolved %s -> %s\n", recipient, resolved)
		recipient = resolved
	}
	if err := invoice.CheckRecipientAddress(recipient, invoice.EthToStx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	key, err := loadEthKey(e, keystore)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	eth, closeEth, err := dialEthereum(ctx, e.cfg, key, e.logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeEth()

	owner := eth.Address()
	depositor := bridge.NewDepositor(eth, e.network,
		bridge.WithLogger(e.logger),
		bridge.WithMetrics(observability.Settler()))

	units, err := bridge.DecimalToBaseUnits(value)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	balance, err := depositor.GetBalance(ctx, owner)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if balance.Cmp(units) < 0 {
		fmt.Fprintf(stderr, "Error: %s (have %s USDC, need %s)\n",
			bridge.UserMessage(bridge.OpDeposit, bridge.ErrInsufficientFunds), bridge.FromBaseUnits(balance), bridge.FromBaseUnits(units))
		return 1
	}

	fmt.Fprintf(stdout, "Depositing %s USDC from %s to %s\n", invoice.FormatAmount(value, 6), owner.Hex(), recipient)
	result, err := depositor.ExecuteFullDeposit(ctx, owner, value.String(), recipient)
	if result.ApproveTx != nil {
		fmt.Fprintf(stdout, "Approval: %s\n", e.cfg.EthTxURL(result.ApproveTx.Hex()))
	}
	if err != nil {
		op := bridge.OpDeposit
		if errors.Is(err, bridge.ErrApprovalReverted) || result.DepositTx == (common.Hash{}) {
			op = bridge.OpApprove
		}
		fmt.Fprintf(stderr, "Error: %s\n", bridge.UserMessage(op, err))
		return 1
	}
	fmt.Fprintf(stdout, "Deposit: %s\n", e.cfg.EthTxURL(result.DepositTx.Hex()))
	fmt.Fprintf(stdout, "Hook data: %s\n", result.HookData)

	params := tracker.Params{
		TxID:      result.DepositTx.Hex(),
		Direction: invoice.EthToStx,
		Recipient: recipient,
		HookData:  string(result.HookData),
	}
	fmt.Fprintf(stdout, "Track: %s\n", params.URL(e.cfg.Bridge.TrackBaseURL))

	store := openLedgerOrWarn(e)
	if store != nil {
		defer store.Close()
		if _, err := store.RecordDeposit(ctx, owner.Hex(), recipient, units, result); err != nil {
			e.logger.Warn("ledger record failed", slog.String("tx", params.TxID), slog.Any("error", err))
		} else if invoiceToken != "" {
			if err := store.AttachInvoice(ctx, params.TxID, invoiceToken); err != nil {
				e.logger.Warn("ledger invoice link failed", slog.String("tx", params.TxID), slog.Any("error", err))
			}
		}
	}

	if !wait {
		return 0
	}
	return followSubmitted(ctx, e, params, eth, stx, store, stdout, stderr)
}

// followSubmitted tracks a transfer until it settles. store may be nil.
func followSubmitted(ctx context.Context, e *env, params tracker.Params, eth tracker.EthereumSource, stx tracker.StacksSource, store *ledger.Store, stdout, stderr io.Writer) int {
	t, err := tracker.New(params, tracker.Sources{Ethereum: eth, Stacks: stx, Network: e.network}, trackerOptions(e)...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	final := follow(ctx, e, t, store, stdout)
	if !final.Status.Terminal() {
		fmt.Fprintf(stderr, "Stopped before the transfer settled; resume with: settler track --url '%s'\n", params.URL(e.cfg.Bridge.TrackBaseURL))
		return 1
	}
	return exitForState(final)
}

// invoiceFromArg decodes a token or pay URL and checks its direction.
func invoiceFromArg(arg string, want invoice.Direction) (invoice.Invoice, string, error) {
	token, err := tokenFromArg(arg)
	if err != nil {
		return invoice.Invoice{}, "", err
	}
	inv, err := invoice.Decode(token)
	if err != nil {
		return invoice.Invoice{}, "", err
	}
	if inv.Direction != want {
		return invoice.Invoice{}, "", fmt.Errorf("invoice is %s; this command pays %s invoices", inv.Direction, want)
	}
	return inv, token, nil
}
