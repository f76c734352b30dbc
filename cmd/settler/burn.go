package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"settler/bridge"
	"settler/crypto"
	"settler/identity"
	"settler/invoice"
	"settler/tracker"
)

// stdin feeds the interactive burn confirmation.
var stdin io.Reader = os.Stdin

const exitCancelled = 3

func runBurn(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("burn", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var amount, to, from, token, keyRef string
	var interactive, wait bool
	fs.StringVar(&amount, "amount", "", "USDCx to burn, e.g. 5")
	fs.StringVar(&to, "to", "", "Ethereum recipient address or .eth name")
	fs.StringVar(&from, "from", "", "Stacks sender (defaults to the key's address or the connected wallet)")
	fs.StringVar(&token, "invoice", "", "pay a STX_TO_ETH invoice (token or pay URL) instead of --amount/--to")
	fs.StringVar(&keyRef, "key", "", `file holding the hex Stacks key, or "env" to read stacks.KeyEnv`)
	fs.BoolVar(&interactive, "interactive", false, "review the call and confirm before signing")
	fs.BoolVar(&wait, "wait", false, "follow the transfer until USDC is released")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if (keyRef == "") == !interactive {
		fmt.Fprintln(stderr, "Error: choose exactly one of --key or --interactive")
		return 1
	}

	var invoiceToken string
	if strings.TrimSpace(token) != "" {
		inv, raw, err := invoiceFromArg(token, invoice.StxToEth)
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
	if err := bridge.CheckMinimum(e.network, invoice.StxToEth, value); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := commandContext()
	defer cancel()
	stx := openStacks(e.cfg)

	recipient := strings.TrimSpace(to)
	if invoice.IsEnsName(recipient) {
		resolver, release, err := newResolver(ctx, e, stx)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		resolved, err := resolver.ResolveRecipient(ctx, recipient, identity.ChainEthereum)
		release()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Resolved %s -> %s\n", recipient, resolved)
		recipient = resolved
	}
	if err := invoice.CheckRecipientAddress(recipient, invoice.StxToEth); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var key *crypto.PrivateKey
	if !interactive {
		if key, err = readStacksKey(keyRef, e.cfg.Stacks.KeyEnv); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	sender, err := burnSender(e, from, key)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	req, err := bridge.BuildBurnRequest(e.network, value.String(), recipient, sender)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var txID string
	if interactive {
		outcome := bridge.BurnViaWallet(ctx, terminalWallet(e, stx, stdin, stdout), req)
		switch outcome.Status {
		case bridge.BurnCancelled:
			fmt.Fprintln(stderr, bridge.UserMessage(bridge.OpBurn, bridge.ErrUserCancelled))
			return exitCancelled
		case bridge.BurnFailed:
			fmt.Fprintf(stderr, "Error: %s\n", bridge.UserMessage(bridge.OpBurn, outcome.Err))
			return 1
		}
		txID = outcome.TxID
	} else {
		result, err := bridge.BurnViaKey(ctx, stx, req, key, e.logger)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %s\n", bridge.UserMessage(bridge.OpBurn, err))
			return 1
		}
		fmt.Fprintf(stdout, "Nonce %d, fee %d uSTX\n", result.Nonce, result.Fee)
		txID = result.TxID
	}

	fmt.Fprintf(stdout, "Burn: %s\n", e.cfg.StacksTxURL(txID))
	params := tracker.Params{TxID: txID, Direction: invoice.StxToEth, Recipient: recipient}
	fmt.Fprintf(stdout, "Track: %s\n", params.URL(e.cfg.Bridge.TrackBaseURL))
	fmt.Fprintf(stdout, "USDC usually arrives on Ethereum within %d minutes\n", e.cfg.Bridge.WithdrawETAMinutes)

	store := openLedgerOrWarn(e)
	if store != nil {
		defer store.Close()
		if _, err := store.RecordBurn(ctx, req, txID); err != nil {
			e.logger.Warn("ledger record failed", slog.String("tx", txID), slog.Any("error", err))
		} else if invoiceToken != "" {
			if err := store.AttachInvoice(ctx, txID, invoiceToken); err != nil {
				e.logger.Warn("ledger invoice link failed", slog.String("tx", txID), slog.Any("error", err))
			}
		}
	}

	if !wait {
		return 0
	}
	eth, closeEth, err := dialEthereum(ctx, e.cfg, nil, e.logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeEth()
	return followSubmitted(ctx, e, params, eth, stx, store, stdout, stderr)
}

// readStacksKey loads a hex private key from a file or, for "env", from
// the named environment variable.
func readStacksKey(ref, envVar string) (*crypto.PrivateKey, error) {
	var raw string
	if ref == "env" {
		raw = os.Getenv(envVar)
		if strings.TrimSpace(raw) == "" {
			return nil, fmt.Errorf("%s is not set", envVar)
		}
	} else {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		raw = string(data)
	}
	return crypto.ParsePrivateKeyHex(strings.TrimSpace(raw))
}

// burnSender picks the burning principal: --from, else the key's address,
// else the connected Stacks wallet.
func burnSender(e *env, from string, key *crypto.PrivateKey) (string, error) {
	if from = strings.TrimSpace(from); from != "" {
		return from, nil
	}
	if key != nil {
		return key.PubKey().StacksAddress(e.network.StacksVersion()).String(), nil
	}
	session, err := openSession(e, "")
	if err != nil {
		return "", err
	}
	defer session.Close()
	state := session.State()
	if !state.StacksConnected() {
		return "", fmt.Errorf("no Stacks sender: pass --from or run settler wallet set --stx")
	}
	return state.Stacks.Address, nil
}

// terminalWallet shows the contract call, asks for confirmation on in and
// signs with the key from stacks.KeyEnv or a hidden prompt.
func terminalWallet(e *env, node bridge.StacksBroadcaster, in io.Reader, out io.Writer) bridge.StacksWallet {
	return bridge.FuncStacksWallet(func(ctx context.Context, req bridge.BurnRequest) (string, error) {
		fmt.Fprintln(out, "Contract call")
		fmt.Fprintf(out, "  contract:       %s.%s\n", req.ContractAddress, req.ContractName)
		fmt.Fprintf(out, "  function:       %s\n", req.FunctionName)
		fmt.Fprintf(out, "  amount:         %s USDCx\n", bridge.FromBaseUnits(req.Amount))
		fmt.Fprintf(out, "  native domain:  %d\n", req.Domain)
		fmt.Fprintf(out, "  recipient:      %s (%s)\n", req.EthRecipient, req.Recipient.Hex())
		fmt.Fprintf(out, "  sender:         %s\n", req.Sender)
		fmt.Fprintf(out, "  post-condition: %s sends exactly %d of %s (deny mode)\n",
			req.PostCondition.Principal, req.PostCondition.Amount, e.network.AssetID())
		fmt.Fprint(out, "Sign and broadcast? [y/N]: ")

		answer, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && answer == "" {
			return "", bridge.ErrUserCancelled
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
		default:
			return "", bridge.ErrUserCancelled
		}

		raw, err := newSecret(e.cfg.Stacks.KeyEnv, "Stacks private key").Get()
		if err != nil {
			return "", err
		}
		key, err := crypto.ParsePrivateKeyHex(strings.TrimSpace(raw))
		if err != nil {
			return "", err
		}
		result, err := bridge.BurnViaKey(ctx, node, req, key, e.logger)
		if err != nil {
			return "", err
		}
		return result.TxID, nil
	})
}
