package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"strings"

	"settler/bridge"
	"settler/identity"
	"settler/invoice"
)

func invoiceUsage() string {
	return strings.Join([]string{
		"Usage: settler invoice <create|decode> [flags]",
		"  create --direction ETH_TO_STX|STX_TO_ETH --amount <usdc> --to <address|name> [--memo text] [--json]",
		"  decode <token|pay url> [--json]",
	}, "\n")
}

func runInvoice(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, invoiceUsage())
		return 1
	}
	switch args[0] {
	case "create":
		return runInvoiceCreate(args[1:], stdout, stderr)
	case "decode":
		return runInvoiceDecode(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown invoice subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, invoiceUsage())
		return 1
	}
}

// parseDirection accepts the wire names and the deposit/withdraw aliases.
func parseDirection(raw string) (invoice.Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(invoice.EthToStx), "DEPOSIT":
		return invoice.EthToStx, nil
	case string(invoice.StxToEth), "WITHDRAW", "BURN":
		return invoice.StxToEth, nil
	default:
		return "", fmt.Errorf("invalid direction %q: want ETH_TO_STX or STX_TO_ETH", raw)
	}
}

type invoiceOutput struct {
	Token              string          `json:"token"`
	PayURL             string          `json:"payUrl"`
	Invoice            invoice.Invoice `json:"invoice"`
	RequestedRecipient string          `json:"requestedRecipient,omitempty"`
	Minimum            string          `json:"minimum,omitempty"`
}

func runInvoiceCreate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("invoice create", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var direction, amount, to, memo string
	var asJSON bool
	fs.StringVar(&direction, "direction", "", "ETH_TO_STX (deposit) or STX_TO_ETH (withdraw)")
	fs.StringVar(&amount, "amount", "", "amount in USDC, e.g. 12.5")
	fs.StringVar(&to, "to", "", "recipient address or BNS/ENS name on the destination chain")
	fs.StringVar(&memo, "memo", "", "optional note shown to the payer")
	fs.BoolVar(&asJSON, "json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if direction == "" || amount == "" || strings.TrimSpace(to) == "" {
		fmt.Fprintln(stderr, "Error: --direction, --amount and --to are required")
		fmt.Fprintln(stderr, invoiceUsage())
		return 1
	}
	dir, err := parseDirection(direction)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	e, err := loadEnv(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	requested := strings.TrimSpace(to)
	recipient := requested
	if invoice.IsBnsName(requested) || invoice.IsEnsName(requested) {
		ctx, cancel := commandContext()
		defer cancel()
		resolver, release, err := newResolver(ctx, e, openStacks(e.cfg))
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer release()
		recipient, err = resolver.ResolveRecipient(ctx, requested, identity.ChainFor(dir))
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	if err := invoice.CheckRecipientAddress(recipient, dir); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	inv := invoice.Invoice{Direction: dir, Amount: strings.TrimSpace(amount), Recipient: recipient, Memo: memo}
	token, err := invoice.Encode(inv)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	out := invoiceOutput{
		Token:   token,
		PayURL:  invoice.PayURL(e.cfg.Bridge.PayBaseURL, token),
		Invoice: inv,
	}
	if requested != recipient {
		out.RequestedRecipient = requested
	}
	if value, err := invoice.ParseAmount(inv.Amount); err == nil {
		if err := bridge.CheckMinimum(e.network, dir, value); err != nil {
			out.Minimum = err.Error()
			fmt.Fprintf(stderr, "Warning: %v; the payer will not be able to settle this invoice\n", err)
		}
	}

	if asJSON {
		return printJSON(stdout, stderr, out)
	}
	fmt.Fprintf(stdout, "Invoice: %s\n", out.Token)
	fmt.Fprintf(stdout, "Pay URL: %s\n", out.PayURL)
	printInvoice(stdout, inv)
	if out.RequestedRecipient != "" {
		fmt.Fprintf(stdout, "Resolved: %s -> %s\n", out.RequestedRecipient, recipient)
	}
	return 0
}

func runInvoiceDecode(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("invoice decode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var asJSON bool
	fs.BoolVar(&asJSON, "json", false, "print the invoice as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: decode takes exactly one token or pay URL")
		fmt.Fprintln(stderr, invoiceUsage())
		return 1
	}
	token, err := tokenFromArg(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	inv, err := invoice.Decode(token)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if asJSON {
		return printJSON(stdout, stderr, inv)
	}
	printInvoice(stdout, inv)
	return 0
}

// tokenFromArg accepts a bare token or a URL carrying one in its query.
func tokenFromArg(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if !strings.Contains(arg, "://") && !strings.Contains(arg, "?") {
		return arg, nil
	}
	values, err := queryOf(arg)
	if err != nil {
		return "", err
	}
	return invoice.TokenFromQuery(values)
}

// queryOf returns the query of a full link or of a bare "a=b&c=d" string.
func queryOf(link string) (url.Values, error) {
	link = strings.TrimSpace(link)
	if !strings.Contains(link, "://") && !strings.Contains(link, "?") {
		return url.ParseQuery(link)
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	return parsed.Query(), nil
}

func printInvoice(w io.Writer, inv invoice.Invoice) {
	fmt.Fprintf(w, "Direction: %s (%s on %s -> %s on %s)\n", inv.Direction,
		inv.Direction.SourceAsset(), inv.Direction.SourceChain(),
		inv.Direction.DestinationAsset(), inv.Direction.DestinationChain())
	fmt.Fprintf(w, "Amount: %s %s\n", inv.Amount, inv.Direction.SourceAsset())
	fmt.Fprintf(w, "Recipient: %s\n", inv.Recipient)
	if inv.Memo != "" {
		fmt.Fprintf(w, "Memo: %s\n", inv.Memo)
	}
}

func printJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "Error: encode output: %v\n", err)
		return 1
	}
	return 0
}
