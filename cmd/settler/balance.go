package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"settler/identity"
	"settler/invoice"
	"settler/treasury"
)

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var ethOwner, stxOwner, profile string
	var asJSON bool
	fs.StringVar(&ethOwner, "eth", "", "Ethereum address (defaults to the connected wallet)")
	fs.StringVar(&stxOwner, "stx", "", "Stacks address (defaults to the connected wallet)")
	fs.StringVar(&profile, "profile", "", "wallet session to read defaults from")
	fs.BoolVar(&asJSON, "json", false, "print the summary as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	e, err := loadEnv(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if ethOwner == "" && stxOwner == "" {
		session, err := openSession(e, profile)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		state := session.State()
		_ = session.Close()
		if state.EthConnected() {
			ethOwner = state.Eth.Address
		}
		if state.StacksConnected() {
			stxOwner = state.Stacks.Address
		}
	}
	if ethOwner == "" && stxOwner == "" {
		fmt.Fprintln(stderr, "Error: no wallet connected; pass --eth and/or --stx")
		return 1
	}
	if ethOwner != "" && !invoice.IsValidEthAddress(ethOwner) {
		fmt.Fprintf(stderr, "Error: invalid Ethereum address %q\n", ethOwner)
		return 1
	}
	if stxOwner != "" && !invoice.IsValidStacksTestnetAddress(stxOwner) {
		fmt.Fprintf(stderr, "Error: invalid Stacks testnet address %q\n", stxOwner)
		return 1
	}

	ctx, cancel := commandContext()
	defer cancel()

	var eth treasury.EthereumBalances
	if ethOwner != "" {
		node, closeEth, err := dialEthereum(ctx, e.cfg, nil, e.logger)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer closeEth()
		eth = node
	}
	summary := treasury.NewService(eth, openStacks(e.cfg), e.network, e.logger).Summary(ctx, ethOwner, stxOwner)

	if asJSON {
		if code := printJSON(stdout, stderr, summary); code != 0 {
			return code
		}
	} else {
		for _, line := range summary.Balances {
			if line.Error != "" {
				fmt.Fprintf(stdout, "%-6s %-17s %s  error: %s\n", line.Symbol, line.Chain, line.Owner, line.Error)
				continue
			}
			fmt.Fprintf(stdout, "%-6s %-17s %s  %s\n", line.Symbol, line.Chain, line.Owner, invoice.FormatAmount(line.Amount, 6))
		}
		fmt.Fprintf(stdout, "Total: %s\n", invoice.FormatAmount(summary.Total, 6))
	}
	if !summary.Complete() {
		return 2
	}
	return 0
}

func runResolve(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var direction string
	fs.StringVar(&direction, "dir", "", "require the name to suit this direction's recipient")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: settler resolve [--dir ETH_TO_STX|STX_TO_ETH] <name.btc|name.eth>")
		return 1
	}
	name := strings.TrimSpace(fs.Arg(0))
	if !invoice.IsBnsName(name) && !invoice.IsEnsName(name) {
		fmt.Fprintf(stderr, "Error: %q is not a BNS (.btc) or ENS (.eth) name\n", name)
		return 1
	}

	e, err := loadEnv(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := commandContext()
	defer cancel()
	resolver, release, err := newResolver(ctx, e, openStacks(e.cfg))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer release()

	var address string
	if direction != "" {
		dir, derr := parseDirection(direction)
		if derr != nil {
			fmt.Fprintf(stderr, "Error: %v\n", derr)
			return 1
		}
		address, err = resolver.ResolveRecipient(ctx, name, identity.ChainFor(dir))
	} else {
		address, err = resolver.Resolve(ctx, name)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, address)
	return 0
}
