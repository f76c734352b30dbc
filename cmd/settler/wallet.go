package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"settler/wallet"
)

func walletUsage() string {
	return strings.Join([]string{
		"Usage: settler wallet <show|set|disconnect> [--profile name]",
		"  show",
		"  set [--eth 0x...] [--stx ST...]",
		"  disconnect [--eth] [--stx]   (both when neither is given)",
	}, "\n")
}

func runWallet(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, walletUsage())
		return 1
	}
	switch args[0] {
	case "show":
		return runWalletShow(args[1:], stdout, stderr)
	case "set":
		return runWalletSet(args[1:], stdout, stderr)
	case "disconnect":
		return runWalletDisconnect(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown wallet subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, walletUsage())
		return 1
	}
}

// openSession opens and hydrates the configured wallet database.
func openSession(e *env, profile string) (*wallet.Session, error) {
	path := e.cfg.Storage.WalletDB
	if err := ensureParent(path); err != nil {
		return nil, err
	}
	session, err := wallet.Open(path, nil, wallet.WithProfile(profile))
	if err != nil {
		return nil, err
	}
	if _, err := session.Hydrate(); err != nil {
		_ = session.Close()
		return nil, err
	}
	return session, nil
}

func runWalletShow(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("wallet show", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var profile string
	var asJSON bool
	fs.StringVar(&profile, "profile", "", "named session (default profile when empty)")
	fs.BoolVar(&asJSON, "json", false, "print the session as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	e, err := loadEnv(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	session, err := openSession(e, profile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer session.Close()

	state := session.State()
	if asJSON {
		return printJSON(stdout, stderr, state)
	}
	printWalletState(stdout, state)
	return 0
}

func runWalletSet(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("wallet set", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var profile, eth, stx string
	fs.StringVar(&profile, "profile", "", "named session (default profile when empty)")
	fs.StringVar(&eth, "eth", "", "Ethereum address to connect")
	fs.StringVar(&stx, "stx", "", "Stacks testnet address to connect")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if eth == "" && stx == "" {
		fmt.Fprintln(stderr, "Error: provide --eth, --stx or both")
		fmt.Fprintln(stderr, walletUsage())
		return 1
	}
	e, err := loadEnv(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	session, err := openSession(e, profile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer session.Close()

	state := session.State()
	if eth != "" {
		if state, err = session.SetEth(eth); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	if stx != "" {
		if state, err = session.SetStacks(stx); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	printWalletState(stdout, state)
	return 0
}

func runWalletDisconnect(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("wallet disconnect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var profile string
	var eth, stx bool
	fs.StringVar(&profile, "profile", "", "named session (default profile when empty)")
	fs.BoolVar(&eth, "eth", false, "disconnect the Ethereum wallet")
	fs.BoolVar(&stx, "stx", false, "disconnect the Stacks wallet")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	e, err := loadEnv(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	session, err := openSession(e, profile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer session.Close()

	var state wallet.State
	switch {
	case eth && !stx:
		state, err = session.DisconnectEth()
	case stx && !eth:
		state, err = session.DisconnectStacks()
	default:
		state, err = session.DisconnectAll()
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	printWalletState(stdout, state)
	return 0
}

func printWalletState(w io.Writer, state wallet.State) {
	if state.EthConnected() {
		fmt.Fprintf(w, "Ethereum: %s (connected %s)\n", state.Eth.Address, state.Eth.ConnectedAt.UTC().Format("2006-01-02 15:04:05Z"))
	} else {
		fmt.Fprintln(w, "Ethereum: not connected")
	}
	if state.StacksConnected() {
		fmt.Fprintf(w, "Stacks: %s (connected %s)\n", state.Stacks.Address, state.Stacks.ConnectedAt.UTC().Format("2006-01-02 15:04:05Z"))
	} else {
		fmt.Fprintln(w, "Stacks: not connected")
	}
}

// ensureParent creates the directory holding a file path. DSNs that are
// URLs or in-memory databases are left alone.
func ensureParent(path string) error {
	path = strings.TrimSpace(path)
	if path == "" || strings.Contains(path, "://") || strings.Contains(path, "host=") || strings.HasPrefix(path, "file::memory:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
