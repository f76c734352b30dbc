package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"settler/bridge"
	"settler/invoice"
)

func recipientUsage() string {
	return strings.Join([]string{
		"Usage: settler recipient <encode|decode> <value>",
		"  encode <ST...|0x...>   bytes32 form of a Stacks or Ethereum address",
		"  decode <0x + 64 hex>   address held in a bytes32 (--eth for a burn recipient)",
	}, "\n")
}

func runRecipient(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, recipientUsage())
		return 1
	}
	switch args[0] {
	case "encode":
		return runRecipientEncode(args[1:], stdout, stderr)
	case "decode":
		return runRecipientDecode(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown recipient subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, recipientUsage())
		return 1
	}
}

func runRecipientEncode(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("recipient encode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, recipientUsage())
		return 1
	}
	address := strings.TrimSpace(fs.Arg(0))
	var (
		encoded bridge.RemoteRecipient
		err     error
	)
	if invoice.IsValidEthAddress(address) {
		encoded, err = bridge.EncodeReverseRecipient(address)
	} else {
		encoded, err = bridge.EncodeRemoteRecipient(address)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, encoded.Hex())
	return 0
}

func runRecipientDecode(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("recipient decode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var eth bool
	fs.BoolVar(&eth, "eth", false, "decode as a left-padded Ethereum address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, recipientUsage())
		return 1
	}
	encoded, err := bridge.ParseRemoteRecipient(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if eth {
		fmt.Fprintln(stdout, bridge.DecodeReverseRecipient(encoded).Hex())
		return 0
	}
	address, err := bridge.DecodeRemoteRecipient(encoded)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, address)
	return 0
}

func runHookData(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("hookdata", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	hook, err := bridge.GenerateHookData()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, hook)
	return 0
}
