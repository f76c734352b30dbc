package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"settler/bridge"
	"settler/ledger"
)

func ledgerUsage() string {
	return strings.Join([]string{
		"Usage: settler ledger <list|export> [filters]",
		"  list   [--kind deposit|burn] [--status s] [--recipient addr] [--since RFC3339] [--limit n] [--json]",
		"  export --out file.parquet [same filters]",
	}, "\n")
}

func runLedger(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, ledgerUsage())
		return 1
	}
	switch args[0] {
	case "list":
		return runLedgerList(args[1:], stdout, stderr)
	case "export":
		return runLedgerExport(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown ledger subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, ledgerUsage())
		return 1
	}
}

type ledgerFlags struct {
	kind, status, recipient, since string
	limit, offset                  int
}

func (f *ledgerFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.kind, "kind", "", "deposit or burn")
	fs.StringVar(&f.status, "status", "", "pending, confirming, bridging, complete or failed")
	fs.StringVar(&f.recipient, "recipient", "", "destination address")
	fs.StringVar(&f.since, "since", "", "only transfers submitted at or after this RFC3339 time")
	fs.IntVar(&f.limit, "limit", 50, "maximum rows")
	fs.IntVar(&f.offset, "offset", 0, "rows to skip")
}

func (f *ledgerFlags) filter() (ledger.Filter, error) {
	filter := ledger.Filter{
		Status:    strings.TrimSpace(f.status),
		Recipient: strings.TrimSpace(f.recipient),
		Limit:     f.limit,
		Offset:    f.offset,
	}
	switch kind := ledger.Kind(strings.ToLower(strings.TrimSpace(f.kind))); kind {
	case "", ledger.KindDeposit, ledger.KindBurn:
		filter.Kind = kind
	default:
		return ledger.Filter{}, fmt.Errorf("unknown kind %q", f.kind)
	}
	if f.since != "" {
		since, err := time.Parse(time.RFC3339, f.since)
		if err != nil {
			return ledger.Filter{}, fmt.Errorf("--since: %w", err)
		}
		filter.Since = since
	}
	if f.limit < 0 || f.offset < 0 {
		return ledger.Filter{}, fmt.Errorf("--limit and --offset must not be negative")
	}
	return filter, nil
}

func openLedger(e *env) (*ledger.Store, error) {
	if err := ensureParent(e.cfg.Storage.LedgerDSN); err != nil {
		return nil, err
	}
	return ledger.Open(e.cfg.Storage.LedgerDSN)
}

func runLedgerList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ledger list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var lf ledgerFlags
	lf.register(fs)
	var asJSON bool
	fs.BoolVar(&asJSON, "json", false, "print rows as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	filter, err := lf.filter()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	e, err := loadEnv(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	store, err := openLedger(e)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	rows, err := store.List(context.Background(), filter)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if asJSON {
		return printJSON(stdout, stderr, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(stdout, "No transfers recorded")
		return 0
	}
	table := tablewriter.NewWriter(stdout)
	table.SetHeader([]string{"Submitted", "Kind", "Amount", "Status", "Source tx", "Recipient"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, row := range rows {
		table.Append([]string{
			row.SubmittedAt.UTC().Format(time.RFC3339),
			string(row.Kind),
			amountOf(row),
			row.Status,
			row.SourceTx,
			row.Recipient,
		})
	}
	table.Render()
	return 0
}

func runLedgerExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ledger export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var lf ledgerFlags
	lf.register(fs)
	var out string
	fs.StringVar(&out, "out", "", "destination parquet file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(out) == "" {
		fmt.Fprintln(stderr, "Error: --out is required")
		fmt.Fprintln(stderr, ledgerUsage())
		return 1
	}
	if lf.limit == 50 {
		lf.limit = ledger.MaxListLimit
	}
	filter, err := lf.filter()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	e, err := loadEnv(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	store, err := openLedger(e)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	count, err := store.ExportParquet(context.Background(), f, filter)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(out)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Exported %d transfers to %s\n", count, out)
	return 0
}

func amountOf(row ledger.Transfer) string {
	units, ok := new(big.Int).SetString(row.AmountBaseUnits, 10)
	if !ok {
		return row.AmountBaseUnits
	}
	return bridge.FromBaseUnits(units)
}
