package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"settler/config"
	"settler/invoice"
	"settler/ledger"
	"settler/tracker"
)

func runTrack(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("track", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var tx, direction, to, hookData, link string
	var once bool
	var timeout time.Duration
	fs.StringVar(&tx, "tx", "", "source transaction (Ethereum hash or Stacks txid)")
	fs.StringVar(&direction, "dir", "", "ETH_TO_STX or STX_TO_ETH")
	fs.StringVar(&to, "to", "", "destination recipient")
	fs.StringVar(&hookData, "hook-data", "", "deposit correlation token")
	fs.StringVar(&link, "url", "", "tracking link; replaces --tx, --dir, --to and --hook-data")
	fs.BoolVar(&once, "once", false, "check once and print the state instead of following")
	fs.DurationVar(&timeout, "timeout", 0, "give up after this long (0 follows until settled)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	params, err := trackParams(link, tx, direction, to, hookData)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	e, err := loadEnv(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := commandContext()
	defer cancel()
	ctx, cancelTimeout := timeoutContext(ctx, timeout)
	defer cancelTimeout()

	eth, closeEth, err := dialEthereum(ctx, e.cfg, nil, e.logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeEth()
	stx := openStacks(e.cfg)

	if once {
		t, err := tracker.New(params, tracker.Sources{Ethereum: eth, Stacks: stx, Network: e.network}, trackerOptions(e)...)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		st := t.Tick(ctx)
		printState(stdout, e.cfg, params, st, t.Elapsed(time.Now()))
		return exitForState(st)
	}

	store := openLedgerOrWarn(e)
	if store != nil {
		defer store.Close()
	}
	return followSubmitted(ctx, e, params, eth, stx, store, stdout, stderr)
}

// trackParams builds the tracking parameters from a link or from flags.
func trackParams(link, tx, direction, to, hookData string) (tracker.Params, error) {
	if strings.TrimSpace(link) != "" {
		values, err := queryOf(link)
		if err != nil {
			return tracker.Params{}, err
		}
		return invoice.ParseTrackParams(values)
	}
	if strings.TrimSpace(tx) == "" || direction == "" {
		return tracker.Params{}, fmt.Errorf("--tx and --dir are required (or pass --url)")
	}
	dir, err := parseDirection(direction)
	if err != nil {
		return tracker.Params{}, err
	}
	return tracker.Params{
		TxID:      strings.TrimSpace(tx),
		Direction: dir,
		Recipient: strings.TrimSpace(to),
		HookData:  strings.TrimSpace(hookData),
	}, nil
}

func trackerOptions(e *env) []tracker.Option {
	return []tracker.Option{
		tracker.WithSettleDelay(e.cfg.Tracker.SettleDelay()),
		tracker.WithEventLimit(e.cfg.Tracker.EventLimit),
		tracker.WithBlockWindow(e.cfg.Tracker.BlockWindow),
		tracker.WithLogger(e.logger),
	}
}

// follow runs t until it is terminal or ctx ends, printing every status
// change. The outcome is copied into store when one is open.
func follow(ctx context.Context, e *env, t *tracker.Tracker, store *ledger.Store, stdout io.Writer) tracker.State {
	runner := tracker.NewRunner(t,
		tracker.WithPollInterval(e.cfg.Tracker.PollInterval()),
		tracker.WithElapsedInterval(e.cfg.Tracker.ElapsedInterval()))
	updates, unsubscribe := runner.Subscribe()
	defer unsubscribe()

	result := make(chan tracker.State, 1)
	go func() { result <- runner.Run(ctx) }()

	params := t.Params()
	var last tracker.State
	for u := range updates {
		if u.State.Status == last.Status && u.State.LastError == last.LastError {
			continue
		}
		last = u.State
		printState(stdout, e.cfg, params, u.State, u.Elapsed)
		if store != nil && u.State.Status != tracker.StatusPending {
			if err := store.Observe(context.WithoutCancel(ctx), params.TxID, u.State); err != nil {
				e.logger.Warn("ledger update failed", slog.String("tx", params.TxID), slog.Any("error", err))
			}
		}
	}
	return <-result
}

func printState(w io.Writer, cfg *config.Config, params tracker.Params, st tracker.State, elapsed time.Duration) {
	stamp := formatElapsed(elapsed)
	switch st.Status {
	case tracker.StatusPending:
		fmt.Fprintf(w, "[%s] pending: waiting for %s to confirm on %s\n", stamp, params.TxID, params.Direction.SourceChain())
	case tracker.StatusConfirming:
		fmt.Fprintf(w, "[%s] confirming on %s\n", stamp, params.Direction.SourceChain())
	case tracker.StatusBridging:
		if st.SourceConfirmedBlock != nil {
			fmt.Fprintf(w, "[%s] bridging: source confirmed in block %d, waiting for %s on %s\n", stamp, *st.SourceConfirmedBlock,
				params.Direction.DestinationAsset(), params.Direction.DestinationChain())
		} else {
			fmt.Fprintf(w, "[%s] bridging: source confirmed, waiting for %s on %s\n", stamp,
				params.Direction.DestinationAsset(), params.Direction.DestinationChain())
		}
	case tracker.StatusComplete:
		fmt.Fprintf(w, "[%s] complete: %s\n", stamp, destinationLink(cfg, params, st.DestinationTxID))
		if st.MatchedBy == tracker.MatchRecipientWindow {
			fmt.Fprintln(w, "  note: matched by recipient only; confirm the amount on the explorer")
		}
	case tracker.StatusFailed:
		fmt.Fprintf(w, "[%s] failed: %s\n", stamp, st.Error)
	}
	if st.LastError != "" && !st.Status.Terminal() {
		fmt.Fprintf(w, "  last check error: %s\n", st.LastError)
	}
}

func destinationLink(cfg *config.Config, params tracker.Params, txID string) string {
	if txID == "" {
		return "destination transaction not identified"
	}
	if params.Direction == invoice.EthToStx {
		return cfg.StacksTxURL(txID)
	}
	return cfg.EthTxURL(txID)
}

func formatElapsed(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func exitForState(st tracker.State) int {
	if st.Status == tracker.StatusFailed {
		return 2
	}
	return 0
}

// openLedgerOrWarn opens the local ledger. Failing to open it never blocks
// a transfer; the problem is logged instead.
func openLedgerOrWarn(e *env) *ledger.Store {
	dsn := e.cfg.Storage.LedgerDSN
	if strings.TrimSpace(dsn) == "" {
		return nil
	}
	if err := ensureParent(dsn); err != nil {
		e.logger.Warn("ledger unavailable", slog.Any("error", err))
		return nil
	}
	store, err := ledger.Open(dsn)
	if err != nil {
		e.logger.Warn("ledger unavailable", slog.Any("error", err))
		return nil
	}
	return store
}
