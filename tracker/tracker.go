// Package tracker follows a submitted bridge transfer across both chains
// until the matching mint or release is observed.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"settler/bridge"
	"settler/chain/stacks"
	"settler/invoice"
	"settler/observability"
)

const (
	DefaultSettleDelay = 2 * time.Second
	DefaultEventLimit  = 50
	DefaultBlockWindow = uint64(1000)
	checkSource        = "source"
	checkDestination   = "destination"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Params identifies the transfer being tracked.
type Params = invoice.TrackParams

// Tracker is a synchronous state machine. Each Tick performs the single
// check that belongs to the current status.
type Tracker struct {
	params Params
	hook   bridge.HookData
	src    Sources

	tickMu sync.Mutex
	mu     sync.RWMutex
	state  State

	now         func() time.Time
	settleDelay time.Duration
	eventLimit  int
	blockWindow uint64
	logger      *slog.Logger
	metrics     *observability.SettlerMetrics
}

// Option customises a Tracker.
type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func WithSettleDelay(d time.Duration) Option {
	return func(t *Tracker) {
		if d >= 0 {
			t.settleDelay = d
		}
	}
}

// WithEventLimit bounds how many recent contract events are scanned.
func WithEventLimit(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.eventLimit = n
		}
	}
}

// WithBlockWindow bounds how many recent blocks are scanned for releases.
func WithBlockWindow(n uint64) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.blockWindow = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithMetrics(m *observability.SettlerMetrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// New validates params and returns a tracker in the pending state.
func New(params Params, src Sources, opts ...Option) (*Tracker, error) {
	if params.TxID == "" {
		return nil, fmt.Errorf("tracker: transaction reference required")
	}
	if !params.Direction.Valid() {
		return nil, fmt.Errorf("tracker: invalid direction %q", params.Direction)
	}
	switch params.Direction {
	case invoice.EthToStx:
		if !txHashPattern.MatchString(params.TxID) {
			return nil, fmt.Errorf("tracker: %q is not an ethereum transaction hash", params.TxID)
		}
		if !invoice.ValidHookData(params.HookData) {
			return nil, fmt.Errorf("tracker: %q is not a hook data token", params.HookData)
		}
		if src.Ethereum == nil || src.Stacks == nil {
			return nil, fmt.Errorf("tracker: both chain sources required")
		}
	case invoice.StxToEth:
		if params.Recipient != "" && !common.IsHexAddress(params.Recipient) {
			return nil, fmt.Errorf("tracker: %q is not an ethereum recipient", params.Recipient)
		}
		if src.Ethereum == nil || src.Stacks == nil {
			return nil, fmt.Errorf("tracker: both chain sources required")
		}
	}
	t := &Tracker{
		params:      params,
		hook:        bridge.HookData(params.HookData),
		src:         src,
		now:         time.Now,
		settleDelay: DefaultSettleDelay,
		eventLimit:  DefaultEventLimit,
		blockWindow: DefaultBlockWindow,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if params.Direction == invoice.StxToEth {
		t.hook = bridge.EmptyHookData
	}
	now := t.now()
	t.state = State{Status: StatusPending, StartedAt: now, LastChecked: now}
	t.logger = t.logger.With(
		slog.String("tx", params.TxID),
		slog.String("direction", string(params.Direction)))
	return t, nil
}

// Params returns the tracked transfer.
func (t *Tracker) Params() Params { return t.params }

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.clone()
}

// Elapsed is the time since the tracker started, frozen once terminal.
func (t *Tracker) Elapsed(now time.Time) time.Duration {
	st := t.Snapshot()
	end := now
	if st.Status.Terminal() {
		end = st.LastChecked
	}
	if end.Before(st.StartedAt) {
		return 0
	}
	return end.Sub(st.StartedAt)
}

// SettleDeadline returns when a confirming tracker may move on to
// bridging. ok is false in every other status.
func (t *Tracker) SettleDeadline() (time.Time, bool) {
	st := t.Snapshot()
	if st.Status != StatusConfirming {
		return time.Time{}, false
	}
	return st.ConfirmedAt.Add(t.settleDelay), true
}

// Refresh is a manual Tick.
func (t *Tracker) Refresh(ctx context.Context) State {
	return t.Tick(ctx)
}

// Tick runs the check for the current status and returns the new state.
// Read errors are recorded in LastError and never change the status.
func (t *Tracker) Tick(ctx context.Context) State {
	t.tickMu.Lock()
	defer t.tickMu.Unlock()

	st := t.Snapshot()
	if st.Status.Terminal() {
		return st
	}
	switch st.Status {
	case StatusPending:
		t.checkSource(ctx)
	case StatusConfirming:
		if !t.now().Before(st.ConfirmedAt.Add(t.settleDelay)) {
			t.transition(StatusBridging, func(s *State) {})
			t.checkDestination(ctx)
		} else {
			t.touch()
		}
	case StatusBridging:
		t.checkDestination(ctx)
	}
	return t.Snapshot()
}

func (t *Tracker) checkSource(ctx context.Context) {
	if t.params.Direction == invoice.EthToStx {
		receipt, found, err := t.src.Ethereum.Receipt(ctx, common.HexToHash(t.params.TxID))
		switch {
		case err != nil:
			t.readError(checkSource, err)
		case !found || receipt == nil:
			t.touch()
		case receipt.Success:
			t.confirm(receipt.BlockNumber)
		default:
			t.fail(msgEthereumReverted)
		}
		return
	}

	info, err := t.src.Stacks.GetTransaction(ctx, t.params.TxID)
	switch {
	case errors.Is(err, stacks.ErrNotFound):
		t.touch()
	case err != nil:
		t.readError(checkSource, err)
	case info.Status == stacks.TxSuccess:
		t.confirm(info.BlockHeight)
	case info.Status.Aborted():
		t.fail(msgStacksAborted)
	default:
		t.touch()
	}
}

func (t *Tracker) checkDestination(ctx context.Context) {
	if t.params.Direction == invoice.EthToStx {
		events, err := t.src.Stacks.ContractEvents(ctx, t.src.Network.BridgeContractID(), t.eventLimit)
		if err != nil {
			t.readError(checkDestination, err)
			return
		}
		ev, kind, ok := MatchMint(events, t.hook, t.params.Recipient)
		if !ok {
			t.touch()
			return
		}
		t.complete(ev.TxID, kind)
		return
	}

	if t.params.Recipient == "" {
		t.touch()
		return
	}
	logs, err := t.src.Ethereum.RecentTransfers(ctx, t.src.Network.USDC, common.HexToAddress(t.params.Recipient), t.blockWindow)
	if err != nil {
		t.readError(checkDestination, err)
		return
	}
	for _, l := range logs {
		if l.To == common.HexToAddress(t.params.Recipient) {
			t.complete(l.TxHash.Hex(), MatchRecipientWindow)
			return
		}
	}
	t.touch()
}

// touch records a completed poll.
func (t *Tracker) touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.LastChecked = t.now()
	t.state.LastError = ""
}

func (t *Tracker) readError(check string, err error) {
	t.metrics.RecordPollError(string(t.params.Direction), check)
	t.logger.Warn("tracker poll failed", slog.String("check", check), slog.Any("error", err))
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.LastChecked = t.now()
	t.state.LastError = err.Error()
}

func (t *Tracker) transition(to Status, mutate func(*State)) {
	t.mu.Lock()
	from := t.state.Status
	now := t.now()
	t.state.Status = to
	t.state.LastChecked = now
	t.state.LastError = ""
	mutate(&t.state)
	started := t.state.StartedAt
	t.mu.Unlock()

	t.metrics.RecordTransition(string(t.params.Direction), string(from), string(to))
	if to == StatusComplete {
		t.metrics.ObserveCompletion(string(t.params.Direction), now.Sub(started))
	}
	t.logger.Info("tracker transition", slog.String("from", string(from)), slog.String("to", string(to)))
}

func (t *Tracker) confirm(block uint64) {
	t.transition(StatusConfirming, func(s *State) {
		s.SourceConfirmed = true
		s.SourceConfirmedBlock = &block
		s.ConfirmedAt = t.now()
	})
}

func (t *Tracker) fail(msg string) {
	t.transition(StatusFailed, func(s *State) { s.Error = msg })
}

func (t *Tracker) complete(txID string, kind MatchKind) {
	t.transition(StatusComplete, func(s *State) {
		s.DestinationTxID = txID
		s.MatchedBy = kind
	})
}
