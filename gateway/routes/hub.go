package routes

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"settler/bridge"
	"settler/invoice"
	"settler/tracker"
)

// ErrTooManySessions is returned when the hub is at capacity.
var ErrTooManySessions = errors.New("too many live tracking sessions")

// RunnerFactory builds the runner for a tracking request.
type RunnerFactory func(params tracker.Params) (*tracker.Runner, error)

// TerminalHook is called once per session with the state Run returned.
type TerminalHook func(ctx context.Context, params tracker.Params, state tracker.State)

type session struct {
	runner  *tracker.Runner
	cancel  context.CancelFunc
	expires *time.Timer
}

// Hub owns the live tracking sessions. Clients asking for the same transfer
// share one runner, so chain APIs are polled once per transfer.
type Hub struct {
	mu       sync.Mutex
	ctx      context.Context
	stop     context.CancelFunc
	sessions map[string]*session
	factory  RunnerFactory
	onDone   TerminalHook
	max      int
	linger   time.Duration
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewHub(factory RunnerFactory, maxSessions int, linger time.Duration, onDone TerminalHook, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSessions <= 0 {
		maxSessions = 256
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Hub{
		ctx:      ctx,
		stop:     stop,
		sessions: make(map[string]*session),
		factory:  factory,
		onDone:   onDone,
		max:      maxSessions,
		linger:   linger,
		logger:   logger,
	}
}

// sessionKey covers every parameter the tracker matches on, so a caller
// never joins a session that is following a different recipient or token.
func sessionKey(params tracker.Params) string {
	hook := ""
	if params.Direction == invoice.EthToStx {
		hook = string(bridge.HookData(params.HookData).Normalized())
	}
	return strings.Join([]string{
		string(params.Direction),
		strings.ToLower(strings.TrimSpace(params.TxID)),
		strings.ToLower(strings.TrimSpace(params.Recipient)),
		hook,
	}, "|")
}

// Join returns the live runner for params, starting one when needed.
func (h *Hub) Join(params tracker.Params) (*tracker.Runner, error) {
	key := sessionKey(params)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return nil, context.Canceled
	}
	if s, ok := h.sessions[key]; ok {
		return s.runner, nil
	}
	if len(h.sessions) >= h.max {
		return nil, ErrTooManySessions
	}
	runner, err := h.factory(params)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(h.ctx)
	s := &session{runner: runner, cancel: cancel}
	h.sessions[key] = s
	h.wg.Add(1)
	go h.run(ctx, key, params, s)
	return runner, nil
}

// Lookup returns the live runner for params without starting one.
func (h *Hub) Lookup(params tracker.Params) (*tracker.Runner, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionKey(params)]
	if !ok {
		return nil, false
	}
	return s.runner, true
}

// Len is the number of sessions held, finished ones included until they
// expire.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) run(ctx context.Context, key string, params tracker.Params, s *session) {
	defer h.wg.Done()
	state := s.runner.Run(ctx)
	if state.Status.Terminal() {
		h.logger.Info("tracking session finished",
			slog.String("tx", params.TxID),
			slog.String("status", string(state.Status)),
			slog.String("destination_tx", state.DestinationTxID))
		if h.onDone != nil {
			h.onDone(h.ctx, params, state)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.linger <= 0 || ctx.Err() != nil {
		h.removeLocked(key, s)
		return
	}
	s.expires = time.AfterFunc(h.linger, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.removeLocked(key, s)
	})
}

func (h *Hub) removeLocked(key string, s *session) {
	if current, ok := h.sessions[key]; ok && current == s {
		delete(h.sessions, key)
	}
	s.cancel()
}

// Close stops every runner and waits for them to return.
func (h *Hub) Close() {
	h.stop()
	h.wg.Wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, s := range h.sessions {
		if s.expires != nil {
			s.expires.Stop()
		}
		delete(h.sessions, key)
	}
}
