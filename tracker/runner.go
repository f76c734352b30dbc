package tracker

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultPollInterval    = 10 * time.Second
	DefaultElapsedInterval = time.Second
)

// Update is what a Runner publishes: the latest state and the elapsed
// counter.
type Update struct {
	State          State         `json:"state"`
	Elapsed        time.Duration `json:"-"`
	ElapsedSeconds int64         `json:"elapsedSeconds"`
}

// Runner drives a Tracker with a poll timer, an elapsed timer and manual
// refreshes until the tracker is terminal or the context ends.
type Runner struct {
	tracker         *Tracker
	pollInterval    time.Duration
	elapsedInterval time.Duration
	refresh         chan struct{}
	done            chan struct{}

	mu     sync.Mutex
	subs   map[int]chan Update
	nextID int
	closed bool
}

type RunnerOption func(*Runner)

func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

func WithElapsedInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.elapsedInterval = d
		}
	}
}

func NewRunner(t *Tracker, opts ...RunnerOption) *Runner {
	r := &Runner{
		tracker:         t,
		pollInterval:    DefaultPollInterval,
		elapsedInterval: DefaultElapsedInterval,
		refresh:         make(chan struct{}, 1),
		done:            make(chan struct{}),
		subs:            make(map[int]chan Update),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tracker returns the driven tracker.
func (r *Runner) Tracker() *Tracker { return r.tracker }

// Done is closed when Run returns.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Refresh requests an immediate check without resetting the poll timer.
// Requests made while one is pending are coalesced.
func (r *Runner) Refresh() {
	select {
	case r.refresh <- struct{}{}:
	default:
	}
}

// Subscribe returns a channel of updates that is closed when the runner
// stops. The current state is delivered first. Slow subscribers lose
// intermediate updates, never the latest one.
func (r *Runner) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 1)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ch <- r.update(time.Now())
		close(ch)
		return ch, func() {}
	}
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	offer(ch, r.update(time.Now()))
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
	}
}

// Run checks immediately, then on every poll tick, refresh request and
// settle deadline. It returns the last state.
func (r *Runner) Run(ctx context.Context) State {
	defer r.shutdown()

	poll := time.NewTicker(r.pollInterval)
	defer poll.Stop()
	elapsed := time.NewTicker(r.elapsedInterval)
	defer elapsed.Stop()

	var settle *time.Timer
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	tick := func() State {
		st := r.tracker.Tick(ctx)
		r.publish(r.update(time.Now()))
		if deadline, ok := r.tracker.SettleDeadline(); ok && settle == nil {
			settle = time.NewTimer(time.Until(deadline))
		}
		return st
	}

	st := tick()
	for !st.Status.Terminal() {
		var settleC <-chan time.Time
		if settle != nil {
			settleC = settle.C
		}
		select {
		case <-ctx.Done():
			return r.tracker.Snapshot()
		case <-poll.C:
			st = tick()
		case <-r.refresh:
			st = tick()
		case <-settleC:
			settle = nil
			st = tick()
		case now := <-elapsed.C:
			r.publish(r.update(now))
		}
	}
	return st
}

func (r *Runner) update(now time.Time) Update {
	elapsed := r.tracker.Elapsed(now)
	return Update{State: r.tracker.Snapshot(), Elapsed: elapsed, ElapsedSeconds: int64(elapsed / time.Second)}
}

func (r *Runner) publish(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		offer(ch, u)
	}
}

func (r *Runner) shutdown() {
	last := r.update(time.Now())
	r.mu.Lock()
	for id, ch := range r.subs {
		offer(ch, last)
		close(ch)
		delete(r.subs, id)
	}
	r.closed = true
	r.mu.Unlock()
	close(r.done)
}

// offer replaces a pending update with u.
func offer(ch chan Update, u Update) {
	for {
		select {
		case ch <- u:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
