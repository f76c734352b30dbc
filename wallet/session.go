// Package wallet persists the connected Ethereum and Stacks addresses of a
// settler operator between runs.
package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"settler/invoice"
)

var (
	bucketSessions = []byte("sessions")
	defaultKey     = []byte("default")

	ErrInvalidEthAddress    = errors.New("wallet: invalid ethereum address")
	ErrInvalidStacksAddress = errors.New("wallet: invalid stacks testnet address")
	ErrClosed               = errors.New("wallet: session closed")
)

// Connection is one connected wallet.
type Connection struct {
	Address     string    `json:"address"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// State is the persisted view of both chains.
type State struct {
	Eth    *Connection `json:"eth,omitempty"`
	Stacks *Connection `json:"stacks,omitempty"`
}

// EthConnected reports whether an Ethereum wallet is set.
func (s State) EthConnected() bool { return s.Eth != nil && s.Eth.Address != "" }

// StacksConnected reports whether a Stacks wallet is set.
func (s State) StacksConnected() bool { return s.Stacks != nil && s.Stacks.Address != "" }

// Session is a bbolt-backed wallet session. Callers Hydrate once after Open;
// every setter writes through.
type Session struct {
	db  *bolt.DB
	key []byte
	now func() time.Time

	mu       sync.RWMutex
	state    State
	hydrated bool
}

// Option customises a Session.
type Option func(*Session)

// WithProfile stores the session under a named key instead of "default".
func WithProfile(name string) Option {
	return func(s *Session) {
		if name = strings.TrimSpace(name); name != "" {
			s.key = []byte(name)
		}
	}
}

// WithClock overrides the connection timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens (and migrates) the session database at path.
func Open(path string, options *bolt.Options, opts ...Option) (*Session, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("wallet: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Session{db: db, key: defaultKey, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Session) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Close()
	s.db = nil
	return err
}

// Hydrate loads the persisted state. It is safe to call more than once.
func (s *Session) Hydrate() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return State{}, ErrClosed
	}
	var state State
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSessions).Get(s.key)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &state)
	})
	if err != nil {
		return State{}, fmt.Errorf("wallet: hydrate: %w", err)
	}
	s.state = state
	s.hydrated = true
	return state.clone(), nil
}

// Hydrated reports whether Hydrate has completed.
func (s *Session) Hydrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hydrated
}

// State returns a copy of the in-memory state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// SetEth records a connected Ethereum address.
func (s *Session) SetEth(address string) (State, error) {
	address = strings.TrimSpace(address)
	if !invoice.IsValidEthAddress(address) {
		return State{}, ErrInvalidEthAddress
	}
	return s.mutate(func(st *State) {
		st.Eth = &Connection{Address: address, ConnectedAt: s.now().UTC()}
	})
}

// SetStacks records a connected Stacks testnet address.
func (s *Session) SetStacks(address string) (State, error) {
	address = strings.TrimSpace(address)
	if !invoice.IsValidStacksTestnetAddress(address) {
		return State{}, ErrInvalidStacksAddress
	}
	return s.mutate(func(st *State) {
		st.Stacks = &Connection{Address: address, ConnectedAt: s.now().UTC()}
	})
}

func (s *Session) DisconnectEth() (State, error) {
	return s.mutate(func(st *State) { st.Eth = nil })
}

func (s *Session) DisconnectStacks() (State, error) {
	return s.mutate(func(st *State) { st.Stacks = nil })
}

// DisconnectAll clears both chains.
func (s *Session) DisconnectAll() (State, error) {
	return s.mutate(func(st *State) { *st = State{} })
}

func (s *Session) mutate(fn func(*State)) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return State{}, ErrClosed
	}
	next := s.state.clone()
	fn(&next)
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSessions)
		if !next.EthConnected() && !next.StacksConnected() {
			return bucket.Delete(s.key)
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return bucket.Put(s.key, encoded)
	})
	if err != nil {
		return State{}, fmt.Errorf("wallet: persist: %w", err)
	}
	s.state = next
	return next.clone(), nil
}

func (s State) clone() State {
	out := State{}
	if s.Eth != nil {
		eth := *s.Eth
		out.Eth = &eth
	}
	if s.Stacks != nil {
		stx := *s.Stacks
		out.Stacks = &stx
	}
	return out
}
