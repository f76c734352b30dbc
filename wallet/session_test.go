package wallet

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	ethAddr = "0x1111111111111111111111111111111111111111"
	stxAddr = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"
)

func openTestSession(t *testing.T, path string, opts ...Option) *Session {
	t.Helper()
	s, err := Open(path, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.db")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	s, err := Open(path, nil, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	state, err := s.Hydrate()
	require.NoError(t, err)
	require.False(t, state.EthConnected())
	require.False(t, state.StacksConnected())

	_, err = s.SetEth(ethAddr)
	require.NoError(t, err)
	state, err = s.SetStacks(" " + stxAddr + " ")
	require.NoError(t, err)
	require.Equal(t, stxAddr, state.Stacks.Address)
	require.Equal(t, fixed, state.Eth.ConnectedAt)
	require.NoError(t, s.Close())

	reopened := openTestSession(t, path)
	require.False(t, reopened.Hydrated())
	state, err = reopened.Hydrate()
	require.NoError(t, err)
	require.True(t, reopened.Hydrated())
	require.Equal(t, ethAddr, state.Eth.Address)
	require.Equal(t, stxAddr, state.Stacks.Address)
}

func TestSessionDisconnect(t *testing.T) {
	s := openTestSession(t, filepath.Join(t.TempDir(), "wallet.db"))
	_, err := s.Hydrate()
	require.NoError(t, err)
	_, err = s.SetEth(ethAddr)
	require.NoError(t, err)
	_, err = s.SetStacks(stxAddr)
	require.NoError(t, err)

	state, err := s.DisconnectEth()
	require.NoError(t, err)
	require.False(t, state.EthConnected())
	require.True(t, state.StacksConnected())

	state, err = s.DisconnectStacks()
	require.NoError(t, err)
	require.False(t, state.StacksConnected())

	_, err = s.SetEth(ethAddr)
	require.NoError(t, err)
	state, err = s.DisconnectAll()
	require.NoError(t, err)
	require.Equal(t, State{}, state)

	state, err = s.Hydrate()
	require.NoError(t, err)
	require.Equal(t, State{}, state)
}

func TestSessionRejectsInvalidAddresses(t *testing.T) {
	s := openTestSession(t, filepath.Join(t.TempDir(), "wallet.db"))
	_, err := s.SetEth("0x123")
	require.ErrorIs(t, err, ErrInvalidEthAddress)
	_, err = s.SetStacks("SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7")
	require.ErrorIs(t, err, ErrInvalidStacksAddress)
	require.Equal(t, State{}, s.State())
}

func TestSessionProfilesAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.db")
	s := openTestSession(t, path, WithProfile("merchant"))
	_, err := s.SetEth(ethAddr)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	other := openTestSession(t, path)
	state, err := other.Hydrate()
	require.NoError(t, err)
	require.False(t, state.EthConnected())
}

func TestSessionStateIsACopy(t *testing.T) {
	s := openTestSession(t, filepath.Join(t.TempDir(), "wallet.db"))
	_, err := s.SetEth(ethAddr)
	require.NoError(t, err)
	snapshot := s.State()
	snapshot.Eth.Address = "mutated"
	require.Equal(t, ethAddr, s.State().Eth.Address)
}

func TestClosedSession(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "wallet.db"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = s.Hydrate()
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.SetEth(ethAddr)
	require.ErrorIs(t, err, ErrClosed)
}
