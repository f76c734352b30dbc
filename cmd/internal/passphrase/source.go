// Package passphrase obtains the Ethereum keystore passphrase for settler
// commands.
package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a passphrase from an environment variable or by
// prompting on the terminal. The first result, success or failure, is cached.
type Source struct {
	envVar string
	label  string
	prompt io.Writer

	lookupEnv  func(string) (string, bool)
	isTerminal func() bool
	read       func() ([]byte, error)

	once  sync.Once
	value string
	err   error
}

// NewSource returns a source that checks envVar before prompting for the
// secret named by label ("keystore passphrase").
func NewSource(envVar, label string) *Source {
	if strings.TrimSpace(label) == "" {
		label = "keystore passphrase"
	}
	fd := int(os.Stdin.Fd())
	return &Source{
		envVar:     strings.TrimSpace(envVar),
		label:      label,
		prompt:     os.Stderr,
		lookupEnv:  os.LookupEnv,
		isTerminal: func() bool { return term.IsTerminal(fd) },
		read:       func() ([]byte, error) { return term.ReadPassword(fd) },
	}
}

// Get returns the passphrase. An env var that is set wins even when a
// terminal is available; whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		if !s.isTerminal() {
			if s.envVar != "" {
				s.err = fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
			} else {
				s.err = fmt.Errorf("%s required and no terminal available", s.label)
			}
			return
		}

		fmt.Fprintf(s.prompt, "Enter %s: ", s.label)
		bytes, err := s.read()
		fmt.Fprintln(s.prompt)
		if err != nil {
			s.err = fmt.Errorf("failed to read %s: %w", s.label, err)
			return
		}

		passphrase := string(bytes)
		if strings.TrimSpace(passphrase) == "" {
			s.err = errors.New(s.label + " cannot be empty")
			return
		}
		s.value = passphrase
	})

	return s.value, s.err
}
