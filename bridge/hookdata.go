package bridge

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
)

// HookData is the correlation token attached to a deposit: 0x, eight hex
// characters of unix seconds, then 24 hex characters of random bytes. The
// bridge echoes it back in the mint event.
type HookData string

// EmptyHookData is the sentinel used when no token is attached.
const EmptyHookData HookData = "0x"

const hookDataRandomBytes = 12

// Empty reports whether h carries no token.
func (h HookData) Empty() bool {
	s := strings.TrimSpace(string(h))
	return s == "" || s == string(EmptyHookData)
}

// Bytes decodes the token for use as the depositToRemote hookData argument.
func (h HookData) Bytes() ([]byte, error) {
	if h.Empty() {
		return []byte{}, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(string(h)), "0x"))
	if err != nil {
		return nil, fmt.Errorf("bridge: decode hook data: %w", err)
	}
	return raw, nil
}

// Normalized lower-cases the token; the mint event renders it in lower case.
func (h HookData) Normalized() HookData {
	if h.Empty() {
		return EmptyHookData
	}
	return HookData("0x" + strings.TrimPrefix(strings.ToLower(string(h)), "0x"))
}

// HookDataGenerator produces correlation tokens. The zero value uses the
// wall clock and crypto/rand.
type HookDataGenerator struct {
	Now  func() time.Time
	Rand io.Reader
}

// Generate returns a fresh token.
func (g HookDataGenerator) Generate() (HookData, error) {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	source := rand.Reader
	if g.Rand != nil {
		source = g.Rand
	}
	random := make([]byte, hookDataRandomBytes)
	if _, err := io.ReadFull(source, random); err != nil {
		return "", fmt.Errorf("bridge: read entropy: %w", err)
	}
	ts := fmt.Sprintf("%08x", uint32(now().Unix()))
	return HookData("0x" + ts + hex.EncodeToString(random)), nil
}

// GenerateHookData is Generate on the default generator.
func GenerateHookData() (HookData, error) {
	return HookDataGenerator{}.Generate()
}
