package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Stacks address versions (c32 alphabet index of the second character).
const (
	StacksMainnetSingleSig byte = 22 // SP
	StacksMainnetMultiSig  byte = 20 // SM
	StacksTestnetSingleSig byte = 26 // ST
	StacksTestnetMultiSig  byte = 21 // SN
)

const c32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var (
	// ErrInvalidStacksAddress is returned for any input that is not a
	// well-formed c32check address.
	ErrInvalidStacksAddress = errors.New("crypto: invalid stacks address")
	// ErrStacksChecksum is returned when the checksum does not match.
	ErrStacksChecksum = errors.New("crypto: stacks address checksum mismatch")
)

// StacksAddress is a version byte plus a hash160, rendered with c32check.
type StacksAddress struct {
	Version byte
	Hash160 [20]byte
}

// NewStacksAddress builds an address from a version and a 20-byte hash.
func NewStacksAddress(version byte, hash []byte) (StacksAddress, error) {
	if version >= 32 {
		return StacksAddress{}, fmt.Errorf("%w: version %d out of range", ErrInvalidStacksAddress, version)
	}
	if len(hash) != 20 {
		return StacksAddress{}, fmt.Errorf("%w: hash160 must be 20 bytes, got %d", ErrInvalidStacksAddress, len(hash))
	}
	addr := StacksAddress{Version: version}
	copy(addr.Hash160[:], hash)
	return addr, nil
}

func (a StacksAddress) String() string {
	return "S" + c32CheckEncode(a.Version, a.Hash160[:])
}

// IsTestnet reports whether the version belongs to the testnet family.
func (a StacksAddress) IsTestnet() bool {
	return a.Version == StacksTestnetSingleSig || a.Version == StacksTestnetMultiSig
}

// DecodeStacksAddress parses a c32check Stacks address such as
// ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM. Contract identifiers
// (address.contract) are rejected; split them first.
func DecodeStacksAddress(s string) (StacksAddress, error) {
	s = strings.TrimSpace(s)
	if len(s) < 5 || (s[0] != 'S' && s[0] != 's') {
		return StacksAddress{}, fmt.Errorf("%w: %q", ErrInvalidStacksAddress, s)
	}
	version, payload, err := c32CheckDecode(s[1:])
	if err != nil {
		return StacksAddress{}, err
	}
	return NewStacksAddress(version, payload)
}

// IsValidStacksAddress is a convenience wrapper over DecodeStacksAddress.
func IsValidStacksAddress(s string) bool {
	_, err := DecodeStacksAddress(s)
	return err == nil
}

func c32Checksum(version byte, payload []byte) []byte {
	first := sha256.Sum256(append([]byte{version}, payload...))
	second := sha256.Sum256(first[:])
	return second[:4]
}

func c32CheckEncode(version byte, payload []byte) string {
	buf := make([]byte, 0, len(payload)+4)
	buf = append(buf, payload...)
	buf = append(buf, c32Checksum(version, payload)...)
	return string(c32Alphabet[version]) + c32Encode(buf)
}

func c32CheckDecode(s string) (byte, []byte, error) {
	s = c32Normalize(s)
	if len(s) < 2 {
		return 0, nil, fmt.Errorf("%w: too short", ErrInvalidStacksAddress)
	}
	version := strings.IndexByte(c32Alphabet, s[0])
	if version < 0 {
		return 0, nil, fmt.Errorf("%w: bad version character %q", ErrInvalidStacksAddress, s[0])
	}
	raw, err := c32Decode(s[1:])
	if err != nil {
		return 0, nil, err
	}
	if len(raw) < 4 {
		return 0, nil, fmt.Errorf("%w: missing checksum", ErrInvalidStacksAddress)
	}
	payload, sum := raw[:len(raw)-4], raw[len(raw)-4:]
	if !bytes.Equal(sum, c32Checksum(byte(version), payload)) {
		return 0, nil, ErrStacksChecksum
	}
	return byte(version), payload, nil
}

// c32Encode renders data as a base-32 big number; every leading zero byte
// becomes a single leading '0'.
func c32Encode(data []byte) string {
	zeros := 0
	for zeros < len(data) && data[zeros] == 0 {
		zeros++
	}
	n := new(big.Int).SetBytes(data)
	base := big.NewInt(32)
	mod := new(big.Int)
	var digits []byte
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		digits = append(digits, c32Alphabet[mod.Int64()])
	}
	out := make([]byte, 0, zeros+len(digits))
	for i := 0; i < zeros; i++ {
		out = append(out, c32Alphabet[0])
	}
	for i := len(digits) - 1; i >= 0; i-- {
		out = append(out, digits[i])
	}
	return string(out)
}

func c32Decode(s string) ([]byte, error) {
	zeros := 0
	for zeros < len(s) && s[zeros] == c32Alphabet[0] {
		zeros++
	}
	n := new(big.Int)
	base := big.NewInt(32)
	for i := zeros; i < len(s); i++ {
		idx := strings.IndexByte(c32Alphabet, s[i])
		if idx < 0 {
			return nil, fmt.Errorf("%w: bad character %q", ErrInvalidStacksAddress, s[i])
		}
		n.Mul(n, base)
		n.Add(n, big.NewInt(int64(idx)))
	}
	body := n.Bytes()
	out := make([]byte, zeros, zeros+len(body))
	return append(out, body...), nil
}

// c32Normalize applies the Crockford substitutions.
func c32Normalize(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "O", "0")
	s = strings.ReplaceAll(s, "L", "1")
	return strings.ReplaceAll(s, "I", "1")
}

// HashFromHex is a small helper for tests and fixtures.
func HashFromHex(h string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(h, "0x"))
}
