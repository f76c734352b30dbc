package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PrivateKey wraps a secp256k1 key usable on both Ethereum and Stacks.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the 32-byte scalar.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

// StacksHex renders the key the way Stacks wallets export it: the scalar
// followed by the 01 compression flag.
func (k *PrivateKey) StacksHex() string {
	return hex.EncodeToString(k.Bytes()) + "01"
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// EthAddress derives the 20-byte Ethereum account.
func (k *PublicKey) EthAddress() common.Address {
	return crypto.PubkeyToAddress(*k.PublicKey)
}

// Compressed returns the 33-byte SEC1 compressed encoding.
func (k *PublicKey) Compressed() []byte {
	return crypto.CompressPubkey(k.PublicKey)
}

// StacksAddress derives the single-sig Stacks address for the given version
// from hash160 of the compressed public key.
func (k *PublicKey) StacksAddress(version byte) StacksAddress {
	addr, _ := NewStacksAddress(version, btcutil.Hash160(k.Compressed()))
	return addr
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// ParsePrivateKeyHex accepts a 64-char hex scalar, optionally 0x-prefixed,
// or a 66-char Stacks export ending in the 01 compression flag.
func ParsePrivateKeyHex(raw string) (*PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	switch len(trimmed) {
	case 64:
	case 66:
		if !strings.HasSuffix(trimmed, "01") {
			return nil, errors.New("crypto: 33-byte key must end with the 01 compression flag")
		}
		trimmed = trimmed[:64]
	default:
		return nil, fmt.Errorf("crypto: private key must be 32 bytes of hex, got %d chars", len(trimmed))
	}
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode private key: %w", err)
	}
	return PrivateKeyFromBytes(b)
}
