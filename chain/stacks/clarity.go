package stacks

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/holiman/uint256"

	"settler/crypto"
)

// ClarityType is the serialization tag of a Clarity value.
type ClarityType byte

const (
	TypeInt               ClarityType = 0x00
	TypeUint              ClarityType = 0x01
	TypeBuffer            ClarityType = 0x02
	TypeTrue              ClarityType = 0x03
	TypeFalse             ClarityType = 0x04
	TypeStandardPrincipal ClarityType = 0x05
	TypeContractPrincipal ClarityType = 0x06
	TypeResponseOk        ClarityType = 0x07
	TypeResponseErr       ClarityType = 0x08
	TypeNone              ClarityType = 0x09
	TypeSome              ClarityType = 0x0a
	TypeList              ClarityType = 0x0b
	TypeTuple             ClarityType = 0x0c
	TypeStringASCII       ClarityType = 0x0d
	TypeStringUTF8        ClarityType = 0x0e
)

var ErrClarityDecode = errors.New("stacks: malformed clarity value")

// Value is a decoded Clarity value. Only the fields matching Type are set.
type Value struct {
	Type      ClarityType
	Int       *big.Int
	Bytes     []byte
	Str       string
	Principal string
	Inner     *Value
	List      []Value
	Tuple     map[string]Value
}

// Uint builds a u128 value.
func Uint(v *uint256.Int) Value {
	return Value{Type: TypeUint, Int: v.ToBig()}
}

// UintFromBig builds a u128 value from a big.Int.
func UintFromBig(v *big.Int) (Value, error) {
	if v == nil || v.Sign() < 0 || v.BitLen() > 128 {
		return Value{}, fmt.Errorf("stacks: value does not fit u128")
	}
	return Value{Type: TypeUint, Int: new(big.Int).Set(v)}, nil
}

func Buffer(b []byte) Value {
	return Value{Type: TypeBuffer, Bytes: append([]byte(nil), b...)}
}

func StringASCII(s string) Value {
	return Value{Type: TypeStringASCII, Str: s}
}

// PrincipalValue parses "ADDR" or "ADDR.contract".
func PrincipalValue(p string) (Value, error) {
	addr, contract, _ := strings.Cut(p, ".")
	if _, err := crypto.DecodeStacksAddress(addr); err != nil {
		return Value{}, err
	}
	if contract != "" {
		return Value{Type: TypeContractPrincipal, Principal: p}, nil
	}
	return Value{Type: TypeStandardPrincipal, Principal: p}, nil
}

func Tuple(fields map[string]Value) Value {
	return Value{Type: TypeTuple, Tuple: fields}
}

// Field returns a tuple member.
func (v Value) Field(name string) (Value, bool) {
	if v.Type != TypeTuple {
		return Value{}, false
	}
	f, ok := v.Tuple[name]
	return f, ok
}

// Text returns the string content of string-ascii and string-utf8 values.
func (v Value) Text() (string, bool) {
	if v.Type == TypeStringASCII || v.Type == TypeStringUTF8 {
		return v.Str, true
	}
	return "", false
}

// Serialize encodes v in the consensus wire format.
func (v Value) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeTo(buf *bytes.Buffer) error {
	buf.WriteByte(byte(v.Type))
	switch v.Type {
	case TypeInt, TypeUint:
		if v.Int == nil {
			return fmt.Errorf("stacks: nil integer")
		}
		src := v.Int
		if v.Type == TypeInt && src.Sign() < 0 {
			// two's complement over 128 bits
			src = new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 128), src)
		}
		if src.Sign() < 0 || src.BitLen() > 128 {
			return fmt.Errorf("stacks: integer does not fit 128 bits")
		}
		word, _ := uint256.FromBig(src)
		full := word.Bytes32()
		buf.Write(full[16:])
	case TypeBuffer:
		writeU32(buf, uint32(len(v.Bytes)))
		buf.Write(v.Bytes)
	case TypeTrue, TypeFalse, TypeNone:
	case TypeStandardPrincipal, TypeContractPrincipal:
		addrPart, contract, _ := strings.Cut(v.Principal, ".")
		addr, err := crypto.DecodeStacksAddress(addrPart)
		if err != nil {
			return err
		}
		buf.WriteByte(addr.Version)
		buf.Write(addr.Hash160[:])
		if v.Type == TypeContractPrincipal {
			if err := writeLP(buf, contract); err != nil {
				return err
			}
		}
	case TypeResponseOk, TypeResponseErr, TypeSome:
		if v.Inner == nil {
			return fmt.Errorf("stacks: wrapped value missing")
		}
		return v.Inner.writeTo(buf)
	case TypeList:
		writeU32(buf, uint32(len(v.List)))
		for _, item := range v.List {
			if err := item.writeTo(buf); err != nil {
				return err
			}
		}
	case TypeTuple:
		names := make([]string, 0, len(v.Tuple))
		for name := range v.Tuple {
			names = append(names, name)
		}
		sort.Strings(names)
		writeU32(buf, uint32(len(names)))
		for _, name := range names {
			if err := writeLP(buf, name); err != nil {
				return err
			}
			if err := v.Tuple[name].writeTo(buf); err != nil {
				return err
			}
		}
	case TypeStringASCII, TypeStringUTF8:
		writeU32(buf, uint32(len(v.Str)))
		buf.WriteString(v.Str)
	default:
		return fmt.Errorf("stacks: unknown clarity type 0x%02x", byte(v.Type))
	}
	return nil
}

// DecodeValueHex decodes a 0x-prefixed serialized value, as returned in the
// "hex" field of contract log events.
func DecodeValueHex(s string) (Value, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrClarityDecode, err)
	}
	return DecodeValue(raw)
}

// DecodeValue decodes exactly one serialized value.
func DecodeValue(raw []byte) (Value, error) {
	r := &reader{buf: raw}
	v, err := r.value(0)
	if err != nil {
		return Value{}, err
	}
	if r.pos != len(raw) {
		return Value{}, fmt.Errorf("%w: %d trailing bytes", ErrClarityDecode, len(raw)-r.pos)
	}
	return v, nil
}

const maxClarityDepth = 32

type reader struct {
	buf []byte
	pos int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("%w: truncated", ErrClarityDecode)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) u32() (int, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint32(b)
	if int(n) > len(r.buf) {
		return 0, fmt.Errorf("%w: length %d exceeds payload", ErrClarityDecode, n)
	}
	return int(n), nil
}

func (r *reader) principal(withContract bool) (string, error) {
	b, err := r.take(21)
	if err != nil {
		return "", err
	}
	addr, err := crypto.NewStacksAddress(b[0], b[1:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrClarityDecode, err)
	}
	if !withContract {
		return addr.String(), nil
	}
	lb, err := r.take(1)
	if err != nil {
		return "", err
	}
	name, err := r.take(int(lb[0]))
	if err != nil {
		return "", err
	}
	return addr.String() + "." + string(name), nil
}

func (r *reader) value(depth int) (Value, error) {
	if depth > maxClarityDepth {
		return Value{}, fmt.Errorf("%w: nesting too deep", ErrClarityDecode)
	}
	tb, err := r.take(1)
	if err != nil {
		return Value{}, err
	}
	v := Value{Type: ClarityType(tb[0])}
	switch v.Type {
	case TypeInt, TypeUint:
		b, err := r.take(16)
		if err != nil {
			return Value{}, err
		}
		v.Int = new(uint256.Int).SetBytes(b).ToBig()
		if v.Type == TypeInt && b[0]&0x80 != 0 {
			v.Int.Sub(v.Int, new(big.Int).Lsh(big.NewInt(1), 128))
		}
	case TypeBuffer:
		n, err := r.u32()
		if err != nil {
			return Value{}, err
		}
		b, err := r.take(n)
		if err != nil {
			return Value{}, err
		}
		v.Bytes = append([]byte(nil), b...)
	case TypeTrue, TypeFalse, TypeNone:
	case TypeStandardPrincipal, TypeContractPrincipal:
		v.Principal, err = r.principal(v.Type == TypeContractPrincipal)
		if err != nil {
			return Value{}, err
		}
	case TypeResponseOk, TypeResponseErr, TypeSome:
		inner, err := r.value(depth + 1)
		if err != nil {
			return Value{}, err
		}
		v.Inner = &inner
	case TypeList:
		n, err := r.u32()
		if err != nil {
			return Value{}, err
		}
		v.List = make([]Value, 0, n)
		for i := 0; i < n; i++ {
			item, err := r.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			v.List = append(v.List, item)
		}
	case TypeTuple:
		n, err := r.u32()
		if err != nil {
			return Value{}, err
		}
		v.Tuple = make(map[string]Value, n)
		for i := 0; i < n; i++ {
			lb, err := r.take(1)
			if err != nil {
				return Value{}, err
			}
			name, err := r.take(int(lb[0]))
			if err != nil {
				return Value{}, err
			}
			field, err := r.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			v.Tuple[string(name)] = field
		}
	case TypeStringASCII, TypeStringUTF8:
		n, err := r.u32()
		if err != nil {
			return Value{}, err
		}
		b, err := r.take(n)
		if err != nil {
			return Value{}, err
		}
		v.Str = string(b)
	default:
		return Value{}, fmt.Errorf("%w: unknown type 0x%02x", ErrClarityDecode, tb[0])
	}
	return v, nil
}

func writeU32(buf *bytes.Buffer, n uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	buf.Write(b[:])
}

// writeLP writes a one-byte length prefixed name.
func writeLP(buf *bytes.Buffer, s string) error {
	if len(s) > 128 {
		return fmt.Errorf("stacks: name %q longer than 128 bytes", s)
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}
