package stacks

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"settler/crypto"
)

// TransactionVersion distinguishes mainnet and testnet transactions.
type TransactionVersion byte

const (
	MainnetVersion TransactionVersion = 0x00
	TestnetVersion TransactionVersion = 0x80
)

const (
	MainnetChainID uint32 = 0x00000001
	TestnetChainID uint32 = 0x80000000
)

const (
	authStandard          byte = 0x04
	hashModeP2PKH         byte = 0x00
	keyEncodingCompressed byte = 0x00
	payloadContractCall   byte = 0x02
	postConditionFungible byte = 0x01
	principalOrigin       byte = 0x01
	principalStandard     byte = 0x02
)

type AnchorMode byte

const (
	AnchorOnChainOnly  AnchorMode = 0x01
	AnchorOffChainOnly AnchorMode = 0x02
	AnchorAny          AnchorMode = 0x03
)

// PostConditionMode decides whether transfers not covered by a
// post-condition abort the transaction.
type PostConditionMode byte

const (
	PostConditionAllow PostConditionMode = 0x01
	PostConditionDeny  PostConditionMode = 0x02
)

type FungibleConditionCode byte

const (
	SentEq   FungibleConditionCode = 0x01
	SentGt   FungibleConditionCode = 0x02
	SentGtEq FungibleConditionCode = 0x03
	SentLt   FungibleConditionCode = 0x04
	SentLtEq FungibleConditionCode = 0x05
)

// AssetInfo identifies a fungible token, ADDR.contract::asset.
type AssetInfo struct {
	Address      string
	ContractName string
	AssetName    string
}

func (a AssetInfo) String() string {
	return a.Address + "." + a.ContractName + "::" + a.AssetName
}

// ParseAssetID splits "ADDR.contract::asset".
func ParseAssetID(id string) (AssetInfo, error) {
	contractID, asset, ok := strings.Cut(id, "::")
	if !ok || asset == "" {
		return AssetInfo{}, fmt.Errorf("stacks: asset id %q missing ::name", id)
	}
	addr, contract, ok := strings.Cut(contractID, ".")
	if !ok || contract == "" {
		return AssetInfo{}, fmt.Errorf("stacks: asset id %q missing contract name", id)
	}
	if _, err := crypto.DecodeStacksAddress(addr); err != nil {
		return AssetInfo{}, err
	}
	return AssetInfo{Address: addr, ContractName: contract, AssetName: asset}, nil
}

// FungiblePostCondition binds Principal (the origin when empty) to moving
// Amount of Asset according to Code.
type FungiblePostCondition struct {
	Principal string
	Asset     AssetInfo
	Code      FungibleConditionCode
	Amount    uint64
}

// ContractCall is a contract-call payload.
type ContractCall struct {
	ContractAddress string
	ContractName    string
	FunctionName    string
	Args            []Value
}

// Transaction is a single-sig, standard-auth contract call.
type Transaction struct {
	Version           TransactionVersion
	ChainID           uint32
	Signer            [20]byte
	Nonce             uint64
	Fee               uint64
	Signature         [65]byte
	AnchorMode        AnchorMode
	PostConditionMode PostConditionMode
	PostConditions    []FungiblePostCondition
	Payload           ContractCall
}

// NewContractCall prepares an unsigned transaction for the given network.
func NewContractCall(testnet bool, call ContractCall, mode PostConditionMode, conditions ...FungiblePostCondition) *Transaction {
	tx := &Transaction{
		Version:           MainnetVersion,
		ChainID:           MainnetChainID,
		AnchorMode:        AnchorAny,
		PostConditionMode: mode,
		PostConditions:    conditions,
		Payload:           call,
	}
	if testnet {
		tx.Version = TestnetVersion
		tx.ChainID = TestnetChainID
	}
	return tx
}

// Serialize encodes the transaction in the consensus wire format.
func (tx *Transaction) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(tx.Version))
	writeU32(&buf, tx.ChainID)

	buf.WriteByte(authStandard)
	buf.WriteByte(hashModeP2PKH)
	buf.Write(tx.Signer[:])
	writeU64(&buf, tx.Nonce)
	writeU64(&buf, tx.Fee)
	buf.WriteByte(keyEncodingCompressed)
	buf.Write(tx.Signature[:])

	buf.WriteByte(byte(tx.AnchorMode))
	buf.WriteByte(byte(tx.PostConditionMode))

	writeU32(&buf, uint32(len(tx.PostConditions)))
	for _, pc := range tx.PostConditions {
		if err := writePostCondition(&buf, pc); err != nil {
			return nil, err
		}
	}

	buf.WriteByte(payloadContractCall)
	if err := writeAddress(&buf, tx.Payload.ContractAddress); err != nil {
		return nil, err
	}
	if err := writeLP(&buf, tx.Payload.ContractName); err != nil {
		return nil, err
	}
	if err := writeLP(&buf, tx.Payload.FunctionName); err != nil {
		return nil, err
	}
	writeU32(&buf, uint32(len(tx.Payload.Args)))
	for _, arg := range tx.Payload.Args {
		if err := arg.writeTo(&buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// TxID is the 0x-prefixed sha512/256 of the serialized transaction.
func (tx *Transaction) TxID() (string, error) {
	raw, err := tx.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha512.Sum512_256(raw)
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// Sign sets the signer from key and signs over the presign hash of the
// transaction with its current nonce and fee.
func (tx *Transaction) Sign(key *crypto.PrivateKey) error {
	if key == nil {
		return fmt.Errorf("stacks: nil signing key")
	}
	copy(tx.Signer[:], btcutil.Hash160(key.PubKey().Compressed()))

	cleared := *tx
	cleared.Nonce = 0
	cleared.Fee = 0
	cleared.Signature = [65]byte{}
	raw, err := cleared.Serialize()
	if err != nil {
		return err
	}
	initial := sha512.Sum512_256(raw)

	var pre bytes.Buffer
	pre.Write(initial[:])
	pre.WriteByte(authStandard)
	writeU64(&pre, tx.Fee)
	writeU64(&pre, tx.Nonce)
	presign := sha512.Sum512_256(pre.Bytes())

	sig, err := gethcrypto.Sign(presign[:], key.PrivateKey)
	if err != nil {
		return fmt.Errorf("stacks: sign: %w", err)
	}
	// go-ethereum yields r||s||v, the wire format wants v||r||s
	tx.Signature[0] = sig[64]
	copy(tx.Signature[1:], sig[:64])
	return nil
}

// SignerAddress renders the signer hash as an address of the given version.
func (tx *Transaction) SignerAddress(version byte) string {
	addr, _ := crypto.NewStacksAddress(version, tx.Signer[:])
	return addr.String()
}

func writePostCondition(buf *bytes.Buffer, pc FungiblePostCondition) error {
	buf.WriteByte(postConditionFungible)
	if pc.Principal == "" {
		buf.WriteByte(principalOrigin)
	} else {
		buf.WriteByte(principalStandard)
		if err := writeAddress(buf, pc.Principal); err != nil {
			return err
		}
	}
	if err := writeAddress(buf, pc.Asset.Address); err != nil {
		return err
	}
	if err := writeLP(buf, pc.Asset.ContractName); err != nil {
		return err
	}
	if err := writeLP(buf, pc.Asset.AssetName); err != nil {
		return err
	}
	buf.WriteByte(byte(pc.Code))
	writeU64(buf, pc.Amount)
	return nil
}

func writeAddress(buf *bytes.Buffer, s string) error {
	addr, err := crypto.DecodeStacksAddress(s)
	if err != nil {
		return err
	}
	buf.WriteByte(addr.Version)
	buf.Write(addr.Hash160[:])
	return nil
}

func writeU64(buf *bytes.Buffer, n uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	buf.Write(b[:])
}
