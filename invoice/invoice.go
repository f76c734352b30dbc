// Package invoice encodes payment intents into shareable URL tokens.
package invoice

// Direction names the source and destination chain of a transfer. The string
// values travel inside invoice tokens and tracking URLs and must not change.
type Direction string

const (
	// EthToStx deposits USDC on Ethereum and mints USDCx on Stacks.
	EthToStx Direction = "ETH_TO_STX"
	// StxToEth burns USDCx on Stacks and releases USDC on Ethereum.
	StxToEth Direction = "STX_TO_ETH"
)

// MaxMemoLength bounds the free-text memo, in characters.
const MaxMemoLength = 100

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == EthToStx || d == StxToEth
}

func (d Direction) SourceChain() string {
	if d == StxToEth {
		return "Stacks"
	}
	return "Ethereum"
}

func (d Direction) DestinationChain() string {
	if d == StxToEth {
		return "Ethereum"
	}
	return "Stacks"
}

func (d Direction) SourceAsset() string {
	if d == StxToEth {
		return "USDCx"
	}
	return "USDC"
}

func (d Direction) DestinationAsset() string {
	if d == StxToEth {
		return "USDC"
	}
	return "USDCx"
}

// Invoice is a payment intent. Field order is part of the wire format.
type Invoice struct {
	Direction Direction `json:"direction"`
	Amount    string    `json:"amount"`
	Recipient string    `json:"recipient"`
	Memo      string    `json:"memo,omitempty"`
}
