package tracker

import "time"

// Status is the tracker's position in the bridge lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirming Status = "confirming"
	StatusBridging   Status = "bridging"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// MatchKind records how the destination event was attributed.
type MatchKind string

const (
	MatchHookData  MatchKind = "hook-data"
	MatchRecipient MatchKind = "recipient"
	// MatchRecipientWindow is a release found only by recipient in a block
	// window. It does not check amount or sender and may belong to an
	// unrelated transfer.
	MatchRecipientWindow MatchKind = "recipient-window"
)

// State is one snapshot of a tracking session.
type State struct {
	Status               Status    `json:"status"`
	SourceConfirmed      bool      `json:"sourceConfirmed"`
	SourceConfirmedBlock *uint64   `json:"sourceConfirmedBlock,omitempty"`
	DestinationTxID      string    `json:"destinationTxId,omitempty"`
	Error                string    `json:"error,omitempty"`
	LastChecked          time.Time `json:"lastChecked"`
	StartedAt            time.Time `json:"startedAt"`
	ConfirmedAt          time.Time `json:"-"`
	LastError            string    `json:"lastError,omitempty"`
	MatchedBy            MatchKind `json:"matchedBy,omitempty"`
}

func (s State) clone() State {
	if s.SourceConfirmedBlock != nil {
		block := *s.SourceConfirmedBlock
		s.SourceConfirmedBlock = &block
	}
	return s
}

const (
	msgEthereumReverted = "Transaction reverted on Ethereum"
	msgStacksAborted    = "Burn transaction failed on Stacks"
)
