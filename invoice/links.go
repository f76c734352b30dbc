package invoice

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// Query parameter names shared with the web client.
const (
	ParamInvoice       = "invoice"
	ParamLegacyInvoice = "inv"
	ParamTx            = "tx"
	ParamDirection     = "dir"
	ParamRecipient     = "to"
	ParamHookData      = "hookData"
)

var ErrMissingToken = errors.New("invoice: no invoice parameter in query")

var hookDataPattern = regexp.MustCompile(`^0x([0-9a-fA-F]{32})?$`)

// ValidHookData accepts an absent token, the bare "0x" sentinel, or 0x
// followed by the 16-byte correlation token.
func ValidHookData(s string) bool {
	return s == "" || hookDataPattern.MatchString(s)
}

// PayURL builds the link a payee opens to settle the invoice.
func PayURL(base, token string) string {
	values := url.Values{}
	values.Set(ParamInvoice, token)
	return strings.TrimRight(base, "/") + "/pay?" + values.Encode()
}

// TokenFromQuery returns the invoice token, preferring the current
// parameter name over the legacy one.
func TokenFromQuery(values url.Values) (string, error) {
	if token := values.Get(ParamInvoice); token != "" {
		return token, nil
	}
	if token := values.Get(ParamLegacyInvoice); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

// TrackParams is the parameter set handed from the payment flow to the tracker.
type TrackParams struct {
	TxID      string
	Direction Direction
	Recipient string
	HookData  string
}

// URL renders the tracking link. hookData is only carried for deposits.
func (p TrackParams) URL(base string) string {
	values := url.Values{}
	values.Set(ParamTx, p.TxID)
	values.Set(ParamDirection, string(p.Direction))
	values.Set(ParamRecipient, p.Recipient)
	if p.Direction == EthToStx && p.HookData != "" {
		values.Set(ParamHookData, p.HookData)
	}
	return strings.TrimRight(base, "/") + "/track?" + values.Encode()
}

// ParseTrackParams reads and checks the tracking parameters.
func ParseTrackParams(values url.Values) (TrackParams, error) {
	p := TrackParams{
		TxID:      strings.TrimSpace(values.Get(ParamTx)),
		Direction: Direction(values.Get(ParamDirection)),
		Recipient: strings.TrimSpace(values.Get(ParamRecipient)),
		HookData:  strings.TrimSpace(values.Get(ParamHookData)),
	}
	if p.TxID == "" {
		return TrackParams{}, errors.New("invoice: missing transaction reference")
	}
	if !p.Direction.Valid() {
		return TrackParams{}, newValidationError(ReasonInvalidDirection, "dir")
	}
	if !ValidHookData(p.HookData) {
		return TrackParams{}, newValidationError(ReasonInvalidHookData, ParamHookData)
	}
	return p, nil
}
