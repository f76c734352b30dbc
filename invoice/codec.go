package invoice

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Encode serialises inv to JSON and then to standard base64, byte-identical
// to the token the web client produced with btoa(JSON.stringify(...)).
func Encode(inv Invoice) (string, error) {
	if err := Validate(inv); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(inv); err != nil {
		return "", err
	}
	payload := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return base64.StdEncoding.EncodeToString(payload), nil
}

// Decode parses a token produced by Encode (or by the older compact
// {r,a,m,d,t} writer) and validates it. Any failure is a *ValidationError.
func Decode(token string) (Invoice, error) {
	raw, ok := decodeBase64(token)
	if !ok {
		return Invoice{}, newValidationError(ReasonMalformedEncoding, "")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return Invoice{}, newValidationError(ReasonMalformedEncoding, "")
	}
	if dec.More() {
		return Invoice{}, newValidationError(ReasonMalformedEncoding, "")
	}
	fields, ok := parsed.(map[string]any)
	if !ok {
		return Invoice{}, newValidationError(ReasonInvalidFormat, "")
	}
	fields = expandCompact(fields)

	for _, name := range []string{"direction", "amount", "recipient"} {
		if v, present := fields[name]; !present || v == nil {
			return Invoice{}, newValidationError(ReasonMissingField, name)
		}
	}

	var inv Invoice
	direction, ok := fields["direction"].(string)
	if !ok {
		return Invoice{}, newValidationError(ReasonInvalidDirection, "direction")
	}
	inv.Direction = Direction(direction)

	switch amount := fields["amount"].(type) {
	case string:
		inv.Amount = amount
	case json.Number:
		inv.Amount = amount.String()
	default:
		return Invoice{}, newValidationError(ReasonInvalidAmount, "amount")
	}

	recipient, ok := fields["recipient"].(string)
	if !ok {
		return Invoice{}, newValidationError(ReasonInvalidRecipient, "recipient")
	}
	inv.Recipient = recipient

	if memo, present := fields["memo"]; present && memo != nil {
		text, ok := memo.(string)
		if !ok {
			return Invoice{}, newValidationError(ReasonInvalidMemo, "memo")
		}
		inv.Memo = text
	}

	if err := Validate(inv); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// Validate applies the field rules shared by Encode and Decode.
func Validate(inv Invoice) error {
	if !inv.Direction.Valid() {
		return newValidationError(ReasonInvalidDirection, "direction")
	}
	if _, err := ParseAmount(inv.Amount); err != nil {
		return err
	}
	if strings.TrimSpace(inv.Recipient) == "" {
		return newValidationError(ReasonInvalidRecipient, "recipient")
	}
	if utf8.RuneCountInString(inv.Memo) > MaxMemoLength {
		return newValidationError(ReasonInvalidMemo, "memo")
	}
	return nil
}

// ParseAmount parses a human-unit amount and requires it to be positive.
func ParseAmount(amount string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil || !value.IsPositive() {
		return decimal.Decimal{}, newValidationError(ReasonInvalidAmount, "amount")
	}
	return value, nil
}

// decodeBase64 tolerates the variants a token picks up in transit: URL-safe
// alphabets, stripped padding, and '+' turned into ' ' by form decoding.
func decodeBase64(token string) ([]byte, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false
	}
	token = strings.ReplaceAll(token, " ", "+")
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		if out, err := enc.DecodeString(token); err == nil {
			return out, true
		}
	}
	return nil, false
}

// expandCompact maps the short keys of the legacy writer onto the current ones.
func expandCompact(fields map[string]any) map[string]any {
	if _, ok := fields["direction"]; ok {
		return fields
	}
	if _, ok := fields["d"]; !ok {
		return fields
	}
	aliases := map[string]string{"d": "direction", "a": "amount", "r": "recipient", "m": "memo"}
	out := make(map[string]any, len(fields))
	for short, long := range aliases {
		if v, ok := fields[short]; ok {
			out[long] = v
		}
	}
	return out
}
