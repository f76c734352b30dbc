package invoice

import "errors"

// Reason classifies why a token or invoice failed validation.
type Reason string

const (
	ReasonMalformedEncoding Reason = "malformed_encoding"
	ReasonInvalidFormat     Reason = "invalid_format"
	ReasonMissingField      Reason = "missing_field"
	ReasonInvalidDirection  Reason = "invalid_direction"
	ReasonInvalidAmount     Reason = "invalid_amount"
	ReasonInvalidRecipient  Reason = "invalid_recipient"
	ReasonInvalidMemo       Reason = "invalid_memo"
	ReasonInvalidHookData   Reason = "invalid_hook_data"
)

var reasonMessages = map[Reason]string{
	ReasonMalformedEncoding: "Invalid invoice encoding",
	ReasonInvalidFormat:     "Invalid invoice format",
	ReasonMissingField:      "Missing required invoice fields",
	ReasonInvalidDirection:  "Invalid bridge direction",
	ReasonInvalidAmount:     "Invalid amount (must be greater than 0)",
	ReasonInvalidRecipient:  "Invalid recipient address",
	ReasonInvalidMemo:       "Memo must be text of at most 100 characters",
	ReasonInvalidHookData:   "Invalid hook data (must be 0x followed by 32 hex characters)",
}

// ValidationError is the only error type Decode and Validate return.
type ValidationError struct {
	Reason  Reason
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newValidationError(reason Reason, field string) *ValidationError {
	return &ValidationError{Reason: reason, Field: field, Message: reasonMessages[reason]}
}

// ReasonOf extracts the Reason from err, or "" when err is not a validation error.
func ReasonOf(err error) Reason {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return ""
}
