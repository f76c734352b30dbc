package invoice

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var ethAddressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

func IsValidEthAddress(address string) bool {
	return ethAddressPattern.MatchString(address)
}

// IsValidStacksTestnetAddress is the cheap shape check used on form input.
// Use crypto.DecodeStacksAddress for checksum validation.
func IsValidStacksTestnetAddress(address string) bool {
	return strings.HasPrefix(address, "ST") && len(address) >= 39
}

func IsBnsName(name string) bool {
	return strings.HasSuffix(name, ".btc")
}

func IsEnsName(name string) bool {
	return strings.HasSuffix(name, ".eth")
}

// ValidateRecipient reports whether recipient looks like an address or name
// on the destination chain of direction.
func ValidateRecipient(recipient string, direction Direction) bool {
	if direction == EthToStx {
		return strings.HasPrefix(recipient, "ST") || IsBnsName(recipient)
	}
	return strings.HasPrefix(recipient, "0x") || IsEnsName(recipient)
}

// CheckRecipientAddress validates an already-resolved destination address
// for direction, returning the message the create form shows.
func CheckRecipientAddress(recipient string, direction Direction) error {
	switch direction {
	case EthToStx:
		if !IsValidStacksTestnetAddress(recipient) {
			return &ValidationError{
				Reason:  ReasonInvalidRecipient,
				Field:   "recipient",
				Message: "Invalid Stacks address format (must start with ST)",
			}
		}
	case StxToEth:
		if !IsValidEthAddress(recipient) {
			return &ValidationError{
				Reason:  ReasonInvalidRecipient,
				Field:   "recipient",
				Message: "Invalid Ethereum address format (must be 0x...)",
			}
		}
	default:
		return newValidationError(ReasonInvalidDirection, "direction")
	}
	return nil
}

func RecipientPlaceholder(direction Direction) string {
	if direction == EthToStx {
		return "ST... or name.btc"
	}
	return "0x... or name.eth"
}

// ShortenAddress keeps chars characters on each side of the address body.
func ShortenAddress(address string, chars int) string {
	if len(address) < chars*2+3 {
		return address
	}
	return address[:chars+2] + "..." + address[len(address)-chars:]
}

// FormatAmount renders at least two and at most decimals fraction digits.
func FormatAmount(amount decimal.Decimal, decimals int32) string {
	rounded := amount.Round(decimals)
	text := rounded.String()
	dot := strings.IndexByte(text, '.')
	if dot < 0 || len(text)-dot-1 < 2 {
		return rounded.StringFixed(2)
	}
	return text
}
